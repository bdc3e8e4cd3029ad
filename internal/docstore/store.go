// Package docstore keeps the uploaded documents the index is built from: a
// flat directory of files that can be saved, listed and downloaded by name.
package docstore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/forsc/docsearch/pkg/errors"
)

// FileInfo describes one stored document.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

type Store struct {
	dir    string
	logger *slog.Logger
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating document directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "docstore", "dir", dir),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes r to name, replacing any existing file of that name. Data is
// written to a temp file and renamed so readers never see a partial file.
// maxBytes bounds the stored size when positive.
func (s *Store) Save(name string, r io.Reader, maxBytes int64) (FileInfo, error) {
	path, err := s.resolve(name)
	if err != nil {
		return FileInfo{}, err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return FileInfo{}, fmt.Errorf("writing %s: %w", name, err)
	}
	if maxBytes > 0 && n > maxBytes {
		cleanup()
		return FileInfo{}, fmt.Errorf("%w: %s exceeds %d bytes", apperrors.ErrInvalidInput, name, maxBytes)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return FileInfo{}, fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return FileInfo{}, fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return FileInfo{}, fmt.Errorf("storing %s: %w", name, err)
	}
	s.logger.Info("document saved", "name", name, "bytes", n)
	return FileInfo{Name: name, Size: n, Modified: time.Now().UTC()}, nil
}

// List returns the regular, non-hidden files in the store sorted by name.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: entry.Name(), Size: info.Size(), Modified: info.ModTime().UTC()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Open returns the named document for reading. The caller closes it.
func (s *Store) Open(name string) (*os.File, FileInfo, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, FileInfo{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, FileInfo{}, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, name)
		}
		return nil, FileInfo{}, fmt.Errorf("opening %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, FileInfo{}, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, name)
	}
	return f, FileInfo{Name: name, Size: info.Size(), Modified: info.ModTime().UTC()}, nil
}

// resolve maps a document name to its path, rejecting anything that is not
// a plain file name inside the store.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid file name %q", apperrors.ErrInvalidInput, name)
	}
	return filepath.Join(s.dir, name), nil
}
