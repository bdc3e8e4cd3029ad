// Package source enumerates the documents an index is built from and reads
// their text.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/forsc/docsearch/pkg/errors"
)

// Source is a collection of documents addressed by path.
type Source interface {
	// List returns the paths of all readable candidates, sorted.
	List(ctx context.Context) ([]string, error)
	// Read returns the text of one document. Failures are reported as
	// *apperrors.DocumentReadError.
	Read(ctx context.Context, path string) (string, error)
}

// Directory is a Source backed by a directory on disk. Only the top level is
// scanned unless Recursive is set. Hidden entries and files no reader accepts
// are skipped.
type Directory struct {
	Root      string
	Recursive bool
	Readers   []Reader
}

func (d *Directory) readers() []Reader {
	if len(d.Readers) == 0 {
		return DefaultReaders()
	}
	return d.Readers
}

func (d *Directory) readerFor(path string) Reader {
	for _, r := range d.readers() {
		if r.CanRead(path) {
			return r
		}
	}
	return nil
}

func (d *Directory) List(ctx context.Context) ([]string, error) {
	info, err := os.Stat(d.Root)
	if err != nil {
		return nil, fmt.Errorf("opening document directory %s: %w", d.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", apperrors.ErrInvalidInput, d.Root)
	}

	logger := slog.Default().With("component", "source", "root", d.Root)
	var paths []string
	err = filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == d.Root {
				return err
			}
			logger.Warn("skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == d.Root {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if !d.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if d.readerFor(path) == nil {
			logger.Debug("skipping unsupported file", "path", path)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents in %s: %w", d.Root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (d *Directory) Read(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := d.readerFor(path)
	if r == nil {
		return "", &apperrors.DocumentReadError{Path: path, Err: fmt.Errorf("no reader for %s", filepath.Ext(path))}
	}
	text, err := r.ReadText(path)
	if err != nil {
		return "", &apperrors.DocumentReadError{Path: path, Err: err}
	}
	return text, nil
}
