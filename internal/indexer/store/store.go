// Package store owns the on-disk index: a directory holding immutable segment
// files and a CURRENT pointer naming the live one. Create starts a full
// rebuild, Commit publishes it atomically, and Open returns a read-only
// snapshot of whatever was last committed.
//
// Create never truncates anything up front. With CreateOptions.Overwrite the
// previous index stays readable until the new one is committed and is then
// replaced as a whole; this is the full-rebuild semantics the indexer relies
// on. Without Overwrite, Create refuses to touch an existing index.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forsc/docsearch/internal/indexer/index"
	"github.com/forsc/docsearch/internal/indexer/segment"
	apperrors "github.com/forsc/docsearch/pkg/errors"
)

const (
	currentFile = "CURRENT"
	// openAttempts bounds how often Open re-reads CURRENT when the segment it
	// named was retired between the two reads.
	openAttempts = 3
)

// CreateOptions controls how Create treats an existing index.
type CreateOptions struct {
	Overwrite bool
}

// Writer accumulates documents for one rebuild. Nothing is visible to
// readers until Commit returns.
type Writer struct {
	dir    string
	mem    *index.MemoryIndex
	seg    *segment.Writer
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// Exists reports whether dir holds a committed index.
func Exists(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, currentFile))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking index %s: %w", dir, err)
}

// Create begins a new index in dir with the given schema.
func Create(dir string, schema index.Schema, opts CreateOptions) (*Writer, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating schema: %w", err)
	}
	exists, err := Exists(dir)
	if err != nil {
		return nil, err
	}
	if exists && !opts.Overwrite {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &Writer{
		dir:    dir,
		mem:    index.NewMemoryIndex(schema),
		seg:    segment.NewWriter(dir),
		logger: slog.Default().With("component", "index-store", "dir", dir),
	}, nil
}

// AddDocument tokenizes and records doc in the pending batch.
func (w *Writer) AddDocument(doc index.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("%w: writer already committed or aborted", apperrors.ErrInvalidInput)
	}
	w.mem.AddDocument(doc)
	return nil
}

// DocCount returns the number of documents in the pending batch.
func (w *Writer) DocCount() int {
	return w.mem.DocCount()
}

// Size returns the approximate in-memory size of the pending batch.
func (w *Writer) Size() int64 {
	return w.mem.Size()
}

// Commit writes the batch as a new segment, points CURRENT at it, and removes
// superseded segments older than the previous generation, which stays on disk
// for readers that resolved CURRENT just before the swap. It returns the
// generation of the new snapshot.
func (w *Writer) Commit() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("%w: writer already committed or aborted", apperrors.ErrInvalidInput)
	}
	w.closed = true

	previous, _ := readCurrent(w.dir)
	generation := nextGeneration(w.dir)
	segmentName, err := w.seg.Write(generation, w.mem.Schema(), w.mem.Snapshot(), w.mem.StoredDocs())
	if err != nil {
		return 0, fmt.Errorf("writing segment: %w", err)
	}
	if err := writeCurrent(w.dir, segmentName); err != nil {
		os.Remove(filepath.Join(w.dir, segmentName))
		return 0, fmt.Errorf("publishing segment: %w", err)
	}
	removed := w.removeStale(segmentName, previous)
	w.logger.Info("index committed",
		"segment", segmentName,
		"generation", generation,
		"docs", w.mem.DocCount(),
		"mem_size", w.mem.Size(),
		"stale_removed", removed,
	)
	w.mem.Reset()
	return generation, nil
}

// Abort discards the pending batch. The committed index is untouched.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.mem.Reset()
}

func (w *Writer) removeStale(keep, previous string) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("listing index directory for cleanup failed", "error", err)
		return 0
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == keep || name == previous || !strings.HasPrefix(name, "seg_") {
			continue
		}
		if !strings.HasSuffix(name, segment.FileExt) && !strings.HasSuffix(name, segment.FileExt+".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			w.logger.Warn("removing stale segment failed", "segment", name, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// Snapshot is a read-only handle on one committed index generation.
type Snapshot struct {
	reader *segment.Reader
}

// Open returns the last committed snapshot in dir, or ErrNotFound if no index
// has been committed there.
func Open(dir string) (*Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		name, err := readCurrent(dir)
		if err != nil {
			return nil, err
		}
		reader, err := segment.OpenReader(filepath.Join(dir, name))
		if err == nil {
			return &Snapshot{reader: reader}, nil
		}
		lastErr = err
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return nil, fmt.Errorf("opening index %s: %w", dir, lastErr)
}

func (s *Snapshot) Postings(field, term string) (index.PostingList, error) {
	return s.reader.Search(field, term)
}

func (s *Snapshot) Stored(docID string) (index.StoredDoc, bool) {
	return s.reader.Stored(docID)
}

func (s *Snapshot) Schema() index.Schema {
	return s.reader.Schema()
}

func (s *Snapshot) Generation() int64 {
	return s.reader.Generation()
}

func (s *Snapshot) DocCount() int {
	return int(s.reader.DocCount())
}

func (s *Snapshot) Terms() int {
	return s.reader.Terms()
}

func (s *Snapshot) Close() error {
	return s.reader.Close()
}

func readCurrent(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", apperrors.ErrNotFound, dir)
		}
		return "", fmt.Errorf("reading %s: %w", currentFile, err)
	}
	name := strings.TrimSpace(string(data))
	if !strings.HasPrefix(name, "seg_") || !strings.HasSuffix(name, segment.FileExt) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %s names %q", apperrors.ErrCorruptIndex, currentFile, name)
	}
	return name, nil
}

func writeCurrent(dir, segmentName string) error {
	finalPath := filepath.Join(dir, currentFile)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	if _, err := f.WriteString(segmentName + "\n"); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}
	syncDir(dir)
	return nil
}

// nextGeneration returns a generation strictly greater than the committed one.
func nextGeneration(dir string) int64 {
	gen := time.Now().UnixNano()
	name, err := readCurrent(dir)
	if err != nil {
		return gen
	}
	prev, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "seg_"), segment.FileExt), 10, 64)
	if err == nil && prev >= gen {
		gen = prev + 1
	}
	return gen
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
