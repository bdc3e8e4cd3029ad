// Package indexer rebuilds the on-disk index from a document source. Every
// rebuild is a full one: all documents are read, tokenized and committed as a
// single new snapshot that replaces the previous one.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forsc/docsearch/internal/indexer/index"
	"github.com/forsc/docsearch/internal/indexer/source"
	"github.com/forsc/docsearch/internal/indexer/store"
	apperrors "github.com/forsc/docsearch/pkg/errors"
	"github.com/forsc/docsearch/pkg/metrics"
	"github.com/forsc/docsearch/pkg/tracing"
)

// Recorder persists completed rebuilds.
type Recorder interface {
	RecordRebuild(ctx context.Context, report *RebuildReport) error
}

// Notifier announces completed rebuilds to other processes.
type Notifier interface {
	NotifyRebuild(ctx context.Context, report *RebuildReport) error
}

type Options struct {
	IndexDir    string
	Schema      index.Schema
	ReadWorkers int
	LockTimeout time.Duration
	// FailOnEmpty makes BuildIndex return ErrEmptySource instead of
	// committing an empty index.
	FailOnEmpty bool

	Metrics  *metrics.Metrics
	Recorder Recorder
	Notifier Notifier
}

type Engine struct {
	opts   Options
	mu     sync.Mutex
	logger *slog.Logger
}

func NewEngine(opts Options) *Engine {
	if len(opts.Schema.Fields) == 0 {
		opts.Schema = index.DefaultSchema()
	}
	if opts.ReadWorkers <= 0 {
		opts.ReadWorkers = 4
	}
	return &Engine{
		opts:   opts,
		logger: slog.Default().With("component", "indexer", "index_dir", opts.IndexDir),
	}
}

// IndexDir returns the directory the engine writes to.
func (e *Engine) IndexDir() string {
	return e.opts.IndexDir
}

// BuildIndex replaces the index with one built from every document in src.
// Documents that cannot be read are skipped and listed in the report. The
// previous index stays live until the new one is committed, and is kept if
// the rebuild fails or ctx is cancelled.
func (e *Engine) BuildIndex(ctx context.Context, src source.Source) (*RebuildReport, error) {
	if !e.mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRebuildInProgress, e.opts.IndexDir)
	}
	defer e.mu.Unlock()

	start := time.Now()
	report, err := e.build(ctx, src, start)
	if m := e.opts.Metrics; m != nil {
		m.RebuildDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			m.RebuildsTotal.WithLabelValues("error").Inc()
		} else {
			m.RebuildsTotal.WithLabelValues("success").Inc()
			m.DocsIndexedTotal.Add(float64(report.Indexed))
			m.DocsSkippedTotal.Add(float64(report.SkippedCount()))
		}
	}
	if err != nil {
		e.logger.Error("rebuild failed", "error", err, "duration", time.Since(start))
		return nil, err
	}

	e.logger.Info("rebuild complete",
		"generation", report.Generation,
		"indexed", report.Indexed,
		"skipped", report.SkippedCount(),
		"duration", report.Duration,
	)
	e.afterCommit(ctx, report)
	return report, nil
}

func (e *Engine) build(ctx context.Context, src source.Source, start time.Time) (*RebuildReport, error) {
	lock, err := store.AcquireLock(e.opts.IndexDir, store.LockOptions{Timeout: e.opts.LockTimeout})
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	_, listSpan := tracing.Start(ctx, "list")
	paths, err := src.List(ctx)
	listSpan.Set("documents", len(paths))
	listSpan.End()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if len(paths) == 0 {
		if e.opts.FailOnEmpty {
			return nil, apperrors.ErrEmptySource
		}
		e.logger.Warn("document source is empty, committing an empty index")
	}

	w, err := store.Create(e.opts.IndexDir, e.opts.Schema, store.CreateOptions{Overwrite: true})
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}

	report := &RebuildReport{
		IndexDir:  e.opts.IndexDir,
		Skipped:   []SkippedDocument{},
		StartedAt: start,
	}
	batchSize := e.opts.ReadWorkers * 8
	for lo := 0; lo < len(paths); lo += batchSize {
		hi := min(lo+batchSize, len(paths))
		if err := e.indexBatch(ctx, src, w, paths[lo:hi], report); err != nil {
			w.Abort()
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		w.Abort()
		return nil, fmt.Errorf("rebuild cancelled: %w", err)
	}

	_, commitSpan := tracing.Start(ctx, "commit")
	generation, err := w.Commit()
	commitSpan.End()
	if err != nil {
		return nil, fmt.Errorf("committing index: %w", err)
	}
	report.Generation = generation
	report.Duration = time.Since(start)
	return report, nil
}

// indexBatch reads paths concurrently and adds them to w in order, so the
// committed index does not depend on read scheduling.
func (e *Engine) indexBatch(ctx context.Context, src source.Source, w *store.Writer, paths []string, report *RebuildReport) error {
	texts := make([]string, len(paths))
	readErrs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ReadWorkers)
	for i, path := range paths {
		g.Go(func() error {
			text, err := src.Read(gctx, path)
			if err != nil {
				if errors.Is(err, apperrors.ErrDocumentRead) {
					readErrs[i] = err
					return nil
				}
				return fmt.Errorf("reading %s: %w", path, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rebuild cancelled: %w", err)
		}
		if readErrs[i] != nil {
			e.logger.Warn("skipping unreadable document", "path", path, "error", readErrs[i])
			report.Skipped = append(report.Skipped, SkippedDocument{Path: path, Reason: skipReason(readErrs[i])})
			continue
		}
		doc := index.Document{
			Title:      filepath.Base(path),
			Path:       path,
			Content:    texts[i],
			StoredText: texts[i],
		}
		if err := w.AddDocument(doc); err != nil {
			return fmt.Errorf("adding %s: %w", path, err)
		}
		report.Indexed++
	}
	return nil
}

func skipReason(err error) string {
	var readErr *apperrors.DocumentReadError
	if errors.As(err, &readErr) && readErr.Err != nil {
		return readErr.Err.Error()
	}
	return err.Error()
}

func (e *Engine) afterCommit(ctx context.Context, report *RebuildReport) {
	if m := e.opts.Metrics; m != nil {
		m.IndexDocCount.Set(float64(report.Indexed))
		m.IndexGeneration.Set(float64(report.Generation))
	}
	if e.opts.Recorder != nil {
		if err := e.opts.Recorder.RecordRebuild(ctx, report); err != nil {
			e.logger.Error("recording rebuild history failed", "generation", report.Generation, "error", err)
		}
	}
	if e.opts.Notifier != nil {
		if err := e.opts.Notifier.NotifyRebuild(ctx, report); err != nil {
			e.logger.Error("publishing rebuild notification failed", "generation", report.Generation, "error", err)
		}
	}
}
