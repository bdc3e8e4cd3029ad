// Package rebuild ties an index rebuild to the serving side: after the
// engine commits a new generation the searcher reloads it and cached query
// results are dropped.
package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forsc/docsearch/internal/indexer"
	"github.com/forsc/docsearch/internal/indexer/source"
	"github.com/forsc/docsearch/pkg/resilience"
	"github.com/forsc/docsearch/pkg/tracing"
)

// Builder runs one index build.
type Builder interface {
	BuildIndex(ctx context.Context, src source.Source) (*indexer.RebuildReport, error)
}

// Reloader swaps in the latest committed generation.
type Reloader interface {
	Reload() (int64, error)
}

// Invalidator drops cached search results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Coordinator struct {
	builder     Builder
	source      source.Source
	reloader    Reloader
	invalidator Invalidator
	timeout     time.Duration
	logger      *slog.Logger
}

// NewCoordinator wires a builder to the serving side. reloader and
// invalidator may be nil; timeout <= 0 means no limit.
func NewCoordinator(b Builder, src source.Source, reloader Reloader, invalidator Invalidator, timeout time.Duration) *Coordinator {
	return &Coordinator{
		builder:     b,
		source:      src,
		reloader:    reloader,
		invalidator: invalidator,
		timeout:     timeout,
		logger:      slog.Default().With("component", "rebuild"),
	}
}

// Rebuild builds a new index from the source and makes it live.
func (c *Coordinator) Rebuild(ctx context.Context) (*indexer.RebuildReport, error) {
	ctx, span := tracing.Start(ctx, "rebuild")
	defer func() {
		span.End()
		span.Log(c.logger)
	}()

	var report *indexer.RebuildReport
	build := func(ctx context.Context) error {
		ctx, s := tracing.Start(ctx, "build")
		defer s.End()
		var err error
		report, err = c.builder.BuildIndex(ctx, c.source)
		if report != nil {
			s.Set("generation", report.Generation, "indexed", report.Indexed)
		}
		return err
	}

	var err error
	if c.timeout > 0 {
		err = resilience.WithTimeout(ctx, c.timeout, "index rebuild", build)
	} else {
		err = build(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := c.Refresh(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Refresh reloads the searcher and clears the cache. It is also called when
// another process reports a committed rebuild.
func (c *Coordinator) Refresh(ctx context.Context) error {
	_, span := tracing.Start(ctx, "refresh")
	defer span.End()
	if c.reloader != nil {
		gen, err := c.reloader.Reload()
		if err != nil {
			return fmt.Errorf("reloading index: %w", err)
		}
		c.logger.Info("searcher reloaded", "generation", gen)
	}
	if c.invalidator != nil {
		if err := c.invalidator.Invalidate(ctx); err != nil {
			c.logger.Warn("cache invalidation failed", "error", err)
		}
	}
	return nil
}

// Run adapts Rebuild to the watcher callback.
func (c *Coordinator) Run(ctx context.Context) error {
	_, err := c.Rebuild(ctx)
	return err
}
