// Package watcher triggers index rebuilds when the document directory
// changes. Bursts of filesystem events are coalesced into one rebuild.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/forsc/docsearch/pkg/errors"
)

// RebuildFunc runs one rebuild.
type RebuildFunc func(ctx context.Context) error

type Options struct {
	Root      string
	Recursive bool
	Debounce  time.Duration
}

type Watcher struct {
	opts    Options
	rebuild RebuildFunc
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
}

func New(opts Options, rebuild RebuildFunc) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	w := &Watcher{
		opts:    opts,
		rebuild: rebuild,
		fsw:     fsw,
		logger:  slog.Default().With("component", "watcher", "root", opts.Root),
	}
	if err := w.addTree(opts.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	if !w.opts.Recursive {
		if err := w.fsw.Add(root); err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx is cancelled, rebuilding once per quiet period after
// relevant changes. The watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	w.logger.Info("watching for document changes", "debounce", w.opts.Debounce)

	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) && w.opts.Recursive {
				if err := w.addTree(event.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
					w.logger.Debug("not watching new entry", "path", event.Name, "error", err)
				}
			}
			w.logger.Debug("document change", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.opts.Debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-timer.C:
			if err := w.rebuild(ctx); err != nil {
				if errors.Is(err, apperrors.ErrRebuildInProgress) {
					w.logger.Info("rebuild already running, retrying after debounce")
					timer.Reset(w.opts.Debounce)
					continue
				}
				if ctx.Err() == nil {
					w.logger.Error("triggered rebuild failed", "error", err)
				}
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if hidden(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
