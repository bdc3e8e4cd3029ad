package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, opts Options) *atomic.Int32 {
	t.Helper()
	var rebuilds atomic.Int32
	w, err := New(opts, func(context.Context) error {
		rebuilds.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &rebuilds
}

func TestWatcherCoalescesBurst(t *testing.T) {
	root := t.TempDir()
	rebuilds := startWatcher(t, Options{Root: root, Debounce: 200 * time.Millisecond})

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0o644))
	}

	assert.Eventually(t, func() bool { return rebuilds.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), rebuilds.Load())
}

func TestWatcherIgnoresHiddenFiles(t *testing.T) {
	root := t.TempDir()
	rebuilds := startWatcher(t, Options{Root: root, Debounce: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(root, ".swp"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, rebuilds.Load())
}

func TestWatcherRecursive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "nested"), 0o755))
	rebuilds := startWatcher(t, Options{Root: root, Recursive: true, Debounce: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(root, "nested", "a.txt"), []byte("a"), 0o644))
	assert.Eventually(t, func() bool { return rebuilds.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestNewMissingRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "absent")}, func(context.Context) error { return nil })
	assert.Error(t, err)
}
