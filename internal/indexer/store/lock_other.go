//go:build !unix

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockFile is a no-op on platforms without flock; rebuilds are still
// serialized within a process by the indexer.
type LockFile struct {
	path string
}

type LockOptions struct {
	Timeout       time.Duration
	RetryInterval time.Duration
}

func LockPath(dir string) string {
	return filepath.Join(dir, ".rebuild.lock")
}

func AcquireLock(dir string, opts LockOptions) (*LockFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &LockFile{path: LockPath(dir)}, nil
}

func (lf *LockFile) Release() error {
	return nil
}
