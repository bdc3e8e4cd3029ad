//go:build unix

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	apperrors "github.com/forsc/docsearch/pkg/errors"
)

// LockFile is an advisory flock on an index directory held for the duration
// of a rebuild, so two processes never rebuild the same index at once.
type LockFile struct {
	path string
	file *os.File
}

// LockOptions configures lock acquisition behavior.
type LockOptions struct {
	// Timeout is the maximum time to wait for the lock.
	// If zero, the lock attempt is non-blocking.
	Timeout time.Duration

	// RetryInterval is how often to retry acquiring the lock.
	// If zero, defaults to 100ms.
	RetryInterval time.Duration
}

// LockPath returns the path of the rebuild lock file for an index directory.
func LockPath(dir string) string {
	return filepath.Join(dir, ".rebuild.lock")
}

// AcquireLock takes the exclusive rebuild lock on dir. It fails with
// ErrRebuildInProgress when another holder keeps it past the timeout.
// The caller must call Release when done.
func AcquireLock(dir string, opts LockOptions) (*LockFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	lockPath := LockPath(dir)
	deadline := time.Now().Add(opts.Timeout)

	for {
		lf, err := tryAcquireLock(lockPath)
		if err == nil {
			return lf, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			return nil, fmt.Errorf("acquiring rebuild lock: %w", err)
		}
		if opts.Timeout == 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: lock %s held by pid %d", apperrors.ErrRebuildInProgress, lockPath, lockHolderPID(lockPath))
		}
		time.Sleep(opts.RetryInterval)
	}
}

func tryAcquireLock(lockPath string) (*LockFile, error) {
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, err
	}
	// PID is informational only.
	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "%d\n", os.Getpid())
	}
	return &LockFile{path: lockPath, file: file}, nil
}

// Release drops the lock. It is safe to call more than once.
func (lf *LockFile) Release() error {
	if lf.file == nil {
		return nil
	}
	err := syscall.Flock(int(lf.file.Fd()), syscall.LOCK_UN)
	closeErr := lf.file.Close()
	lf.file = nil
	if err != nil {
		return fmt.Errorf("releasing rebuild lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing lock file: %w", closeErr)
	}
	return nil
}

func lockHolderPID(lockPath string) int {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0
	}
	return pid
}
