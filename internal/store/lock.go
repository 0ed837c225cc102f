package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
)

// DirLock guards an index directory against a second writer.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock at <dir>/.lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, ".lock")
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryAcquire takes the exclusive lock without blocking. A held lock yields
// ERR_203_INDEX_LOCKED.
func (l *DirLock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return docqaerrors.New(docqaerrors.ErrCodeIndexLocked,
			fmt.Sprintf("index directory %s is in use by another process", filepath.Dir(l.path)), nil).
			WithSuggestion("stop the other docqa writer (serve, index, delete or check --repair)")
	}

	l.locked = true
	return nil
}

// Release unlocks. Safe to call when not held.
func (l *DirLock) Release() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}
