// Package filelock guards a configuration against two agents running it at
// the same time.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// Lock is an exclusive advisory lock on a file.
type Lock struct {
	flock *flock.Flock
	path  string
}

// New creates a lock for path. Nothing is acquired until TryLock.
func New(path string) *Lock {
	return &Lock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// TryLock acquires the lock without blocking. It returns an error wrapping
// ErrLocked when another process already holds it.
func (l *Lock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock on %s: %w", l.path, err)
	}
	if !acquired {
		return fmt.Errorf("%s: %w", l.path, ErrLocked)
	}
	return nil
}

// Locked reports whether this Lock currently holds the file.
func (l *Lock) Locked() bool {
	return l.flock.Locked()
}

// Unlock releases the lock. The lock file is left in place.
func (l *Lock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// Acquire is New followed by TryLock.
func Acquire(path string) (*Lock, error) {
	l := New(path)
	if err := l.TryLock(); err != nil {
		return nil, err
	}
	return l, nil
}
