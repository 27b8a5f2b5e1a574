package tenant

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WorktreeLock is a cross-process lock held for the duration of an
// activation. Two engine instances pointed at the same worktree would race
// each other through the store during reconciliation; the lock makes the
// second activation fail fast instead.
type WorktreeLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWorktreeLock creates a lock for the given path hash under lockDir.
// The lock file is created at <lockDir>/<pathHash>.lock.
func NewWorktreeLock(lockDir, pathHash string) *WorktreeLock {
	lockPath := filepath.Join(lockDir, pathHash+".lock")
	return &WorktreeLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if acquired, false if another process holds it.
func (l *WorktreeLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire worktree lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked WorktreeLock.
func (l *WorktreeLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release worktree lock: %w", err)
	}

	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *WorktreeLock) Path() string {
	return l.path
}

// IsLocked reports whether this process holds the lock.
func (l *WorktreeLock) IsLocked() bool {
	return l.locked
}
