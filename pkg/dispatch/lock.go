package dispatch

import (
	"fmt"
	"path/filepath"

	"github.com/alexflint/go-filemutex"

	apperrors "github.com/3leaps/snakerun/internal/errors"
)

// DefaultLockFile guards a working directory against concurrent launches.
const DefaultLockFile = ".snakerun.lock"

// WorkdirLock is an exclusive, cross-process lock on a working directory.
type WorkdirLock struct {
	mu   *filemutex.FileMutex
	path string
}

// LockWorkdir takes the lock without blocking. If another invocation holds
// it the error wraps ErrWorkdirBusy.
//
// The submission script and the workflow-profile config have fixed names,
// so two launches from one directory would overwrite each other's files.
func LockWorkdir(dir, name string) (*WorkdirLock, error) {
	if name == "" {
		name = DefaultLockFile
	}
	path := filepath.Join(dir, name)

	mu, err := filemutex.New(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := mu.TryLock(); err != nil {
		_ = mu.Close()
		return nil, fmt.Errorf("%w: %s (%v)", apperrors.ErrWorkdirBusy, path, err)
	}
	return &WorkdirLock{mu: mu, path: path}, nil
}

// Path returns the lock file path.
func (l *WorkdirLock) Path() string {
	return l.path
}

// Release drops the lock. The lock file itself is left in place.
func (l *WorkdirLock) Release() error {
	if l == nil || l.mu == nil {
		return nil
	}
	if err := l.mu.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	err := l.mu.Close()
	l.mu = nil
	return err
}
