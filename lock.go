package pollsync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const LockFileName = ".pollsync.lock"

// DirLock is an advisory lock on a local directory, held for the lifetime of
// a run so that two clients never write into the same directory.
type DirLock struct {
	fl *flock.Flock
}

// LockDirectory creates dir if needed and takes its lock without waiting.
func LockDirectory(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local directory %s: %w", dir, err)
	}

	fl := flock.New(filepath.Join(dir, LockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &DirLock{fl: fl}, nil
}

// Unlock releases the lock. The lock file stays so that every process locks
// the same inode.
func (l *DirLock) Unlock() error {
	return l.fl.Unlock()
}
