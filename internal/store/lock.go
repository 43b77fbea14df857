package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".cookiejar.lock"

// ErrLocked is returned when another process already holds the data directory.
var ErrLocked = errors.New("data directory is locked by another cookiejar process")

// InstanceLock guards the settings document and job queue against a second
// writer process. The read-modify-write cycles on those documents are only
// safe with a single writer.
type InstanceLock struct {
	lock *flock.Flock
}

// AcquireLock takes an exclusive, non-blocking lock in dir.
func AcquireLock(dir string) (*InstanceLock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	l := flock.New(filepath.Join(dir, lockFileName))
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return &InstanceLock{lock: l}, nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.lock.Path()
}

// Release unlocks the data directory.
func (l *InstanceLock) Release() error {
	return l.lock.Unlock()
}
