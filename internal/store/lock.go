package store

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("store is locked by another process")

// FileLock is an advisory flock(2) lock guarding a store file, so that two
// serve processes never drive the same items.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns a lock for the database at dbPath. The lock file sits
// next to it with a ".lock" suffix.
func NewFileLock(dbPath string) *FileLock {
	return &FileLock{path: dbPath + ".lock"}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string { return fl.path }

// TryLock takes the lock without blocking. It returns ErrLocked if the lock
// is held elsewhere.
func (fl *FileLock) TryLock() error {
	if fl.file != nil {
		return nil
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrLocked, fl.path)
		}
		return fmt.Errorf("flock: %w", err)
	}

	// Record the holder for whoever finds the lock taken.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	fl.file = f
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}
