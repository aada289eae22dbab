// Package pipelock implements the global singleton pipeline lock: an
// exclusive, non-blocking advisory flock on a zero-byte file. The kernel
// releases the lock when the process exits by any path, including signals.
package pipelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrHeld is returned when another pipeline instance holds the lock.
// Callers treat this as a benign skip, not a failure.
var ErrHeld = errors.New("pipeline lock held by another instance")

// Lock is a held advisory lock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive non-blocking lock on path, creating the file
// and its parent directory as needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. Safe to call once; the kernel
// also releases on process exit, so Release is best-effort cleanup.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("failed to unlock: %w", unlockErr)
	}
	return closeErr
}
