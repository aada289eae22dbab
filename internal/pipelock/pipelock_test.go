package pipelock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock", "pipeline.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if l.Path() != path {
		t.Errorf("expected path %s, got %s", path, l.Path())
	}
	if err := l.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
	// Double release is a no-op.
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	// flock is per open file description, so a second open in the same
	// process contends exactly like a second process would.
	_, err = Acquire(path)
	if !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	second, err := Acquire(path)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	second.Release()
}
