package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestQueryCapturesStdout(t *testing.T) {
	r := New(false, testLogger())

	out, err := r.Query(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if out != "hello\n" {
		t.Errorf("expected hello, got %q", out)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := New(false, testLogger())

	_, err := r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for exit 3")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("expected code 3, got %d", exitErr.Code)
	}
	if exitErr.Stderr != "boom" {
		t.Errorf("expected captured stderr, got %q", exitErr.Stderr)
	}
}

func TestDryRunSkipsMutations(t *testing.T) {
	r := New(true, testLogger())
	marker := filepath.Join(t.TempDir(), "marker")

	if _, err := r.Run(context.Background(), "touch", marker); err != nil {
		t.Fatalf("dry-run Run: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("dry-run should not have executed the command")
	}

	called := false
	if err := r.Mutate("create marker", func() error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if called {
		t.Error("dry-run Mutate should not invoke fn")
	}
}

func TestDryRunStillQueries(t *testing.T) {
	r := New(true, testLogger())

	out, err := r.Query(context.Background(), "sh", "-c", "echo probed")
	if err != nil {
		t.Fatalf("Query under dry-run: %v", err)
	}
	if out != "probed\n" {
		t.Errorf("expected query to run under dry-run, got %q", out)
	}
}
