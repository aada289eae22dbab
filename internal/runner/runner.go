// Package runner wraps external tool invocation with stderr capture and
// dry-run awareness. Mutating operations are logged and skipped under
// dry-run; read-only queries always execute.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ExitError reports a non-zero exit from an external tool along with the
// captured stderr tail.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.Code, e.Stderr)
}

// stderrTailBytes bounds how much tool stderr is kept for error reporting.
const stderrTailBytes = 4096

// Runner executes external commands.
type Runner struct {
	DryRun bool
	Logger *slog.Logger
}

// New creates a runner.
func New(dryRun bool, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{DryRun: dryRun, Logger: logger}
}

// Run executes a mutating command. Under dry-run the command is logged and
// skipped. Stdout is returned; stderr is captured and attached to any
// ExitError.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.DryRun {
		r.Logger.Info("dry-run: skipping command", "tool", name, "args", strings.Join(args, " "))
		return "", nil
	}
	return r.execute(ctx, name, args)
}

// Query executes a read-only command. Queries run even under dry-run so the
// pipeline can still probe inputs and report what it would do.
func (r *Runner) Query(ctx context.Context, name string, args ...string) (string, error) {
	return r.execute(ctx, name, args)
}

// Mutate performs a filesystem side effect through fn, skipping it under
// dry-run. desc names the operation for the dry-run log line.
func (r *Runner) Mutate(desc string, fn func() error) error {
	if r.DryRun {
		r.Logger.Info("dry-run: skipping operation", "op", desc)
		return nil
	}
	return fn()
}

func (r *Runner) execute(ctx context.Context, name string, args []string) (string, error) {
	r.Logger.Debug("executing", "tool", name, "args", strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &ExitError{
				Tool:   name,
				Code:   exitErr.ExitCode(),
				Stderr: tail(stderr.String()),
			}
		}
		return stdout.String(), fmt.Errorf("%s failed to start: %w", name, err)
	}

	return stdout.String(), nil
}

// LookPath reports whether a tool is available on PATH.
func LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTailBytes {
		return s
	}
	return s[len(s)-stderrTailBytes:]
}
