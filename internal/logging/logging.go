// Package logging configures the pipeline's structured logger: key=value
// lines written to stderr and appended to the convert log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Setup builds the pipeline logger. When logPath is non-empty the log file
// is opened for append and every line is written to both stderr and the
// file. The returned closer releases the log file.
func Setup(level string, verbose bool, logPath string) (*slog.Logger, func() error, error) {
	lvl := parseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	return logger, closer, nil
}

// WithBook returns a logger carrying the book hash on every line.
func WithBook(logger *slog.Logger, bookHash string) *slog.Logger {
	return logger.With("book_hash", bookHash)
}

// WithStage returns a logger carrying the stage name on every line.
func WithStage(logger *slog.Logger, stage string) *slog.Logger {
	return logger.With("stage", stage)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
