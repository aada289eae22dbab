// Package testutil provides shared scaffolding for pipeline tests: a fully
// wired temp-directory configuration and a quiet logger.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bindery/bindery/internal/config"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/manifest"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Config returns a default config with every state directory rooted in a
// fresh temp dir, created and ready to use.
func Config(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.WorkDir = filepath.Join(base, "work")
	cfg.ManifestDir = filepath.Join(base, "manifests")
	cfg.LockDir = filepath.Join(base, "lock")
	cfg.CacheDir = filepath.Join(base, "cache")
	cfg.ArchiveDir = filepath.Join(base, "archive")
	cfg.FailedDir = filepath.Join(base, "failed")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.LibraryDir = filepath.Join(base, "library")

	if err := layout.New(cfg).EnsureBase(); err != nil {
		t.Fatalf("failed to create test directories: %v", err)
	}
	return cfg
}

// Store returns a manifest store under the config's manifest dir.
func Store(t *testing.T, cfg *config.Config) *manifest.Store {
	t.Helper()
	store, err := manifest.NewStore(cfg.ManifestDir)
	if err != nil {
		t.Fatalf("failed to create manifest store: %v", err)
	}
	return store
}
