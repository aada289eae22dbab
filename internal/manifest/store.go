package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bindery/bindery/internal/config"
)

// ErrManifestMissing is returned when mutating a manifest that was never
// created.
var ErrManifestMissing = errors.New("manifest not found")

// Store reads and writes per-book manifests under a single directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created if
// missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the manifest file path for a book hash.
func (s *Store) Path(bookHash string) string {
	return filepath.Join(s.dir, bookHash+".json")
}

// Create writes a fresh manifest for a book. Stages are pre-populated in
// canonical order; mode-specific stages are pre-marked completed so resume
// starts at the right place.
func (s *Store) Create(bookHash, sourcePath string, mode config.Mode, maxRetries int) (*Manifest, error) {
	now := time.Now().UTC()
	m := &Manifest{
		BookHash:   bookHash,
		SourcePath: sourcePath,
		Mode:       string(mode),
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		Stages:     make(map[string]*StageState, len(StageOrder)),
	}

	for _, stage := range StageOrder {
		m.Stages[stage] = &StageState{Status: StatusPending}
	}
	for _, stage := range PremarkedStages(mode) {
		completedAt := now
		m.Stages[stage] = &StageState{Status: StatusCompleted, CompletedAt: &completedAt}
	}

	if err := s.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Read loads the manifest for a book hash. A missing manifest returns
// (nil, nil): the orchestrator treats that as a new book.
func (s *Store) Read(bookHash string) (*Manifest, error) {
	data, err := os.ReadFile(s.Path(bookHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", bookHash, err)
	}
	return &m, nil
}

// Update applies fn to the stored manifest and persists the result
// atomically. Returns ErrManifestMissing for unknown hashes.
func (s *Store) Update(bookHash string, fn func(*Manifest)) (*Manifest, error) {
	m, err := s.Read(bookHash)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestMissing, bookHash)
	}

	fn(m)
	m.UpdatedAt = time.Now().UTC()
	if err := s.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetStage records a stage status transition.
func (s *Store) SetStage(bookHash, stage, status, outputPath string) (*Manifest, error) {
	return s.Update(bookHash, func(m *Manifest) {
		st := &StageState{Status: status, OutputPath: outputPath}
		if status == StatusCompleted {
			now := time.Now().UTC()
			st.CompletedAt = &now
		}
		m.Stages[stage] = st
	})
}

// IncrementRetry records a transient failure: bumps the retry counter,
// stores the error context, and marks the failing stage failed.
func (s *Store) IncrementRetry(bookHash string, errInfo ErrorInfo) (*Manifest, error) {
	return s.Update(bookHash, func(m *Manifest) {
		m.RetryCount++
		m.LastError = &errInfo
		m.Status = StatusFailed
		if errInfo.Stage != "" {
			m.Stages[errInfo.Stage] = &StageState{Status: StatusFailed}
		}
	})
}

// ResetFailedStages flips failed stages back to pending at the start of a
// retry run so NextPendingStage resumes at the first incomplete stage.
func (s *Store) ResetFailedStages(bookHash string) (*Manifest, error) {
	return s.Update(bookHash, func(m *Manifest) {
		for name, st := range m.Stages {
			if st != nil && st.Status == StatusFailed {
				m.Stages[name] = &StageState{Status: StatusPending}
			}
		}
	})
}

// write serializes the full manifest to a sibling temp file and renames it
// into place. The temp name carries the pid so concurrent writers cannot
// collide on the temp file itself.
func (s *Store) write(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := s.Path(m.BookHash)
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename manifest into place: %w", err)
	}
	return nil
}
