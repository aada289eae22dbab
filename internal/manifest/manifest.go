// Package manifest implements the per-book JSON state document that makes
// pipeline runs resumable and idempotent. Every mutation rewrites the full
// document through a temp-file rename so readers never observe torn JSON.
package manifest

import (
	"time"

	"github.com/bindery/bindery/internal/config"
)

// Book status values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Canonical stage names.
const (
	StageValidate = "validate"
	StageConcat   = "concat"
	StageConvert  = "convert"
	StageASIN     = "asin"
	StageMetadata = "metadata"
	StageOrganize = "organize"
	StageArchive  = "archive"
	StageCleanup  = "cleanup"
)

// StageOrder is the canonical stage sequence. Every mode runs this order;
// modes differ only in which stages are pre-marked completed at creation.
var StageOrder = []string{
	StageValidate,
	StageConcat,
	StageConvert,
	StageASIN,
	StageMetadata,
	StageOrganize,
	StageArchive,
	StageCleanup,
}

// Done is returned by NextPendingStage when every stage is completed.
const Done = "done"

// PremarkedStages returns the stages a mode pre-marks completed at
// manifest creation.
func PremarkedStages(mode config.Mode) []string {
	switch mode {
	case config.ModeEnrich:
		return []string{StageValidate, StageConcat, StageConvert}
	case config.ModeMetadata:
		return []string{
			StageValidate, StageConcat, StageConvert,
			StageOrganize, StageArchive, StageCleanup,
		}
	case config.ModeOrganize:
		return []string{
			StageValidate, StageConcat, StageConvert,
			StageASIN, StageMetadata,
		}
	default:
		return nil
	}
}

// ErrorInfo records the last failure for a book.
type ErrorInfo struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	ExitCode  int       `json:"exit_code"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
}

// StageState tracks one stage's progress.
type StageState struct {
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`
}

// Manifest is the per-book state document, keyed by book hash.
type Manifest struct {
	BookHash   string    `json:"book_hash"`
	SourcePath string    `json:"source_path"`
	Mode       string    `json:"mode"`
	RunID      string    `json:"run_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	LastError  *ErrorInfo `json:"last_error"`

	Stages map[string]*StageState `json:"stages"`

	// Metadata carries data discovered by the asin/metadata stages for
	// downstream stages: asin, asin_source, author, title, series, ...
	Metadata map[string]string `json:"metadata,omitempty"`

	FileCount     int     `json:"file_count,omitempty"`
	TotalDuration float64 `json:"total_duration_s,omitempty"`
}

// Stage returns the state for a stage, treating missing entries as pending.
func (m *Manifest) Stage(name string) *StageState {
	if s, ok := m.Stages[name]; ok && s != nil {
		return s
	}
	return &StageState{Status: StatusPending}
}

// StageCompleted reports whether the named stage has completed.
func (m *Manifest) StageCompleted(name string) bool {
	return m.Stage(name).Status == StatusCompleted
}

// NextPendingStage returns the first stage in canonical order that is not
// completed, or Done when all stages are completed.
func (m *Manifest) NextPendingStage() string {
	for _, stage := range StageOrder {
		if !m.StageCompleted(stage) {
			return stage
		}
	}
	return Done
}

// Meta returns a metadata value, or "" when absent.
func (m *Manifest) Meta(key string) string {
	return m.Metadata[key]
}

// SetMeta sets a metadata value, allocating the map on first use.
func (m *Manifest) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}
