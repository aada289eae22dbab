package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/bindery/bindery/internal/config"
)

const testHash = "a1b2c3d4e5f60718"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestCreateAndRead(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(testHash, "/in/BookDir", config.ModeConvert, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Status != StatusPending {
		t.Errorf("expected pending, got %s", created.Status)
	}
	if len(created.Stages) != len(StageOrder) {
		t.Errorf("expected all %d stages pre-populated, got %d", len(StageOrder), len(created.Stages))
	}

	read, err := s.Read(testHash)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if read == nil {
		t.Fatal("expected manifest, got nil")
	}
	if read.SourcePath != "/in/BookDir" {
		t.Errorf("expected source path preserved, got %s", read.SourcePath)
	}
	if read.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", read.MaxRetries)
	}
}

func TestReadMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	m, err := s.Read("ffffffffffffffff")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m != nil {
		t.Error("expected nil for missing manifest")
	}
}

func TestUpdateMissingManifest(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Update("ffffffffffffffff", func(m *Manifest) {})
	if !errors.Is(err, ErrManifestMissing) {
		t.Errorf("expected ErrManifestMissing, got %v", err)
	}
}

func TestEnrichPremarksStages(t *testing.T) {
	s := newTestStore(t)

	m, err := s.Create(testHash, "/in/book.m4b", config.ModeEnrich, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, stage := range []string{StageValidate, StageConcat, StageConvert} {
		if !m.StageCompleted(stage) {
			t.Errorf("enrich mode should pre-mark %s completed", stage)
		}
	}
	if got := m.NextPendingStage(); got != StageASIN {
		t.Errorf("enrich resume should begin at asin, got %s", got)
	}
}

func TestOrganizeOnlyPremarks(t *testing.T) {
	s := newTestStore(t)

	m, err := s.Create(testHash, "/in/book.m4b", config.ModeOrganize, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := m.NextPendingStage(); got != StageOrganize {
		t.Errorf("organize-only resume should begin at organize, got %s", got)
	}
}

func TestNextPendingStage(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(testHash, "/in/BookDir", config.ModeConvert, 3); err != nil {
		t.Fatal(err)
	}

	m, _ := s.Read(testHash)
	if got := m.NextPendingStage(); got != StageValidate {
		t.Errorf("fresh manifest should start at validate, got %s", got)
	}

	for _, stage := range StageOrder {
		if _, err := s.SetStage(testHash, stage, StatusCompleted, ""); err != nil {
			t.Fatalf("SetStage(%s): %v", stage, err)
		}
	}

	m, _ = s.Read(testHash)
	if got := m.NextPendingStage(); got != Done {
		t.Errorf("expected done after all stages, got %s", got)
	}
}

func TestMissingStageKeyTreatedAsPending(t *testing.T) {
	// Manifests written by older versions may lack newer stage keys.
	m := &Manifest{Stages: map[string]*StageState{
		StageValidate: {Status: StatusCompleted},
	}}
	if got := m.NextPendingStage(); got != StageConcat {
		t.Errorf("missing stage key should read as pending, got %s", got)
	}
}

func TestIncrementRetry(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(testHash, "/in/BookDir", config.ModeConvert, 3); err != nil {
		t.Fatal(err)
	}

	m, err := s.IncrementRetry(testHash, ErrorInfo{
		Stage:    StageConvert,
		ExitCode: 137,
		Message:  "encoder killed",
		Category: "transient",
	})
	if err != nil {
		t.Fatalf("IncrementRetry: %v", err)
	}

	if m.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", m.RetryCount)
	}
	if m.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", m.Status)
	}
	if m.LastError == nil || m.LastError.ExitCode != 137 {
		t.Error("expected last_error recorded with exit code")
	}
	if m.Stage(StageConvert).Status != StatusFailed {
		t.Error("expected failing stage marked failed")
	}
}

func TestResetFailedStages(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(testHash, "/in/BookDir", config.ModeConvert, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetStage(testHash, StageValidate, StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IncrementRetry(testHash, ErrorInfo{Stage: StageConvert, Category: "transient"}); err != nil {
		t.Fatal(err)
	}

	m, err := s.ResetFailedStages(testHash)
	if err != nil {
		t.Fatalf("ResetFailedStages: %v", err)
	}
	if m.Stage(StageConvert).Status != StatusPending {
		t.Error("failed stage should reset to pending")
	}
	if !m.StageCompleted(StageValidate) {
		t.Error("completed stages must not be reset")
	}
	// Resume point is the first incomplete stage, not the failed one.
	if got := m.NextPendingStage(); got != StageConcat {
		t.Errorf("expected resume at concat, got %s", got)
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(testHash, "/in/BookDir", config.ModeConvert, 3); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.SetStage(testHash, StageValidate, StatusCompleted, ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	// The stored document is always complete, valid JSON.
	data, err := os.ReadFile(s.Path(testHash))
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("stored manifest is not valid JSON: %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(testHash, "/in/BookDir", config.ModeConvert, 3); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Update(testHash, func(m *Manifest) {
		m.SetMeta("asin", "B002V5D1CG")
		m.SetMeta("asin_source", "marker_file")
	}); err != nil {
		t.Fatal(err)
	}

	m, _ := s.Read(testHash)
	if m.Meta("asin") != "B002V5D1CG" {
		t.Errorf("expected asin preserved, got %q", m.Meta("asin"))
	}
	if m.Meta("missing") != "" {
		t.Error("missing metadata key should read empty")
	}
}
