package asin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeValidator struct {
	known       map[string]bool
	unreachable bool
	calls       []string
}

func (f *fakeValidator) Exists(_ context.Context, asin string) (bool, error) {
	f.calls = append(f.calls, asin)
	if f.unreachable {
		return false, errors.New("connection refused")
	}
	return f.known[asin], nil
}

type fakeSearcher struct {
	results []SearchCandidate
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, title, author string) ([]SearchCandidate, error) {
	return f.results, f.err
}

func TestValidFormat(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"B002V5BWNA", true},
		{"1234567890", true},
		{"B002V5BWN", false},
		{"B002V5BWNAX", false},
		{"b002v5bwna", false},
		{"B002 5BWNA", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidFormat(tt.in); got != tt.want {
			t.Errorf("ValidFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDiscoverOverride(t *testing.T) {
	v := &fakeValidator{known: map[string]bool{"B002V5BWNA": true}}
	d := NewDiscoverer(v, nil, nil)

	r, err := d.Discover(context.Background(), t.TempDir(), "b002v5bwna ")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.ASIN != "B002V5BWNA" {
		t.Fatalf("result = %+v", r)
	}
	if r.Source != SourceOverride || !r.Validated {
		t.Errorf("source = %q validated = %v", r.Source, r.Validated)
	}
}

func TestDiscoverOverrideAggregatorDown(t *testing.T) {
	// Format-valid override is accepted when validation is unavailable.
	v := &fakeValidator{unreachable: true}
	d := NewDiscoverer(v, nil, nil)

	r, err := d.Discover(context.Background(), t.TempDir(), "B002V5BWNA")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.ASIN != "B002V5BWNA" || r.Validated {
		t.Fatalf("result = %+v", r)
	}
}

func TestDiscoverMarkerFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".asin"), []byte("  b00x1234ab\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := &fakeValidator{known: map[string]bool{"B00X1234AB": true}}
	d := NewDiscoverer(v, nil, nil)

	r, err := d.Discover(context.Background(), dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.ASIN != "B00X1234AB" || r.Source != SourceMarkerFile {
		t.Fatalf("result = %+v", r)
	}
}

func TestDiscoverMarkerFileBesideM4B(t *testing.T) {
	dir := t.TempDir()
	m4b := filepath.Join(dir, "book.m4b")
	if err := os.WriteFile(m4b, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".asin"), []byte("B00X1234AB"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := &fakeValidator{known: map[string]bool{"B00X1234AB": true}}
	d := NewDiscoverer(v, nil, nil)

	r, err := d.Discover(context.Background(), m4b, "")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Source != SourceMarkerFile {
		t.Fatalf("result = %+v", r)
	}
}

func TestFolderCandidates(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/in/The Martian [B00B5HZGUG]", []string{"B00B5HZGUG"}},
		{"/in/The Martian (B00B5HZGUG)", []string{"B00B5HZGUG"}},
		{"/in/B00B5HZGUG - The Martian", []string{"B00B5HZGUG"}},
		{"/in/The Martian", nil},
		{"/in/The Martian [X00B5HZGUG]", nil}, // not B0-prefixed
		{"/in/book [B00B5HZGUG].m4b", []string{"B00B5HZGUG"}},
	}
	for _, tt := range tests {
		got := folderCandidates(tt.path)
		if len(got) != len(tt.want) {
			t.Errorf("folderCandidates(%q) = %v, want %v", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("folderCandidates(%q) = %v, want %v", tt.path, got, tt.want)
			}
		}
	}
}

func TestDiscoverFolderRejectedFallsToSearch(t *testing.T) {
	v := &fakeValidator{known: map[string]bool{"B0SEARCH01": true}}
	s := &fakeSearcher{results: []SearchCandidate{
		{ASIN: "B0SEARCH01", Title: "The Martian", Authors: []string{"Andy Weir"}},
	}}
	d := NewDiscoverer(v, s, nil)

	dir := filepath.Join(t.TempDir(), "Andy Weir", "The Martian [B0BADBAD00]")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	r, err := d.Discover(context.Background(), dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.ASIN != "B0SEARCH01" || r.Source != SourceSearch {
		t.Fatalf("result = %+v", r)
	}
	// The folder candidate was tried and rejected before the search hit.
	if v.calls[0] != "B0BADBAD00" {
		t.Errorf("first validation = %q", v.calls[0])
	}
}

func TestDiscoverSearchBelowThreshold(t *testing.T) {
	v := &fakeValidator{known: map[string]bool{"B0WRONG001": true}}
	s := &fakeSearcher{results: []SearchCandidate{
		{ASIN: "B0WRONG001", Title: "Completely Different Novel", Authors: []string{"Nobody"}},
	}}
	d := NewDiscoverer(v, s, nil)

	dir := filepath.Join(t.TempDir(), "Andy Weir", "The Martian")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	r, err := d.Discover(context.Background(), dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("expected graceful no-result, got %+v", r)
	}
}

func TestDiscoverUnvalidatedFallback(t *testing.T) {
	v := &fakeValidator{unreachable: true}
	d := NewDiscoverer(v, nil, nil)

	dir := filepath.Join(t.TempDir(), "The Martian [B00B5HZGUG]")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	r, err := d.Discover(context.Background(), dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.ASIN != "B00B5HZGUG" {
		t.Fatalf("result = %+v", r)
	}
	if r.Source != SourceUnvalidated || r.Validated {
		t.Errorf("source = %q validated = %v", r.Source, r.Validated)
	}
}

func TestDiscoverNothingFound(t *testing.T) {
	v := &fakeValidator{}
	d := NewDiscoverer(v, nil, nil)

	r, err := d.Discover(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("expected nil result, got %+v", r)
	}
}

func TestQueryFromPath(t *testing.T) {
	tests := []struct {
		path       string
		wantTitle  string
		wantAuthor string
	}{
		{"/in/Andy Weir/The Martian", "The Martian", "Andy Weir"},
		{"/in/Andy Weir/The Martian Book 1", "The Martian", "Andy Weir"},
		{"/in/Andy Weir/The_Martian-a1b2c3d4e5f6", "The Martian", "Andy Weir"},
		{"/in/Andy Weir/The Martian [B00B5HZGUG]", "The Martian", "Andy Weir"},
		{"/drop/The Martian/The Martian", "The Martian", "drop"},
		{"/in/Andy Weir/book.m4b", "book", "Andy Weir"},
	}
	for _, tt := range tests {
		title, author := QueryFromPath(tt.path)
		if title != tt.wantTitle || author != tt.wantAuthor {
			t.Errorf("QueryFromPath(%q) = (%q, %q), want (%q, %q)",
				tt.path, title, author, tt.wantTitle, tt.wantAuthor)
		}
	}
}

func TestScoreCandidate(t *testing.T) {
	exact := scoreCandidate("The Martian", "Andy Weir",
		SearchCandidate{Title: "The Martian", Authors: []string{"Andy Weir"}})
	if exact < 0.99 {
		t.Errorf("exact match scored %v", exact)
	}

	wrong := scoreCandidate("The Martian", "Andy Weir",
		SearchCandidate{Title: "Project Hail Mary", Authors: []string{"Andy Weir"}})
	if wrong >= exact {
		t.Errorf("wrong title scored %v >= exact %v", wrong, exact)
	}

	unrelated := scoreCandidate("The Martian", "Andy Weir",
		SearchCandidate{Title: "Pride and Prejudice", Authors: []string{"Jane Austen"}})
	if unrelated > 0.1 {
		t.Errorf("unrelated scored %v", unrelated)
	}
}
