package bookid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHashDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ch1.mp3"))
	writeFile(t, filepath.Join(dir, "ch2.mp3"))
	writeFile(t, filepath.Join(dir, "notes.txt")) // ignored

	got, err := Hash(dir)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	input := fmt.Sprintf("%s\n%s\n%s", dir,
		filepath.Join(dir, "ch1.mp3"), filepath.Join(dir, "ch2.mp3"))
	sum := sha256.Sum256([]byte(input))
	want := hex.EncodeToString(sum[:])[:16]

	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if len(got) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(got))
	}
}

func TestHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.mp3"))
	writeFile(t, filepath.Join(dir, "a.mp3"))

	h1, err := Hash(dir)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}
}

func TestHashChangesWithPath(t *testing.T) {
	root := t.TempDir()
	dirA := filepath.Join(root, "BookA")
	dirB := filepath.Join(root, "BookB")
	writeFile(t, filepath.Join(dirA, "ch1.mp3"))
	writeFile(t, filepath.Join(dirB, "ch1.mp3"))

	hA, err := Hash(dirA)
	if err != nil {
		t.Fatal(err)
	}
	hB, err := Hash(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if hA == hB {
		t.Error("renaming the containing directory should change the hash")
	}
}

func TestHashSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.m4b")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Hash(path)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\n%d", path, 7)))
	want := hex.EncodeToString(sum[:])[:16]
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestHashMissingSource(t *testing.T) {
	if _, err := Hash(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestIsAudioFile(t *testing.T) {
	for _, name := range []string{"a.mp3", "b.FLAC", "c.Ogg", "d.m4a", "e.WMA"} {
		if !IsAudioFile(name) {
			t.Errorf("%s should be recognized", name)
		}
	}
	for _, name := range []string{"a.txt", "b.m4b", "c.wav", "noext"} {
		if IsAudioFile(name) {
			t.Errorf("%s should not be recognized", name)
		}
	}
}

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`The "Long" Road: Home`, "The Long Road Home"},
		{"A/B\\C", "A B C"},
		{"  spaced   out  ", "spaced out"},
		{"...dots...", "dots"},
		{"clean name", "clean name"},
		{"semi;colon", "semi colon"},
		{"q?mark*star<gt>lt|pipe", "q mark star gt lt pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeComponent(tt.in); got != tt.want {
				t.Errorf("SanitizeComponent(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		`a:b/c\d`,
		strings.Repeat("é", 200),
		"   x   ",
		strings.Repeat("日本語", 50),
	}
	for _, in := range inputs {
		once := SanitizeComponent(in)
		twice := SanitizeComponent(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestSanitizeByteTruncation(t *testing.T) {
	t.Run("exactly 255 bytes passes", func(t *testing.T) {
		in := strings.Repeat("a", 255)
		if got := SanitizeComponent(in); got != in {
			t.Errorf("255-byte component should pass unchanged, got %d bytes", len(got))
		}
	})

	t.Run("256 bytes truncated", func(t *testing.T) {
		in := strings.Repeat("a", 256)
		got := SanitizeComponent(in)
		if len(got) > 255 {
			t.Errorf("expected <= 255 bytes, got %d", len(got))
		}
	})

	t.Run("multibyte not split", func(t *testing.T) {
		// 128 x 2-byte runes = 256 bytes; truncation must drop a whole rune.
		in := strings.Repeat("é", 128)
		got := SanitizeComponent(in)
		if len(got) > 255 {
			t.Errorf("expected <= 255 bytes, got %d", len(got))
		}
		for _, r := range got {
			if r == '�' {
				t.Error("truncation split a multi-byte sequence")
			}
		}
	})
}

func TestVersionLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"ch2", "ch10", true},
		{"ch10", "ch2", false},
		{"ch2", "ch2", false},
		{"track01", "track2", true},
		{"a", "b", true},
		{"part1b", "part1a", false},
		{"ch9.mp3", "ch10.mp3", true},
	}
	for _, tt := range tests {
		if got := VersionLess(tt.a, tt.b); got != tt.want {
			t.Errorf("VersionLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSortVersions(t *testing.T) {
	paths := []string{"ch10.mp3", "ch2.mp3", "ch1.mp3"}
	SortVersions(paths)
	want := []string{"ch1.mp3", "ch2.mp3", "ch10.mp3"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, paths)
		}
	}
}
