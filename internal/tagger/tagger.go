// Package tagger writes metadata into an M4B using the tone CLI. Tagging
// only ever touches the work-directory copy; in-place atom rewrites can tear
// on network filesystems.
package tagger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bindery/bindery/internal/catalog"
	"github.com/bindery/bindery/internal/media"
	"github.com/bindery/bindery/internal/runner"
)

// Request assembles everything the single tone invocation needs.
type Request struct {
	// Path is the work-directory M4B to tag.
	Path string
	Book *catalog.Book
	// CoverPath is an optional verified JPEG.
	CoverPath string
	// ChaptersPath is an optional chapters file in "HH:MM:SS.mmm Title"
	// line format.
	ChaptersPath string
}

// Tagger drives tone and verifies its output.
type Tagger struct {
	Runner *runner.Runner
	Prober *media.Prober
	Logger *slog.Logger
}

// NewTagger creates a tagger over the given process runner.
func NewTagger(r *runner.Runner, p *media.Prober, logger *slog.Logger) *Tagger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tagger{Runner: r, Prober: p, Logger: logger}
}

// Available reports whether tone is on PATH.
func (t *Tagger) Available() bool {
	return runner.LookPath("tone") == nil
}

// Tag runs a single tone tag pass with every available field.
func (t *Tagger) Tag(ctx context.Context, req Request) error {
	if req.Book == nil {
		return fmt.Errorf("tagger: no metadata to apply")
	}
	args := t.buildArgs(req)
	_, err := t.Runner.Run(ctx, "tone", args...)
	if err != nil {
		return fmt.Errorf("tone tag failed: %w", err)
	}
	return nil
}

func (t *Tagger) buildArgs(req Request) []string {
	b := req.Book
	args := []string{"tag", req.Path}

	add := func(flag, value string) {
		if value != "" {
			args = append(args, flag, value)
		}
	}

	add("--meta-title", b.Title)
	add("--meta-subtitle", b.Subtitle)
	if len(b.Authors) > 0 {
		names := make([]string, 0, len(b.Authors))
		for _, a := range b.Authors {
			names = append(names, a.Name)
		}
		add("--meta-artist", strings.Join(names, ", "))
		add("--meta-album-artist", b.Authors[0].Name)
	}
	if len(b.Narrators) > 0 {
		names := make([]string, 0, len(b.Narrators))
		for _, n := range b.Narrators {
			names = append(names, n.Name)
		}
		add("--meta-narrator", strings.Join(names, ", "))
	}
	add("--meta-album", b.Title)
	if b.SeriesPrimary != nil {
		add("--meta-movement-name", b.SeriesPrimary.Name)
		add("--meta-part", b.SeriesPrimary.Position)
	}
	if len(b.Genres) > 0 {
		add("--meta-genre", b.Genres[0].Name)
	}
	add("--meta-description", StripHTML(b.Description))
	add("--meta-long-description", StripHTML(b.Description))
	add("--meta-publisher", b.Publisher)
	add("--meta-copyright", b.Copyright)
	if year := catalog.Year(b.ReleaseDate); year != "" {
		add("--meta-recording-date", b.ReleaseDate)
	}
	add("--meta-additional-field", "ASIN="+b.ASIN)
	add("--meta-cover-file", req.CoverPath)
	add("--meta-chapters-file", req.ChaptersPath)
	args = append(args, "--meta-remove-additional-field", "comment")
	return args
}

// Verify re-probes the tagged file and compares the title tag and chapter
// count against expectations. Mismatches are reported, not fatal; the caller
// logs them as warnings.
func (t *Tagger) Verify(ctx context.Context, path, wantTitle string, wantChapters int) []string {
	info, err := t.Prober.Probe(ctx, path)
	if err != nil {
		return []string{fmt.Sprintf("re-probe failed: %v", err)}
	}

	var problems []string
	if wantTitle != "" && info.TitleTag != wantTitle {
		problems = append(problems,
			fmt.Sprintf("title tag %q does not match expected %q", info.TitleTag, wantTitle))
	}
	if wantChapters > 0 && info.ChapterCount != wantChapters {
		problems = append(problems,
			fmt.Sprintf("chapter count %d does not match expected %d", info.ChapterCount, wantChapters))
	}
	return problems
}

// StripHTML reduces marked-up catalog descriptions to plain text.
func StripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	out = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(out)
	return strings.Join(strings.Fields(out), " ")
}
