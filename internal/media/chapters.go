package media

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Chapter is one chapter marker in milliseconds.
type Chapter struct {
	Title   string
	StartMs int64
	EndMs   int64
}

// SynthesizeChapters builds file-boundary chapters from per-file durations:
// chapter N spans the cumulative duration of files 1..N-1 to 1..N. Titles
// come from the file basenames with extensions stripped.
func SynthesizeChapters(files []string, durationsSec []float64) []Chapter {
	chapters := make([]Chapter, 0, len(files))
	var cursorMs int64
	for i, f := range files {
		lengthMs := int64(durationsSec[i] * 1000)
		title := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		chapters = append(chapters, Chapter{
			Title:   sanitizeChapterTitle(title),
			StartMs: cursorMs,
			EndMs:   cursorMs + lengthMs,
		})
		cursorMs += lengthMs
	}
	return chapters
}

// sanitizeChapterTitle strips characters that break the ffmetadata format.
// ffmetadata treats = ; # \ and newline as syntax.
func sanitizeChapterTitle(s string) string {
	replacer := strings.NewReplacer("=", " ", ";", " ", "#", " ", "\\", " ", "\n", " ", "\r", " ")
	return strings.Join(strings.Fields(replacer.Replace(s)), " ")
}

// WriteFFMetadata writes chapters in ffmpeg's metadata format with a
// millisecond timebase.
func WriteFFMetadata(w io.Writer, chapters []Chapter) error {
	if _, err := fmt.Fprintln(w, ";FFMETADATA1"); err != nil {
		return err
	}
	for _, ch := range chapters {
		_, err := fmt.Fprintf(w, "\n[CHAPTER]\nTIMEBASE=1/1000\nSTART=%d\nEND=%d\ntitle=%s\n",
			ch.StartMs, ch.EndMs, ch.Title)
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateChapters rejects chapter sets with negative offsets, overlapping
// ranges, or non-monotonic starts.
func ValidateChapters(chapters []Chapter) error {
	var prevStart, prevEnd int64 = -1, 0
	for i, ch := range chapters {
		if ch.StartMs < 0 || ch.EndMs < 0 {
			return fmt.Errorf("chapter %d has negative offset", i+1)
		}
		if ch.EndMs < ch.StartMs {
			return fmt.Errorf("chapter %d ends before it starts", i+1)
		}
		if ch.StartMs <= prevStart {
			return fmt.Errorf("chapter %d start is not monotonic", i+1)
		}
		if ch.StartMs < prevEnd {
			return fmt.Errorf("chapter %d overlaps chapter %d", i+1, i)
		}
		prevStart, prevEnd = ch.StartMs, ch.EndMs
	}
	return nil
}

// WithinTolerance reports whether the catalog chapter runtime agrees with
// the probed duration within the given fraction (0.05 = 5%). A zero or
// negative runtime never passes.
func WithinTolerance(probedMs, runtimeMs int64, tolerance float64) bool {
	if runtimeMs <= 0 {
		return false
	}
	diff := probedMs - runtimeMs
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(runtimeMs) <= tolerance
}

// FormatTimestamp renders milliseconds as HH:MM:SS.mmm for the tagger's
// chapter file.
func FormatTimestamp(ms int64) string {
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	frac := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, frac)
}

// FormatTaggerChapters renders chapters as "HH:MM:SS.mmm Title" lines, the
// format the external tagger consumes.
func FormatTaggerChapters(chapters []Chapter) string {
	var b strings.Builder
	for _, ch := range chapters {
		fmt.Fprintf(&b, "%s %s\n", FormatTimestamp(ch.StartMs), ch.Title)
	}
	return b.String()
}
