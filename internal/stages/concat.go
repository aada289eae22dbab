package stages

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/manifest"
	"github.com/bindery/bindery/internal/media"
)

// Concat builds the encoder inputs: the concat demuxer list and, for
// multi-file sources, the chapter metadata synthesized from file boundaries.
type Concat struct{}

func (c *Concat) Name() string { return manifest.StageConcat }

func (c *Concat) Run(ctx context.Context, sc *Context) error {
	files, err := SourceFiles(sc.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to scan source: %w", err)
	}
	if len(files) == 0 {
		return Permanent("no audio files found in %s", sc.SourcePath)
	}

	listPath := sc.Dirs.WorkFile(sc.BookHash, layout.ConcatListName)
	err = sc.Run.Mutate("write "+listPath, func() error {
		return os.WriteFile(listPath, []byte(media.BuildConcatList(files)), 0o644)
	})
	if err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	// Single-file inputs keep their embedded chapters; the encoder preserves
	// them when no chapter file is mapped.
	if len(files) == 1 {
		sc.Logger.Info("single-file source, skipping chapter synthesis")
		return sc.Complete(manifest.StageConcat, listPath)
	}

	durations := make([]float64, len(files))
	for i, f := range files {
		pi, err := sc.Prober.Probe(ctx, f)
		if err != nil {
			return Transient("failed to probe %s: %v", f, err)
		}
		durations[i] = pi.DurationSec
	}

	chapters := media.SynthesizeChapters(files, durations)
	if err := media.ValidateChapters(chapters); err != nil {
		return Permanent("synthesized chapters invalid: %v", err)
	}

	metaPath := sc.Dirs.WorkFile(sc.BookHash, layout.ChapterMetaName)
	err = sc.Run.Mutate("write "+metaPath, func() error {
		var b strings.Builder
		if err := media.WriteFFMetadata(&b, chapters); err != nil {
			return err
		}
		return os.WriteFile(metaPath, []byte(b.String()), 0o644)
	})
	if err != nil {
		return fmt.Errorf("failed to write chapter metadata: %w", err)
	}

	sc.Logger.Info("concat inputs ready", "files", len(files), "chapters", len(chapters))
	return sc.Complete(manifest.StageConcat, listPath)
}
