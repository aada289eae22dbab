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

// Convert runs the single-pass concat+encode and gates on the probed output.
type Convert struct{}

func (c *Convert) Name() string { return manifest.StageConvert }

func (c *Convert) Run(ctx context.Context, sc *Context) error {
	files, err := SourceFiles(sc.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to scan source: %w", err)
	}
	if len(files) == 0 {
		return Permanent("no audio files found in %s", sc.SourcePath)
	}

	first, err := sc.Prober.Probe(ctx, files[0])
	if err != nil {
		return Transient("failed to probe %s: %v", files[0], err)
	}
	bitrate := media.SelectBitrate(first.BitrateKbps, sc.Cfg.MaxBitrate)

	listPath := sc.Dirs.WorkFile(sc.BookHash, layout.ConcatListName)
	metaPath := sc.Dirs.WorkFile(sc.BookHash, layout.ChapterMetaName)
	if _, err := os.Stat(metaPath); err != nil {
		metaPath = ""
	}
	outputPath := sc.Dirs.WorkOutput(sc.BookHash)

	sc.Logger.Info("encoding",
		"codec", sc.Encoder.DetectCodec(ctx),
		"bitrate_kbps", bitrate,
		"channels", sc.Cfg.Channels,
		"chapters", metaPath != "")

	err = sc.Encoder.Encode(ctx, media.EncodeRequest{
		ConcatListPath:  listPath,
		ChapterMetaPath: metaPath,
		OutputPath:      outputPath,
		BitrateKbps:     bitrate,
		Channels:        sc.Cfg.Channels,
	})
	if err != nil {
		return Transient("encode failed: %v", err)
	}

	if sc.Run.DryRun {
		return sc.Complete(manifest.StageConvert, outputPath)
	}

	// Re-encoding can succeed once disk or memory pressure clears, so a bad
	// output is transient.
	out, err := sc.Prober.Probe(ctx, outputPath)
	if err != nil {
		return Transient("output failed to probe: %v", err)
	}
	if out.DurationSec <= 0 {
		return Transient("output has zero duration")
	}
	if !strings.Contains(out.Codec, "aac") {
		return Transient("output codec is %q, expected aac", out.Codec)
	}

	sc.Logger.Info("encode complete",
		"output", outputPath, "duration_s", fmt.Sprintf("%.1f", out.DurationSec))
	return sc.Complete(manifest.StageConvert, outputPath)
}
