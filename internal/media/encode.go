package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/bindery/bindery/internal/runner"
)

const (
	// minBitrateKbps is the output bitrate floor.
	minBitrateKbps = 64

	// outputSampleRate is fixed for all encodes.
	outputSampleRate = 44100
)

// SelectBitrate picks the output bitrate: the source bitrate capped at
// maxKbps, floored at 64 kbps. Unknown source bitrate falls back to the cap.
func SelectBitrate(sourceKbps, maxKbps int) int {
	out := sourceKbps
	if out <= 0 || out > maxKbps {
		out = maxKbps
	}
	if out < minBitrateKbps {
		out = minBitrateKbps
	}
	return out
}

// BuildConcatList renders an ffmpeg concat demuxer input list. Paths are
// single-quoted with embedded quotes escaped the way the demuxer expects.
func BuildConcatList(files []string) string {
	var b strings.Builder
	for _, f := range files {
		escaped := strings.ReplaceAll(f, "'", "'\\''")
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}

// Encoder drives the single-pass concat + AAC encode.
type Encoder struct {
	run *runner.Runner

	// codec is resolved once per process.
	codec string
}

// NewEncoder creates an encoder over the given runner.
func NewEncoder(run *runner.Runner) *Encoder {
	return &Encoder{run: run}
}

// DetectCodec picks the AAC encoder: the Apple AudioToolbox encoder when
// the host ffmpeg offers it, the software encoder otherwise. The result is
// cached for the life of the process.
func (e *Encoder) DetectCodec(ctx context.Context) string {
	if e.codec != "" {
		return e.codec
	}
	e.codec = "aac"
	out, err := e.run.Query(ctx, "ffmpeg", "-hide_banner", "-encoders")
	if err == nil && strings.Contains(out, "aac_at") {
		e.codec = "aac_at"
	}
	return e.codec
}

// EncodeRequest describes one concat+encode pass.
type EncodeRequest struct {
	ConcatListPath string
	// ChapterMetaPath is the ffmetadata chapter file. Empty for single-file
	// inputs, whose embedded chapters the encoder preserves.
	ChapterMetaPath string
	OutputPath      string
	BitrateKbps     int
	Channels        int
}

// Encode runs the single ffmpeg invocation: concat demuxer, AAC encode,
// chapter metadata mapping, and faststart for sequential playback. The
// output path must live inside the work directory; callers never point
// this at the library mount.
func (e *Encoder) Encode(ctx context.Context, req EncodeRequest) error {
	args := []string{
		"-hide_banner", "-nostdin",
		"-f", "concat",
		"-safe", "0",
		"-i", req.ConcatListPath,
	}
	if req.ChapterMetaPath != "" {
		args = append(args,
			"-i", req.ChapterMetaPath,
			"-map_metadata", "1",
			"-map_chapters", "1",
		)
	}
	args = append(args,
		"-map", "0:a",
		"-c:a", e.DetectCodec(ctx),
		"-b:a", fmt.Sprintf("%dk", req.BitrateKbps),
		"-ar", fmt.Sprintf("%d", outputSampleRate),
		"-ac", fmt.Sprintf("%d", req.Channels),
		"-movflags", "+faststart",
		"-y",
		req.OutputPath,
	)

	if _, err := e.run.Run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}
	return nil
}
