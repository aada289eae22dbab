// Package media wraps the external audio tooling: ffprobe queries, the
// single-pass ffmpeg concat+encode, and chapter arithmetic.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bindery/bindery/internal/runner"
)

// Info is the probe result for one media file.
type Info struct {
	DurationSec  float64
	BitrateKbps  int
	Codec        string
	Channels     int
	SampleRate   int
	FormatName   string
	ChapterCount int
	TitleTag     string
	ArtistTag    string
}

// ffprobe JSON payload shapes. Numeric fields arrive as strings.
type probePayload struct {
	Format struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		BitRate    string            `json:"bit_rate"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
	Chapters []struct {
		ID int64 `json:"id"`
	} `json:"chapters"`
}

// Prober runs ffprobe against local files.
type Prober struct {
	run *runner.Runner
}

// NewProber creates a prober over the given runner.
func NewProber(run *runner.Runner) *Prober {
	return &Prober{run: run}
}

// Probe queries duration, bitrate, codec, channels, chapter count, and
// embedded tags for one file. Probes are read-only and run even under
// dry-run.
func (p *Prober) Probe(ctx context.Context, path string) (*Info, error) {
	out, err := p.run.Query(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var payload probePayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	info := &Info{
		FormatName:   payload.Format.FormatName,
		ChapterCount: len(payload.Chapters),
	}
	info.DurationSec, _ = strconv.ParseFloat(payload.Format.Duration, 64)
	if bps, err := strconv.Atoi(payload.Format.BitRate); err == nil {
		info.BitrateKbps = bps / 1000
	}
	for key, value := range payload.Format.Tags {
		switch key {
		case "title", "TITLE":
			info.TitleTag = value
		case "artist", "ARTIST":
			info.ArtistTag = value
		}
	}
	for _, s := range payload.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.Codec = s.CodecName
		info.Channels = s.Channels
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		break
	}

	if info.DurationSec <= 0 {
		return info, fmt.Errorf("no duration reported for %s", path)
	}
	return info, nil
}

// DurationMs returns the probed duration in milliseconds.
func (i *Info) DurationMs() int64 {
	return int64(i.DurationSec * 1000)
}
