package stages

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bindery/bindery/internal/bookid"
	"github.com/bindery/bindery/internal/fsutil"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/manifest"
)

// diskHeadroomFactor is the required free-space multiple of the source size:
// source bytes + concat intermediate + final output + headroom.
const diskHeadroomFactor = 3

// Validate scans the source, probes every file, and pre-flights disk space.
type Validate struct{}

func (v *Validate) Name() string { return manifest.StageValidate }

func (v *Validate) Run(ctx context.Context, sc *Context) error {
	info, err := os.Stat(sc.SourcePath)
	if err != nil {
		return Permanent("source path does not exist: %s", sc.SourcePath)
	}
	if !info.IsDir() {
		return Permanent("source is not a directory: %s", sc.SourcePath)
	}

	files, err := SourceFiles(sc.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to scan source: %w", err)
	}
	if len(files) == 0 {
		return Permanent("no audio files found in %s", sc.SourcePath)
	}
	sc.Logger.Info("source scanned", "files", len(files))

	var totalSec float64
	for _, f := range files {
		pi, err := sc.Prober.Probe(ctx, f)
		if err != nil {
			return Permanent("unreadable audio file %s: %v", f, err)
		}
		totalSec += pi.DurationSec
	}

	srcBytes, err := fsutil.TreeSize(sc.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to size source: %w", err)
	}
	free, err := fsutil.FreeBytes(sc.Cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to check free space: %w", err)
	}
	need := srcBytes * diskHeadroomFactor
	if free < need {
		return Permanent("insufficient disk space in %s: need %d bytes, have %d",
			sc.Cfg.WorkDir, need, free)
	}

	listPath := sc.Dirs.WorkFile(sc.BookHash, layout.FileListName)
	err = sc.Run.Mutate("write "+listPath, func() error {
		var b strings.Builder
		for _, f := range files {
			b.WriteString(ShellQuote(f))
			b.WriteByte('\n')
		}
		return os.WriteFile(listPath, []byte(b.String()), 0o644)
	})
	if err != nil {
		return fmt.Errorf("failed to write file list: %w", err)
	}

	if _, err := sc.Store.Update(sc.BookHash, func(m *manifest.Manifest) {
		m.FileCount = len(files)
		m.TotalDuration = totalSec
	}); err != nil {
		return err
	}

	sc.Logger.Info("validate complete",
		"files", len(files), "total_duration_s", fmt.Sprintf("%.1f", totalSec))
	return sc.Complete(manifest.StageValidate, listPath)
}

// SourceFiles lists the source's audio files in version-aware order, so
// chapter 2 sorts before chapter 10.
func SourceFiles(sourcePath string) ([]string, error) {
	files, err := bookid.ListAudioFiles(sourcePath)
	if err != nil {
		return nil, err
	}
	bookid.SortVersions(files)
	return files, nil
}

// ShellQuote single-quotes a path for the file list, escaping embedded
// quotes the POSIX way.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
