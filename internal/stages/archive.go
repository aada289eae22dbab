package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bindery/bindery/internal/fsutil"
	"github.com/bindery/bindery/internal/manifest"
)

// sizeCheckTolerance is the allowed deviation between the actual file size
// and the size implied by bitrate and duration.
const sizeCheckTolerance = 0.10

// Archive moves the originals out of the drop directory, but only after the
// organized output passes an integrity check. Originals are never destroyed
// on an unproven output.
type Archive struct{}

func (a *Archive) Name() string { return manifest.StageArchive }

func (a *Archive) Run(ctx context.Context, sc *Context) error {
	m, err := sc.Manifest()
	if err != nil {
		return err
	}

	finalPath := m.Meta(MetaFinalPath)
	if finalPath == "" {
		finalPath = m.Stage(manifest.StageOrganize).OutputPath
	}
	if finalPath == "" {
		return Transient("no organized output recorded, cannot verify before archiving")
	}

	if !sc.Run.DryRun {
		if err := a.verifyOutput(ctx, sc, finalPath); err != nil {
			return Transient("organized output failed integrity check: %v", err)
		}
	}

	srcInfo, err := os.Stat(sc.SourcePath)
	if os.IsNotExist(err) {
		sc.Logger.Info("source already archived or removed")
		return sc.Complete(manifest.StageArchive, "")
	}
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	bookName := strings.TrimSuffix(filepath.Base(sc.SourcePath), filepath.Ext(sc.SourcePath))
	archiveDir := sc.Dirs.ArchiveDir(bookName)

	filePerm, err := sc.Cfg.FilePerm()
	if err != nil {
		return err
	}

	if srcInfo.IsDir() {
		err = a.archiveDirectory(sc, sc.SourcePath, archiveDir, filePerm)
	} else {
		err = sc.Run.Mutate(fmt.Sprintf("archive %s -> %s", sc.SourcePath, archiveDir), func() error {
			if err := os.MkdirAll(archiveDir, 0o755); err != nil {
				return err
			}
			return fsutil.MoveFile(sc.SourcePath, filepath.Join(archiveDir, filepath.Base(sc.SourcePath)), filePerm)
		})
	}
	if err != nil {
		return Transient("failed to archive originals: %v", err)
	}

	sc.Logger.Info("originals archived", "destination", archiveDir)
	return sc.Complete(manifest.StageArchive, archiveDir)
}

// verifyOutput runs the integrity gate on the deployed M4B: existence,
// parseability, duration, codec, container, and a bitrate-implied size
// check. The size check is skipped with a warning when bitrate is unknown.
func (a *Archive) verifyOutput(ctx context.Context, sc *Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output is empty")
	}

	probed, err := sc.Prober.Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("output does not parse: %w", err)
	}
	if probed.DurationSec <= 0 {
		return fmt.Errorf("output has zero duration")
	}
	if !strings.Contains(probed.Codec, "aac") {
		return fmt.Errorf("output codec is %q, expected aac", probed.Codec)
	}
	if !strings.Contains(probed.FormatName, "mp4") && !strings.Contains(probed.FormatName, "mov") {
		return fmt.Errorf("output container is %q, expected mp4/mov", probed.FormatName)
	}

	if probed.BitrateKbps <= 0 {
		sc.Logger.Warn("bitrate unknown, skipping size plausibility check", "path", path)
		return nil
	}
	expected := float64(probed.BitrateKbps) * 1000 * probed.DurationSec / 8
	diff := float64(info.Size()) - expected
	if diff < 0 {
		diff = -diff
	}
	if diff/expected > sizeCheckTolerance {
		return fmt.Errorf("size %d deviates more than %.0f%% from expected %.0f",
			info.Size(), sizeCheckTolerance*100, expected)
	}
	return nil
}

// archiveDirectory moves every file under src into dst, preserving relative
// layout. Device-aware: rename on the same filesystem, verified copy+unlink
// across filesystems. The emptied source tree is removed last.
func (a *Archive) archiveDirectory(sc *Context, src, dst string, perm os.FileMode) error {
	return sc.Run.Mutate(fmt.Sprintf("archive %s -> %s", src, dst), func() error {
		err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			target := filepath.Join(dst, rel)
			if info.IsDir() {
				return os.MkdirAll(target, 0o755)
			}
			return fsutil.MoveFile(path, target, perm)
		})
		if err != nil {
			return err
		}
		return os.RemoveAll(src)
	})
}
