package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/bindery/bindery/internal/asin"
	"github.com/bindery/bindery/internal/bookid"
	"github.com/bindery/bindery/internal/fsutil"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/manifest"
)

// mountProbeTimeout bounds each library mount health probe.
const mountProbeTimeout = 5 * time.Second

// Organize deploys the finished M4B into the Plex-shaped library tree.
// Library mounts are treated as hostile: health-probed before any write,
// byte-copied with explicit chmod, never chowned.
type Organize struct{}

func (o *Organize) Name() string { return manifest.StageOrganize }

func (o *Organize) Run(ctx context.Context, sc *Context) error {
	if sc.Cfg.LibraryDir == "" {
		return Permanent("library_dir is not configured")
	}

	m, err := sc.Manifest()
	if err != nil {
		return err
	}

	outputPath := sc.Dirs.WorkOutput(sc.BookHash)
	if _, err := os.Stat(outputPath); err != nil && !sc.Run.DryRun {
		return Transient("work output missing: %s", outputPath)
	}

	if err := o.probeMount(ctx, sc); err != nil {
		return Transient("library mount %s is not responding: %v", sc.Cfg.LibraryDir, err)
	}

	dest := o.buildPath(ctx, sc, m, outputPath)
	sc.Logger.Info("library destination resolved", "path", dest)

	filePerm, err := sc.Cfg.FilePerm()
	if err != nil {
		return err
	}
	dirPerm, err := sc.Cfg.DirPerm()
	if err != nil {
		return err
	}

	destDir := filepath.Dir(dest)
	err = sc.Run.Mutate("mkdir "+destDir, func() error {
		return os.MkdirAll(destDir, dirPerm)
	})
	if err != nil {
		return Transient("failed to create library directory: %v", err)
	}

	if o.alreadyDeployed(sc, outputPath, dest) {
		sc.Logger.Info("destination already matches, skipping copy", "path", dest)
	} else {
		err = sc.Run.Mutate(fmt.Sprintf("copy %s -> %s", outputPath, dest), func() error {
			return fsutil.CopyFile(outputPath, dest, filePerm)
		})
		if err != nil {
			return Transient("failed to deploy to library: %v", err)
		}
	}

	o.deployCompanions(sc, destDir, filePerm)

	if _, err := sc.Store.Update(sc.BookHash, func(m *manifest.Manifest) {
		m.SetMeta(MetaFinalPath, dest)
	}); err != nil {
		return err
	}
	return sc.Complete(manifest.StageOrganize, dest)
}

// probeMount stats the library root with a short per-attempt timeout. An
// unmounted NFS export hangs rather than erroring, so the stat runs in a
// goroutine and the timeout wins.
func (o *Organize) probeMount(ctx context.Context, sc *Context) error {
	return retry.Do(
		func() error {
			probeCtx, cancel := context.WithTimeout(ctx, mountProbeTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				info, err := os.Stat(sc.Cfg.LibraryDir)
				if err == nil && !info.IsDir() {
					err = fmt.Errorf("%s is not a directory", sc.Cfg.LibraryDir)
				}
				done <- err
			}()

			select {
			case err := <-done:
				return err
			case <-probeCtx.Done():
				return fmt.Errorf("mount probe timed out after %s", mountProbeTimeout)
			}
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// buildPath resolves the Plex path from metadata, embedded tags, then path
// heuristics, in that order.
func (o *Organize) buildPath(ctx context.Context, sc *Context, m *manifest.Manifest, outputPath string) string {
	var tagTitle, tagArtist string
	if info, err := sc.Prober.Probe(ctx, outputPath); err == nil {
		tagTitle, tagArtist = info.TitleTag, info.ArtistTag
	}
	heurTitle, heurAuthor := asin.QueryFromPath(sc.SourcePath)

	author := firstNonEmpty(m.Meta(MetaAuthor), tagArtist, heurAuthor, "Unknown Author")
	title := firstNonEmpty(m.Meta(MetaTitle), tagTitle)
	if title == "" {
		title = fmt.Sprintf("%s [%s]", firstNonEmpty(heurTitle, "Unknown Title"), sc.BookHash[:8])
	}
	series := m.Meta(MetaSeries)
	position := FormatSeriesPosition(m.Meta(MetaSeriesPos))
	year := m.Meta(MetaYear)

	author = bookid.SanitizeComponent(author)
	title = bookid.SanitizeComponent(title)
	series = bookid.SanitizeComponent(series)

	bookDir := title
	if position != "" && series != "" {
		bookDir = position + " - " + title
	}
	if year != "" {
		bookDir += " (" + year + ")"
	}
	bookDir = bookid.SanitizeComponent(bookDir)

	parts := []string{sc.Cfg.LibraryDir, author}
	if series != "" {
		parts = append(parts, series)
	}
	parts = append(parts, bookDir, title+".m4b")
	return filepath.Join(parts...)
}

// alreadyDeployed reports whether the destination exists with the source's
// exact size, making the copy skippable.
func (o *Organize) alreadyDeployed(sc *Context, src, dst string) bool {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return false
	}
	return srcInfo.Size() == dstInfo.Size()
}

// deployCompanions copies cover/description/reader files beside the M4B.
// Missing companions are fine; copy failures are warnings.
func (o *Organize) deployCompanions(sc *Context, destDir string, perm os.FileMode) {
	for _, name := range []string{layout.CoverName, layout.DescName, layout.ReaderName} {
		src := sc.Dirs.WorkFile(sc.BookHash, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(destDir, name)
		err := sc.Run.Mutate(fmt.Sprintf("copy %s -> %s", src, dst), func() error {
			return fsutil.CopyFile(src, dst, perm)
		})
		if err != nil {
			sc.Logger.Warn("failed to deploy companion", "file", name, "error", err)
		}
	}
}

// FormatSeriesPosition zero-pads the integer part to two digits while
// preserving any decimal part: "1" -> "01", "1.5" -> "01.5", "10" -> "10".
func FormatSeriesPosition(pos string) string {
	pos = strings.TrimSpace(pos)
	if pos == "" {
		return ""
	}
	intPart, frac := pos, ""
	if i := strings.IndexByte(pos, '.'); i >= 0 {
		intPart, frac = pos[:i], pos[i:]
	}
	n, err := strconv.Atoi(intPart)
	if err != nil {
		return pos
	}
	return fmt.Sprintf("%02d%s", n, frac)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
