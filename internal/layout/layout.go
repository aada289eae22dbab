// Package layout maps the configured state directories to concrete per-book
// paths: work dirs, manifests, the pipeline lock, cache entries, quarantine
// and archive targets.
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bindery/bindery/internal/config"
)

const (
	// ManifestExt is the extension for per-book manifest files.
	ManifestExt = ".json"

	// LockFileName is the global pipeline lock file.
	LockFileName = "pipeline.lock"

	// LogFileName is the pipeline log file appended to by every run.
	LogFileName = "convert.log"

	// WorkOutputName is the canonical name of the in-progress M4B inside a
	// book's work directory.
	WorkOutputName = "output.m4b"

	// FileListName is the sorted audio file list written by the validate stage.
	FileListName = "files.txt"

	// ChapterMetaName is the ffmetadata chapter file built by the concat stage.
	ChapterMetaName = "chapters.ffmetadata"

	// ConcatListName is the ffmpeg concat demuxer input list.
	ConcatListName = "concat.txt"

	// CoverName is the downloaded cover art file.
	CoverName = "cover.jpg"

	// DescName is the plain-text description companion file.
	DescName = "desc.txt"

	// ReaderName is the narrator companion file.
	ReaderName = "reader.txt"

	// TaggerChaptersName is the chapter list handed to the tagger.
	TaggerChaptersName = "chapters.txt"

	// ErrorFileName summarizes a failure inside a quarantine directory.
	ErrorFileName = "ERROR.txt"
)

// Dir resolves paths for all pipeline state from the configured roots.
type Dir struct {
	cfg *config.Config
}

// New creates a Dir over the given configuration.
func New(cfg *config.Config) *Dir {
	return &Dir{cfg: cfg}
}

// WorkDir returns the scratch directory for a book.
func (d *Dir) WorkDir(bookHash string) string {
	return filepath.Join(d.cfg.WorkDir, bookHash)
}

// WorkFile returns a named file inside a book's work directory.
func (d *Dir) WorkFile(bookHash, name string) string {
	return filepath.Join(d.WorkDir(bookHash), name)
}

// WorkOutput returns the in-progress M4B path for a book.
func (d *Dir) WorkOutput(bookHash string) string {
	return d.WorkFile(bookHash, WorkOutputName)
}

// ManifestPath returns the manifest file for a book hash.
func (d *Dir) ManifestPath(bookHash string) string {
	return filepath.Join(d.cfg.ManifestDir, bookHash+ManifestExt)
}

// LockPath returns the global pipeline lock file.
func (d *Dir) LockPath() string {
	return filepath.Join(d.cfg.LockDir, LockFileName)
}

// LogPath returns the pipeline log file.
func (d *Dir) LogPath() string {
	return filepath.Join(d.cfg.LogDir, LogFileName)
}

// CacheDir returns the metadata cache directory.
func (d *Dir) CacheDir() string {
	return d.cfg.CacheDir
}

// LibraryDir returns the library (Plex layout) base.
func (d *Dir) LibraryDir() string {
	return d.cfg.LibraryDir
}

// ArchiveDir returns the archive target for a book's originals.
func (d *Dir) ArchiveDir(bookName string) string {
	return filepath.Join(d.cfg.ArchiveDir, bookName)
}

// FailedDir returns the quarantine directory for a book name, suffixing
// .1, .2, ... on collision.
func (d *Dir) FailedDir(bookName string) string {
	base := filepath.Join(d.cfg.FailedDir, bookName)
	candidate := base
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s.%d", base, n)
	}
}

// EnsureBase creates every state directory the pipeline owns. The library
// dir is deliberately excluded: it lives on a remote mount that organize
// probes before touching.
func (d *Dir) EnsureBase() error {
	for _, dir := range []string{
		d.cfg.WorkDir,
		d.cfg.ManifestDir,
		d.cfg.LockDir,
		d.cfg.CacheDir,
		d.cfg.ArchiveDir,
		d.cfg.FailedDir,
		d.cfg.LogDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureWorkDir creates the scratch directory for a book.
func (d *Dir) EnsureWorkDir(bookHash string) error {
	return os.MkdirAll(d.WorkDir(bookHash), 0o755)
}
