package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bindery/bindery/internal/fsutil"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/manifest"
)

// quarantine moves the failed source into the failed directory along with an
// ERROR.txt summary and a copy of the manifest, so an operator can inspect
// and requeue. Quarantine itself is best-effort: its errors are logged, not
// raised, because the pipeline is already terminating on the original error.
func (p *Pipeline) quarantine(hash, sourcePath string, errInfo manifest.ErrorInfo, log *slog.Logger) {
	bookName := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	dest := p.dirs.FailedDir(bookName)

	err := p.run.Mutate(fmt.Sprintf("quarantine %s -> %s", sourcePath, dest), func() error {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}

		summary := fmt.Sprintf(
			"stage: %s\ntime: %s\nexit_code: %d\ncategory: %s\nmessage: %s\n",
			errInfo.Stage,
			errInfo.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			errInfo.ExitCode,
			errInfo.Category,
			errInfo.Message,
		)
		if err := os.WriteFile(filepath.Join(dest, layout.ErrorFileName), []byte(summary), 0o644); err != nil {
			return err
		}

		if data, err := os.ReadFile(p.store.Path(hash)); err == nil {
			if err := os.WriteFile(filepath.Join(dest, "manifest.json"), data, 0o644); err != nil {
				return err
			}
		}

		return p.moveSource(sourcePath, dest)
	})
	if err != nil {
		log.Error("quarantine failed", "destination", dest, "error", err)
		return
	}
	log.Info("source quarantined", "destination", dest)
}

// moveSource relocates the source (file or directory) under dest.
func (p *Pipeline) moveSource(sourcePath, dest string) error {
	info, err := os.Stat(sourcePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	perm, err := p.cfg.FilePerm()
	if err != nil {
		perm = 0o644
	}

	if !info.IsDir() {
		return fsutil.MoveFile(sourcePath, filepath.Join(dest, filepath.Base(sourcePath)), perm)
	}

	target := filepath.Join(dest, filepath.Base(sourcePath))
	same, err := fsutil.SameDevice(sourcePath, target)
	if err == nil && same {
		return os.Rename(sourcePath, target)
	}
	err = filepath.Walk(sourcePath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return err
		}
		tp := filepath.Join(target, rel)
		if fi.IsDir() {
			return os.MkdirAll(tp, 0o755)
		}
		return fsutil.MoveFile(path, tp, perm)
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(sourcePath)
}
