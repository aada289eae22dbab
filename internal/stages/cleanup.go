package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bindery/bindery/internal/manifest"
)

// Cleanup removes the per-book work directory once the pipeline has fully
// succeeded. It refuses to delete anything outside the configured work root.
type Cleanup struct{}

func (c *Cleanup) Name() string { return manifest.StageCleanup }

func (c *Cleanup) Run(ctx context.Context, sc *Context) error {
	if !sc.Cfg.CleanupWorkDir {
		sc.Logger.Info("cleanup disabled, preserving work directory",
			"work_dir", sc.Dirs.WorkDir(sc.BookHash))
		return sc.Complete(manifest.StageCleanup, "")
	}

	workDir := sc.Dirs.WorkDir(sc.BookHash)
	if !insideWorkRoot(sc.Cfg.WorkDir, workDir) {
		return Permanent("refusing to remove %s: outside work root %s", workDir, sc.Cfg.WorkDir)
	}

	if err := sc.Run.Mutate("remove "+workDir, func() error {
		return os.RemoveAll(workDir)
	}); err != nil {
		return Transient("failed to remove work directory: %v", err)
	}

	sc.Logger.Info("work directory removed", "work_dir", workDir)
	return sc.Complete(manifest.StageCleanup, "")
}

func insideWorkRoot(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}
