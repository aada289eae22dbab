// Package watch monitors a drop directory and hands settled entries to the
// pipeline. New books arrive as multi-file copies, so an entry is only
// dispatched after its events go quiet for the settle window.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long an entry must be quiet before dispatch. Large
// books copy for minutes; every write resets the timer, so the window only
// needs to cover the gap between files.
const DefaultSettle = 30 * time.Second

// Handler processes one settled drop-directory entry.
type Handler func(ctx context.Context, path string)

// Watcher debounces filesystem events per top-level entry of the drop dir.
type Watcher struct {
	dir     string
	settle  time.Duration
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher over dir.
func New(dir string, settle time.Duration, handler Handler, logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:     dir,
		settle:  settle,
		handler: handler,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
	}
}

// Run watches until the context is canceled. Events anywhere under an entry
// reset that entry's settle timer; the handler fires once per quiet entry.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching drop directory", "dir", w.dir, "settle", w.settle.String())

	for {
		select {
		case <-ctx.Done():
			w.cancelAll()
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			entry := w.topLevelEntry(event.Name)
			if entry == "" || strings.HasPrefix(filepath.Base(entry), ".") {
				continue
			}
			// New directories need their own watch so inner writes keep
			// resetting the timer.
			if event.Op&fsnotify.Create != 0 {
				fw.Add(event.Name)
			}
			w.reset(ctx, entry)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// topLevelEntry maps an event path to the drop-dir entry it belongs to.
func (w *Watcher) topLevelEntry(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.SplitN(rel, string(filepath.Separator), 2)
	return filepath.Join(w.dir, parts[0])
}

// reset arms or re-arms the settle timer for one entry.
func (w *Watcher) reset(ctx context.Context, entry string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[entry]; ok {
		t.Reset(w.settle)
		return
	}
	w.logger.Debug("entry activity, arming settle timer", "entry", entry)
	w.timers[entry] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, entry)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.logger.Info("entry settled, dispatching", "entry", entry)
		w.handler(ctx, entry)
	})
}

func (w *Watcher) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for entry, t := range w.timers {
		t.Stop()
		delete(w.timers, entry)
	}
}
