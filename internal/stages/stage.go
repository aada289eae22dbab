// Package stages implements the pipeline stages in canonical order:
// validate, concat, convert, asin, metadata, organize, archive, cleanup.
// Each stage is idempotent and resumable: it reads its inputs from the work
// directory and manifest, performs its work, and records completion through
// the manifest store.
package stages

import (
	"context"
	"log/slog"

	"github.com/bindery/bindery/internal/asin"
	"github.com/bindery/bindery/internal/catalog"
	"github.com/bindery/bindery/internal/config"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/manifest"
	"github.com/bindery/bindery/internal/media"
	"github.com/bindery/bindery/internal/runner"
	"github.com/bindery/bindery/internal/tagger"
)

// MetadataClient is the normalized catalog surface both clients provide.
type MetadataClient interface {
	GetBook(ctx context.Context, asin string, forceRefresh bool) (*catalog.Book, error)
	GetChapters(ctx context.Context, asin string, forceRefresh bool) (*catalog.ChapterInfo, error)
}

// Prober reads media info for duration gating and output verification.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.Info, error)
}

// Context carries everything a stage needs for one book.
type Context struct {
	Cfg   *config.Config
	Dirs  *layout.Dir
	Store *manifest.Store

	BookHash   string
	SourcePath string

	Run     *runner.Runner
	Prober  Prober
	Encoder *media.Encoder
	Tagger  *tagger.Tagger

	// Primary and Fallback are the two metadata sources; cfg.MetadataSource
	// decides which is consulted first.
	Primary  MetadataClient
	Fallback MetadataClient

	Discoverer   *asin.Discoverer
	ASINOverride string
	ForceRefresh bool

	Logger *slog.Logger
}

// Manifest reloads the current manifest state.
func (c *Context) Manifest() (*manifest.Manifest, error) {
	m, err := c.Store.Read(c.BookHash)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, manifest.ErrManifestMissing
	}
	return m, nil
}

// Complete records stage completion.
func (c *Context) Complete(stage, outputPath string) error {
	_, err := c.Store.SetStage(c.BookHash, stage, manifest.StatusCompleted, outputPath)
	return err
}

// SetMeta persists one cross-stage metadata value.
func (c *Context) SetMeta(key, value string) error {
	_, err := c.Store.Update(c.BookHash, func(m *manifest.Manifest) {
		m.SetMeta(key, value)
	})
	return err
}

// Stage is one unit of pipeline work.
type Stage interface {
	Name() string
	Run(ctx context.Context, sc *Context) error
}

// All returns the stages in canonical execution order.
func All() []Stage {
	return []Stage{
		&Validate{},
		&Concat{},
		&Convert{},
		&Discover{},
		&Metadata{},
		&Organize{},
		&Archive{},
		&Cleanup{},
	}
}
