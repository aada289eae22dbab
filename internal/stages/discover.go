package stages

import (
	"context"

	"github.com/bindery/bindery/internal/manifest"
)

// Manifest metadata keys written by the asin and metadata stages.
const (
	MetaASIN       = "asin"
	MetaASINSource = "asin_source"
	MetaTitle      = "title"
	MetaAuthor     = "author"
	MetaSeries     = "series"
	MetaSeriesPos  = "series_position"
	MetaYear       = "year"
	MetaGenre      = "genre"
	MetaNarrator   = "narrator"
	MetaSource     = "metadata_source"
	MetaFinalPath  = "final_path"
)

// Discover runs the ASIN priority chain and records the result. Finding
// nothing is not a failure: downstream stages fall back to filename-derived
// data.
type Discover struct{}

func (d *Discover) Name() string { return manifest.StageASIN }

func (d *Discover) Run(ctx context.Context, sc *Context) error {
	result, err := sc.Discoverer.Discover(ctx, sc.SourcePath, sc.ASINOverride)
	if err != nil {
		return err
	}
	if result == nil {
		sc.Logger.Warn("no asin discovered, metadata enrichment will be skipped")
		return sc.Complete(manifest.StageASIN, "")
	}

	sc.Logger.Info("asin discovered",
		"asin", result.ASIN, "source", result.Source, "validated", result.Validated)
	if _, err := sc.Store.Update(sc.BookHash, func(m *manifest.Manifest) {
		m.SetMeta(MetaASIN, result.ASIN)
		m.SetMeta(MetaASINSource, result.Source)
	}); err != nil {
		return err
	}
	return sc.Complete(manifest.StageASIN, "")
}
