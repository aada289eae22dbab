package stages

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bindery/bindery/internal/catalog"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/manifest"
	"github.com/bindery/bindery/internal/media"
	"github.com/bindery/bindery/internal/tagger"
)

// coverDownloadTimeout bounds the cover art fetch.
const coverDownloadTimeout = 60 * time.Second

// jpegMagic is the JPEG SOI marker every valid download must start with.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// Metadata enriches the work-directory M4B: catalog fetch with fallback,
// chapter gate, cover download, tagging, companion files. Enrichment is
// non-fatal throughout; the stage completes with whatever it could gather.
type Metadata struct{}

func (s *Metadata) Name() string { return manifest.StageMetadata }

func (s *Metadata) Run(ctx context.Context, sc *Context) error {
	m, err := sc.Manifest()
	if err != nil {
		return err
	}

	bookASIN := m.Meta(MetaASIN)
	if bookASIN == "" {
		sc.Logger.Warn("no asin in manifest, skipping metadata enrichment")
		return sc.Complete(manifest.StageMetadata, "")
	}

	book := s.fetchBook(ctx, sc, bookASIN)
	if book == nil {
		sc.Logger.Warn("metadata unavailable from all sources", "asin", bookASIN)
		return sc.Complete(manifest.StageMetadata, "")
	}
	book.ReleaseDate = catalog.NormalizeReleaseDate(book.ReleaseDate)

	outputPath := sc.Dirs.WorkOutput(sc.BookHash)
	chaptersPath := s.applyChapterGate(ctx, sc, book, bookASIN, outputPath)
	coverPath := s.downloadCover(ctx, sc, book.Image)

	if sc.Tagger.Available() {
		err := sc.Tagger.Tag(ctx, tagger.Request{
			Path:         outputPath,
			Book:         book,
			CoverPath:    coverPath,
			ChaptersPath: chaptersPath,
		})
		if err != nil {
			sc.Logger.Warn("tagging failed", "error", err)
		} else if !sc.Run.DryRun {
			wantChapters := 0
			if chaptersPath != "" && book.Chapters != nil {
				wantChapters = len(book.Chapters.Chapters)
			}
			for _, problem := range sc.Tagger.Verify(ctx, outputPath, book.Title, wantChapters) {
				sc.Logger.Warn("tag verification mismatch", "problem", problem)
			}
		}
	} else {
		sc.Logger.Warn("tone not found in PATH, skipping tagging")
	}

	s.writeCompanions(sc, book)
	s.recordMeta(sc, book)

	sc.Logger.Info("metadata enrichment complete",
		"asin", bookASIN, "source", book.Source, "title", book.Title)
	return sc.Complete(manifest.StageMetadata, "")
}

// fetchBook consults the preferred source first, then the other. Both
// failing returns nil.
func (s *Metadata) fetchBook(ctx context.Context, sc *Context, bookASIN string) *catalog.Book {
	first, second := sc.Primary, sc.Fallback
	if sc.Cfg.MetadataSource == catalog.SourceFallback {
		first, second = second, first
	}

	for _, client := range []MetadataClient{first, second} {
		if client == nil {
			continue
		}
		book, err := client.GetBook(ctx, bookASIN, sc.ForceRefresh)
		if err != nil {
			sc.Logger.Warn("metadata fetch failed", "asin", bookASIN, "error", err)
			continue
		}
		if book != nil && book.Title != "" {
			return book
		}
	}
	return nil
}

// applyChapterGate decides whether the catalog chapters replace the
// file-boundary chapters already embedded by the encoder. Catalog chapters
// are only trusted when their total runtime agrees with the probed duration
// within the configured tolerance. Returns the tagger chapter file path, or
// "" to keep the embedded chapters.
func (s *Metadata) applyChapterGate(ctx context.Context, sc *Context, book *catalog.Book, bookASIN, outputPath string) string {
	info := book.Chapters
	if info == nil {
		var err error
		info, err = s.fetchChapters(ctx, sc, bookASIN)
		if err != nil || info == nil {
			sc.Logger.Debug("no catalog chapters available", "asin", bookASIN)
			return ""
		}
		book.Chapters = info
	}
	if len(info.Chapters) == 0 || info.RuntimeLengthMs <= 0 {
		return ""
	}

	probed, err := sc.Prober.Probe(ctx, outputPath)
	if err != nil {
		sc.Logger.Warn("cannot probe output for chapter gate", "error", err)
		return ""
	}

	if !media.WithinTolerance(probed.DurationMs(), info.RuntimeLengthMs, sc.Cfg.ChapterTolerance()) {
		sc.Logger.Warn("catalog chapters rejected by duration gate",
			"probed_ms", probed.DurationMs(),
			"catalog_ms", info.RuntimeLengthMs,
			"tolerance", sc.Cfg.ChapterTolerance())
		return ""
	}

	chapters := make([]media.Chapter, 0, len(info.Chapters))
	for _, ch := range info.Chapters {
		chapters = append(chapters, media.Chapter{
			Title:   ch.Title,
			StartMs: ch.StartOffsetMs,
			EndMs:   ch.StartOffsetMs + ch.LengthMs,
		})
	}
	if err := media.ValidateChapters(chapters); err != nil {
		sc.Logger.Warn("catalog chapters rejected", "error", err)
		return ""
	}

	path := sc.Dirs.WorkFile(sc.BookHash, layout.TaggerChaptersName)
	err = sc.Run.Mutate("write "+path, func() error {
		return os.WriteFile(path, []byte(media.FormatTaggerChapters(chapters)), 0o644)
	})
	if err != nil {
		sc.Logger.Warn("failed to write chapter file", "error", err)
		return ""
	}
	sc.Logger.Info("catalog chapters accepted", "count", len(chapters))
	return path
}

func (s *Metadata) fetchChapters(ctx context.Context, sc *Context, bookASIN string) (*catalog.ChapterInfo, error) {
	first, second := sc.Primary, sc.Fallback
	if sc.Cfg.MetadataSource == catalog.SourceFallback {
		first, second = second, first
	}
	for _, client := range []MetadataClient{first, second} {
		if client == nil {
			continue
		}
		info, err := client.GetChapters(ctx, bookASIN, sc.ForceRefresh)
		if err == nil && info != nil {
			return info, nil
		}
	}
	return nil, nil
}

// downloadCover fetches the cover URL and verifies the JPEG magic bytes.
// Any failure discards the cover with a warning.
func (s *Metadata) downloadCover(ctx context.Context, sc *Context, url string) string {
	if url == "" {
		return ""
	}
	path := sc.Dirs.WorkFile(sc.BookHash, layout.CoverName)
	if sc.Run.DryRun {
		sc.Logger.Info("dry-run: skipping cover download", "url", url)
		return ""
	}

	reqCtx, cancel := context.WithTimeout(ctx, coverDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		sc.Logger.Warn("invalid cover url", "url", url, "error", err)
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		sc.Logger.Warn("cover download failed", "url", url, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		sc.Logger.Warn("cover download failed", "url", url, "status", resp.StatusCode)
		return ""
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.Logger.Warn("cover download failed", "url", url, "error", err)
		return ""
	}
	if !bytes.HasPrefix(data, jpegMagic) {
		sc.Logger.Warn("cover is not a valid JPEG, discarding", "url", url)
		return ""
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		sc.Logger.Warn("failed to write cover", "error", err)
		return ""
	}
	sc.Logger.Info("cover downloaded", "bytes", len(data))
	return path
}

// writeCompanions emits desc.txt and reader.txt beside the output.
func (s *Metadata) writeCompanions(sc *Context, book *catalog.Book) {
	if desc := tagger.StripHTML(book.Description); desc != "" {
		path := sc.Dirs.WorkFile(sc.BookHash, layout.DescName)
		if err := sc.Run.Mutate("write "+path, func() error {
			return os.WriteFile(path, []byte(desc+"\n"), 0o644)
		}); err != nil {
			sc.Logger.Warn("failed to write description", "error", err)
		}
	}
	if len(book.Narrators) > 0 {
		path := sc.Dirs.WorkFile(sc.BookHash, layout.ReaderName)
		if err := sc.Run.Mutate("write "+path, func() error {
			return os.WriteFile(path, []byte(book.Narrators[0].Name+"\n"), 0o644)
		}); err != nil {
			sc.Logger.Warn("failed to write reader file", "error", err)
		}
	}
}

// recordMeta persists the fields organize needs for path building.
func (s *Metadata) recordMeta(sc *Context, book *catalog.Book) {
	_, err := sc.Store.Update(sc.BookHash, func(m *manifest.Manifest) {
		m.SetMeta(MetaTitle, book.Title)
		if len(book.Authors) > 0 {
			m.SetMeta(MetaAuthor, book.Authors[0].Name)
		}
		if book.SeriesPrimary != nil {
			m.SetMeta(MetaSeries, book.SeriesPrimary.Name)
			m.SetMeta(MetaSeriesPos, book.SeriesPrimary.Position)
		}
		if year := catalog.Year(book.ReleaseDate); year != "" {
			m.SetMeta(MetaYear, year)
		}
		if len(book.Genres) > 0 {
			m.SetMeta(MetaGenre, book.Genres[0].Name)
		}
		if len(book.Narrators) > 0 {
			m.SetMeta(MetaNarrator, book.Narrators[0].Name)
		}
		m.SetMeta(MetaSource, book.Source)
	})
	if err != nil {
		sc.Logger.Warn("failed to record metadata", "error", err)
	}
}
