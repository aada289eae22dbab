package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAudnexusBaseURL is the public Audnexus aggregator.
const DefaultAudnexusBaseURL = "https://api.audnex.us"

// Audnexus is the fallback aggregator client: two endpoints per ASIN (book
// and chapters), region-parameterized.
type Audnexus struct {
	BaseURL string
	Region  string
	Cache   *Cache
	Logger  *slog.Logger

	HTTP *http.Client
}

// NewAudnexus creates a fallback client.
func NewAudnexus(baseURL, region string, cache *Cache, logger *slog.Logger) *Audnexus {
	if baseURL == "" {
		baseURL = DefaultAudnexusBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Audnexus{
		BaseURL: baseURL,
		Region:  region,
		Cache:   cache,
		Logger:  logger,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Upstream payload shapes (subset of the Audnexus response).
type audnexusBook struct {
	ASIN      string `json:"asin"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	Authors   []struct {
		ASIN string `json:"asin"`
		Name string `json:"name"`
	} `json:"authors"`
	Narrators []struct {
		Name string `json:"name"`
	} `json:"narrators"`
	SeriesPrimary *struct {
		Name     string `json:"name"`
		Position string `json:"position"`
	} `json:"seriesPrimary"`
	Genres []struct {
		ASIN string `json:"asin"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"genres"`
	Description      string  `json:"description"`
	Summary          string  `json:"summary"`
	ReleaseDate      string  `json:"releaseDate"`
	Image            string  `json:"image"`
	ISBN             string  `json:"isbn"`
	Language         string  `json:"language"`
	PublisherName    string  `json:"publisherName"`
	Rating           string  `json:"rating"`
	RuntimeLengthMin int     `json:"runtimeLengthMin"`
}

type audnexusChapters struct {
	ASIN                 string `json:"asin"`
	BrandIntroDurationMs int64  `json:"brandIntroDurationMs"`
	BrandOutroDurationMs int64  `json:"brandOutroDurationMs"`
	IsAccurate           bool   `json:"isAccurate"`
	RuntimeLengthMs      int64  `json:"runtimeLengthMs"`
	Chapters             []struct {
		LengthMs      int64  `json:"lengthMs"`
		StartOffsetMs int64  `json:"startOffsetMs"`
		Title         string `json:"title"`
	} `json:"chapters"`
}

// GetBook fetches and normalizes book metadata for an ASIN, serving from
// cache within TTL unless forceRefresh is set.
func (a *Audnexus) GetBook(ctx context.Context, asin string, forceRefresh bool) (*Book, error) {
	if !forceRefresh && a.Cache != nil {
		if data, ok := a.Cache.Get("audnexus", "book", asin); ok {
			var book Book
			if err := json.Unmarshal(data, &book); err == nil {
				a.Logger.Debug("audnexus book served from cache", "asin", asin)
				return &book, nil
			}
		}
	}

	var upstream audnexusBook
	if err := a.get(ctx, "/books/"+asin, asin, &upstream); err != nil {
		return nil, err
	}

	book := a.normalize(&upstream)
	a.store("book", asin, book, ValidateBookShape)
	return book, nil
}

// GetChapters fetches and normalizes the chapter listing for an ASIN.
func (a *Audnexus) GetChapters(ctx context.Context, asin string, forceRefresh bool) (*ChapterInfo, error) {
	if !forceRefresh && a.Cache != nil {
		if data, ok := a.Cache.Get("audnexus", "chapters", asin); ok {
			var info ChapterInfo
			if err := json.Unmarshal(data, &info); err == nil {
				a.Logger.Debug("audnexus chapters served from cache", "asin", asin)
				return &info, nil
			}
		}
	}

	var upstream audnexusChapters
	if err := a.get(ctx, "/books/"+asin+"/chapters", asin, &upstream); err != nil {
		return nil, err
	}

	info := &ChapterInfo{
		IsAccurate:           upstream.IsAccurate,
		RuntimeLengthMs:      upstream.RuntimeLengthMs,
		BrandIntroDurationMs: upstream.BrandIntroDurationMs,
		BrandOutroDurationMs: upstream.BrandOutroDurationMs,
	}
	for _, ch := range upstream.Chapters {
		info.Chapters = append(info.Chapters, ChapterMark{
			LengthMs:      ch.LengthMs,
			StartOffsetMs: ch.StartOffsetMs,
			Title:         ch.Title,
		})
	}

	a.store("chapters", asin, info, ValidateChaptersShape)
	return info, nil
}

// Exists checks whether the aggregator knows an ASIN. A definitive 200
// returns (true, nil); 404/422 returns (false, nil); anything else is an
// error, meaning the aggregator is unreachable rather than authoritative.
func (a *Audnexus) Exists(ctx context.Context, asin string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("/books/"+asin), nil)
	if err != nil {
		return false, err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("aggregator unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return false, nil
	default:
		return false, fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}
}

func (a *Audnexus) endpoint(path string) string {
	u := a.BaseURL + path
	if a.Region != "" {
		u += "?region=" + url.QueryEscape(a.Region)
	}
	return u
}

// get performs the single-shot GET with no in-process retry: the automation
// cycle is the retry loop.
func (a *Audnexus) get(ctx context.Context, path, asin string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(path), nil)
	if err != nil {
		return err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("audnexus request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		io.Copy(io.Discard, resp.Body)
		return &NotFoundError{ASIN: asin, Source: SourceFallback, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audnexus returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode audnexus response: %w", err)
	}
	return nil
}

// normalize maps the upstream book into the shared schema.
func (a *Audnexus) normalize(u *audnexusBook) *Book {
	book := &Book{
		ASIN:        u.ASIN,
		Title:       u.Title,
		Subtitle:    u.Subtitle,
		Description: u.Description,
		Summary:     u.Summary,
		ReleaseDate: NormalizeReleaseDate(u.ReleaseDate),
		Image:       u.Image,
		ISBN:        u.ISBN,
		Language:    u.Language,
		Publisher:   u.PublisherName,
		RuntimeMin:  u.RuntimeLengthMin,
		Source:      SourceFallback,
	}
	fmt.Sscanf(u.Rating, "%f", &book.Rating)

	for _, author := range u.Authors {
		book.Authors = append(book.Authors, Person{Name: author.Name, ID: author.ASIN})
	}
	for _, n := range u.Narrators {
		book.Narrators = append(book.Narrators, Person{Name: n.Name})
	}
	if u.SeriesPrimary != nil && u.SeriesPrimary.Name != "" {
		book.SeriesPrimary = &Series{
			Name:     u.SeriesPrimary.Name,
			Position: u.SeriesPrimary.Position,
		}
	}
	for _, g := range u.Genres {
		if g.Type != "genre" {
			continue
		}
		// Some aggregator entries carry only a numeric category ID where
		// the name should be; those are useless for library paths.
		if g.Name == "" || isNumeric(g.Name) {
			continue
		}
		book.Genres = append(book.Genres, Genre{Name: g.Name})
	}
	return book
}

// store validates and caches a normalized payload; failures are warnings.
func (a *Audnexus) store(kind, asin string, payload any, validate func([]byte) error) {
	if a.Cache == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := validate(data); err != nil {
		a.Logger.Warn("audnexus payload failed shape validation, not caching",
			"asin", asin, "kind", kind, "error", err)
		return
	}
	if err := a.Cache.Put("audnexus", kind, asin, data); err != nil {
		a.Logger.Warn("failed to write metadata cache", "asin", asin, "error", err)
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}
