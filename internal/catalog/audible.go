package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// regionTLDs maps a marketplace region to the Audible API host TLD.
var regionTLDs = map[string]string{
	"us": "com",
	"ca": "ca",
	"uk": "co.uk",
	"au": "com.au",
	"fr": "fr",
	"de": "de",
	"jp": "co.jp",
	"it": "it",
	"in": "in",
	"es": "es",
}

// Audible is the primary catalog client. One GET per ASIN returns the full
// product record including chapter info, so book and chapter payloads come
// from the same response.
type Audible struct {
	Region string
	Cache  *Cache
	Logger *slog.Logger

	// BaseURL overrides the region-derived host when set (tests).
	BaseURL string
	HTTP    *http.Client
}

// NewAudible creates a primary client for the given marketplace region.
// Unknown regions fall back to the US marketplace.
func NewAudible(region string, cache *Cache, logger *slog.Logger) *Audible {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audible{
		Region: region,
		Cache:  cache,
		Logger: logger,
		HTTP:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *Audible) baseURL() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	tld, ok := regionTLDs[a.Region]
	if !ok {
		tld = regionTLDs["us"]
	}
	return "https://api.audible." + tld
}

// Upstream product payload (subset).
type audibleProduct struct {
	Product struct {
		ASIN    string `json:"asin"`
		Title   string `json:"title"`
		Subtitle string `json:"subtitle"`
		Authors []struct {
			ASIN string `json:"asin"`
			Name string `json:"name"`
		} `json:"authors"`
		Narrators []struct {
			Name string `json:"name"`
		} `json:"narrators"`
		Series []struct {
			ASIN     string `json:"asin"`
			Title    string `json:"title"`
			Sequence string `json:"sequence"`
		} `json:"series"`
		CategoryLadders []struct {
			Ladder []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"ladder"`
			Root string `json:"root"`
		} `json:"category_ladders"`
		PublisherSummary string `json:"publisher_summary"`
		MerchandisingSummary string `json:"merchandising_summary"`
		ReleaseDate      string `json:"release_date"`
		IssueDate        string `json:"issue_date"`
		PublisherName    string `json:"publisher_name"`
		Language         string `json:"language"`
		ISBN             string `json:"isbn"`
		RuntimeLengthMin int    `json:"runtime_length_min"`
		ProductImages    map[string]string `json:"product_images"`
		Rating           struct {
			OverallDistribution struct {
				AverageRating float64 `json:"average_rating"`
			} `json:"overall_distribution"`
		} `json:"rating"`
		ChapterInfo *struct {
			BrandIntroDurationMs int64 `json:"brandIntroDurationMs"`
			BrandOutroDurationMs int64 `json:"brandOutroDurationMs"`
			IsAccurate           bool  `json:"is_accurate"`
			RuntimeLengthMs      int64 `json:"runtime_length_ms"`
			Chapters             []struct {
				LengthMs      int64  `json:"length_ms"`
				StartOffsetMs int64  `json:"start_offset_ms"`
				Title         string `json:"title"`
			} `json:"chapters"`
		} `json:"chapter_info"`
	} `json:"product"`
}

type audibleSearch struct {
	Products []struct {
		ASIN    string `json:"asin"`
		Title   string `json:"title"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"products"`
	TotalResults int `json:"total_results"`
}

// SearchResult is one candidate from a title/author search.
type SearchResult struct {
	ASIN    string
	Title   string
	Authors []string
}

// responseGroups requested on every product GET. chapter_info rides along so
// chapters never need a second request.
const responseGroups = "product_desc,product_extended_attrs,product_attrs,media,rating,series,contributors,category_ladders,chapter_info"

// GetBook fetches and normalizes book metadata for an ASIN. The chapter info
// from the same response is embedded in Book.Chapters and cached separately
// so GetChapters can serve it without a round trip.
func (a *Audible) GetBook(ctx context.Context, asin string, forceRefresh bool) (*Book, error) {
	if !forceRefresh && a.Cache != nil {
		if data, ok := a.Cache.Get("audible", "book", asin); ok {
			var book Book
			if err := json.Unmarshal(data, &book); err == nil {
				a.Logger.Debug("audible book served from cache", "asin", asin)
				return &book, nil
			}
		}
	}

	upstream, err := a.fetchProduct(ctx, asin)
	if err != nil {
		return nil, err
	}

	book := a.normalize(upstream)
	a.storeBook(asin, book)
	return book, nil
}

// GetChapters returns the catalog chapter listing for an ASIN. It reuses a
// cached product fetch when one exists.
func (a *Audible) GetChapters(ctx context.Context, asin string, forceRefresh bool) (*ChapterInfo, error) {
	if !forceRefresh && a.Cache != nil {
		if data, ok := a.Cache.Get("audible", "chapters", asin); ok {
			var info ChapterInfo
			if err := json.Unmarshal(data, &info); err == nil {
				a.Logger.Debug("audible chapters served from cache", "asin", asin)
				return &info, nil
			}
		}
	}

	book, err := a.GetBook(ctx, asin, forceRefresh)
	if err != nil {
		return nil, err
	}
	if book.Chapters == nil {
		return nil, &NotFoundError{ASIN: asin, Source: SourcePrimary, Status: http.StatusNotFound}
	}
	return book.Chapters, nil
}

// Search queries the catalog by title and optional author, returning ranked
// candidates as Audible orders them.
func (a *Audible) Search(ctx context.Context, title, author string) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("title", title)
	if author != "" {
		q.Set("author", author)
	}
	q.Set("num_results", "10")
	q.Set("products_sort_by", "Relevance")
	q.Set("response_groups", "contributors")

	endpoint := a.baseURL() + "/1.0/catalog/products?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audible search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("audible search returned status %d", resp.StatusCode)
	}

	var payload audibleSearch
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(payload.Products))
	for _, p := range payload.Products {
		r := SearchResult{ASIN: p.ASIN, Title: p.Title}
		for _, au := range p.Authors {
			r.Authors = append(r.Authors, au.Name)
		}
		results = append(results, r)
	}
	return results, nil
}

func (a *Audible) fetchProduct(ctx context.Context, asin string) (*audibleProduct, error) {
	q := url.Values{}
	q.Set("response_groups", responseGroups)
	q.Set("image_sizes", "500,1024,2400")

	endpoint := a.baseURL() + "/1.0/catalog/products/" + asin + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audible request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, &NotFoundError{ASIN: asin, Source: SourcePrimary, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audible returned status %d", resp.StatusCode)
	}

	var payload audibleProduct
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode audible response: %w", err)
	}
	if payload.Product.ASIN == "" {
		// Audible answers 200 with an empty product for unknown ASINs.
		return nil, &NotFoundError{ASIN: asin, Source: SourcePrimary, Status: http.StatusNotFound}
	}
	return &payload, nil
}

// normalize maps the upstream product into the shared schema.
func (a *Audible) normalize(u *audibleProduct) *Book {
	p := &u.Product

	desc := p.PublisherSummary
	if desc == "" {
		desc = p.MerchandisingSummary
	}
	release := p.ReleaseDate
	if release == "" {
		release = p.IssueDate
	}

	book := &Book{
		ASIN:        p.ASIN,
		Title:       p.Title,
		Subtitle:    p.Subtitle,
		Description: desc,
		Summary:     p.MerchandisingSummary,
		ReleaseDate: NormalizeReleaseDate(release),
		Publisher:   p.PublisherName,
		Language:    p.Language,
		ISBN:        p.ISBN,
		Rating:      p.Rating.OverallDistribution.AverageRating,
		RuntimeMin:  p.RuntimeLengthMin,
		Source:      SourcePrimary,
	}

	// Largest available cover wins.
	for _, size := range []string{"2400", "1024", "500"} {
		if img := p.ProductImages[size]; img != "" {
			book.Image = img
			break
		}
	}

	for _, author := range p.Authors {
		book.Authors = append(book.Authors, Person{Name: author.Name, ID: author.ASIN})
	}
	for _, n := range p.Narrators {
		book.Narrators = append(book.Narrators, Person{Name: n.Name})
	}
	if len(p.Series) > 0 {
		book.SeriesPrimary = &Series{
			Name:     p.Series[0].Title,
			Position: p.Series[0].Sequence,
		}
	}

	// First ladder under the Genres root gives both the flat genre list and
	// the path used for library layout.
	for _, cl := range p.CategoryLadders {
		if cl.Root != "Genres" {
			continue
		}
		var path []string
		for _, step := range cl.Ladder {
			if step.Name == "" {
				continue
			}
			book.Genres = append(book.Genres, Genre{Name: step.Name})
			path = append(path, step.Name)
		}
		if len(path) > 0 && book.GenrePath == "" {
			book.GenrePath = joinGenrePath(path)
		}
		break
	}

	if p.ChapterInfo != nil {
		info := &ChapterInfo{
			IsAccurate:           p.ChapterInfo.IsAccurate,
			RuntimeLengthMs:      p.ChapterInfo.RuntimeLengthMs,
			BrandIntroDurationMs: p.ChapterInfo.BrandIntroDurationMs,
			BrandOutroDurationMs: p.ChapterInfo.BrandOutroDurationMs,
		}
		for _, ch := range p.ChapterInfo.Chapters {
			info.Chapters = append(info.Chapters, ChapterMark{
				LengthMs:      ch.LengthMs,
				StartOffsetMs: ch.StartOffsetMs,
				Title:         ch.Title,
			})
		}
		book.Chapters = info
	}
	return book
}

func joinGenrePath(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "/" + p
	}
	return out
}

func (a *Audible) storeBook(asin string, book *Book) {
	if a.Cache == nil {
		return
	}
	data, err := json.Marshal(book)
	if err != nil {
		return
	}
	if err := ValidateBookShape(data); err != nil {
		a.Logger.Warn("audible payload failed shape validation, not caching",
			"asin", asin, "error", err)
		return
	}
	if err := a.Cache.Put("audible", "book", asin, data); err != nil {
		a.Logger.Warn("failed to write metadata cache", "asin", asin, "error", err)
	}
	if book.Chapters != nil {
		if chData, err := json.Marshal(book.Chapters); err == nil {
			if err := ValidateChaptersShape(chData); err == nil {
				a.Cache.Put("audible", "chapters", asin, chData)
			}
		}
	}
}
