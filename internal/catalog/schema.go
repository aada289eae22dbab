// Package catalog fetches audiobook metadata from the primary catalog
// (Audible) and the fallback aggregator (Audnexus), normalizing both into
// one schema so downstream stages never care which source answered.
package catalog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Source identifiers recorded in the normalized payload.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// Person is an author or narrator.
type Person struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Series is the primary series membership of a book.
type Series struct {
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
}

// Genre is a single genre name.
type Genre struct {
	Name string `json:"name"`
}

// ChapterMark is one chapter in a catalog chapter listing.
type ChapterMark struct {
	LengthMs      int64  `json:"lengthMs"`
	StartOffsetMs int64  `json:"startOffsetMs"`
	Title         string `json:"title"`
}

// ChapterInfo is the catalog's official chapter data for a book.
type ChapterInfo struct {
	IsAccurate           bool          `json:"isAccurate"`
	RuntimeLengthMs      int64         `json:"runtimeLengthMs"`
	BrandIntroDurationMs int64         `json:"brandIntroDurationMs,omitempty"`
	BrandOutroDurationMs int64         `json:"brandOutroDurationMs,omitempty"`
	Chapters             []ChapterMark `json:"chapters"`
}

// Book is the normalized metadata schema shared by both clients.
type Book struct {
	ASIN          string       `json:"asin"`
	Title         string       `json:"title"`
	Subtitle      string       `json:"subtitle,omitempty"`
	Authors       []Person     `json:"authors"`
	Narrators     []Person     `json:"narrators,omitempty"`
	SeriesPrimary *Series      `json:"seriesPrimary,omitempty"`
	Genres        []Genre      `json:"genres,omitempty"`
	GenrePath     string       `json:"genrePath,omitempty"`
	Description   string       `json:"description,omitempty"`
	Summary       string       `json:"summary,omitempty"`
	ReleaseDate   string       `json:"releaseDate,omitempty"`
	Image         string       `json:"image,omitempty"`
	Copyright     string       `json:"copyright,omitempty"`
	Publisher     string       `json:"publisher,omitempty"`
	ISBN          string       `json:"isbn,omitempty"`
	Language      string       `json:"language,omitempty"`
	Rating        float64      `json:"rating,omitempty"`
	RuntimeMin    int          `json:"runtimeMin,omitempty"`
	Chapters      *ChapterInfo `json:"chapters,omitempty"`
	Source        string       `json:"_source"`
}

// bookSchema is the shape every normalized book must satisfy before it is
// cached or handed downstream.
const bookSchema = `{
  "type": "object",
  "required": ["asin", "title", "authors", "_source"],
  "properties": {
    "asin": {"type": "string", "minLength": 10, "maxLength": 10},
    "title": {"type": "string", "minLength": 1},
    "authors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {"name": {"type": "string"}}
      }
    },
    "_source": {"enum": ["primary", "fallback"]}
  }
}`

// chaptersSchema is the shape chapter payloads must satisfy.
const chaptersSchema = `{
  "type": "object",
  "required": ["runtimeLengthMs", "chapters"],
  "properties": {
    "runtimeLengthMs": {"type": "integer", "minimum": 0},
    "chapters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["lengthMs", "startOffsetMs", "title"],
        "properties": {
          "lengthMs": {"type": "integer", "minimum": 0},
          "startOffsetMs": {"type": "integer", "minimum": 0},
          "title": {"type": "string"}
        }
      }
    }
  }
}`

var (
	compiledBookSchema     = jsonschema.MustCompileString("book.json", bookSchema)
	compiledChaptersSchema = jsonschema.MustCompileString("chapters.json", chaptersSchema)
)

// ValidateBookShape checks a serialized normalized book against the schema.
func ValidateBookShape(data []byte) error {
	return validateShape(compiledBookSchema, data)
}

// ValidateChaptersShape checks a serialized chapter payload against the
// schema.
func ValidateChaptersShape(data []byte) error {
	return validateShape(compiledChaptersSchema, data)
}

func validateShape(schema *jsonschema.Schema, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

var yearOnly = regexp.MustCompile(`^\d{4}$`)
var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// NormalizeReleaseDate reduces upstream release dates to YYYY-MM-DD. A bare
// year becomes YYYY-01-01; unrecognized values pass through unchanged.
func NormalizeReleaseDate(s string) string {
	s = strings.TrimSpace(s)
	if yearOnly.MatchString(s) {
		return s + "-01-01"
	}
	if isoDate.MatchString(s) {
		return s[:10]
	}
	return s
}

// Year returns the 4-digit year from a normalized release date, or "".
func Year(releaseDate string) string {
	if len(releaseDate) >= 4 && yearOnly.MatchString(releaseDate[:4]) {
		return releaseDate[:4]
	}
	return ""
}
