// Package asin discovers a validated catalog identifier for a book through
// a short-circuiting priority chain: CLI override, marker file, folder-name
// patterns, external library stub, then title/author search.
package asin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Source labels where a discovered identifier came from, recorded in the
// manifest as asin_source.
const (
	SourceOverride    = "override"
	SourceMarkerFile  = "marker_file"
	SourceFolderName  = "folder_name"
	SourceLibrary     = "library"
	SourceSearch      = "search"
	SourceUnvalidated = "unvalidated"
)

// formatRe is the shape every candidate must satisfy before validation.
var formatRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)

var (
	bracketRe = regexp.MustCompile(`\[(B0[A-Z0-9]{8})\]`)
	parenRe   = regexp.MustCompile(`\((B0[A-Z0-9]{8})\)`)
	prefixRe  = regexp.MustCompile(`^(B0[A-Z0-9]{8})\s*-`)
)

// ValidFormat reports whether s is a well-formed 10-character identifier.
func ValidFormat(s string) bool {
	return formatRe.MatchString(s)
}

// Validator checks whether the aggregator knows an identifier. A (false, err)
// answer means the aggregator was unreachable, not that the ASIN is bad.
type Validator interface {
	Exists(ctx context.Context, asin string) (bool, error)
}

// Searcher finds catalog candidates by title and author.
type Searcher interface {
	Search(ctx context.Context, title, author string) ([]SearchCandidate, error)
}

// SearchCandidate is one result from a catalog search.
type SearchCandidate struct {
	ASIN    string
	Title   string
	Authors []string
}

// LibraryLookup asks an external library server for an identifier it already
// knows. Stubbed until a server integration lands.
type LibraryLookup interface {
	FindASIN(ctx context.Context, title, author string) (string, error)
}

// Result is the outcome of discovery.
type Result struct {
	ASIN      string
	Source    string
	Validated bool
}

// Discoverer runs the priority chain.
type Discoverer struct {
	Validator Validator
	Searcher  Searcher
	Library   LibraryLookup
	Logger    *slog.Logger

	// MatchThreshold is the minimum fuzzy score (0..1) a search candidate
	// needs to be accepted. Defaults to 0.55.
	MatchThreshold float64
}

// NewDiscoverer wires a discovery chain.
func NewDiscoverer(validator Validator, searcher Searcher, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		Validator:      validator,
		Searcher:       searcher,
		Logger:         logger,
		MatchThreshold: 0.55,
	}
}

// Discover walks the chain for sourcePath, preferring override when given.
// A nil result with nil error means nothing was found; callers skip metadata
// gracefully.
func (d *Discoverer) Discover(ctx context.Context, sourcePath, override string) (*Result, error) {
	var unreachable bool
	var firstFormatValid *Result

	try := func(candidate, source string) *Result {
		candidate = strings.ToUpper(strings.TrimSpace(candidate))
		if !ValidFormat(candidate) {
			if candidate != "" {
				d.Logger.Debug("rejecting malformed asin candidate", "candidate", candidate, "source", source)
			}
			return nil
		}
		if firstFormatValid == nil {
			firstFormatValid = &Result{ASIN: candidate, Source: source}
		}
		ok, err := d.validate(ctx, candidate)
		if err != nil {
			unreachable = true
			d.Logger.Warn("asin validation unavailable", "candidate", candidate, "error", err)
			return nil
		}
		if !ok {
			d.Logger.Debug("asin candidate rejected by aggregator", "candidate", candidate, "source", source)
			return nil
		}
		return &Result{ASIN: candidate, Source: source, Validated: true}
	}

	if override != "" {
		if r := try(override, SourceOverride); r != nil {
			return r, nil
		}
		// An unreachable aggregator never blocks an explicit override.
		if unreachable && firstFormatValid != nil {
			firstFormatValid.Source = SourceOverride
			d.Logger.Warn("accepting unvalidated asin override", "asin", firstFormatValid.ASIN)
			return firstFormatValid, nil
		}
	}

	if marker := readMarkerFile(sourcePath); marker != "" {
		if r := try(marker, SourceMarkerFile); r != nil {
			return r, nil
		}
	}

	for _, candidate := range folderCandidates(sourcePath) {
		if r := try(candidate, SourceFolderName); r != nil {
			return r, nil
		}
	}

	title, author := QueryFromPath(sourcePath)

	if d.Library != nil {
		found, err := d.Library.FindASIN(ctx, title, author)
		if err != nil {
			d.Logger.Debug("library lookup failed", "error", err)
		} else if found != "" {
			if r := try(found, SourceLibrary); r != nil {
				return r, nil
			}
		}
	}

	if d.Searcher != nil && title != "" {
		if r := d.searchChain(ctx, title, author, try); r != nil {
			return r, nil
		}
	}

	if unreachable && firstFormatValid != nil {
		d.Logger.Warn("aggregator unreachable, accepting format-valid asin without validation",
			"asin", firstFormatValid.ASIN, "source", firstFormatValid.Source)
		firstFormatValid.Source = SourceUnvalidated
		return firstFormatValid, nil
	}

	d.Logger.Info("no asin discovered", "source_path", sourcePath)
	return nil, nil
}

func (d *Discoverer) validate(ctx context.Context, candidate string) (bool, error) {
	if d.Validator == nil {
		return true, nil
	}
	return d.Validator.Exists(ctx, candidate)
}

func (d *Discoverer) searchChain(ctx context.Context, title, author string, try func(string, string) *Result) *Result {
	candidates, err := d.Searcher.Search(ctx, title, author)
	if err != nil {
		d.Logger.Warn("catalog search failed", "title", title, "error", err)
		return nil
	}

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := scoreCandidate(title, author, c)
		d.Logger.Debug("search candidate scored",
			"asin", c.ASIN, "title", c.Title, "score", score)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 || bestScore < d.MatchThreshold {
		return nil
	}
	return try(candidates[best].ASIN, SourceSearch)
}

// readMarkerFile looks for a .asin file beside the source. For a single-file
// source the parent directory is searched.
func readMarkerFile(sourcePath string) string {
	dir := sourcePath
	if info, err := os.Stat(sourcePath); err != nil || !info.IsDir() {
		dir = filepath.Dir(sourcePath)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".asin"))
	if err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(string(data)))
}

// folderCandidates extracts identifier patterns from the leaf directory or
// file name, bracket form first.
func folderCandidates(sourcePath string) []string {
	name := filepath.Base(sourcePath)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	var out []string
	for _, re := range []*regexp.Regexp{bracketRe, parenRe, prefixRe} {
		if m := re.FindStringSubmatch(name); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}
