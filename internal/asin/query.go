package asin

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

var (
	hashSuffixRe = regexp.MustCompile(`[-_][0-9a-f]{8,16}$`)
	bookNumRe    = regexp.MustCompile(`(?i)\b(book|vol(ume)?|part)\s*\d+\b`)
	leadingNumRe = regexp.MustCompile(`^\d+\s*[-._]\s*`)
	bracketAnyRe = regexp.MustCompile(`[\[(][^\])]*[\])]`)
)

// QueryFromPath derives a (title, author) search query from the source path.
// The leaf directory name yields the title; the parent yields the author.
// When parent and leaf collapse to the same name, the grandparent is used.
func QueryFromPath(sourcePath string) (title, author string) {
	leaf := filepath.Base(sourcePath)
	leaf = strings.TrimSuffix(leaf, filepath.Ext(leaf))

	parent := filepath.Base(filepath.Dir(sourcePath))
	if parent == leaf {
		parent = filepath.Base(filepath.Dir(filepath.Dir(sourcePath)))
	}
	if parent == "." || parent == string(filepath.Separator) || parent == "/" {
		parent = ""
	}

	return cleanQueryToken(leaf), cleanQueryToken(parent)
}

// cleanQueryToken strips the noise folder names accumulate: identifier
// brackets, hash suffixes, series numbering, separator runs.
func cleanQueryToken(s string) string {
	s = bracketAnyRe.ReplaceAllString(s, " ")
	s = hashSuffixRe.ReplaceAllString(s, "")
	s = bookNumRe.ReplaceAllString(s, " ")
	s = leadingNumRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("_", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// scoreCandidate returns a 0..1 fuzzy match of a search candidate against
// the query. Title similarity dominates; an author hit adds confidence.
func scoreCandidate(title, author string, c SearchCandidate) float64 {
	titleScore := tokenSimilarity(title, c.Title)
	if author == "" || len(c.Authors) == 0 {
		return titleScore
	}
	authorScore := 0.0
	for _, a := range c.Authors {
		if s := tokenSimilarity(author, a); s > authorScore {
			authorScore = s
		}
	}
	return titleScore*0.7 + authorScore*0.3
}

// tokenSimilarity is the Jaccard overlap of normalized word sets.
func tokenSimilarity(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	overlap := 0
	for tok := range as {
		if bs[tok] {
			overlap++
		}
	}
	union := len(as) + len(bs) - overlap
	return float64(overlap) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if field == "the" || field == "a" || field == "an" {
			continue
		}
		out[field] = true
	}
	return out
}
