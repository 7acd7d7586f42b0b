// Package query expands a canonical venue name into the ordered list of
// search strings sent to connectors.
package query

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultKeyword is appended to names to steer search APIs toward gyms.
const DefaultKeyword = "헬스장"

// DefaultMaxQueries caps the number of variants per name.
const DefaultMaxQueries = 8

var (
	entityTokens = regexp.MustCompile(
		`(?i)(\(주\)|㈜|주식회사|유한회사|\b(inc|llc|co|ltd|corp|corporation)\b\.?)`)
	multiSpace   = regexp.MustCompile(`\s+`)
	branchSuffix = regexp.MustCompile(`(?i)\s+(\S+(지점|호점|점)|\S+\s+branch)$`)
)

// Config tunes an Expander.
type Config struct {
	Keyword    string
	MaxQueries int
	Synonyms   []Synonym
}

// Expander produces search-query variants. It is safe for concurrent use.
type Expander struct {
	keyword  string
	max      int
	synonyms []compiledSynonym
}

type compiledSynonym struct {
	Synonym
	re *regexp.Regexp
}

// NewExpander creates an Expander. Zero-valued fields fall back to defaults.
func NewExpander(cfg Config) *Expander {
	e := &Expander{keyword: cfg.Keyword, max: cfg.MaxQueries}
	if e.keyword == "" {
		e.keyword = DefaultKeyword
	}
	if e.max <= 0 {
		e.max = DefaultMaxQueries
	}
	syns := cfg.Synonyms
	if syns == nil {
		syns = DefaultSynonyms()
	}
	for _, s := range syns {
		if strings.TrimSpace(s.From) == "" {
			continue
		}
		e.synonyms = append(e.synonyms, compiledSynonym{
			Synonym: s,
			re:      regexp.MustCompile(`(?i)` + regexp.QuoteMeta(s.From)),
		})
	}
	return e
}

// Clean normalizes a venue name: NFKC, entity tokens and punctuation removed,
// whitespace collapsed.
func Clean(name string) string {
	n := norm.NFKC.String(name)
	n = entityTokens.ReplaceAllString(n, " ")
	n = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, n)
	n = multiSpace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// Expand returns deduplicated query variants for name, most specific first.
// The result always has at least one element.
func (e *Expander) Expand(name string) []string {
	cleaned := Clean(name)
	if cleaned == "" {
		return []string{strings.TrimSpace(name)}
	}

	out := make([]string, 0, e.max)
	seen := make(map[string]bool)
	add := func(q string) {
		q = strings.TrimSpace(multiSpace.ReplaceAllString(q, " "))
		if q == "" || len(out) >= e.max {
			return
		}
		key := strings.ToLower(q)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, q)
	}

	add(cleaned)
	if !strings.Contains(cleaned, e.keyword) {
		add(cleaned + " " + e.keyword)
	}
	if tokens := strings.Fields(cleaned); len(tokens) > 1 {
		add(tokens[0] + " " + e.keyword)
	}
	for _, s := range e.synonyms {
		if s.re.MatchString(cleaned) {
			add(s.re.ReplaceAllLiteralString(cleaned, s.To))
		}
	}
	if stripped := StripBranch(cleaned); stripped != cleaned {
		add(stripped)
		add(stripped + " " + e.keyword)
	}
	return out
}

// StripBranch removes a trailing branch designation ("강남점", "2호점",
// "Gangnam branch"). Single-token names are returned unchanged.
func StripBranch(name string) string {
	loc := branchSuffix.FindStringIndex(name)
	if loc == nil {
		return name
	}
	stripped := strings.TrimSpace(name[:loc[0]])
	if stripped == "" {
		return name
	}
	return stripped
}
