package crisis

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher finds registry entries in normalized text. Patterns are compiled
// once; Match only reads them, so one Matcher serves any number of
// goroutines.
type Matcher struct {
	entries  []KeywordEntry
	patterns []*regexp.Regexp
}

// NewMatcher compiles one whole-phrase pattern per registry entry covering
// the entry's term and all of its variations.
func NewMatcher(reg *Registry) (*Matcher, error) {
	entries := reg.Entries()
	m := &Matcher{
		entries:  entries,
		patterns: make([]*regexp.Regexp, len(entries)),
	}
	for i, e := range entries {
		re, err := compileEntry(e)
		if err != nil {
			return nil, &ConfigurationError{
				Source:   reg.Source(),
				Problems: []string{fmt.Sprintf("entry %s: %v", e.ID, err)},
			}
		}
		m.patterns[i] = re
	}
	return m, nil
}

// compileEntry builds (?i)(?:^| )(?:t1|t2|...)(?: |$). Normalized text only
// ever separates words with a single space, so anchoring on spaces gives
// whole-word matching that also holds for non-ASCII letters, where \b does
// not.
func compileEntry(e KeywordEntry) (*regexp.Regexp, error) {
	seen := make(map[string]struct{}, len(e.Variations)+1)
	alts := make([]string, 0, len(e.Variations)+1)
	for _, t := range append([]string{e.Term}, e.Variations...) {
		n := Normalize(t)
		if n == "" {
			return nil, fmt.Errorf("term %q normalizes to nothing", t)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		alts = append(alts, regexp.QuoteMeta(n))
	}
	return regexp.Compile(`(?i)(?:^| )(?:` + strings.Join(alts, "|") + `)(?: |$)`)
}

// Match returns copies of every entry that occurs in normalized, in
// registry order.
func (m *Matcher) Match(normalized string) []KeywordEntry {
	if normalized == "" {
		return nil
	}
	var out []KeywordEntry
	for i, re := range m.patterns {
		if re.MatchString(normalized) {
			out = append(out, m.entries[i].clone())
		}
	}
	return out
}
