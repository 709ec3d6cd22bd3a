package crisis

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form used for keyword matching: NFKC
// folded, lowercased, with every rune that is not a letter or digit turned
// into a separator, separators collapsed to a single space and trimmed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	folded := norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(folded))
	gap := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		gap = true
	}
	return b.String()
}
