package search

import (
	"regexp"
	"strings"
)

var nonAlnumPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
var whitespacePattern = regexp.MustCompile(`\s+`)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "in": {}, "on": {},
}

// NormalizedTitleKey lowercases, strips punctuation, removes stop words, and
// collapses whitespace, producing the identity used for deduplication.
// Titles differing only by case, punctuation, or stop words collapse to the
// same key.
func NormalizedTitleKey(title string) string {
	lower := strings.ToLower(title)
	stripped := nonAlnumPattern.ReplaceAllString(lower, " ")
	tokens := whitespacePattern.Split(strings.TrimSpace(stripped), -1)

	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, isStop := stopWords[tok]; isStop {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}
