// Package index builds and manages per-project retrieval indexes:
// a dense vector artifact, a sparse BM25 artifact and a basic keyword
// artifact, versioned and published atomically.
package index

import (
	"strings"
	"unicode"
)

// stopwords excluded from sparse and basic matching.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true, "what": true, "when": true, "where": true,
	"who": true, "how": true, "do": true, "does": true, "did": true, "i": true,
	"you": true, "your": true, "my": true, "we": true, "they": true, "this": true,
}

// Tokenize lowercases text, splits on non-alphanumeric runes and drops
// stopwords and single-character tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 && !unicode.IsNumber(rune(f[0])) {
			continue
		}
		if stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
