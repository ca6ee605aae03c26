// Package tokenizer splits text into the normalized words stored in the index
// and looked up by queries.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxWordLength is the length in bytes above which a word is truncated.
const MaxWordLength = 64

var (
	folder = cases.Fold()

	// strips combining marks so that "café" and "cafe" share a word.
	unaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize case folds a word and removes its diacritics.
func Normalize(word string) string {
	out, _, err := transform.String(unaccent, folder.String(word))
	if err != nil {
		return folder.String(word)
	}
	return out
}

// Tokenize splits text on every rune that is neither a letter nor a digit and
// returns the normalized words, in order. Duplicates are kept since the
// position of every word matters to queries.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := Normalize(f)
		if w == "" {
			continue
		}
		if len(w) > MaxWordLength {
			w = truncate(w, MaxWordLength)
		}
		words = append(words, w)
	}
	return words
}

// truncate cuts s to at most n bytes without splitting a rune. len(s) > n.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
