package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "empty",
			text:     "",
			expected: []string{},
		},
		{
			name:     "punctuation_only",
			text:     " ,.;!? ",
			expected: []string{},
		},
		{
			name:     "splits_on_punctuation",
			text:     "Hello, World! (again)",
			expected: []string{"hello", "world", "again"},
		},
		{
			name:     "keeps_digits_and_duplicates",
			text:     "route 66 and route 101",
			expected: []string{"route", "66", "and", "route", "101"},
		},
		{
			name:     "removes_diacritics",
			text:     "Café CRÈME brûlée",
			expected: []string{"cafe", "creme", "brulee"},
		},
		{
			name:     "case_folds",
			text:     "Straße",
			expected: []string{"strasse"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, Tokenize(test.text))
		})
	}
}

func TestTokenizeTruncatesLongWords(t *testing.T) {
	words := Tokenize(strings.Repeat("é", MaxWordLength))
	require.Len(t, words, 1)
	require.Equal(t, strings.Repeat("e", MaxWordLength), words[0])

	words = Tokenize(strings.Repeat("ж", MaxWordLength))
	require.Len(t, words, 1)
	require.LessOrEqual(t, len(words[0]), MaxWordLength)
	require.True(t, utf8.ValidString(words[0]))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "cafe", Normalize("CAFÉ"))
	require.Equal(t, "", Normalize(""))
}
