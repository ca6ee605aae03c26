package querygraph

import (
	"fmt"
	"slices"
	"strings"
)

// Position identifies a token slot of the original query. Positions are not
// necessarily contiguous: stop words and multi-word expansions leave gaps.
type Position int8

// LocatedTerm is a set of word alternatives that may match the query at the
// inclusive position range [First, Last]. Single words cover one position,
// n-grams cover several consecutive ones.
type LocatedTerm struct {
	Words []string
	First Position
	Last  Position
}

// NewTerm returns a single-position term.
func NewTerm(position Position, words ...string) LocatedTerm {
	return LocatedTerm{Words: words, First: position, Last: position}
}

// NewNGram returns a term covering the positions from first to last.
func NewNGram(first, last Position, words ...string) LocatedTerm {
	return LocatedTerm{Words: words, First: first, Last: last}
}

// IsSingle reports whether the term covers exactly one position.
func (t LocatedTerm) IsSingle() bool {
	return t.First == t.Last
}

// Positions returns every position covered by the term, ascending.
func (t LocatedTerm) Positions() []Position {
	positions := make([]Position, 0, int(t.Last)-int(t.First)+1)
	for p := int(t.First); p <= int(t.Last); p++ {
		positions = append(positions, Position(p))
	}
	return positions
}

func (t LocatedTerm) equal(other LocatedTerm) bool {
	return t.First == other.First && t.Last == other.Last && slices.Equal(t.Words, other.Words)
}

func (t LocatedTerm) clone() LocatedTerm {
	return LocatedTerm{Words: slices.Clone(t.Words), First: t.First, Last: t.Last}
}

func (t LocatedTerm) validate() error {
	if t.First < 0 || t.First > t.Last {
		return fmt.Errorf("%w: invalid position range %d..%d", ErrInvalidTerm, t.First, t.Last)
	}
	if len(t.Words) == 0 {
		return fmt.Errorf("%w: no word alternatives at %d..%d", ErrInvalidTerm, t.First, t.Last)
	}
	for _, w := range t.Words {
		if w == "" {
			return fmt.Errorf("%w: empty word at %d..%d", ErrInvalidTerm, t.First, t.Last)
		}
	}
	return nil
}

// String renders the term as "word|alt@first" or "word@first-last".
func (t LocatedTerm) String() string {
	words := strings.Join(t.Words, "|")
	if t.IsSingle() {
		return fmt.Sprintf("%s@%d", words, t.First)
	}
	return fmt.Sprintf("%s@%d-%d", words, t.First, t.Last)
}
