package querygraph

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

const (
	// MaxPositions is the maximum number of words a query graph can be built from.
	MaxPositions = math.MaxInt8 + 1

	// MaxNGramLength is the largest number of consecutive words merged into an n-gram.
	MaxNGramLength = 3
)

// BuildOption changes the way Build turns words into a graph.
type BuildOption func(*builder)

type builder struct {
	stopWords map[string]struct{}
	synonyms  map[string][]string
	ngrams    int
}

// WithStopWords makes Build skip the given words. A skipped word keeps its
// position, leaving a gap between the positions of its neighbours. If every
// word of the query is a stop word, none is skipped.
func WithStopWords(words ...string) BuildOption {
	return func(b *builder) {
		for _, w := range words {
			b.stopWords[w] = struct{}{}
		}
	}
}

// WithSynonyms adds the synonyms of a word as extra alternatives at its position.
func WithSynonyms(synonyms map[string][]string) BuildOption {
	return func(b *builder) {
		b.synonyms = synonyms
	}
}

// WithNGrams adds, for every run of n consecutive positions (2 <= n <= max),
// an alternative made of the concatenation of the words at those positions.
func WithNGrams(max int) BuildOption {
	return func(b *builder) {
		b.ngrams = min(max, MaxNGramLength)
	}
}

// Build returns the query graph matching the given words, the i-th word being
// at position i.
func Build(words []string, opts ...BuildOption) (*QueryGraph, error) {
	if len(words) == 0 {
		return nil, ErrEmptyQuery
	}
	if len(words) > MaxPositions {
		return nil, fmt.Errorf("%w: %d words, at most %d allowed", ErrTooManyPositions, len(words), MaxPositions)
	}

	b := &builder{stopWords: map[string]struct{}{}}
	for _, opt := range opts {
		opt(b)
	}

	present := make([]bool, len(words))
	allStopWords := true
	for i, w := range words {
		_, stop := b.stopWords[w]
		present[i] = !stop
		allStopWords = allStopWords && stop
	}
	if allStopWords {
		for i := range present {
			present[i] = true
		}
	}

	var terms []LocatedTerm
	for i, w := range words {
		if !present[i] {
			continue
		}
		alternatives := []string{w}
		for _, syn := range b.synonyms[w] {
			if !slices.Contains(alternatives, syn) {
				alternatives = append(alternatives, syn)
			}
		}
		terms = append(terms, NewTerm(Position(i), alternatives...))
	}

	for n := 2; n <= b.ngrams; n++ {
		for first := 0; first+n <= len(words); first++ {
			if slices.Contains(present[first:first+n], false) {
				continue
			}
			ngram := strings.Join(words[first:first+n], "")
			terms = append(terms, NewNGram(Position(first), Position(first+n-1), ngram))
		}
	}

	return FromTerms(terms...)
}

// FromTerms builds a layered graph from located terms. Start is connected to
// the terms beginning at the smallest position, every term is connected to the
// terms beginning at the first position following its range, and the terms
// ending at the largest position are connected to End.
func FromTerms(terms ...LocatedTerm) (*QueryGraph, error) {
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}

	g := New()
	starting := map[Position][]NodeID{}
	var positions []Position
	for _, term := range terms {
		if err := term.validate(); err != nil {
			return nil, err
		}
		id := g.AddTerm(term.clone())
		if _, ok := starting[term.First]; !ok {
			positions = append(positions, term.First)
		}
		starting[term.First] = append(starting[term.First], id)
	}
	slices.Sort(positions)

	// next returns the smallest position greater than p at which a term starts.
	next := func(p Position) (Position, bool) {
		i, found := slices.BinarySearch(positions, p)
		if found {
			i++
		}
		if i >= len(positions) {
			return 0, false
		}
		return positions[i], true
	}

	for _, id := range starting[positions[0]] {
		g.Connect(StartID, id)
	}
	for _, id := range g.TermNodes() {
		term := g.nodes[id].term
		following, ok := next(term.Last)
		if !ok {
			g.Connect(id, EndID)
			continue
		}
		for _, succ := range starting[following] {
			g.Connect(id, succ)
		}
	}

	g.Simplify()
	if g.nodes[EndID].predecessors.IsEmpty() {
		return nil, ErrUnconnectedQuery
	}
	return g, nil
}
