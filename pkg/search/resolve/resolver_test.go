package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/index/memory"
	"github.com/sievesearch/sieve/pkg/querygraph"
	"github.com/sievesearch/sieve/pkg/search"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newIndex(t *testing.T, docs map[uint32]string) *memory.MemoryIndex {
	t.Helper()
	idx := memory.New()
	t.Cleanup(idx.Close)

	batch := make([]*index.Document, 0, len(docs))
	for id, text := range docs {
		batch = append(batch, &index.Document{ID: id, Fields: map[string]string{"text": text}})
	}
	require.NoError(t, idx.WriteDocuments(context.Background(), batch))
	return idx
}

func mustBuild(t *testing.T, words []string, opts ...querygraph.BuildOption) *querygraph.QueryGraph {
	t.Helper()
	g, err := querygraph.Build(words, opts...)
	require.NoError(t, err)
	return g
}

func TestResolveQueryGraph(t *testing.T) {
	idx := newIndex(t, map[uint32]string{
		1: "new york city",
		2: "new york",
		3: "newyork city",
		4: "york city new",
		5: "new city",
		6: "automobile repair",
		7: "car repair",
		8: "car",
	})
	all := roaring.BitmapOf(1, 2, 3, 4, 5, 6, 7, 8)

	tests := []struct {
		name     string
		graph    *querygraph.QueryGraph
		universe *roaring.Bitmap
		expected []uint32
	}{
		{
			name:     "conjunction",
			graph:    mustBuild(t, []string{"new", "york", "city"}),
			universe: all,
			expected: []uint32{1, 4},
		},
		{
			name:     "restricted_universe",
			graph:    mustBuild(t, []string{"new", "york", "city"}),
			universe: roaring.BitmapOf(4, 5),
			expected: []uint32{4},
		},
		{
			name:     "ngram_alternative_path",
			graph:    mustBuild(t, []string{"new", "york", "city"}, querygraph.WithNGrams(2)),
			universe: all,
			expected: []uint32{1, 3, 4},
		},
		{
			name:     "synonyms",
			graph:    mustBuild(t, []string{"car", "repair"}, querygraph.WithSynonyms(map[string][]string{"car": {"automobile"}})),
			universe: all,
			expected: []uint32{6, 7},
		},
		{
			name:     "unknown_word",
			graph:    mustBuild(t, []string{"car", "wash"}),
			universe: all,
			expected: []uint32{},
		},
		{
			name:     "empty_universe",
			graph:    mustBuild(t, []string{"car"}),
			universe: roaring.New(),
			expected: []uint32{},
		},
	}

	resolver := NewQueryGraphResolver(WithMaxConcurrentReads(2))
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sctx := search.NewSearchContext(idx)
			universe := test.universe.Clone()

			got, err := resolver.ResolveQueryGraph(context.Background(), sctx, test.graph, test.universe)
			require.NoError(t, err)
			require.Equal(t, test.expected, got.ToArray())

			// inputs are left untouched
			require.True(t, universe.Equals(test.universe))
		})
	}
}

func TestResolveQueryGraphAfterRelaxation(t *testing.T) {
	idx := newIndex(t, map[uint32]string{
		1: "a b c",
		2: "a b",
		3: "a c",
		4: "b c",
	})
	all := roaring.BitmapOf(1, 2, 3, 4)
	sctx := search.NewSearchContext(idx)
	resolver := NewQueryGraphResolver()
	g := mustBuild(t, []string{"a", "b", "c"})

	got, err := resolver.ResolveQueryGraph(context.Background(), sctx, g, all)
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, got.ToArray())

	g.RemoveWordsAtPosition(1)
	got, err = resolver.ResolveQueryGraph(context.Background(), sctx, g, all)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 3}, got.ToArray())

	g.RemoveWordsAtPosition(2)
	got, err = resolver.ResolveQueryGraph(context.Background(), sctx, g, all)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, got.ToArray())

	// every word was read from the index once
	require.Equal(t, 3, sctx.CachedWords())
}

type failingReader struct {
	index.Reader
	err error
}

func (f *failingReader) WordDocids(context.Context, string) (*roaring.Bitmap, error) {
	return nil, f.err
}

func TestResolveQueryGraphPropagatesIndexErrors(t *testing.T) {
	errRead := errors.New("disk on fire")
	sctx := search.NewSearchContext(&failingReader{err: errRead})

	_, err := NewQueryGraphResolver().ResolveQueryGraph(
		context.Background(), sctx, mustBuild(t, []string{"a", "b"}), roaring.BitmapOf(1, 2),
	)
	require.ErrorIs(t, err, errRead)
}

func TestResolveQueryGraphStopsOnCanceledContext(t *testing.T) {
	idx := newIndex(t, map[uint32]string{1: "a b", 2: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueryGraphResolver().ResolveQueryGraph(
		ctx, search.NewSearchContext(idx), mustBuild(t, []string{"a", "b"}), roaring.BitmapOf(1, 2),
	)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveQueryGraphWithoutTerms(t *testing.T) {
	g := querygraph.New()
	g.Connect(querygraph.StartID, querygraph.EndID)

	got, err := NewQueryGraphResolver().ResolveQueryGraph(
		context.Background(), search.NewSearchContext(memory.New()), g, roaring.BitmapOf(1, 2),
	)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2}, got.ToArray())
}

func TestResolveQueryGraphDisconnectedEnd(t *testing.T) {
	got, err := NewQueryGraphResolver().ResolveQueryGraph(
		context.Background(), search.NewSearchContext(memory.New()), querygraph.New(), roaring.BitmapOf(1, 2),
	)
	require.NoError(t, err)
	require.True(t, got.IsEmpty())
}
