// Package test contains the conformance suite every index engine must pass.
package test

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/sievesearch/sieve/pkg/index"
)

// Factory returns a new empty index. The suite closes it.
type Factory func(t *testing.T) index.Index

func RunAllTests(t *testing.T, newIndex Factory) {
	t.Run("TestIndexIsReady", func(t *testing.T) {
		idx := newIndex(t)
		defer idx.Close()

		status, err := idx.IsReady(context.Background())
		require.NoError(t, err)
		require.True(t, status.IsReady)
	})
	t.Run("TestWriteAndReadWords", func(t *testing.T) { WriteAndReadWordsTest(t, newIndex(t)) })
	t.Run("TestReplaceDocument", func(t *testing.T) { ReplaceDocumentTest(t, newIndex(t)) })
	t.Run("TestDeleteDocuments", func(t *testing.T) { DeleteDocumentsTest(t, newIndex(t)) })
	t.Run("TestReadDocuments", func(t *testing.T) { ReadDocumentsTest(t, newIndex(t)) })
	t.Run("TestInvalidDocument", func(t *testing.T) { InvalidDocumentTest(t, newIndex(t)) })
	t.Run("TestClosedIndex", func(t *testing.T) { ClosedIndexTest(t, newIndex(t)) })
}

// Corpus is a small set of documents shared by the index and search tests.
func Corpus() []*index.Document {
	return []*index.Document{
		{ID: 1, Fields: map[string]string{"title": "the quick brown fox"}},
		{ID: 2, Fields: map[string]string{"title": "quick brown dogs"}},
		{ID: 3, Fields: map[string]string{"title": "a quick fox", "body": "jumps over the lazy dog"}},
		{ID: 4, Fields: map[string]string{"title": "quick thinking"}},
		{ID: 5, Fields: map[string]string{"title": "slow brown bear"}},
	}
}

func bitmap(ids ...uint32) *roaring.Bitmap {
	return roaring.BitmapOf(ids...)
}

func requireDocids(t *testing.T, idx index.Reader, word string, expected *roaring.Bitmap) {
	t.Helper()
	got, err := idx.WordDocids(context.Background(), word)
	require.NoError(t, err)
	require.Truef(t, expected.Equals(got), "word %q: expected %v, got %v", word, expected.ToArray(), got.ToArray())
}

func WriteAndReadWordsTest(t *testing.T, idx index.Index) {
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.WriteDocuments(ctx, Corpus()))

	requireDocids(t, idx, "quick", bitmap(1, 2, 3, 4))
	requireDocids(t, idx, "brown", bitmap(1, 2, 5))
	requireDocids(t, idx, "fox", bitmap(1, 3))
	requireDocids(t, idx, "dog", bitmap(3))
	requireDocids(t, idx, "unknown", bitmap())

	ids, err := idx.DocumentIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3, 4, 5}, ids.ToArray())

	// the returned bitmap belongs to the caller
	got, err := idx.WordDocids(ctx, "quick")
	require.NoError(t, err)
	got.Clear()
	requireDocids(t, idx, "quick", bitmap(1, 2, 3, 4))
}

func ReplaceDocumentTest(t *testing.T, idx index.Index) {
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.WriteDocuments(ctx, Corpus()))
	require.NoError(t, idx.WriteDocuments(ctx, []*index.Document{
		{ID: 1, Fields: map[string]string{"title": "a red fox"}},
	}))

	requireDocids(t, idx, "quick", bitmap(2, 3, 4))
	requireDocids(t, idx, "red", bitmap(1))
	requireDocids(t, idx, "fox", bitmap(1, 3))

	docs, err := idx.Documents(ctx, []uint32{1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "a red fox", docs[0].Fields["title"])
}

func DeleteDocumentsTest(t *testing.T, idx index.Index) {
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.WriteDocuments(ctx, Corpus()))
	require.NoError(t, idx.DeleteDocuments(ctx, []uint32{1, 3, 42}))

	requireDocids(t, idx, "quick", bitmap(2, 4))
	requireDocids(t, idx, "fox", bitmap())
	requireDocids(t, idx, "lazy", bitmap())

	ids, err := idx.DocumentIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint32{2, 4, 5}, ids.ToArray())
}

func ReadDocumentsTest(t *testing.T, idx index.Index) {
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.WriteDocuments(ctx, Corpus()))

	docs, err := idx.Documents(ctx, []uint32{5, 42, 3})
	require.NoError(t, err)

	expected := []*index.Document{
		{ID: 5, Fields: map[string]string{"title": "slow brown bear"}},
		{ID: 3, Fields: map[string]string{"title": "a quick fox", "body": "jumps over the lazy dog"}},
	}
	if diff := cmp.Diff(expected, docs); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	docs, err = idx.Documents(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func InvalidDocumentTest(t *testing.T, idx index.Index) {
	defer idx.Close()
	ctx := context.Background()

	err := idx.WriteDocuments(ctx, []*index.Document{
		{ID: 1, Fields: map[string]string{"title": "valid"}},
		{ID: 2, Fields: map[string]string{"title": " -- "}},
	})
	require.ErrorIs(t, err, index.ErrInvalidDocument)

	// nothing of the batch is written
	ids, err := idx.DocumentIDs(ctx)
	require.NoError(t, err)
	require.True(t, ids.IsEmpty())
}

func ClosedIndexTest(t *testing.T, idx index.Index) {
	ctx := context.Background()
	require.NoError(t, idx.WriteDocuments(ctx, Corpus()))
	idx.Close()

	_, err := idx.WordDocids(ctx, "quick")
	require.ErrorIs(t, err, index.ErrClosed)

	_, err = idx.DocumentIDs(ctx)
	require.ErrorIs(t, err, index.ErrClosed)

	err = idx.WriteDocuments(ctx, Corpus())
	require.ErrorIs(t, err, index.ErrClosed)
}
