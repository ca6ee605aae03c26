package words

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/sievesearch/sieve/pkg/querygraph"
	"github.com/sievesearch/sieve/pkg/search"
)

// Universe returns the documents a words rule with the given strategy can
// ever put in a bucket: the documents matching the whole graph under All, the
// documents matching the fully relaxed graph under Last. Documents outside of
// it match no bucket and are not worth sorting.
func Universe(
	ctx context.Context,
	sctx *search.SearchContext,
	resolver search.GraphResolver,
	graph *querygraph.QueryGraph,
	strategy TermsMatchingStrategy,
) (*roaring.Bitmap, error) {
	ctx, span := tracer.Start(ctx, "words.Universe")
	defer span.End()

	all, err := sctx.Reader().DocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read document ids: %w", err)
	}

	relaxed := graph.Clone()
	queue := removalQueue(strategy, relaxed)
	for removed := true; removed; {
		queue, removed = relaxLast(relaxed, queue)
	}

	return resolver.ResolveQueryGraph(ctx, sctx, relaxed, all)
}
