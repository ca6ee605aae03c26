// Package resolve computes the documents matching a query graph.
package resolve

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sievesearch/sieve/internal/build"
	"github.com/sievesearch/sieve/internal/concurrency"
	"github.com/sievesearch/sieve/pkg/querygraph"
	"github.com/sievesearch/sieve/pkg/search"
	"github.com/sievesearch/sieve/pkg/telemetry"
)

var tracer = otel.Tracer("sieve/pkg/search/resolve")

const defaultMaxConcurrentReads = 8

var resolveDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace:                       build.ProjectName,
	Name:                            "resolve_query_graph_duration_ms",
	Help:                            "The duration (in ms) of a query graph resolution, labeled by whether it was served from the cache.",
	Buckets:                         []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000},
	NativeHistogramBucketFactor:     1.1,
	NativeHistogramMaxBucketNumber:  100,
	NativeHistogramMinResetDuration: time.Hour,
}, []string{"cached"})

// QueryGraphResolver resolves query graphs against the index of the search
// context.
//
// Every node gets the documents reaching it: the universe for Start, and for
// a Term node the documents reaching any of its predecessors that contain
// any of its word alternatives. The result is what reaches End.
type QueryGraphResolver struct {
	maxConcurrentReads int
}

var _ search.GraphResolver = (*QueryGraphResolver)(nil)

type QueryGraphResolverOpt func(*QueryGraphResolver)

// WithMaxConcurrentReads bounds the number of words read from the index at
// the same time.
func WithMaxConcurrentReads(n int) QueryGraphResolverOpt {
	return func(r *QueryGraphResolver) {
		r.maxConcurrentReads = n
	}
}

func NewQueryGraphResolver(opts ...QueryGraphResolverOpt) *QueryGraphResolver {
	r := &QueryGraphResolver{
		maxConcurrentReads: defaultMaxConcurrentReads,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxConcurrentReads < 1 {
		r.maxConcurrentReads = 1
	}
	return r
}

// ResolveQueryGraph see [search.GraphResolver].ResolveQueryGraph.
func (r *QueryGraphResolver) ResolveQueryGraph(
	ctx context.Context,
	sctx *search.SearchContext,
	graph *querygraph.QueryGraph,
	universe *roaring.Bitmap,
) (*roaring.Bitmap, error) {
	ctx, span := tracer.Start(ctx, "ResolveQueryGraph")
	defer span.End()

	start := time.Now()
	defer func() {
		resolveDurationHistogram.WithLabelValues("false").Observe(float64(time.Since(start).Milliseconds()))
	}()

	order, err := graph.TopologicalOrder()
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	if err := r.prefetch(ctx, sctx, graph); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	reaching := make([]*roaring.Bitmap, graph.Len())
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}

		switch graph.Kind(id) {
		case querygraph.NodeStart:
			reaching[id] = universe
		case querygraph.NodeEnd:
			result := union(reaching, graph.Predecessors(id))
			span.SetAttributes(attribute.Int64("candidates", int64(result.GetCardinality())))
			return result, nil
		case querygraph.NodeTerm:
			predecessors := union(reaching, graph.Predecessors(id))
			if predecessors.IsEmpty() {
				reaching[id] = predecessors
				continue
			}

			term, _ := graph.Term(id)
			docids, err := termDocids(ctx, sctx, term)
			if err != nil {
				telemetry.TraceError(span, err)
				return nil, err
			}
			predecessors.And(docids)
			reaching[id] = predecessors
		}
	}

	// only a cycle keeps End out of the topological order
	err = fmt.Errorf("%w: end was not reached", querygraph.ErrUnconnectedQuery)
	telemetry.TraceError(span, err)
	return nil, err
}

// prefetch reads the docids of every word of the graph into the search
// context, concurrently.
func (r *QueryGraphResolver) prefetch(ctx context.Context, sctx *search.SearchContext, graph *querygraph.QueryGraph) error {
	return concurrency.ForEachUnique(ctx, r.maxConcurrentReads, graphWords(graph), func(ctx context.Context, word string) error {
		_, err := sctx.WordDocids(ctx, word)
		return err
	})
}

// graphWords yields the words of every live Term node of the graph.
func graphWords(graph *querygraph.QueryGraph) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, id := range graph.TermNodes() {
			term, _ := graph.Term(id)
			for _, word := range term.Words {
				if !yield(word) {
					return
				}
			}
		}
	}
}

func termDocids(ctx context.Context, sctx *search.SearchContext, term querygraph.LocatedTerm) (*roaring.Bitmap, error) {
	bitmaps := make([]*roaring.Bitmap, 0, len(term.Words))
	for _, word := range term.Words {
		docids, err := sctx.WordDocids(ctx, word)
		if err != nil {
			return nil, err
		}
		bitmaps = append(bitmaps, docids)
	}
	return roaring.FastOr(bitmaps...), nil
}

// union returns a new bitmap holding the documents reaching any of ids. Nodes
// that were not reached hold no document.
func union(reaching []*roaring.Bitmap, ids []querygraph.NodeID) *roaring.Bitmap {
	bitmaps := make([]*roaring.Bitmap, 0, len(ids))
	for _, id := range ids {
		if reaching[id] != nil {
			bitmaps = append(bitmaps, reaching[id])
		}
	}
	return roaring.FastOr(bitmaps...)
}
