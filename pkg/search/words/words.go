// Package words contains the ranking rule relaxing a query term by term.
//
// The rule first returns the documents matching the whole query. Under the
// Last strategy it then drops the words at the last remaining position and
// returns the documents matching the shorter query, and so on until only the
// words at the first position remain.
package words

import (
	"context"

	"github.com/RoaringBitmap/roaring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sievesearch/sieve/internal/build"
	"github.com/sievesearch/sieve/pkg/querygraph"
	"github.com/sievesearch/sieve/pkg/search"
	"github.com/sievesearch/sieve/pkg/search/resolve"
	"github.com/sievesearch/sieve/pkg/telemetry"
)

var tracer = otel.Tracer("sieve/pkg/search/words")

var (
	bucketsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "words_buckets_total",
		Help:      "The total number of buckets returned by the words ranking rule.",
	}, []string{"strategy"})

	relaxedPositionsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "words_relaxed_positions_total",
		Help:      "The total number of query positions dropped by the words ranking rule.",
	})
)

// ID is the identifier of the words rule.
const ID = "words"

type state uint8

const (
	// stateIdle is both the initial state and the state after EndIteration.
	stateIdle state = iota
	stateIterating
	// stateDrained is iterating with no bucket left.
	stateDrained
)

// Words is the words ranking rule. It is not safe for concurrent use: a
// search owns its instance from StartIteration to EndIteration.
type Words struct {
	strategy TermsMatchingStrategy
	resolver search.GraphResolver

	state state
	graph *querygraph.QueryGraph
	// positionsToRemove is ascending and consumed from the end.
	positionsToRemove []querygraph.Position
}

var _ search.RankingRule[*querygraph.QueryGraph] = (*Words)(nil)

type Option func(*Words)

// WithResolver sets the resolver computing the documents of every bucket.
// It defaults to a resolve.QueryGraphResolver.
func WithResolver(resolver search.GraphResolver) Option {
	return func(w *Words) {
		w.resolver = resolver
	}
}

func New(strategy TermsMatchingStrategy, opts ...Option) *Words {
	w := &Words{
		strategy: strategy,
		state:    stateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.resolver == nil {
		w.resolver = resolve.NewQueryGraphResolver()
	}
	return w
}

func (w *Words) ID() string {
	return ID
}

// StartIteration see [search.RankingRule].StartIteration. The parent query
// is copied; it is never modified.
func (w *Words) StartIteration(
	ctx context.Context,
	_ *search.SearchContext,
	_ search.SearchLogger[*querygraph.QueryGraph],
	_ *roaring.Bitmap,
	parentQuery *querygraph.QueryGraph,
) error {
	_, span := tracer.Start(ctx, "words.StartIteration", trace.WithAttributes(
		attribute.String("strategy", w.strategy.String()),
	))
	defer span.End()

	search.Require(parentQuery != nil, ID, "start iteration without a query")

	w.graph = parentQuery.Clone()
	w.positionsToRemove = removalQueue(w.strategy, w.graph)
	w.state = stateIterating

	span.SetAttributes(attribute.Int("positions_to_remove", len(w.positionsToRemove)))
	return nil
}

// removalQueue returns the positions the strategy allows to drop, ascending.
// The first position is never dropped.
func removalQueue(strategy TermsMatchingStrategy, graph *querygraph.QueryGraph) []querygraph.Position {
	switch strategy {
	case Last:
		positions := graph.Positions()
		if len(positions) == 0 {
			return nil
		}
		return positions[1:]
	default:
		return nil
	}
}

// NextBucket see [search.RankingRule].NextBucket. The returned query is the
// one the candidates were computed from; the rule relaxes its own copy for
// the following call.
func (w *Words) NextBucket(
	ctx context.Context,
	sctx *search.SearchContext,
	logger search.SearchLogger[*querygraph.QueryGraph],
	universe *roaring.Bitmap,
) (*search.RankingRuleOutput[*querygraph.QueryGraph], error) {
	search.Require(w.state != stateIdle, ID, "next bucket called outside of an iteration")
	search.Require(universe.GetCardinality() > 1, ID, "next bucket called with fewer than two documents")

	if w.state == stateDrained {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "words.NextBucket", trace.WithAttributes(
		attribute.Int64("universe", int64(universe.GetCardinality())),
	))
	defer span.End()

	logger.LogWordsState(w.graph)

	bucket, err := w.resolver.ResolveQueryGraph(ctx, sctx, w.graph, universe)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	query := w.graph.Clone()
	w.relax()

	bucketsCounter.WithLabelValues(w.strategy.String()).Inc()
	span.SetAttributes(attribute.Int64("candidates", int64(bucket.GetCardinality())))

	return &search.RankingRuleOutput[*querygraph.QueryGraph]{
		Query:      query,
		Candidates: bucket,
	}, nil
}

// relax removes the words at the last queued position. The rule is drained
// once the queue is empty.
func (w *Words) relax() {
	var removed bool
	w.positionsToRemove, removed = relaxLast(w.graph, w.positionsToRemove)
	if !removed {
		w.state = stateDrained
		return
	}
	relaxedPositionsCounter.Inc()
}

// relaxLast pops positions from the end of queue until removing the words at
// one of them changes graph, and returns what is left of the queue. Positions
// no term starts at are skipped.
func relaxLast(graph *querygraph.QueryGraph, queue []querygraph.Position) ([]querygraph.Position, bool) {
	for len(queue) > 0 {
		last := len(queue) - 1
		position := queue[last]
		queue = queue[:last]

		if graph.RemoveWordsAtPosition(position) {
			return queue, true
		}
	}
	return nil, false
}

// EndIteration see [search.RankingRule].EndIteration.
func (w *Words) EndIteration(context.Context, *search.SearchContext, search.SearchLogger[*querygraph.QueryGraph]) {
	w.state = stateIdle
	w.graph = nil
	w.positionsToRemove = nil
}
