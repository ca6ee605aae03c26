// Package engine wires the pieces of a search together: it turns a text query
// into a query graph, sorts the matching documents with the words ranking
// rule and fetches the documents of the requested page.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/internal/build"
	"github.com/sievesearch/sieve/pkg/cache"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/logger"
	"github.com/sievesearch/sieve/pkg/querygraph"
	"github.com/sievesearch/sieve/pkg/search"
	"github.com/sievesearch/sieve/pkg/search/resolve"
	"github.com/sievesearch/sieve/pkg/search/words"
	"github.com/sievesearch/sieve/pkg/telemetry"
	"github.com/sievesearch/sieve/pkg/tokenizer"
)

var tracer = otel.Tracer("sieve/pkg/engine")

const (
	// MaxQueryWords is the number of query words kept, the rest is ignored.
	MaxQueryWords = 10

	DefaultLimit = 20
	MaxLimit     = 1000
)

var (
	searchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "search_requests_total",
		Help:      "The total number of searches, by strategy and outcome.",
	}, []string{"strategy", "status"})

	searchDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "search_duration_ms",
		Help:                            "The duration (in ms) of a search.",
		Buckets:                         []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"strategy"})

	documentCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "document_cache_hit_count",
		Help:      "The total number of documents served from the document cache.",
	})
)

// SearchRequest describes a page of results to compute.
type SearchRequest struct {
	Query string `json:"q"`
	// Offset is the number of hits to skip.
	Offset int `json:"offset"`
	// Limit is the maximum number of hits, DefaultLimit when zero.
	Limit int `json:"limit"`
	// Strategy is "all" or "last", the engine default when empty.
	Strategy string `json:"matchingStrategy"`
	// Explain asks for the events of the bucket sort in the result.
	Explain bool `json:"explain"`
}

// SearchResult is the answer to a SearchRequest.
type SearchResult struct {
	ID string `json:"id"`
	// Query lists the words the query was reduced to.
	Query              []string          `json:"query"`
	Strategy           string            `json:"strategy"`
	Hits               []*index.Document `json:"hits"`
	EstimatedTotalHits uint64            `json:"estimatedTotalHits"`
	Offset             int               `json:"offset"`
	Limit              int               `json:"limit"`
	ProcessingTime     time.Duration     `json:"-"`
	ProcessingTimeMs   int64             `json:"processingTimeMs"`
	Explain            []search.Event    `json:"explain,omitempty"`
}

// Engine runs searches against an index. It is safe for concurrent use.
type Engine struct {
	reader   index.Reader
	logger   logger.Logger
	resolver search.GraphResolver

	strategy  words.TermsMatchingStrategy
	stopWords []string
	synonyms  map[string][]string
	ngrams    int
	maxLimit  int

	documentCache    cache.InMemoryCache[*index.Document]
	documentCacheTTL time.Duration

	closed atomic.Bool
}

type EngineOption func(*Engine)

func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithResolver sets the resolver shared by the searches of the engine.
func WithResolver(r search.GraphResolver) EngineOption {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithDefaultStrategy sets the strategy of requests that do not pick one.
func WithDefaultStrategy(s words.TermsMatchingStrategy) EngineOption {
	return func(e *Engine) {
		e.strategy = s
	}
}

func WithStopWords(stopWords ...string) EngineOption {
	return func(e *Engine) {
		e.stopWords = slices.Clone(stopWords)
	}
}

func WithSynonyms(synonyms map[string][]string) EngineOption {
	return func(e *Engine) {
		e.synonyms = synonyms
	}
}

// WithNGrams sets the largest number of consecutive query words merged into
// a single alternative word. Values below 2 disable n-grams.
func WithNGrams(n int) EngineOption {
	return func(e *Engine) {
		e.ngrams = n
	}
}

func WithMaxLimit(n int) EngineOption {
	return func(e *Engine) {
		e.maxLimit = n
	}
}

// WithDocumentCache keeps up to size fetched documents in memory for ttl.
func WithDocumentCache(size int64, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if size <= 0 || ttl <= 0 {
			return
		}
		e.documentCache = cache.NewInMemoryLRUCache(cache.WithMaxCacheSize[*index.Document](size))
		e.documentCacheTTL = ttl
	}
}

func New(reader index.Reader, opts ...EngineOption) *Engine {
	e := &Engine{
		reader:   reader,
		logger:   logger.NewNoopLogger(),
		strategy: words.Last,
		maxLimit: MaxLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = resolve.NewQueryGraphResolver()
	}

	// Query words are normalized, so must be the words they are compared to.
	for i, w := range e.stopWords {
		e.stopWords[i] = tokenizer.Normalize(w)
	}
	if len(e.synonyms) > 0 {
		synonyms := make(map[string][]string, len(e.synonyms))
		for word, alternatives := range e.synonyms {
			key := tokenizer.Normalize(word)
			for _, alt := range alternatives {
				synonyms[key] = append(synonyms[key], tokenizer.Normalize(alt))
			}
		}
		e.synonyms = synonyms
	}
	return e
}

// Close releases the document cache. The reader and resolver are owned by the
// caller.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	if e.documentCache != nil {
		e.documentCache.Stop()
	}
}

// Search returns the requested page of the documents matching the query.
//
// An empty query matches every document, in id order.
func (e *Engine) Search(ctx context.Context, req *SearchRequest) (result *SearchResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()

	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	strategy, limit, err := e.validate(req)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	searchID := ulid.Make().String()
	ctx = logger.ContextWithSearchID(ctx, searchID)
	span.SetAttributes(
		attribute.String("search_id", searchID),
		attribute.String("strategy", strategy.String()),
	)

	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			telemetry.TraceError(span, err)
			e.logger.ErrorWithContext(ctx, "search failed", zap.String("query", req.Query), zap.Error(err))
		}
		searchCounter.WithLabelValues(strategy.String(), status).Inc()
		searchDurationHistogram.WithLabelValues(strategy.String()).Observe(float64(time.Since(start).Milliseconds()))
	}()

	queryWords := tokenizer.Tokenize(req.Query)
	if len(queryWords) > MaxQueryWords {
		queryWords = queryWords[:MaxQueryWords]
	}

	sctx := search.NewSearchContext(e.reader)
	searchLogger, explain := e.searchLogger(req.Explain)

	var ids []uint32
	var total uint64
	if len(queryWords) == 0 {
		ids, total, err = e.placeholderSearch(ctx, sctx, req.Offset, limit, searchLogger)
	} else {
		ids, total, err = e.wordsSearch(ctx, sctx, queryWords, strategy, req.Offset, limit, searchLogger)
	}
	if err != nil {
		return nil, err
	}

	hits, err := e.documents(ctx, ids)
	if err != nil {
		return nil, err
	}

	result = &SearchResult{
		ID:                 searchID,
		Query:              queryWords,
		Strategy:           strategy.String(),
		Hits:               hits,
		EstimatedTotalHits: total,
		Offset:             req.Offset,
		Limit:              limit,
		ProcessingTime:     time.Since(start),
	}
	result.ProcessingTimeMs = result.ProcessingTime.Milliseconds()
	if explain != nil {
		result.Explain = explain.Events()
	}

	e.logger.DebugWithContext(ctx, "search",
		zap.String("query", req.Query),
		zap.Int("hits", len(hits)),
		zap.Uint64("estimated_total_hits", total),
		zap.Duration("processing_time", result.ProcessingTime),
	)
	return result, nil
}

func (e *Engine) validate(req *SearchRequest) (words.TermsMatchingStrategy, int, error) {
	if req == nil {
		return 0, 0, invalidRequestError("nil request")
	}
	if req.Offset < 0 {
		return 0, 0, invalidRequestError("offset must not be negative, got %d", req.Offset)
	}

	limit := req.Limit
	switch {
	case limit < 0:
		return 0, 0, invalidRequestError("limit must not be negative, got %d", limit)
	case limit == 0:
		limit = min(DefaultLimit, e.maxLimit)
	case limit > e.maxLimit:
		return 0, 0, invalidRequestError("limit must be at most %d, got %d", e.maxLimit, limit)
	}

	strategy := e.strategy
	if req.Strategy != "" {
		var err error
		strategy, err = words.ParseTermsMatchingStrategy(req.Strategy)
		if err != nil {
			return 0, 0, invalidRequestError("%s", err)
		}
	}
	return strategy, limit, nil
}

func (e *Engine) searchLogger(explain bool) (search.SearchLogger[*querygraph.QueryGraph], *search.DetailedLogger[*querygraph.QueryGraph]) {
	zapLogger := search.NewZapSearchLogger[*querygraph.QueryGraph](e.logger)
	if !explain {
		return zapLogger, nil
	}
	detailed := search.NewDetailedLogger[*querygraph.QueryGraph]()
	return search.Tee[*querygraph.QueryGraph](zapLogger, detailed), detailed
}

func (e *Engine) buildOptions() []querygraph.BuildOption {
	opts := []querygraph.BuildOption{querygraph.WithStopWords(e.stopWords...)}
	if len(e.synonyms) > 0 {
		opts = append(opts, querygraph.WithSynonyms(e.synonyms))
	}
	if e.ngrams > 1 {
		opts = append(opts, querygraph.WithNGrams(e.ngrams))
	}
	return opts
}

func (e *Engine) wordsSearch(
	ctx context.Context,
	sctx *search.SearchContext,
	queryWords []string,
	strategy words.TermsMatchingStrategy,
	offset, limit int,
	searchLogger search.SearchLogger[*querygraph.QueryGraph],
) ([]uint32, uint64, error) {
	graph, err := querygraph.Build(queryWords, e.buildOptions()...)
	if err != nil {
		return nil, 0, invalidRequestError("%s", err)
	}

	universe, err := words.Universe(ctx, sctx, e.resolver, graph, strategy)
	if err != nil {
		return nil, 0, err
	}

	rules := []search.RankingRule[*querygraph.QueryGraph]{
		words.New(strategy, words.WithResolver(e.resolver)),
	}
	ids, err := search.BucketSort(ctx, sctx, rules, graph, universe, offset, limit, searchLogger)
	if err != nil {
		return nil, 0, err
	}
	return ids, universe.GetCardinality(), nil
}

func (e *Engine) placeholderSearch(
	ctx context.Context,
	sctx *search.SearchContext,
	offset, limit int,
	searchLogger search.SearchLogger[*querygraph.QueryGraph],
) ([]uint32, uint64, error) {
	universe, err := e.reader.DocumentIDs(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read document ids: %w", err)
	}
	ids, err := search.BucketSort(ctx, sctx, nil, querygraph.New(), universe, offset, limit, searchLogger)
	if err != nil {
		return nil, 0, err
	}
	return ids, universe.GetCardinality(), nil
}

// documents returns the documents with the given ids, in the same order.
// Documents deleted since the search read the index are skipped.
func (e *Engine) documents(ctx context.Context, ids []uint32) ([]*index.Document, error) {
	if len(ids) == 0 {
		return []*index.Document{}, nil
	}
	if e.documentCache == nil {
		return e.reader.Documents(ctx, ids)
	}

	found := make(map[uint32]*index.Document, len(ids))
	missing := roaring.New()
	for _, id := range ids {
		if doc, ok := e.documentCache.Get(documentCacheKey(id)); ok {
			found[id] = doc
			documentCacheHitCounter.Inc()
			continue
		}
		missing.Add(id)
	}

	if !missing.IsEmpty() {
		docs, err := e.reader.Documents(ctx, missing.ToArray())
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			found[doc.ID] = doc
			e.documentCache.Set(documentCacheKey(doc.ID), doc, e.documentCacheTTL)
		}
	}

	docs := make([]*index.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := found[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func documentCacheKey(id uint32) string {
	return "doc:" + strconv.FormatUint(uint64(id), 10)
}

// IsInvalidRequest reports whether err was caused by the request itself.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
