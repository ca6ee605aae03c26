package resolve

import (
	"context"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/internal/build"
	"github.com/sievesearch/sieve/pkg/cache"
	"github.com/sievesearch/sieve/pkg/logger"
	"github.com/sievesearch/sieve/pkg/querygraph"
	"github.com/sievesearch/sieve/pkg/search"
)

const (
	defaultMaxCacheSize = 10000
	defaultCacheTTL     = 10 * time.Second
)

var (
	resolveCacheTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "resolve_cache_total_count",
		Help:      "The total number of calls to ResolveQueryGraph through the cache.",
	})

	resolveCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "resolve_cache_hit_count",
		Help:      "The total number of cache hits for ResolveQueryGraph.",
	})
)

// CachedResolver attempts to resolve query graphs from prior resolutions of
// the same graph against the same universe before delegating to some
// underlying GraphResolver. Entries expire after the cache TTL, which bounds
// how long writes to the index may go unnoticed.
type CachedResolver struct {
	delegate     search.GraphResolver
	cache        cache.InMemoryCache[*roaring.Bitmap]
	maxCacheSize int64
	cacheTTL     time.Duration
	logger       logger.Logger
	// allocatedCache is used to denote whether the cache is allocated by this struct.
	// If so, CachedResolver is responsible for cleaning up.
	allocatedCache bool
}

var _ search.GraphResolver = (*CachedResolver)(nil)

// CachedResolverOpt defines an option that can be used to change the behavior
// of a CachedResolver.
type CachedResolverOpt func(*CachedResolver)

// WithMaxCacheSize sets the maximum number of cached resolutions. Once it is
// reached, entries are evicted with an LRU policy.
func WithMaxCacheSize(size int64) CachedResolverOpt {
	return func(c *CachedResolver) {
		c.maxCacheSize = size
	}
}

// WithCacheTTL sets the TTL of every cached resolution.
func WithCacheTTL(ttl time.Duration) CachedResolverOpt {
	return func(c *CachedResolver) {
		c.cacheTTL = ttl
	}
}

// WithExistingCache sets the cache to the specified cache. The cache is not
// stopped by Close.
func WithExistingCache(c cache.InMemoryCache[*roaring.Bitmap]) CachedResolverOpt {
	return func(r *CachedResolver) {
		r.cache = c
	}
}

func WithLogger(l logger.Logger) CachedResolverOpt {
	return func(c *CachedResolver) {
		c.logger = l
	}
}

func NewCachedResolver(delegate search.GraphResolver, opts ...CachedResolverOpt) *CachedResolver {
	r := &CachedResolver{
		delegate:     delegate,
		maxCacheSize: defaultMaxCacheSize,
		cacheTTL:     defaultCacheTTL,
		logger:       logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cache == nil {
		r.allocatedCache = true
		r.cache = cache.NewInMemoryLRUCache(cache.WithMaxCacheSize[*roaring.Bitmap](r.maxCacheSize))
	}

	return r
}

// Close deallocates the cache, unless it was passed with WithExistingCache.
func (c *CachedResolver) Close() {
	if c.allocatedCache {
		c.cache.Stop()
	}
}

// ResolveQueryGraph see [search.GraphResolver].ResolveQueryGraph.
func (c *CachedResolver) ResolveQueryGraph(
	ctx context.Context,
	sctx *search.SearchContext,
	graph *querygraph.QueryGraph,
	universe *roaring.Bitmap,
) (*roaring.Bitmap, error) {
	resolveCacheTotalCounter.Inc()

	cacheKey, err := resolveCacheKey(graph, universe)
	if err != nil {
		c.logger.Error("cache key computation failed with error", zap.Error(err))
		return nil, err
	}

	start := time.Now()
	if cached, ok := c.cache.Get(cacheKey); ok {
		resolveCacheHitCounter.Inc()
		resolveDurationHistogram.WithLabelValues("true").Observe(float64(time.Since(start).Milliseconds()))
		return cached.Clone(), nil
	}

	result, err := c.delegate.ResolveQueryGraph(ctx, sctx, graph, universe)
	if err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, result.Clone(), c.cacheTTL)
	return result, nil
}

// resolveCacheKey hashes the canonical encoding of the graph along with the
// universe.
func resolveCacheKey(graph *querygraph.QueryGraph, universe *roaring.Bitmap) (string, error) {
	hasher := xxhash.New()
	if _, err := hasher.Write(graph.AppendBinary(nil)); err != nil {
		return "", err
	}
	if _, err := universe.WriteTo(hasher); err != nil {
		return "", err
	}
	return strconv.FormatUint(hasher.Sum64(), 10), nil
}
