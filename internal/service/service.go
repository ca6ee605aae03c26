// Package service builds the index and search engine described by a
// configuration. It is shared by the commands that search.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sievesearch/sieve/internal/config"
	"github.com/sievesearch/sieve/pkg/engine"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/index/memory"
	"github.com/sievesearch/sieve/pkg/index/sqlite"
	"github.com/sievesearch/sieve/pkg/logger"
	"github.com/sievesearch/sieve/pkg/search"
	"github.com/sievesearch/sieve/pkg/search/resolve"
	"github.com/sievesearch/sieve/pkg/search/words"
)

var ErrIndexNotReady = errors.New("index is not ready")

// OpenIndex opens the configured index. The memory engine is filled with the
// configured documents file, if any; the sqlite engine must be migrated.
func OpenIndex(ctx context.Context, cfg *config.Config, log logger.Logger) (index.Index, error) {
	var idx index.Index
	switch cfg.Index.Engine {
	case "memory":
		idx = memory.New(memory.WithMaxDocumentsPerWrite(cfg.Index.MaxDocumentsPerWrite))
	case "sqlite":
		opts := []sqlite.ConfigOption{
			sqlite.WithLogger(log),
			sqlite.WithMaxDocumentsPerWrite(cfg.Index.MaxDocumentsPerWrite),
		}
		if cfg.Index.Metrics {
			opts = append(opts, sqlite.WithMetrics())
		}
		sqliteIndex, err := sqlite.New(cfg.Index.URI, sqlite.NewConfig(opts...))
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite index: %w", err)
		}
		idx = sqliteIndex
	default:
		return nil, fmt.Errorf("index engine '%s' is unsupported", cfg.Index.Engine)
	}

	status, err := idx.IsReady(ctx)
	if err != nil {
		idx.Close()
		return nil, err
	}
	if !status.IsReady {
		idx.Close()
		return nil, fmt.Errorf("%w: %s", ErrIndexNotReady, status.Message)
	}

	if cfg.Index.Engine == "memory" && cfg.Index.Documents != "" {
		n, err := LoadDocuments(ctx, cfg, idx, cfg.Index.Documents, log)
		if err != nil {
			idx.Close()
			return nil, err
		}
		log.Info("loaded documents into the memory index", zap.Int("documents", n), zap.String("path", cfg.Index.Documents))
	}

	log.Info(fmt.Sprintf("using '%v' index", cfg.Index.Engine))
	return idx, nil
}

// LoadDocuments writes the JSON lines file at path to w. A path of "-" reads
// the standard input.
func LoadDocuments(ctx context.Context, cfg *config.Config, w index.Writer, path string, log logger.Logger) (int, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("open documents: %w", err)
		}
		defer f.Close()
	}

	n, err := index.LoadJSONLines(ctx, f, w, index.LoadOptions{
		IDField:   cfg.Index.IDField,
		Fields:    cfg.Index.Fields,
		BatchSize: cfg.Index.MaxDocumentsPerWrite,
		Logger:    log,
	})
	if err != nil {
		return n, fmt.Errorf("load documents from '%s': %w", path, err)
	}
	return n, nil
}

// NewEngine returns the search engine over reader. The returned function
// releases the caches of the engine.
func NewEngine(cfg *config.Config, reader index.Reader, log logger.Logger) (*engine.Engine, func(), error) {
	strategy, err := words.ParseTermsMatchingStrategy(cfg.Search.Strategy)
	if err != nil {
		return nil, nil, err
	}

	var resolver search.GraphResolver = resolve.NewQueryGraphResolver(
		resolve.WithMaxConcurrentReads(cfg.Search.MaxConcurrentReads),
	)
	closeResolver := func() {}
	if cfg.ResolveCache.Enabled {
		cached := resolve.NewCachedResolver(resolver,
			resolve.WithMaxCacheSize(cfg.ResolveCache.MaxSize),
			resolve.WithCacheTTL(cfg.ResolveCache.TTL),
			resolve.WithLogger(log),
		)
		resolver = cached
		closeResolver = cached.Close
		log.Info("resolve cache enabled", zap.Int64("max_size", cfg.ResolveCache.MaxSize), zap.Duration("ttl", cfg.ResolveCache.TTL))
	}

	opts := []engine.EngineOption{
		engine.WithLogger(log),
		engine.WithResolver(resolver),
		engine.WithDefaultStrategy(strategy),
		engine.WithStopWords(cfg.Search.StopWords...),
		engine.WithSynonyms(cfg.Search.Synonyms),
		engine.WithNGrams(cfg.Search.NGrams),
		engine.WithMaxLimit(cfg.Search.MaxLimit),
	}
	if cfg.DocumentCache.Enabled {
		opts = append(opts, engine.WithDocumentCache(cfg.DocumentCache.MaxSize, cfg.DocumentCache.TTL))
	}

	e := engine.New(reader, opts...)
	return e, func() {
		e.Close()
		closeResolver()
	}, nil
}
