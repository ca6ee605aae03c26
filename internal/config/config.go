// Package config contains all the configuration options of sieve.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sievesearch/sieve/pkg/search/words"
)

const (
	DefaultMaxDocumentsPerWrite = 1000
	DefaultMaxLimit             = 1000
	DefaultMaxConcurrentReads   = 16
	DefaultResolveCacheSize     = 10000
	DefaultResolveCacheTTL      = 10 * time.Second
	DefaultDocumentCacheSize    = 10000
	DefaultDocumentCacheTTL     = time.Minute
)

// IndexConfig defines the index searched by sieve.
type IndexConfig struct {
	// Engine is the index engine to use (e.g. 'memory' or 'sqlite').
	Engine string

	// URI is the sqlite database to use, ignored by the memory engine.
	URI string

	// Documents is a JSON lines file loaded into the memory engine on start.
	Documents string

	// IDField is the attribute of the JSON documents holding their id.
	IDField string `mapstructure:"idField"`

	// Fields are the gjson paths of the searchable attributes. All the top
	// level string attributes are searchable when empty.
	Fields []string

	// MaxDocumentsPerWrite is the maximum number of documents written at once.
	MaxDocumentsPerWrite int

	// Metrics enables the export of the database connection pool stats.
	Metrics bool
}

// SearchConfig defines how queries are interpreted.
type SearchConfig struct {
	// Strategy is the terms matching strategy of requests that do not pick
	// one ('all' or 'last').
	Strategy string

	MaxLimit int

	// MaxConcurrentReads bounds the number of index reads a single resolution
	// runs at once.
	MaxConcurrentReads int

	StopWords []string
	Synonyms  map[string][]string

	// NGrams is the largest number of consecutive query words merged into a
	// single alternative word, disabled below 2.
	NGrams int `mapstructure:"ngrams"`
}

// CacheConfig defines an in-memory cache.
type CacheConfig struct {
	Enabled bool
	MaxSize int64
	TTL     time.Duration
}

type TLSConfig struct {
	Enabled  bool
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
}

// HTTPConfig defines the HTTP search server.
type HTTPConfig struct {
	Addr string
	TLS  *TLSConfig

	// RequestTimeout bounds the duration of a single search.
	RequestTimeout time.Duration

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
}

// LogConfig defines sieve's logging configuration.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// Format of the timestamp in the log output (e.g. 'Unix'(default) or 'ISO8601')
	TimestampFormat string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string

	// SlowSearchThreshold, when positive, only exports the traces of the
	// searches that took at least that long.
	SlowSearchThreshold time.Duration
}

type OTLPTraceConfig struct {
	Endpoint string
}

// MetricConfig defines configurations for serving the prometheus metrics.
type MetricConfig struct {
	Enabled bool
	Addr    string
}

type Config struct {
	Index         IndexConfig
	Search        SearchConfig
	ResolveCache  CacheConfig
	DocumentCache CacheConfig
	HTTP          HTTPConfig
	Log           LogConfig
	Trace         TraceConfig
	Metrics       MetricConfig
}

func (cfg *Config) Verify() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if !slices.Contains([]string{"none", "debug", "info", "warn", "error", "panic", "fatal"}, cfg.Log.Level) {
		return fmt.Errorf(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal']",
		)
	}

	if cfg.Log.TimestampFormat != "Unix" && cfg.Log.TimestampFormat != "ISO8601" {
		return fmt.Errorf("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	switch cfg.Index.Engine {
	case "memory":
	case "sqlite":
		if cfg.Index.URI == "" {
			return errors.New("config 'index.uri' must be set for the sqlite engine")
		}
	default:
		return fmt.Errorf("config 'index.engine' must be one of ['memory', 'sqlite'], got '%s'", cfg.Index.Engine)
	}

	if cfg.Index.MaxDocumentsPerWrite <= 0 {
		return errors.New("config 'index.maxDocumentsPerWrite' must be positive")
	}

	if _, err := words.ParseTermsMatchingStrategy(cfg.Search.Strategy); err != nil {
		return fmt.Errorf("config 'search.strategy': %w", err)
	}

	if cfg.Search.MaxLimit <= 0 {
		return errors.New("config 'search.maxLimit' must be positive")
	}

	if cfg.Search.MaxConcurrentReads <= 0 {
		return errors.New("config 'search.maxConcurrentReads' must be positive")
	}

	for name, c := range map[string]CacheConfig{"resolveCache": cfg.ResolveCache, "documentCache": cfg.DocumentCache} {
		if c.Enabled && (c.MaxSize <= 0 || c.TTL <= 0) {
			return fmt.Errorf("config '%s.maxSize' and '%s.ttl' must be positive when the cache is enabled", name, name)
		}
	}

	if cfg.HTTP.TLS != nil && cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.CertPath == "" || cfg.HTTP.TLS.KeyPath == "" {
			return errors.New("'http.tls.cert' and 'http.tls.key' configs must be set")
		}
	}

	if cfg.Trace.Enabled && (cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1) {
		return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
	}

	return nil
}

// DefaultConfig is the sieve default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Engine:               "memory",
			IDField:              "id",
			MaxDocumentsPerWrite: DefaultMaxDocumentsPerWrite,
		},
		Search: SearchConfig{
			Strategy:           words.Last.String(),
			MaxLimit:           DefaultMaxLimit,
			MaxConcurrentReads: DefaultMaxConcurrentReads,
			StopWords:          []string{},
			Synonyms:           map[string][]string{},
			NGrams:             2,
		},
		ResolveCache: CacheConfig{
			Enabled: false,
			MaxSize: DefaultResolveCacheSize,
			TTL:     DefaultResolveCacheTTL,
		},
		DocumentCache: CacheConfig{
			Enabled: false,
			MaxSize: DefaultDocumentCacheSize,
			TTL:     DefaultDocumentCacheTTL,
		},
		HTTP: HTTPConfig{
			Addr:               "0.0.0.0:7700",
			TLS:                &TLSConfig{Enabled: false},
			RequestTimeout:     5 * time.Second,
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedHeaders: []string{"*"},
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
			},
			SampleRatio: 0.2,
			ServiceName: "sieve",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
	}
}

// MustDefaultConfig returns a default configuration that passes Verify.
func MustDefaultConfig() *Config {
	cfg := DefaultConfig()
	if err := cfg.Verify(); err != nil {
		panic(err)
	}
	return cfg
}
