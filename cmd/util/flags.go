package util

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sievesearch/sieve/internal/config"
)

// FlagBinding ties a command line flag to its config key. The key can also be
// set with the SIEVE_ prefixed, upper cased, underscore separated environment
// variable of the flag.
type FlagBinding struct {
	Flag string
	Key  string
}

// Env returns the environment variable bound to the key.
func (b FlagBinding) Env() string {
	return "SIEVE_" + strings.ToUpper(strings.ReplaceAll(b.Flag, "-", "_"))
}

// BindFlagsFunc returns a cobra PreRun function binding the flags to their
// config keys. Binding in PreRun, rather than when the flags are declared,
// keeps commands declaring the same flag from overriding each other.
func BindFlagsFunc(bindings ...[]FlagBinding) func(*cobra.Command, []string) {
	return func(command *cobra.Command, _ []string) {
		flags := command.Flags()
		for _, group := range bindings {
			for _, b := range group {
				MustBindPFlag(b.Key, flags.Lookup(b.Flag))
				MustBindEnv(b.Key, b.Env())
			}
		}
	}
}

// AddLogFlags declares the logging flags.
func AddLogFlags(flags *pflag.FlagSet) []FlagBinding {
	defaults := config.DefaultConfig()

	flags.String("log-format", defaults.Log.Format, "the log format to output logs in ('text' or 'json')")
	flags.String("log-level", defaults.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal')")
	flags.String("log-timestamp-format", defaults.Log.TimestampFormat, "the timestamp format to use for log messages ('Unix' or 'ISO8601')")

	return []FlagBinding{
		{Flag: "log-format", Key: "log.format"},
		{Flag: "log-level", Key: "log.level"},
		{Flag: "log-timestamp-format", Key: "log.timestampFormat"},
	}
}

// AddIndexFlags declares the flags selecting and filling the index.
func AddIndexFlags(flags *pflag.FlagSet) []FlagBinding {
	defaults := config.DefaultConfig()

	flags.String("index-engine", defaults.Index.Engine, "the index engine ('memory' or 'sqlite')")
	flags.String("index-uri", defaults.Index.URI, "the sqlite database of the index (e.g. '/var/lib/sieve/index.db')")
	flags.String("index-documents", defaults.Index.Documents, "a JSON lines file loaded into the memory index on start")
	flags.String("index-id-field", defaults.Index.IDField, "the attribute of the JSON documents holding their numeric id")
	flags.StringSlice("index-fields", defaults.Index.Fields, "the searchable attributes of the JSON documents (all the top level strings if omitted)")
	flags.Int("index-max-documents-per-write", defaults.Index.MaxDocumentsPerWrite, "the maximum number of documents written in a single transaction")
	flags.Bool("index-metrics", defaults.Index.Metrics, "export the sqlite connection pool metrics")

	return []FlagBinding{
		{Flag: "index-engine", Key: "index.engine"},
		{Flag: "index-uri", Key: "index.uri"},
		{Flag: "index-documents", Key: "index.documents"},
		{Flag: "index-id-field", Key: "index.idField"},
		{Flag: "index-fields", Key: "index.fields"},
		{Flag: "index-max-documents-per-write", Key: "index.maxDocumentsPerWrite"},
		{Flag: "index-metrics", Key: "index.metrics"},
	}
}

// AddSearchFlags declares the flags changing how queries are interpreted.
func AddSearchFlags(flags *pflag.FlagSet) []FlagBinding {
	defaults := config.DefaultConfig()

	flags.String("search-strategy", defaults.Search.Strategy, "the terms matching strategy of the queries not picking one ('all' or 'last')")
	flags.Int("search-max-limit", defaults.Search.MaxLimit, "the maximum number of hits a search can return")
	flags.Int("search-max-concurrent-reads", defaults.Search.MaxConcurrentReads, "the maximum number of concurrent index reads of a single search")
	flags.StringSlice("search-stop-words", defaults.Search.StopWords, "the words ignored in queries")
	flags.Int("search-ngrams", defaults.Search.NGrams, "the largest number of consecutive query words also matched as a single word")

	flags.Bool("resolve-cache-enabled", defaults.ResolveCache.Enabled, "cache the documents matching query graphs")
	flags.Int64("resolve-cache-max-size", defaults.ResolveCache.MaxSize, "the maximum number of cached query graphs")
	flags.Duration("resolve-cache-ttl", defaults.ResolveCache.TTL, "the duration a query graph result stays cached")
	flags.Bool("document-cache-enabled", defaults.DocumentCache.Enabled, "cache the documents returned by searches")
	flags.Int64("document-cache-max-size", defaults.DocumentCache.MaxSize, "the maximum number of cached documents")
	flags.Duration("document-cache-ttl", defaults.DocumentCache.TTL, "the duration a document stays cached")

	return []FlagBinding{
		{Flag: "search-strategy", Key: "search.strategy"},
		{Flag: "search-max-limit", Key: "search.maxLimit"},
		{Flag: "search-max-concurrent-reads", Key: "search.maxConcurrentReads"},
		{Flag: "search-stop-words", Key: "search.stopWords"},
		{Flag: "search-ngrams", Key: "search.ngrams"},
		{Flag: "resolve-cache-enabled", Key: "resolveCache.enabled"},
		{Flag: "resolve-cache-max-size", Key: "resolveCache.maxSize"},
		{Flag: "resolve-cache-ttl", Key: "resolveCache.ttl"},
		{Flag: "document-cache-enabled", Key: "documentCache.enabled"},
		{Flag: "document-cache-max-size", Key: "documentCache.maxSize"},
		{Flag: "document-cache-ttl", Key: "documentCache.ttl"},
	}
}
