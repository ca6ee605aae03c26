package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sievesearch/sieve/internal/config"
	"github.com/sievesearch/sieve/pkg/engine"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/index/sqlite"
	"github.com/sievesearch/sieve/pkg/logger"
)

const documents = `{"id": 1, "title": "the quick brown fox"}
{"id": 2, "title": "quick brown dogs"}
{"id": 3, "title": "a quick fox", "body": "jumps over the lazy dog"}
`

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func writeDocuments(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "documents.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(documents), 0o600))
	return path
}

func TestMemoryIndexWithDocuments(t *testing.T) {
	ctx := context.Background()
	cfg := config.MustDefaultConfig()
	cfg.Index.Documents = writeDocuments(t)
	cfg.ResolveCache.Enabled = true
	cfg.DocumentCache.Enabled = true

	idx, err := OpenIndex(ctx, cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	defer idx.Close()

	e, closeEngine, err := NewEngine(cfg, idx, logger.NewNoopLogger())
	require.NoError(t, err)
	defer closeEngine()

	result, err := e.Search(ctx, &engine.SearchRequest{Query: "quick fox"})
	require.NoError(t, err)
	require.Len(t, result.Hits, 3)
	require.Equal(t, uint32(1), result.Hits[0].ID)
	require.Equal(t, "last", result.Strategy)
}

func TestMemoryIndexWithMissingDocuments(t *testing.T) {
	cfg := config.MustDefaultConfig()
	cfg.Index.Documents = filepath.Join(t.TempDir(), "missing.jsonl")

	_, err := OpenIndex(context.Background(), cfg, logger.NewNoopLogger())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSqliteIndex(t *testing.T) {
	ctx := context.Background()
	cfg := config.MustDefaultConfig()
	cfg.Index.Engine = "sqlite"
	cfg.Index.URI = filepath.Join(t.TempDir(), "sieve.db")

	_, err := OpenIndex(ctx, cfg, logger.NewNoopLogger())
	require.ErrorIs(t, err, ErrIndexNotReady)

	require.NoError(t, sqlite.NewMigrationProvider().RunMigrations(ctx, index.MigrationConfig{
		Engine:  "sqlite",
		URI:     cfg.Index.URI,
		Timeout: 5 * time.Second,
	}))

	idx, err := OpenIndex(ctx, cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	defer idx.Close()

	n, err := LoadDocuments(ctx, cfg, idx, writeDocuments(t), logger.NewNoopLogger())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	e, closeEngine, err := NewEngine(cfg, idx, logger.NewNoopLogger())
	require.NoError(t, err)
	defer closeEngine()

	result, err := e.Search(ctx, &engine.SearchRequest{Query: "lazy dog", Strategy: "all"})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	require.Equal(t, "jumps over the lazy dog", result.Hits[0].Fields["body"])
}

func TestUnsupportedEngine(t *testing.T) {
	cfg := config.MustDefaultConfig()
	cfg.Index.Engine = "postgres"

	_, err := OpenIndex(context.Background(), cfg, logger.NewNoopLogger())
	require.EqualError(t, err, "index engine 'postgres' is unsupported")
}
