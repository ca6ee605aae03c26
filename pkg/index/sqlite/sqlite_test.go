package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/index/test"
)

// newMigratedIndex returns an index backed by a fresh database file with the
// latest schema.
func newMigratedIndex(t *testing.T, opts ...ConfigOption) *Index {
	t.Helper()
	uri := filepath.Join(t.TempDir(), "index.sqlite")

	err := NewMigrationProvider().RunMigrations(context.Background(), index.MigrationConfig{
		Engine:  engine,
		URI:     uri,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	idx, err := New(uri, NewConfig(opts...))
	require.NoError(t, err)
	return idx
}

func TestSQLiteIndex(t *testing.T) {
	test.RunAllTests(t, func(t *testing.T) index.Index {
		return newMigratedIndex(t)
	})
}

func TestSQLiteIndexPersists(t *testing.T) {
	ctx := context.Background()
	uri := filepath.Join(t.TempDir(), "index.sqlite")
	require.NoError(t, NewMigrationProvider().RunMigrations(ctx, index.MigrationConfig{URI: uri, Timeout: 5 * time.Second}))

	idx, err := New(uri, NewConfig())
	require.NoError(t, err)
	require.NoError(t, idx.WriteDocuments(ctx, test.Corpus()))
	idx.Close()

	reopened, err := New(uri, NewConfig())
	require.NoError(t, err)
	defer reopened.Close()

	docids, err := reopened.WordDocids(ctx, "brown")
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 5}, docids.ToArray())
}

func TestSQLiteIndexNotMigratedIsNotReady(t *testing.T) {
	idx, err := New(filepath.Join(t.TempDir(), "index.sqlite"), NewConfig())
	require.NoError(t, err)
	defer idx.Close()

	status, err := idx.IsReady(context.Background())
	require.NoError(t, err)
	require.False(t, status.IsReady)
	require.Contains(t, status.Message, "sieve migrate")
}

func TestSQLiteIndexAfterCloseIsNotReady(t *testing.T) {
	idx := newMigratedIndex(t)
	idx.Close()
	idx.Close()

	status, err := idx.IsReady(context.Background())
	require.ErrorIs(t, err, index.ErrClosed)
	require.False(t, status.IsReady)
}

func TestSQLiteIndexWithMetrics(t *testing.T) {
	idx := newMigratedIndex(t, WithMetrics())
	defer idx.Close()

	require.NotNil(t, idx.dbStatsCollector)
}

func TestWriteBatchLimit(t *testing.T) {
	idx := newMigratedIndex(t, WithMaxDocumentsPerWrite(1))
	defer idx.Close()

	err := idx.WriteDocuments(context.Background(), test.Corpus())
	require.ErrorIs(t, err, index.ErrExceededWriteBatchLimit)
}

func TestPrepareDSN(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "defaults",
			uri:      "file:index.db",
			expected: "file:index.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%28100%29&_txlock=immediate",
		},
		{
			name:     "keeps_explicit_pragmas",
			uri:      "file:index.db?_pragma=journal_mode(DELETE)&_pragma=busy_timeout(5)&_txlock=deferred",
			expected: "file:index.db?_pragma=journal_mode%28DELETE%29&_pragma=busy_timeout%285%29&_txlock=deferred",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dsn, err := PrepareDSN(test.uri)
			require.NoError(t, err)
			require.Equal(t, test.expected, dsn)
		})
	}

	_, err := PrepareDSN("file:index.db?%zz")
	require.Error(t, err)
}
