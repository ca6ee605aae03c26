package index

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/sievesearch/sieve/cmd"
	"github.com/sievesearch/sieve/cmd/util"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/index/sqlite"
)

const documents = `{"id": 1, "title": "the quick brown fox"}
{"id": 2, "title": "quick brown dogs"}
`

func executeIndex(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	root := cmd.NewRootCommand()
	root.AddCommand(NewIndexCommand())
	root.SetOut(&out)
	root.SetArgs(append([]string{"index", "--log-level", "none"}, args...))
	err := root.Execute()
	return out.String(), err
}

func migratedIndex(t *testing.T) string {
	t.Helper()
	uri := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, sqlite.NewMigrationProvider().RunMigrations(context.Background(), index.MigrationConfig{
		Engine:  "sqlite",
		URI:     uri,
		Timeout: 5 * time.Second,
	}))
	return uri
}

func TestIndexCommand(t *testing.T) {
	util.PrepareTempConfigDir(t)
	uri := migratedIndex(t)

	path := filepath.Join(t.TempDir(), "documents.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(documents), 0o600))

	out, err := executeIndex(t, "--index-engine", "sqlite", "--index-uri", uri, path)
	require.NoError(t, err)
	require.Equal(t, "indexed 2 document(s)\n", out)

	out, err = executeIndex(t, "--index-engine", "sqlite", "--index-uri", uri, "--delete", "2")
	require.NoError(t, err)
	require.Equal(t, "deleted 1 document(s)\n", out)

	idx, err := sqlite.New(uri, sqlite.NewConfig())
	require.NoError(t, err)
	defer idx.Close()

	ids, err := idx.DocumentIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, ids.ToArray())
}

func TestIndexCommandErrors(t *testing.T) {
	t.Run("nothing_to_do", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		_, err := executeIndex(t, "--index-engine", "sqlite", "--index-uri", "index.db")
		require.EqualError(t, err, "nothing to do: pass a documents file or --delete")
	})

	t.Run("memory_engine", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		_, err := executeIndex(t, "documents.jsonl")
		require.EqualError(t, err, "the memory index does not persist documents, use the sqlite engine")
	})

	t.Run("not_migrated", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		uri := filepath.Join(t.TempDir(), "index.db")
		_, err := executeIndex(t, "--index-engine", "sqlite", "--index-uri", uri, "documents.jsonl")
		require.Error(t, err)
		require.Contains(t, err.Error(), "index is not ready")
	})

	t.Run("too_many_arguments", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		_, err := executeIndex(t, "a.jsonl", "b.jsonl")
		require.Error(t, err)
	})
}
