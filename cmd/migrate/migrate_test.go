package migrate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/sievesearch/sieve/cmd"
	"github.com/sievesearch/sieve/cmd/util"
)

const defaultDuration = 1 * time.Minute

func newRootWithMigrate(t *testing.T, migrateCmd *cobra.Command, args ...string) *cobra.Command {
	t.Helper()
	t.Cleanup(viper.Reset)

	root := cmd.NewRootCommand()
	root.AddCommand(migrateCmd)
	root.SetArgs(append([]string{"migrate"}, args...))
	return root
}

func TestMigrateCommandNoConfigDefaultValues(t *testing.T) {
	util.PrepareTempConfigDir(t)
	migrateCmd := NewMigrateCommand()
	migrateCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		require.Empty(t, viper.GetString(indexEngineFlag))
		require.Empty(t, viper.GetString(indexURIFlag))
		require.Equal(t, uint(0), viper.GetUint(versionFlag))
		require.Equal(t, defaultDuration, viper.GetDuration(timeoutFlag))
		require.False(t, viper.GetBool(verboseMigrationFlag))
		require.Equal(t, "text", viper.GetString("log.format"))
		require.Equal(t, "info", viper.GetString("log.level"))
		require.Equal(t, "Unix", viper.GetString("log.timestampFormat"))
		return nil
	}

	require.NoError(t, newRootWithMigrate(t, migrateCmd).Execute())
}

func TestMigrateCommandConfigFileValuesAreParsed(t *testing.T) {
	config := `index:
    engine: sqlite
    uri: /var/lib/sieve/index.db
`
	util.PrepareTempConfigFile(t, config)

	migrateCmd := NewMigrateCommand()
	migrateCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		require.Equal(t, "sqlite", viper.GetString(indexEngineFlag))
		require.Equal(t, "/var/lib/sieve/index.db", viper.GetString(indexURIFlag))
		require.Equal(t, uint(0), viper.GetUint(versionFlag))
		require.Equal(t, defaultDuration, viper.GetDuration(timeoutFlag))
		require.False(t, viper.GetBool(verboseMigrationFlag))
		return nil
	}

	require.NoError(t, newRootWithMigrate(t, migrateCmd).Execute())
}

func TestMigrateCommandConfigIsMerged(t *testing.T) {
	config := `index:
    engine: sqlite
`
	util.PrepareTempConfigFile(t, config)

	t.Setenv("SIEVE_INDEX_URI", "/tmp/other.db")
	t.Setenv("SIEVE_VERBOSE", "true")

	migrateCmd := NewMigrateCommand()
	migrateCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		require.Equal(t, "sqlite", viper.GetString(indexEngineFlag))
		require.Equal(t, "/tmp/other.db", viper.GetString(indexURIFlag))
		require.True(t, viper.GetBool(verboseMigrationFlag))
		return nil
	}

	require.NoError(t, newRootWithMigrate(t, migrateCmd).Execute())
}

func TestMigrateCommandLoggingConfigurationFromEnv(t *testing.T) {
	util.PrepareTempConfigDir(t)

	t.Setenv("SIEVE_LOG_FORMAT", "json")
	t.Setenv("SIEVE_LOG_LEVEL", "debug")
	t.Setenv("SIEVE_LOG_TIMESTAMP_FORMAT", "ISO8601")

	migrateCmd := NewMigrateCommand()
	migrateCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		require.Equal(t, "json", viper.GetString("log.format"))
		require.Equal(t, "debug", viper.GetString("log.level"))
		require.Equal(t, "ISO8601", viper.GetString("log.timestampFormat"))
		return nil
	}

	require.NoError(t, newRootWithMigrate(t, migrateCmd).Execute())
}

func TestMigrateCommandRun(t *testing.T) {
	t.Run("memory_has_no_migrations", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		require.NoError(t, newRootWithMigrate(t, NewMigrateCommand(), "--index-engine", "memory", "--log-level", "none").Execute())
	})

	t.Run("missing_engine", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		err := newRootWithMigrate(t, NewMigrateCommand(), "--log-level", "none").Execute()
		require.EqualError(t, err, "missing index engine type")
	})

	t.Run("unknown_engine", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		err := newRootWithMigrate(t, NewMigrateCommand(), "--index-engine", "elastic", "--log-level", "none").Execute()
		require.EqualError(t, err, "unknown index engine type: elastic")
	})

	t.Run("missing_uri", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		err := newRootWithMigrate(t, NewMigrateCommand(), "--index-engine", "sqlite", "--log-level", "none").Execute()
		require.EqualError(t, err, "missing index uri")
	})

	t.Run("sqlite", func(t *testing.T) {
		util.PrepareTempConfigDir(t)
		uri := filepath.Join(t.TempDir(), "index.db")
		err := newRootWithMigrate(t, NewMigrateCommand(), "--index-engine", "sqlite", "--index-uri", uri, "--timeout", "5s", "--log-level", "none").Execute()
		require.NoError(t, err)
	})
}
