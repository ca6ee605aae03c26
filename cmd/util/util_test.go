package util

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestMustBindPFlag(t *testing.T) {
	t.Cleanup(viper.Reset)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	MustBindPFlag("log.level", flags.Lookup("log-level"))
	require.NoError(t, flags.Parse([]string{"--log-level", "debug"}))

	require.Equal(t, "debug", viper.GetString("log.level"))
	require.Panics(t, func() { MustBindPFlag("log.level", nil) })
}

func TestMustBindEnv(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("SIEVE_LOG_FORMAT", "json")

	MustBindEnv("log.format", "SIEVE_LOG_FORMAT")
	require.Equal(t, "json", viper.GetString("log.format"))
	require.Panics(t, func() { MustBindEnv() })
}

func configureViper() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.sieve")
}

func TestReadConfig(t *testing.T) {
	t.Run("defaults_without_config_file", func(t *testing.T) {
		t.Cleanup(viper.Reset)
		PrepareTempConfigDir(t)
		configureViper()

		cfg, err := ReadConfig()
		require.NoError(t, err)
		require.Equal(t, "memory", cfg.Index.Engine)
		require.Equal(t, "last", cfg.Search.Strategy)
	})

	t.Run("config_file", func(t *testing.T) {
		t.Cleanup(viper.Reset)
		PrepareTempConfigFile(t, `index:
  engine: sqlite
  uri: /tmp/sieve.db
search:
  strategy: all
  stopWords: [the, a]
  synonyms:
    car: [auto]
resolveCache:
  enabled: true
  ttl: 30s
log:
  level: debug
`)
		configureViper()

		cfg, err := ReadConfig()
		require.NoError(t, err)
		require.NoError(t, cfg.Verify())
		require.Equal(t, "sqlite", cfg.Index.Engine)
		require.Equal(t, "/tmp/sieve.db", cfg.Index.URI)
		require.Equal(t, "all", cfg.Search.Strategy)
		require.Equal(t, []string{"the", "a"}, cfg.Search.StopWords)
		require.Equal(t, map[string][]string{"car": {"auto"}}, cfg.Search.Synonyms)
		require.True(t, cfg.ResolveCache.Enabled)
		require.Equal(t, "30s", cfg.ResolveCache.TTL.String())
		require.Equal(t, "debug", cfg.Log.Level)
	})
}

func TestBindFlagsFunc(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("SIEVE_SEARCH_STRATEGY", "all")

	command := &cobra.Command{Use: "test", Run: func(*cobra.Command, []string) {}}
	flags := command.Flags()
	bindings := [][]FlagBinding{AddLogFlags(flags), AddIndexFlags(flags), AddSearchFlags(flags)}
	command.PreRun = BindFlagsFunc(bindings...)
	command.SetArgs([]string{"--index-engine", "sqlite", "--index-fields", "title,body", "--resolve-cache-ttl", "1m"})
	require.NoError(t, command.Execute())

	require.Equal(t, "sqlite", viper.GetString("index.engine"))
	require.Equal(t, []string{"title", "body"}, viper.GetStringSlice("index.fields"))
	require.Equal(t, "1m0s", viper.GetDuration("resolveCache.ttl").String())
	require.Equal(t, "all", viper.GetString("search.strategy"))
	require.Equal(t, "info", viper.GetString("log.level"))
	require.Equal(t, "SIEVE_INDEX_MAX_DOCUMENTS_PER_WRITE", FlagBinding{Flag: "index-max-documents-per-write"}.Env())
}
