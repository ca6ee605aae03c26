package serve

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sievesearch/sieve/cmd"
	"github.com/sievesearch/sieve/cmd/util"
	"github.com/sievesearch/sieve/internal/config"
	"github.com/sievesearch/sieve/pkg/logger"
)

func TestServeCommandNoConfigDefaultValues(t *testing.T) {
	util.PrepareTempConfigDir(t)
	t.Cleanup(viper.Reset)

	serveCmd := NewServeCommand()
	serveCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := util.ReadConfig()
		require.NoError(t, err)
		defaults := config.DefaultConfig()
		require.Equal(t, defaults.HTTP.Addr, cfg.HTTP.Addr)
		require.Equal(t, defaults.HTTP.RequestTimeout, cfg.HTTP.RequestTimeout)
		require.False(t, cfg.HTTP.TLS.Enabled)
		require.False(t, cfg.Trace.Enabled)
		require.True(t, cfg.Metrics.Enabled)
		require.Equal(t, defaults.Metrics.Addr, cfg.Metrics.Addr)
		require.Equal(t, "memory", cfg.Index.Engine)
		require.Equal(t, "last", cfg.Search.Strategy)
		require.NoError(t, cfg.Verify())
		return nil
	}

	root := cmd.NewRootCommand()
	root.AddCommand(serveCmd)
	root.SetArgs([]string{"serve"})
	require.NoError(t, root.Execute())
}

func TestServeCommandConfigIsMerged(t *testing.T) {
	util.PrepareTempConfigFile(t, `http:
  addr: 127.0.0.1:8080
  requestTimeout: 1s
trace:
  enabled: true
  sampleRatio: 1
search:
  strategy: all
`)
	t.Cleanup(viper.Reset)
	t.Setenv("SIEVE_METRICS_ENABLED", "false")
	t.Setenv("SIEVE_TRACE_OTLP_ENDPOINT", "collector:4317")

	serveCmd := NewServeCommand()
	serveCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := util.ReadConfig()
		require.NoError(t, err)
		require.NoError(t, cfg.Verify())

		require.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
		require.Equal(t, time.Second, cfg.HTTP.RequestTimeout)
		require.True(t, cfg.Trace.Enabled)
		require.InDelta(t, 1.0, cfg.Trace.SampleRatio, 0)
		require.Equal(t, "collector:4317", cfg.Trace.OTLP.Endpoint)
		require.False(t, cfg.Metrics.Enabled)
		require.Equal(t, "all", cfg.Search.Strategy)
		require.Equal(t, []string{"example.com"}, cfg.HTTP.CORSAllowedOrigins)
		return nil
	}

	root := cmd.NewRootCommand()
	root.AddCommand(serveCmd)
	root.SetArgs([]string{"serve", "--http-addr", "127.0.0.1:9090", "--http-cors-allowed-origins", "example.com"})
	require.NoError(t, root.Execute())
}

func TestServeCommandTLSFlagsRequiredTogether(t *testing.T) {
	util.PrepareTempConfigDir(t)
	t.Cleanup(viper.Reset)

	root := cmd.NewRootCommand()
	root.AddCommand(NewServeCommand())
	root.SetArgs([]string{"serve", "--http-tls-enabled"})
	require.Error(t, root.Execute())
}

func TestServerContextRun(t *testing.T) {
	documents := filepath.Join(t.TempDir(), "documents.jsonl")
	require.NoError(t, os.WriteFile(documents, []byte(`{"id": 1, "title": "the quick brown fox"}
{"id": 2, "title": "quick brown dogs"}
`), 0o600))

	cfg := config.MustDefaultConfig()
	cfg.Index.Documents = documents
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = false

	listening := make(chan net.Addr, 1)
	serverCtx := &ServerContext{Logger: logger.NewNoopLogger(), listening: listening}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serverCtx.Run(ctx, cfg)
	}()

	var addr net.Addr
	select {
	case addr = <-listening:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()

	resp, err := client.Get(fmt.Sprintf("http://%s/search?q=quick+fox", addr))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []any{float64(1), float64(2)}, gjson.GetBytes(body, "hits.#.id").Value())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
