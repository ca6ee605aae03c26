// Package serve contains the command to run the sieve HTTP search server.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sievesearch/sieve/cmd/util"
	"github.com/sievesearch/sieve/internal/config"
	"github.com/sievesearch/sieve/internal/service"
	"github.com/sievesearch/sieve/pkg/logger"
	"github.com/sievesearch/sieve/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sieve search server",
		Long:  "Run the sieve HTTP search server.",
		RunE:  runServe,
		Args:  cobra.NoArgs,
	}

	defaultConfig := config.DefaultConfig()
	flags := cmd.Flags()

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP server on")
	flags.Bool("http-tls-enabled", defaultConfig.HTTP.TLS.Enabled, "enable/disable transport layer security (TLS)")
	flags.String("http-tls-cert", defaultConfig.HTTP.TLS.CertPath, "the (absolute) file path of the certificate to use for the TLS connection")
	flags.String("http-tls-key", defaultConfig.HTTP.TLS.KeyPath, "the (absolute) file path of the TLS key that should be used for the TLS connection")
	cmd.MarkFlagsRequiredTogether("http-tls-enabled", "http-tls-cert", "http-tls-key")
	flags.Duration("http-request-timeout", defaultConfig.HTTP.RequestTimeout, "the maximum duration of a single search")
	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")
	flags.StringSlice("http-cors-allowed-headers", defaultConfig.HTTP.CORSAllowedHeaders, "specifies the CORS allowed headers")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")
	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")
	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")
	flags.Duration("trace-slow-search-threshold", defaultConfig.Trace.SlowSearchThreshold, "only export the traces of the searches lasting at least this long (all if 0)")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")
	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	cmd.PreRun = util.BindFlagsFunc(
		[]util.FlagBinding{
			{Flag: "http-addr", Key: "http.addr"},
			{Flag: "http-tls-enabled", Key: "http.tls.enabled"},
			{Flag: "http-tls-cert", Key: "http.tls.cert"},
			{Flag: "http-tls-key", Key: "http.tls.key"},
			{Flag: "http-request-timeout", Key: "http.requestTimeout"},
			{Flag: "http-cors-allowed-origins", Key: "http.corsAllowedOrigins"},
			{Flag: "http-cors-allowed-headers", Key: "http.corsAllowedHeaders"},
			{Flag: "trace-enabled", Key: "trace.enabled"},
			{Flag: "trace-otlp-endpoint", Key: "trace.otlp.endpoint"},
			{Flag: "trace-sample-ratio", Key: "trace.sampleRatio"},
			{Flag: "trace-service-name", Key: "trace.serviceName"},
			{Flag: "trace-slow-search-threshold", Key: "trace.slowSearchThreshold"},
			{Flag: "metrics-enabled", Key: "metrics.enabled"},
			{Flag: "metrics-addr", Key: "metrics.addr"},
		},
		util.AddLogFlags(flags),
		util.AddIndexFlags(flags),
		util.AddSearchFlags(flags),
	)

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := util.ReadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Verify(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level, cfg.Log.TimestampFormat)
	if err != nil {
		return err
	}

	serverCtx := &ServerContext{Logger: log}
	return serverCtx.Run(cmd.Context(), cfg)
}

type ServerContext struct {
	Logger logger.Logger

	// listening, when set, receives the address of the HTTP server once it
	// accepts connections.
	listening chan<- net.Addr
}

// telemetryConfig returns the function that must be called to shut down tracing.
func (s *ServerContext) telemetryConfig(cfg *config.Config) func() error {
	if cfg.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("tracing enabled: sampling ratio is %v and sending traces to '%s'", cfg.Trace.SampleRatio, cfg.Trace.OTLP.Endpoint))

		tp := telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(cfg.Trace.OTLP.Endpoint),
			telemetry.WithServiceName(cfg.Trace.ServiceName),
			telemetry.WithSamplingRatio(cfg.Trace.SampleRatio),
			telemetry.WithSlowSearchThreshold(cfg.Trace.SlowSearchThreshold),
		)
		return func() error {
			// flushing the batch span processor can take up to 5 seconds
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return tp.Close(ctx)
		}
	}
	tp := telemetry.SetNoop()
	return func() error {
		return tp.Close(context.Background())
	}
}

func (s *ServerContext) httpServer(cfg *config.Config, handler http.Handler) *http.Server {
	if cfg.Trace.Enabled {
		handler = otelhttp.NewHandler(handler, "sieve-http")
	}

	return &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   cfg.HTTP.CORSAllowedOrigins,
			AllowCredentials: true,
			AllowedHeaders:   cfg.HTTP.CORSAllowedHeaders,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodHead},
		}).Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run serves searches until ctx is done or the process is interrupted, then
// shuts the servers down gracefully.
func (s *ServerContext) Run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(cfg)
	defer func() {
		if err := tracerProviderCloser(); err != nil {
			s.Logger.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	idx, err := service.OpenIndex(ctx, cfg, s.Logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	e, closeEngine, err := service.NewEngine(cfg, idx, s.Logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return err
	}

	httpServer := s.httpServer(cfg, NewHandler(e, idx, s.Logger, cfg.HTTP.RequestTimeout))

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if cfg.HTTP.TLS != nil && cfg.HTTP.TLS.Enabled {
			s.Logger.Info(fmt.Sprintf("starting HTTPS server on '%s'...", listener.Addr()))
			err = httpServer.ServeTLS(listener, cfg.HTTP.TLS.CertPath, cfg.HTTP.TLS.KeyPath)
		} else {
			s.Logger.Warn("HTTP TLS is disabled, serving connections using insecure plaintext")
			s.Logger.Info(fmt.Sprintf("starting HTTP server on '%s'...", listener.Addr()))
			err = httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server closed with unexpected error: %w", err)
		}
		s.Logger.Info("HTTP server shut down.")
		return nil
	})
	if s.listening != nil {
		s.listening <- listener.Addr()
	}

	if metricsServer != nil {
		g.Go(func() error {
			s.Logger.Info(fmt.Sprintf("starting prometheus metrics server on '%s'", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start prometheus metrics server: %w", err)
			}
			s.Logger.Info("metrics server shut down.")
			return nil
		})
	}

	g.Go(func() error {
		// wait for cancellation signal or a server failure
		<-gctx.Done()
		s.Logger.Info("attempting to shutdown gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Info("failed to shutdown the http server", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				s.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	s.Logger.Info("server exited. goodbye")
	return err
}
