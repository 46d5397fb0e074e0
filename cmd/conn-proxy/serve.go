package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"conn-proxy/backend/github"
	"conn-proxy/codec"
	"conn-proxy/middleware"
	"conn-proxy/registry"
	"conn-proxy/server"
)

func newServeCommand() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the persistent endpoint for the configured connection",
		Long: `Run the persistent endpoint in the foreground. It exits after
connect_timeout seconds without calls, on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := optionsFrom(cmd.Context())
			if _, err := codec.ParseCodecType(opts.Codec); err != nil {
				return err
			}
			if socketPath == "" {
				socketPath = socketPathFor(opts)
			}

			logger, closeLog, err := newLogger(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			cfg := server.Config{
				SocketPath: socketPath,
				Connection: opts.Connection,
				Options:    opts,
				Factory: github.NewFactory(github.FactoryConfig{
					BaseURL:        opts.GitHubBaseURL,
					CommandTimeout: opts.CommandTimeoutDuration(),
					Logger:         logger,
				}),
				Logger: logger,
			}

			if len(opts.EtcdEndpoints) > 0 {
				reg, err := registry.NewEtcdRegistry(opts.EtcdEndpoints, logger)
				if err != nil {
					return err
				}
				defer reg.Close()
				cfg.Registry = reg
			}

			svr, err := server.NewServer(cfg)
			if err != nil {
				return err
			}

			metrics := middleware.NewMetrics()
			svr.Use(middleware.LoggingMiddleware(logger))
			svr.Use(metrics.Middleware())
			if opts.RateLimit > 0 {
				svr.Use(middleware.RateLimitMiddleware(opts.RateLimit, opts.RateBurst))
			}
			svr.Use(middleware.TimeoutMiddleware(svr.RequestTimeout))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if opts.MetricsAddr != "" {
				stopMetrics, err := serveMetrics(opts.MetricsAddr, metrics, logger)
				if err != nil {
					return err
				}
				defer stopMetrics()
			}

			return svr.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket-path", "", "listen on this socket instead of the derived one")
	return cmd
}

// serveMetrics exposes the endpoint metrics, plus the Go runtime and
// process collectors, on addr.
func serveMetrics(addr string, metrics *middleware.Metrics, logger *slog.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Annotate(err, "registering metrics")
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint stopped", "addr", addr, "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
