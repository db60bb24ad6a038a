package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/config"
	"github.com/sipico/comms-gateway/internal/metrics"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Long: "Run the gateway HTTP server and the metrics listener.\n\n" +
			"SIGINT and SIGTERM drain in-flight requests and exit. SIGHUP reloads\n" +
			"the content filters from the database.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.ErrOrStderr())
		},
	}
}

// runServe runs the gateway until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logOutput io.Writer) error {
	c, err := initializeComponents(cfg, logOutput)
	if err != nil {
		return err
	}
	defer c.store.Close() //nolint:errcheck

	go c.watchReload(ctx)

	if cfg.MetricsListenAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.MetricsListenAddr,
			Handler:           metricsMux(c),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			c.logger.Info("metrics listening", "addr", cfg.MetricsListenAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				c.logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	if err := c.server.Run(ctx, cfg.ListenAddr); err != nil {
		return err
	}
	c.logger.Info("gateway stopped")
	return nil
}

func metricsMux(c *components) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(c.registry))
	mux.HandleFunc("/ready", readyHandler(c))
	return mux
}

// readyHandler reports whether the database answers.
func readyHandler(c *components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := c.store.Ping(ctx); err != nil {
			c.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			//nolint:errcheck // Response write errors are unrecoverable
			fmt.Fprint(w, `{"status":"not_ready"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // Response write errors are unrecoverable
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}

// watchReload reloads the content filters on SIGHUP until ctx is done.
func (c *components) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := c.reloadFilters(ctx); err != nil {
				c.logger.Error("filter reload failed", "error", err)
			}
		}
	}
}
