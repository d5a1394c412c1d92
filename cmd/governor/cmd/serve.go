package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	httpadapter "github.com/governed/governor/internal/adapter/inbound/http"
	"github.com/governed/governor/internal/config"
	"github.com/governed/governor/internal/wiring"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status/metrics surface for an embedded engine",
	Long: `Start a long-running HTTP listener exposing /health and /metrics for
an engine instance, without accepting hook events itself.

This is for deployments where governor runs as a sidecar and the engine's
Evaluate is invoked in-process by a host; the serve command only surfaces
observability for that engine's persisted state (trust store, audit log)
and is not required for governor evaluate to work.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address for /health and /metrics")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	built, err := wiring.Build(ctx, cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := built.Engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() { _ = built.Engine.Stop(context.Background()) }()

	statusFn := func() (bool, int, bool) {
		status := built.Engine.GetStatus()
		return status.Enabled, status.PolicyCount, status.AuditEnabled
	}
	healthChecker := httpadapter.NewHealthChecker(statusFn, built.Audit, Version)

	mux := http.NewServeMux()
	mux.Handle("/health", healthChecker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{Addr: serveAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("governor serve listening", "addr", serveAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
