package main

import (
	"context"
	"errors"
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

	"civic/api/internal/app"
	"civic/api/internal/config"
	"civic/api/internal/sweeper"
)

func serveRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun(cfg)
	if err := serve(cfg, logger); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b, err := openBackend(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer b.Close()

	seeds, err := loadSeeds(cfg)
	if err != nil {
		return err
	}
	if err := b.service.Bootstrap(ctx, seeds); err != nil {
		logger.Warn("bootstrap error (will retry on next restart)", "error", err)
	}

	if cfg.SweepInterval > 0 {
		sw := sweeper.New(b.service, sweeper.Config{
			Interval: cfg.SweepInterval,
			LeaseTTL: cfg.SweepLeaseTTL,
			Lease:    b.sweepLease(),
			Logger:   logger.With("component", "sweeper"),
		})
		if err := sw.Start(ctx); err != nil {
			return err
		}
		defer sw.Stop()
	}

	httpServer := app.NewHTTPServer(b.service, app.HTTPConfig{
		CORSOrigin: cfg.CORSOrigin,
		Seeds:      seeds,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:     logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("civic API listening", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the finalization sweeper",
		Run: func(cmd *cobra.Command, args []string) {
			serveRun(cmd, args, configFrom(cmd))
		},
	}
}
