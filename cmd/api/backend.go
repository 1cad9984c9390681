package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"civic/api/db"
	"civic/api/internal/app"
	"civic/api/internal/config"
	"civic/api/internal/events"
	"civic/api/internal/lease"
	"civic/api/internal/metrics"
	"civic/api/internal/store"
)

// backend bundles the service with the connections it was built on.
type backend struct {
	service *app.Service
	redis   *redis.Client
	closers []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func migrationsFS(cfg *config.Config) fs.FS {
	if strings.TrimSpace(cfg.MigrationsDir) != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return db.Migrations()
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	conn, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, conn, migrationsFS(cfg))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	for _, version := range applied {
		logger.Info("applied migration", "version", version)
	}
	return conn, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*backend, error) {
	b := &backend{}
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithMetrics(metrics.New(reg)),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := lease.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.closers = append(b.closers, client.Close)
		opts = append(opts, app.WithPublisher(events.NewStreamPublisher(client, cfg.OutcomeStream)))
		logger.Info("publishing law outcomes", "stream", cfg.OutcomeStream)
	}

	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		memStore := store.NewMemoryStore()
		b.service = app.New(*cfg, memStore, memStore, opts...)
	default:
		conn, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, conn.Close)
		pgStore := store.NewPostgresStore(conn)
		b.service = app.New(*cfg, pgStore, pgStore, opts...)
	}
	return b, nil
}

// sweepLease picks the Redis lease when Redis is configured so only one
// replica sweeps at a time.
func (b *backend) sweepLease() lease.Lease {
	if b.redis == nil {
		return lease.Local{}
	}
	owner, _ := os.Hostname()
	return lease.NewRedisLease(b.redis, "", fmt.Sprintf("%s:%d", owner, os.Getpid()))
}

func loadSeeds(cfg *config.Config) ([]app.LawSeed, error) {
	if strings.TrimSpace(cfg.SeedFile) == "" {
		return app.DefaultSeeds(), nil
	}
	return app.LoadSeeds(cfg.SeedFile)
}
