package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"civic/api/internal/auth"
	"civic/api/internal/config"
	"civic/api/internal/rbac"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := configFrom(cmd)
			logger := commonRun(cfg)
			if cfg.StoreBackend != config.StoreBackendPostgres {
				slog.Error("migrate requires the postgres store", "store", cfg.StoreBackend)
				os.Exit(1)
			}
			conn, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			_ = conn.Close()
			logger.Info("migrations up to date")
		},
	}
}

func seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the seed laws when the ledger is empty",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := configFrom(cmd)
			logger := commonRun(cfg)
			seeds, err := loadSeeds(cfg)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			b, err := openBackend(cmd.Context(), cfg, logger, prometheus.NewRegistry())
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			defer b.Close()
			result, err := b.service.SeedLaws(cmd.Context(), seeds)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			logger.Info("seed finished", "created", result.Created, "count", result.Count)
		},
	}
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Finalize every law whose voting window elapsed, once",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := configFrom(cmd)
			logger := commonRun(cfg)
			b, err := openBackend(cmd.Context(), cfg, logger, prometheus.NewRegistry())
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			defer b.Close()
			closed, err := b.service.Sweep(cmd.Context())
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			logger.Info("sweep finished", "closed", closed)
		},
	}
}

func tokenCommand() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			normalized := rbac.Normalize(role)
			if string(normalized) != role && role != "" {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), userID, string(normalized), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the token subject")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleCitizen), "role: citizen, viewer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
