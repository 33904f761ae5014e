package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/cartsync/internal/api"
	"github.com/oriys/cartsync/internal/config"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/observability"
	"github.com/oriys/cartsync/internal/store"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr      string
		storage       string
		pgDSN         string
		mirrorCookies bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference remote backend store",
		Long:  "Serve the cart and bookmark API over HTTP, persisted in memory, Postgres or Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("storage") {
				cfg.Daemon.Storage = storage
			}
			if cmd.Flags().Changed("pg-dsn") {
				cfg.Postgres.DSN = pgDSN
			}

			ctx := context.Background()
			if err := initTracing(ctx, cfg, "cartsync-backend"); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			metrics.InitPrometheus("cartsync", nil)

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			server := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Store:           s,
				MirrorCookies:   mirrorCookies,
				CookieMaxAge:    cfg.Sync.CookieMaxAge(),
				CookieSizeLimit: cfg.Sync.CookieSizeLimitBytes,
			})
			logging.Op().Info("backend store listening",
				"addr", cfg.Daemon.HTTPAddr,
				"storage", cfg.Daemon.Storage)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&storage, "storage", "memory", "Persistence: memory, postgres, redis")
	cmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN")
	cmd.Flags().BoolVar(&mirrorCookies, "mirror-cookies", false, "Answer mutations with the cookie projection")

	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (store.CartStore, error) {
	switch cfg.Daemon.Storage {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Postgres.DSN)
	case "redis":
		return store.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix+"store:")
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Daemon.Storage)
	}
}
