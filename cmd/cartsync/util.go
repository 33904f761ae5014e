package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/cartsync/internal/config"
	"github.com/oriys/cartsync/internal/engine"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/observability"
	"github.com/oriys/cartsync/internal/output"
)

// flushTimeout bounds how long a command waits for its mutations to reach
// the backend before they are parked in the offline queue.
const flushTimeout = 15 * time.Second

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	flags := cmd.Flags()
	if flags.Changed("remote") {
		cfg.Remote.BaseURL = remoteURL
	}
	if flags.Changed("cache-backend") {
		cfg.Cache.Backend = cacheBackend
	}
	if flags.Changed("cache-path") {
		cfg.Cache.Path = cachePath
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
	logging.Activity().SetEnabled(cfg.Logging.ActivityFile != "")
	if cfg.Logging.ActivityFile != "" {
		if err := logging.Activity().SetOutput(cfg.Logging.ActivityFile); err != nil {
			return nil, fmt.Errorf("open activity log: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

func initTracing(ctx context.Context, cfg *config.Config, service string) error {
	return observability.Init(ctx, cfg.Tracing, service)
}

// withEngine opens and mounts an engine, runs fn, then flushes pending
// mutations before closing.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine, p *output.Printer) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := initTracing(ctx, cfg, "cartsync-cli"); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	e, err := engine.Open(ctx, cfg, engine.Options{StartOffline: offline})
	if err != nil {
		return err
	}
	defer logging.Activity().Close()
	defer e.Close()

	e.Mount(ctx, nil)

	if err := fn(ctx, e, output.NewPrinter(output.ParseFormat(outputFormat))); err != nil {
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	e.Unload(fctx)
	return nil
}
