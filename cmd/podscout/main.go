// Command podscout runs the outreach pipeline. One binary serves every
// role: --mode picks between the HTTP API, the stage workers, the
// scheduler, or all three in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/app"
	"github.com/podscout/podscout/internal/platform/config"
	db "github.com/podscout/podscout/internal/storage"
)

func main() {
	mode := flag.String("mode", "", "api, worker, scheduler or all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "podscout: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, &logger, *mode)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Str("mode", *mode).Msg("podscout exited")
	}

	logger.Info().Msg("podscout stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, mode string) error {
	foreground, err := db.Connect(ctx, cfg.PostgresDSN, requestPool(cfg), logger)
	if err != nil {
		return fmt.Errorf("connect request pool: %w", err)
	}
	defer foreground.Close()

	// Batch work gets its own pool with a long statement timeout so a
	// slow pass can neither starve request handlers nor be cancelled
	// mid-run by the server-side timeout.
	background, err := db.Connect(ctx, cfg.PostgresDSN, batchPool(cfg), logger)
	if err != nil {
		return fmt.Errorf("connect batch pool: %w", err)
	}
	defer background.Close()

	if err = foreground.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	application := app.New(cfg, foreground, background, logger)

	// The health endpoints stay up for every mode.
	go func() {
		if err := application.StartHealthServer(ctx); err != nil {
			logger.Error().Err(err).Msg("health server failed")
		}
	}()

	switch mode {
	case "api":
		return application.RunAPI(ctx)
	case "worker":
		return application.RunWorker(ctx)
	case "scheduler":
		return application.RunScheduler(ctx)
	case "all":
		return application.RunAll(ctx)
	}

	return fmt.Errorf("unknown mode %q, want api, worker, scheduler or all", mode)
}

func requestPool(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:          cfg.DBMaxConnections,
		MinConns:          cfg.DBMinConnections,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	}
}

func batchPool(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:          cfg.DBBackgroundMaxConnections,
		MinConns:          cfg.DBBackgroundMinConnections,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
		StatementTimeout:  cfg.DBBackgroundStatementTimeout,
	}
}

// newLogger writes JSON in deployed environments and pretty console
// lines locally.
func newLogger(env string) zerolog.Logger {
	var out io.Writer = os.Stderr
	if env == "local" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
