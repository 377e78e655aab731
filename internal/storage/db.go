// Package db is the PostgreSQL persistence layer. One *DB wraps a pgx
// pool and carries the repository methods for every table the pipeline
// touches: campaigns, media, episodes, discoveries, matches, review
// tasks, client profiles and LLM usage.
//
// Queries are hand-written SQL executed through pgx. Batch stages claim
// their work with FOR UPDATE SKIP LOCKED so parallel workers never pick
// up the same row twice, and long-running stages mark rows with
// sentinel locks that survive restarts.
package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Boot retry policy. The app usually starts before the database is
// routable, so Connect rides out the gap instead of crash-looping.
const (
	maxConnectAttempts = 10
	connectRetryDelay  = 2 * time.Second
)

// DB bundles the pgx pool with a logger. All repository methods hang
// off it.
type DB struct {
	Pool   *pgxpool.Pool
	Logger *zerolog.Logger
}

// PoolOptions tunes the pgx pool. Zero fields keep the pgx defaults.
//
// StatementTimeout, when set, is installed as a session runtime
// parameter on every connection. The background pool runs with a long
// timeout (>= 30 min) so batch passes are never cancelled mid-run; the
// foreground pool leaves it unset.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
	StatementTimeout  time.Duration
}

func (o PoolOptions) configure(cfg *pgxpool.Config) {
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}

	if o.MinConns > 0 {
		cfg.MinConns = o.MinConns
	}

	if o.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = o.MaxConnIdleTime
	}

	if o.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = o.MaxConnLifetime
	}

	if o.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = o.HealthCheckPeriod
	}

	if o.StatementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] =
			strconv.FormatInt(o.StatementTimeout.Milliseconds(), 10)
	}
}

// Connect opens a pool for the DSN and verifies it with a ping,
// retrying while the database comes up.
func Connect(ctx context.Context, dsn string, opts PoolOptions, logger *zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	opts.configure(cfg)

	for attempt := 1; ; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return &DB{Pool: pool, Logger: logger}, nil
			}

			pool.Close()
		}

		if attempt == maxConnectAttempts {
			return nil, fmt.Errorf("connect to postgres after %d attempts: %w", attempt, err)
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("postgres not ready, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
