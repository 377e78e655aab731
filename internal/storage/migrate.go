package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/podscout/podscout/migrations"
)

// migrationLockID serializes goose across replicas. Arbitrary, but it
// must stay the same between releases.
const migrationLockID int64 = 7541

// gooseLog routes goose output through zerolog.
type gooseLog struct {
	log *zerolog.Logger
}

func (g gooseLog) Printf(format string, v ...interface{}) {
	g.log.Info().Str("component", "goose").Msgf(format, v...)
}

func (g gooseLog) Fatalf(format string, v ...interface{}) {
	g.log.Fatal().Str("component", "goose").Msgf(format, v...)
}

// Migrate brings the schema up to date with the embedded goose
// migrations. Replicas racing at boot queue on a session advisory lock
// and find nothing left to apply once the winner finishes.
func (db *DB) Migrate(ctx context.Context) error {
	lock, err := db.WaitAdvisoryLock(ctx, migrationLockID)
	if err != nil {
		return fmt.Errorf("serialize migrations: %w", err)
	}
	defer lock.Release(ctx)

	// goose speaks database/sql, not pgx.
	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer func() { _ = sqlDB.Close() }()

	goose.SetLogger(gooseLog{log: db.Logger})
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	if err := goose.Up(sqlDB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
