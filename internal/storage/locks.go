package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock pins one pooled connection for the lifetime of a
// session advisory lock. Session locks belong to the connection that
// took them, so the connection must not return to the pool while the
// lock is held.
type AdvisoryLock struct {
	id   int64
	conn *pgxpool.Conn
}

// TryAdvisoryLock takes a session advisory lock without blocking. It
// returns (nil, nil) when another session already holds the lock. The
// caller must Release the returned lock when done.
func (db *DB) TryAdvisoryLock(ctx context.Context, lockID int64) (*AdvisoryLock, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		conn.Release()

		return nil, fmt.Errorf("try advisory lock %d: %w", lockID, err)
	}

	if !acquired {
		conn.Release()

		return nil, nil
	}

	return &AdvisoryLock{id: lockID, conn: conn}, nil
}

// WaitAdvisoryLock blocks until the session advisory lock is granted.
// The caller must Release the returned lock when done.
func (db *DB) WaitAdvisoryLock(ctx context.Context, lockID int64) (*AdvisoryLock, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		conn.Release()

		return nil, fmt.Errorf("advisory lock %d: %w", lockID, err)
	}

	return &AdvisoryLock{id: lockID, conn: conn}, nil
}

// Release unlocks and returns the pinned connection to the pool. Safe
// to call on a nil lock and safe to call twice. If the unlock fails
// the connection is closed instead of pooled, so the lock dies with
// the session rather than leaking on a reusable connection.
func (l *AdvisoryLock) Release(ctx context.Context) {
	if l == nil || l.conn == nil {
		return
	}

	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.id); err != nil {
		_ = l.conn.Conn().Close(ctx)
	}

	l.conn.Release()
	l.conn = nil
}
