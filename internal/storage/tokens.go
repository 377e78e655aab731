package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PersonIDByToken resolves an opaque access token to its person id.
// Expired and revoked tokens resolve to nothing; the caller treats a
// zero return as unauthenticated.
func (db *DB) PersonIDByToken(ctx context.Context, token string) (int64, error) {
	var personID int64

	err := db.Pool.QueryRow(ctx, `
		SELECT person_id
		FROM access_tokens
		WHERE token = $1
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > now())
	`, token).Scan(&personID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("person id by token: %w", err)
	}

	return personID, nil
}
