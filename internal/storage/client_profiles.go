package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/podscout/podscout/internal/core/domain"
)

const clientProfileColumns = `
	person_id, plan, weekly_match_allowance, current_weekly_matches,
	daily_discovery_allowance, current_daily_discoveries,
	weekly_discovery_allowance, current_weekly_discoveries,
	auto_weekly_matches, last_weekly_reset, last_daily_reset`

func (db *DB) GetClientProfile(ctx context.Context, personID int64) (*domain.ClientProfile, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+clientProfileColumns+`
		FROM client_profiles
		WHERE person_id = $1
	`, personID)

	profile, err := scanClientProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates profile not found
		}

		return nil, fmt.Errorf("get client profile: %w", err)
	}

	return profile, nil
}

// EnsureClientProfile creates the profile with plan defaults on first
// use and returns the current row either way.
func (db *DB) EnsureClientProfile(ctx context.Context, personID int64) (*domain.ClientProfile, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO client_profiles (person_id)
		VALUES ($1)
		ON CONFLICT (person_id) DO UPDATE SET updated_at = now()
		RETURNING `+clientProfileColumns+`
	`, personID)

	profile, err := scanClientProfile(row)
	if err != nil {
		return nil, fmt.Errorf("ensure client profile: %w", err)
	}

	return profile, nil
}

// SpendDiscoveryQuota reserves n discovery creations against the daily
// and weekly allowances. The daily counter rolls over lazily at UTC
// midnight, so no dedicated reset task is needed for it.
func (db *DB) SpendDiscoveryQuota(ctx context.Context, personID int64, n int) (bool, error) {
	_, err := db.Pool.Exec(ctx, `
		UPDATE client_profiles
		SET current_daily_discoveries = 0,
			last_daily_reset = now(),
			updated_at = now()
		WHERE person_id = $1
		  AND (last_daily_reset IS NULL OR last_daily_reset < date_trunc('day', now()))
	`, personID)
	if err != nil {
		return false, fmt.Errorf("roll over daily discovery counter: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE client_profiles
		SET current_daily_discoveries = current_daily_discoveries + $2,
			current_weekly_discoveries = current_weekly_discoveries + $2,
			updated_at = now()
		WHERE person_id = $1
		  AND current_daily_discoveries + $2 <= daily_discovery_allowance
		  AND current_weekly_discoveries + $2 <= weekly_discovery_allowance
	`, personID, n)
	if err != nil {
		return false, fmt.Errorf("spend discovery quota: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ResetWeeklyCounters zeroes every weekly counter across all profiles.
// Runs from the Monday 00:00 task.
func (db *DB) ResetWeeklyCounters(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE client_profiles
		SET current_weekly_matches = 0,
			auto_weekly_matches = 0,
			current_weekly_discoveries = 0,
			last_weekly_reset = now(),
			updated_at = now()
	`)
	if err != nil {
		return 0, fmt.Errorf("reset weekly counters: %w", err)
	}

	return tag.RowsAffected(), nil
}

type clientProfileRowScanner interface {
	Scan(dest ...any) error
}

func scanClientProfile(row clientProfileRowScanner) (*domain.ClientProfile, error) {
	var (
		profile     domain.ClientProfile
		weeklyReset pgtype.Timestamptz
		dailyReset  pgtype.Timestamptz
	)

	err := row.Scan(
		&profile.PersonID, &profile.Plan, &profile.WeeklyMatchAllowance, &profile.CurrentWeeklyMatches,
		&profile.DailyDiscoveryAllowance, &profile.CurrentDailyDiscoveries,
		&profile.WeeklyDiscoveryAllowance, &profile.CurrentWeeklyDiscoveries,
		&profile.AutoWeeklyMatches, &weeklyReset, &dailyReset,
	)
	if err != nil {
		return nil, err
	}

	profile.LastWeeklyReset = fromTimestamptz(weeklyReset)
	profile.LastDailyReset = fromTimestamptz(dailyReset)

	return &profile, nil
}
