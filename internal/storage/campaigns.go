package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/podscout/podscout/internal/core/domain"
)

const campaignColumns = `
	id, person_id, name, keywords, ideal_description, questionnaire, embedding,
	auto_discovery_enabled, auto_discovery_status, auto_discovery_last_run,
	auto_discovery_last_heartbeat, auto_discovery_error, auto_discovery_progress,
	created_at, updated_at`

func (db *DB) CreateCampaign(ctx context.Context, c *domain.Campaign) (string, error) {
	var id pgtype.UUID

	var embedding any
	if len(c.Embedding) > 0 {
		embedding = pgvector.NewVector(c.Embedding)
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO campaigns (person_id, name, keywords, ideal_description, questionnaire,
		                       embedding, auto_discovery_enabled, auto_discovery_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, c.PersonID, c.Name, c.Keywords, c.IdealDescription, marshalJSON(c.Questionnaire),
		embedding, c.AutoDiscovery.Enabled, defaultAutoStatus(c)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}

	return fromUUID(id), nil
}

func defaultAutoStatus(c *domain.Campaign) string {
	if c.AutoDiscovery.Status != "" {
		return c.AutoDiscovery.Status
	}

	if c.AutoDiscovery.Enabled {
		return domain.AutoStatusPending
	}

	return domain.AutoStatusDisabled
}

func (db *DB) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, toUUID(id))

	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates campaign not found
		}

		return nil, fmt.Errorf("get campaign: %w", err)
	}

	return c, nil
}

// SetCampaignEmbedding stores the ideal-description embedding used for
// best-episode cosine matching.
func (db *DB) SetCampaignEmbedding(ctx context.Context, id string, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	_, err := db.Pool.Exec(ctx, `
		UPDATE campaigns
		SET embedding = $2, updated_at = now()
		WHERE id = $1
	`, toUUID(id), vec)
	if err != nil {
		return fmt.Errorf("set campaign embedding: %w", err)
	}

	return nil
}

// SetAutoDiscoveryEnabled toggles the auto pipeline for a campaign.
// Enabling moves a disabled campaign to pending; disabling always
// returns it to disabled.
func (db *DB) SetAutoDiscoveryEnabled(ctx context.Context, id string, enabled bool) error {
	var err error
	if enabled {
		_, err = db.Pool.Exec(ctx, `
			UPDATE campaigns
			SET auto_discovery_enabled = true,
				auto_discovery_status = CASE WHEN auto_discovery_status = $2 THEN $3 ELSE auto_discovery_status END,
				updated_at = now()
			WHERE id = $1
		`, toUUID(id), domain.AutoStatusDisabled, domain.AutoStatusPending)
	} else {
		_, err = db.Pool.Exec(ctx, `
			UPDATE campaigns
			SET auto_discovery_enabled = false,
				auto_discovery_status = $2,
				updated_at = now()
			WHERE id = $1
		`, toUUID(id), domain.AutoStatusDisabled)
	}

	if err != nil {
		return fmt.Errorf("set auto discovery enabled: %w", err)
	}

	return nil
}

// StartAutoDiscoveryRun transitions a campaign to running, stamping
// last_run and last_heartbeat and clearing any previous error. The
// status guard makes concurrent sweeps safe: only one caller wins.
func (db *DB) StartAutoDiscoveryRun(ctx context.Context, id string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE campaigns
		SET auto_discovery_status = $2,
			auto_discovery_last_run = now(),
			auto_discovery_last_heartbeat = now(),
			auto_discovery_error = '',
			updated_at = now()
		WHERE id = $1
		  AND auto_discovery_status <> $2
	`, toUUID(id), domain.AutoStatusRunning)
	if err != nil {
		return false, fmt.Errorf("start auto discovery run: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// UpdateAutoDiscoveryHeartbeat stamps last_heartbeat for a running campaign.
func (db *DB) UpdateAutoDiscoveryHeartbeat(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE campaigns
		SET auto_discovery_last_heartbeat = now()
		WHERE id = $1
		  AND auto_discovery_status = $2
	`, toUUID(id), domain.AutoStatusRunning)
	if err != nil {
		return fmt.Errorf("update auto discovery heartbeat: %w", err)
	}

	return nil
}

// UpdateAutoDiscoveryProgress writes the progress JSON blob for a run.
func (db *DB) UpdateAutoDiscoveryProgress(ctx context.Context, id string, progress domain.Progress) error {
	progress.UpdatedAt = time.Now().UTC()

	_, err := db.Pool.Exec(ctx, `
		UPDATE campaigns
		SET auto_discovery_progress = $2, updated_at = now()
		WHERE id = $1
	`, toUUID(id), marshalJSON(progress))
	if err != nil {
		return fmt.Errorf("update auto discovery progress: %w", err)
	}

	return nil
}

// FinishAutoDiscoveryRun records the terminal status of a run
// (completed, paused or error) together with an optional error message.
func (db *DB) FinishAutoDiscoveryRun(ctx context.Context, id, status, errMsg string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE campaigns
		SET auto_discovery_status = $2,
			auto_discovery_error = $3,
			updated_at = now()
		WHERE id = $1
	`, toUUID(id), status, errMsg)
	if err != nil {
		return fmt.Errorf("finish auto discovery run: %w", err)
	}

	return nil
}

// AutoDiscoveryCandidates returns enabled campaigns eligible for a sweep:
// not currently running or disabled, with error rows included only after
// the retry cutoff. Ordering (paid first, least-recent run, newest) is
// applied by the controller, which joins profiles.
func (db *DB) AutoDiscoveryCandidates(ctx context.Context, errorRetryCutoff time.Time) ([]domain.Campaign, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE auto_discovery_enabled
		  AND auto_discovery_status NOT IN ($1, $2)
		  AND (auto_discovery_status <> $3 OR coalesce(auto_discovery_last_run, created_at) < $4)
	`, domain.AutoStatusRunning, domain.AutoStatusDisabled, domain.AutoStatusError, errorRetryCutoff)
	if err != nil {
		return nil, fmt.Errorf("auto discovery candidates: %w", err)
	}
	defer rows.Close()

	campaigns := []domain.Campaign{}

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}

		campaigns = append(campaigns, *c)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", rows.Err())
	}

	return campaigns, nil
}

// RecoverStaleAutoDiscovery resets crashed or stuck campaigns to pending:
// running rows whose heartbeat or run stamp is too old, and error rows
// older than the error cutoff. Returns the ids of recovered campaigns so
// the caller can audit-log them.
func (db *DB) RecoverStaleAutoDiscovery(ctx context.Context, heartbeatCutoff, lastRunCutoff, errorCutoff time.Time) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE campaigns
		SET auto_discovery_status = $1,
			auto_discovery_error = '',
			updated_at = now()
		WHERE (auto_discovery_status = $2
		       AND (coalesce(auto_discovery_last_heartbeat, 'epoch'::timestamptz) < $3
		            OR coalesce(auto_discovery_last_run, 'epoch'::timestamptz) < $4))
		   OR (auto_discovery_status = $5
		       AND coalesce(auto_discovery_last_run, created_at) < $6)
		RETURNING id
	`, domain.AutoStatusPending, domain.AutoStatusRunning, heartbeatCutoff, lastRunCutoff,
		domain.AutoStatusError, errorCutoff)
	if err != nil {
		return nil, fmt.Errorf("recover stale auto discovery: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recovered campaign id: %w", err)
		}

		ids = append(ids, fromUUID(id))
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate recovered campaigns: %w", rows.Err())
	}

	return ids, nil
}

type campaignRowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row campaignRowScanner) (*domain.Campaign, error) {
	var (
		c             domain.Campaign
		id            pgtype.UUID
		questionnaire []byte
		embedding     *pgvector.Vector
		lastRun       pgtype.Timestamptz
		lastHeartbeat pgtype.Timestamptz
		progress      []byte
	)

	if err := row.Scan(
		&id, &c.PersonID, &c.Name, &c.Keywords, &c.IdealDescription, &questionnaire, &embedding,
		&c.AutoDiscovery.Enabled, &c.AutoDiscovery.Status, &lastRun,
		&lastHeartbeat, &c.AutoDiscovery.Error, &progress,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.ID = fromUUID(id)
	c.AutoDiscovery.LastRun = fromTimestamptz(lastRun)
	c.AutoDiscovery.LastHeartbeat = fromTimestamptz(lastHeartbeat)

	if embedding != nil {
		c.Embedding = embedding.Slice()
	}

	if len(questionnaire) > 0 {
		q := &domain.Questionnaire{}
		if err := json.Unmarshal(questionnaire, q); err == nil {
			c.Questionnaire = q
		}
	}

	if len(progress) > 0 {
		_ = json.Unmarshal(progress, &c.AutoDiscovery.Progress) //nolint:errcheck // malformed progress blob degrades to zero value
	}

	return &c, nil
}
