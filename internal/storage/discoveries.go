package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/podscout/podscout/internal/core/domain"
)

// minHostConfidence gates vetting: below this the host attribution is
// too uncertain to build evidence on.
const minHostConfidence = 0.8

const discoveryColumns = `
	id, campaign_id, media_id, keyword, enrichment_status, enrichment_error,
	vetting_status, vetting_error, vetting_lock, vetting_score, vetting_reasoning,
	topic_match_analysis, matched_expertise, vetting_criteria, vetting_checklist,
	match_created, match_suggestion_id, review_task_created, review_task_id,
	created_at, updated_at`

// vettingEligibility is the shared predicate for claim and count: the
// discovery is enriched, not yet vetted, and carries enough context for
// the agent to work with.
const vettingEligibility = `
	d.enrichment_status = 'completed'
	AND d.vetting_status = 'pending'
	AND m.ai_description IS NOT NULL
	AND c.ideal_description <> ''
	AND m.host_confidence >= $%d
	AND EXISTS (SELECT 1 FROM episodes e WHERE e.media_id = m.id)`

// VettingWorkItem is a claimed discovery joined with the campaign and
// media context the vetting agent needs.
type VettingWorkItem struct {
	Discovery domain.Discovery
	Campaign  domain.Campaign
	Media     domain.Media
}

// CreateOrGetDiscovery upserts the (campaign, media) discovery row and
// reports whether it was newly inserted. The uniqueness invariant lives
// here: concurrent discovery runs for the same pair converge on one row.
func (db *DB) CreateOrGetDiscovery(ctx context.Context, campaignID string, mediaID int64, keyword string) (*domain.Discovery, bool, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO campaign_media_discoveries (campaign_id, media_id, keyword)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, media_id) DO UPDATE SET updated_at = now()
		RETURNING `+discoveryColumns+`, (xmax = 0) AS inserted
	`, toUUID(campaignID), mediaID, keyword)

	d, inserted, err := scanDiscoveryWithInserted(row)
	if err != nil {
		return nil, false, fmt.Errorf("create or get discovery: %w", err)
	}

	return d, inserted, nil
}

func (db *DB) GetDiscovery(ctx context.Context, id string) (*domain.Discovery, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+discoveryColumns+`
		FROM campaign_media_discoveries
		WHERE id = $1
	`, toUUID(id))

	d, err := scanDiscovery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates discovery not found
		}

		return nil, fmt.Errorf("get discovery: %w", err)
	}

	return d, nil
}

// AcquireVettingBatch atomically claims up to n vetting-eligible
// discoveries. Rows are locked with SKIP LOCKED, moved to in_progress
// and stamped with the lock sentinel in one statement, so parallel
// workers always acquire disjoint sets.
func (db *DB) AcquireVettingBatch(ctx context.Context, n int) ([]VettingWorkItem, error) {
	sentinel := BuildLockSentinel(LockStageVetting)

	rows, err := db.Pool.Query(ctx, `
		WITH picked AS (
			SELECT d.id
			FROM campaign_media_discoveries d
			JOIN media m ON m.id = d.media_id
			JOIN campaigns c ON c.id = d.campaign_id
			WHERE `+fmt.Sprintf(vettingEligibility, 2)+`
			ORDER BY d.created_at
			FOR UPDATE OF d SKIP LOCKED
			LIMIT $1
		),
		updated AS (
			UPDATE campaign_media_discoveries d
			SET vetting_status = $3,
				vetting_lock = $4,
				updated_at = now()
			FROM picked
			WHERE d.id = picked.id
			RETURNING d.*
		)
		SELECT `+prefixColumns(discoveryColumns, "u.")+`,
		       c.person_id, c.name, c.ideal_description, c.questionnaire,
		       m.name, m.description, m.ai_description, m.category, m.language,
		       m.host_names, m.host_confidence, m.contact_email, m.episode_count,
		       m.audience_size, m.quality_score, m.social_urls, m.compiled_summaries
		FROM updated u
		JOIN campaigns c ON c.id = u.campaign_id
		JOIN media m ON m.id = u.media_id
	`, n, minHostConfidence, StatusInProgress, sentinel)
	if err != nil {
		return nil, fmt.Errorf("acquire vetting batch: %w", err)
	}
	defer rows.Close()

	batch := []VettingWorkItem{}

	for rows.Next() {
		item, err := scanVettingWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vetting work item: %w", err)
		}

		batch = append(batch, item)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate vetting batch: %w", rows.Err())
	}

	return batch, nil
}

// AcquireVettingItem claims one specific discovery for vetting. The
// auto-discovery controller uses it to drive a row through the inline
// pipeline. Returns nil when the row is not eligible or another worker
// already holds it.
func (db *DB) AcquireVettingItem(ctx context.Context, discoveryID string) (*VettingWorkItem, error) {
	sentinel := BuildLockSentinel(LockStageVetting)

	row := db.Pool.QueryRow(ctx, `
		WITH picked AS (
			SELECT d.id
			FROM campaign_media_discoveries d
			JOIN media m ON m.id = d.media_id
			JOIN campaigns c ON c.id = d.campaign_id
			WHERE d.id = $1
			  AND `+fmt.Sprintf(vettingEligibility, 2)+`
			FOR UPDATE OF d SKIP LOCKED
		),
		updated AS (
			UPDATE campaign_media_discoveries d
			SET vetting_status = $3,
				vetting_lock = $4,
				updated_at = now()
			FROM picked
			WHERE d.id = picked.id
			RETURNING d.*
		)
		SELECT `+prefixColumns(discoveryColumns, "u.")+`,
		       c.person_id, c.name, c.ideal_description, c.questionnaire,
		       m.name, m.description, m.ai_description, m.category, m.language,
		       m.host_names, m.host_confidence, m.contact_email, m.episode_count,
		       m.audience_size, m.quality_score, m.social_urls, m.compiled_summaries
		FROM updated u
		JOIN campaigns c ON c.id = u.campaign_id
		JOIN media m ON m.id = u.media_id
	`, toUUID(discoveryID), minHostConfidence, StatusInProgress, sentinel)

	item, err := scanVettingWorkItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates the row is not claimable
		}

		return nil, fmt.Errorf("acquire vetting item: %w", err)
	}

	return &item, nil
}

// CountDiscoveriesReadyForVetting reports the size of the eligible
// backlog without claiming anything.
func (db *DB) CountDiscoveriesReadyForVetting(ctx context.Context) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM campaign_media_discoveries d
		JOIN media m ON m.id = d.media_id
		JOIN campaigns c ON c.id = d.campaign_id
		WHERE `+fmt.Sprintf(vettingEligibility, 1)+`
	`, minHostConfidence).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count discoveries ready for vetting: %w", err)
	}

	return count, nil
}

// SaveVettingResult persists the agent output and releases the claim.
// The status guard means a stale worker whose lock was cleaned up can
// no longer write.
func (db *DB) SaveVettingResult(ctx context.Context, discoveryID string, result *domain.VettingResult) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET vetting_status = $2,
			vetting_score = $3,
			vetting_reasoning = $4,
			topic_match_analysis = $5,
			matched_expertise = $6,
			vetting_criteria = $7,
			vetting_checklist = $8,
			vetting_error = '',
			vetting_lock = NULL,
			updated_at = now()
		WHERE id = $1
		  AND vetting_status = $9
	`, toUUID(discoveryID), StatusCompleted, result.Score, SanitizeUTF8(result.Reasoning),
		SanitizeUTF8(result.TopicMatch), result.MatchedExpertise,
		marshalJSON(result.CriteriaScores), marshalJSON(result.Checklist), StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("save vetting result: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkVettingFailed records a failed vetting attempt and releases the
// claim in the same guarded update.
func (db *DB) MarkVettingFailed(ctx context.Context, discoveryID, errMsg string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET vetting_status = $2,
			vetting_error = $3,
			vetting_lock = NULL,
			updated_at = now()
		WHERE id = $1
		  AND vetting_status = $4
	`, toUUID(discoveryID), StatusFailed, errMsg, StatusInProgress)
	if err != nil {
		return fmt.Errorf("mark vetting failed: %w", err)
	}

	return nil
}

// ReleaseVettingLock clears the sentinel and demotes in_progress back to
// pending. Used on cancellation so cleanup never has to run for a
// normally-interrupted worker.
func (db *DB) ReleaseVettingLock(ctx context.Context, discoveryID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET vetting_lock = NULL,
			vetting_status = CASE WHEN vetting_status = $2 THEN $3 ELSE vetting_status END,
			updated_at = now()
		WHERE id = $1
	`, toUUID(discoveryID), StatusInProgress, StatusPending)
	if err != nil {
		return fmt.Errorf("release vetting lock: %w", err)
	}

	return nil
}

// ClaimEnrichment moves a pending discovery to in_progress; the guard
// keeps a single orchestrator per row without a lock column.
func (db *DB) ClaimEnrichment(ctx context.Context, discoveryID string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET enrichment_status = $2, updated_at = now()
		WHERE id = $1
		  AND enrichment_status = $3
	`, toUUID(discoveryID), StatusInProgress, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim enrichment: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (db *DB) CompleteEnrichment(ctx context.Context, discoveryID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET enrichment_status = $2,
			enrichment_error = '',
			updated_at = now()
		WHERE id = $1
	`, toUUID(discoveryID), StatusCompleted)
	if err != nil {
		return fmt.Errorf("complete enrichment: %w", err)
	}

	return nil
}

func (db *DB) FailEnrichment(ctx context.Context, discoveryID, errMsg string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET enrichment_status = $2,
			enrichment_error = $3,
			updated_at = now()
		WHERE id = $1
	`, toUUID(discoveryID), StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("fail enrichment: %w", err)
	}

	return nil
}

func (db *DB) DiscoveriesNeedingEnrichment(ctx context.Context, limit int) ([]domain.Discovery, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+discoveryColumns+`
		FROM campaign_media_discoveries
		WHERE enrichment_status = $1
		ORDER BY created_at
		LIMIT $2
	`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("discoveries needing enrichment: %w", err)
	}
	defer rows.Close()

	return collectDiscoveries(rows)
}

// DiscoveriesReadyForMatch returns vetted discoveries at or above the
// threshold that have not been promoted yet.
func (db *DB) DiscoveriesReadyForMatch(ctx context.Context, threshold, limit int) ([]domain.Discovery, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+discoveryColumns+`
		FROM campaign_media_discoveries
		WHERE vetting_status = $1
		  AND vetting_score >= $2
		  AND NOT match_created
		ORDER BY vetting_score DESC, created_at
		LIMIT $3
	`, StatusCompleted, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("discoveries ready for match: %w", err)
	}
	defer rows.Close()

	return collectDiscoveries(rows)
}

// PendingDiscoveriesForCampaign lists one campaign's discoveries that
// still have pipeline work left: unvetted rows and vetted rows above
// the threshold that were never promoted. The controller walks these
// in creation order so older inventory is matched first.
func (db *DB) PendingDiscoveriesForCampaign(ctx context.Context, campaignID string, threshold, limit int) ([]domain.Discovery, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+discoveryColumns+`
		FROM campaign_media_discoveries
		WHERE campaign_id = $1
		  AND NOT match_created
		  AND (vetting_status = $2
		       OR (vetting_status = $3 AND vetting_score >= $4))
		ORDER BY created_at
		LIMIT $5
	`, toUUID(campaignID), StatusPending, StatusCompleted, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("pending discoveries for campaign: %w", err)
	}
	defer rows.Close()

	return collectDiscoveries(rows)
}

// CleanupStaleLocks clears processing locks older than olderThan for one
// lock stage. Staleness comes from the timestamp embedded in the
// sentinel, falling back to the row's updated_at when the sentinel is
// malformed. The vetting stage additionally demotes in_progress rows
// back to pending. Idempotent: a second call with no intervening work
// clears nothing.
func (db *DB) CleanupStaleLocks(ctx context.Context, stage string, olderThan time.Duration) (int64, error) {
	switch stage {
	case LockStageVetting:
		return db.cleanupStaleVettingLocks(ctx, olderThan)
	case LockStageAIDescription:
		return db.cleanupStaleDescriptionLocks(ctx, olderThan)
	default:
		return 0, fmt.Errorf("cleanup stale locks: unknown stage %q", stage)
	}
}

func (db *DB) cleanupStaleVettingLocks(ctx context.Context, olderThan time.Duration) (int64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, vetting_lock, updated_at
		FROM campaign_media_discoveries
		WHERE vetting_lock IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("list vetting locks: %w", err)
	}

	stale, err := collectStaleLockIDs(rows, olderThan)
	if err != nil {
		return 0, err
	}

	if len(stale) == 0 {
		return 0, nil
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET vetting_lock = NULL,
			vetting_status = CASE WHEN vetting_status = $2 THEN $3 ELSE vetting_status END,
			updated_at = now()
		WHERE id = ANY($1)
	`, stale, StatusInProgress, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("clear stale vetting locks: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (db *DB) cleanupStaleDescriptionLocks(ctx context.Context, olderThan time.Duration) (int64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, description_lock, updated_at
		FROM media
		WHERE description_lock IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("list description locks: %w", err)
	}

	stale, err := collectStaleMediaLockIDs(rows, olderThan)
	if err != nil {
		return 0, err
	}

	if len(stale) == 0 {
		return 0, nil
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE media
		SET description_lock = NULL,
			updated_at = now()
		WHERE id = ANY($1)
	`, stale)
	if err != nil {
		return 0, fmt.Errorf("clear stale description locks: %w", err)
	}

	return tag.RowsAffected(), nil
}

func collectStaleLockIDs(rows pgx.Rows, olderThan time.Duration) ([]pgtype.UUID, error) {
	defer rows.Close()

	cutoff := time.Now().Add(-olderThan)
	stale := []pgtype.UUID{}

	for rows.Next() {
		var (
			id        pgtype.UUID
			lock      string
			updatedAt time.Time
		)

		if err := rows.Scan(&id, &lock, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan lock row: %w", err)
		}

		if lockIsStale(lock, updatedAt, cutoff) {
			stale = append(stale, id)
		}
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate lock rows: %w", rows.Err())
	}

	return stale, nil
}

func collectStaleMediaLockIDs(rows pgx.Rows, olderThan time.Duration) ([]int64, error) {
	defer rows.Close()

	cutoff := time.Now().Add(-olderThan)
	stale := []int64{}

	for rows.Next() {
		var (
			id        int64
			lock      string
			updatedAt time.Time
		)

		if err := rows.Scan(&id, &lock, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan lock row: %w", err)
		}

		if lockIsStale(lock, updatedAt, cutoff) {
			stale = append(stale, id)
		}
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate lock rows: %w", rows.Err())
	}

	return stale, nil
}

func lockIsStale(sentinel string, updatedAt, cutoff time.Time) bool {
	if ts, ok := ParseLockSentinelTime(sentinel); ok {
		return ts.Before(cutoff)
	}

	return updatedAt.Before(cutoff)
}

// AdvanceStuckDiscoveries completes discoveries whose media was already
// enriched but whose status never advanced (> stuckFor old). Returns
// found and fixed counts for the health report.
func (db *DB) AdvanceStuckDiscoveries(ctx context.Context, stuckFor time.Duration) (int64, int64, error) {
	cutoff := time.Now().Add(-stuckFor)

	var found int64

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM campaign_media_discoveries d
		JOIN media m ON m.id = d.media_id
		WHERE d.enrichment_status IN ($1, $2)
		  AND m.last_enriched_at IS NOT NULL
		  AND d.updated_at < $3
	`, StatusPending, StatusInProgress, cutoff).Scan(&found)
	if err != nil {
		return 0, 0, fmt.Errorf("count stuck discoveries: %w", err)
	}

	if found == 0 {
		return 0, 0, nil
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries d
		SET enrichment_status = $1,
			enrichment_error = '',
			updated_at = now()
		FROM media m
		WHERE m.id = d.media_id
		  AND d.enrichment_status IN ($2, $3)
		  AND m.last_enriched_at IS NOT NULL
		  AND d.updated_at < $4
	`, StatusCompleted, StatusPending, StatusInProgress, cutoff)
	if err != nil {
		return found, 0, fmt.Errorf("advance stuck discoveries: %w", err)
	}

	return found, tag.RowsAffected(), nil
}

// ResetTransientVettingFailures returns old failed vetting rows with
// transient-looking errors to pending so the next vetting run retries
// them.
func (db *DB) ResetTransientVettingFailures(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET vetting_status = $1,
			vetting_error = '',
			updated_at = now()
		WHERE vetting_status = $2
		  AND updated_at < $3
		  AND vetting_error ~* 'timeout|timed out|rate limit|temporar|connection|unavailable|transient|circuit'
	`, StatusPending, StatusFailed, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reset transient vetting failures: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ResetRejectedForCampaign reopens vetting for a campaign after its
// profile was edited: completed-but-unmatched and failed discoveries go
// back to pending with their previous verdict cleared.
func (db *DB) ResetRejectedForCampaign(ctx context.Context, campaignID string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET vetting_status = $2,
			vetting_score = NULL,
			vetting_reasoning = '',
			topic_match_analysis = '',
			matched_expertise = '{}',
			vetting_criteria = NULL,
			vetting_checklist = NULL,
			vetting_error = '',
			updated_at = now()
		WHERE campaign_id = $1
		  AND NOT match_created
		  AND vetting_status IN ($3, $4)
	`, toUUID(campaignID), StatusPending, StatusCompleted, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("reset rejected for campaign: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DiscoveryStatusCounts aggregates pipeline progress for one campaign.
type DiscoveryStatusCounts struct {
	Total          int
	Enrichment     map[string]int
	Vetting        map[string]int
	MatchesCreated int
}

func (db *DB) GetDiscoveryStatusCounts(ctx context.Context, campaignID string) (*DiscoveryStatusCounts, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT enrichment_status, vetting_status, match_created, COUNT(*)
		FROM campaign_media_discoveries
		WHERE campaign_id = $1
		GROUP BY enrichment_status, vetting_status, match_created
	`, toUUID(campaignID))
	if err != nil {
		return nil, fmt.Errorf("get discovery status counts: %w", err)
	}
	defer rows.Close()

	counts := &DiscoveryStatusCounts{
		Enrichment: map[string]int{},
		Vetting:    map[string]int{},
	}

	for rows.Next() {
		var (
			enrichment   string
			vetting      string
			matchCreated bool
			n            int
		)

		if err := rows.Scan(&enrichment, &vetting, &matchCreated, &n); err != nil {
			return nil, fmt.Errorf("scan status counts: %w", err)
		}

		counts.Total += n
		counts.Enrichment[enrichment] += n
		counts.Vetting[vetting] += n

		if matchCreated {
			counts.MatchesCreated += n
		}
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate status counts: %w", rows.Err())
	}

	return counts, nil
}

func collectDiscoveries(rows pgx.Rows) ([]domain.Discovery, error) {
	discoveries := []domain.Discovery{}

	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}

		discoveries = append(discoveries, *d)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate discoveries: %w", rows.Err())
	}

	return discoveries, nil
}

type discoveryRowScanner interface {
	Scan(dest ...any) error
}

func discoveryScanDests(d *domain.Discovery, id, campaignID, matchID, taskID *pgtype.UUID,
	lock *pgtype.Text, score *pgtype.Int4, criteria, checklist *[]byte) []any {
	return []any{
		id, campaignID, &d.MediaID, &d.Keyword, &d.EnrichmentStatus, &d.EnrichmentError,
		&d.VettingStatus, &d.VettingError, lock, score, &d.VettingReasoning,
		&d.TopicMatch, &d.MatchedExpertise, criteria, checklist,
		&d.MatchCreated, matchID, &d.ReviewTaskCreated, taskID,
		&d.CreatedAt, &d.UpdatedAt,
	}
}

func finishDiscoveryScan(d *domain.Discovery, id, campaignID, matchID, taskID pgtype.UUID,
	lock pgtype.Text, score pgtype.Int4, criteria, checklist []byte) {
	d.ID = fromUUID(id)
	d.CampaignID = fromUUID(campaignID)
	d.MatchSuggestionID = fromUUID(matchID)
	d.ReviewTaskID = fromUUID(taskID)
	d.VettingLock = fromText(lock)
	d.VettingScore = fromInt4(score)

	if len(criteria) > 0 {
		_ = json.Unmarshal(criteria, &d.CriteriaScores) //nolint:errcheck // malformed criteria blob degrades to nil
	}

	if len(checklist) > 0 {
		_ = json.Unmarshal(checklist, &d.Checklist) //nolint:errcheck // malformed checklist blob degrades to nil
	}
}

func scanDiscovery(row discoveryRowScanner) (*domain.Discovery, error) {
	var (
		d                   domain.Discovery
		id, campaignID      pgtype.UUID
		matchID, taskID     pgtype.UUID
		lock                pgtype.Text
		score               pgtype.Int4
		criteria, checklist []byte
	)

	if err := row.Scan(discoveryScanDests(&d, &id, &campaignID, &matchID, &taskID, &lock, &score, &criteria, &checklist)...); err != nil {
		return nil, err
	}

	finishDiscoveryScan(&d, id, campaignID, matchID, taskID, lock, score, criteria, checklist)

	return &d, nil
}

func scanDiscoveryWithInserted(row discoveryRowScanner) (*domain.Discovery, bool, error) {
	var (
		d                   domain.Discovery
		id, campaignID      pgtype.UUID
		matchID, taskID     pgtype.UUID
		lock                pgtype.Text
		score               pgtype.Int4
		criteria, checklist []byte
		inserted            bool
	)

	dests := discoveryScanDests(&d, &id, &campaignID, &matchID, &taskID, &lock, &score, &criteria, &checklist)
	dests = append(dests, &inserted)

	if err := row.Scan(dests...); err != nil {
		return nil, false, err
	}

	finishDiscoveryScan(&d, id, campaignID, matchID, taskID, lock, score, criteria, checklist)

	return &d, inserted, nil
}

func scanVettingWorkItem(row discoveryRowScanner) (VettingWorkItem, error) {
	var (
		item                VettingWorkItem
		id, campaignID      pgtype.UUID
		matchID, taskID     pgtype.UUID
		lock                pgtype.Text
		score               pgtype.Int4
		criteria, checklist []byte
		questionnaire       []byte
		aiDescription       pgtype.Text
		qualityScore        pgtype.Float4
	)

	dests := discoveryScanDests(&item.Discovery, &id, &campaignID, &matchID, &taskID, &lock, &score, &criteria, &checklist)
	dests = append(dests,
		&item.Campaign.PersonID, &item.Campaign.Name, &item.Campaign.IdealDescription, &questionnaire,
		&item.Media.Name, &item.Media.Description, &aiDescription, &item.Media.Category, &item.Media.Language,
		&item.Media.HostNames, &item.Media.HostConfidence, &item.Media.ContactEmail, &item.Media.EpisodeCount,
		&item.Media.AudienceSize, &qualityScore, &item.Media.SocialURLs, &item.Media.CompiledSummaries,
	)

	if err := row.Scan(dests...); err != nil {
		return VettingWorkItem{}, err
	}

	finishDiscoveryScan(&item.Discovery, id, campaignID, matchID, taskID, lock, score, criteria, checklist)

	item.Campaign.ID = item.Discovery.CampaignID
	item.Media.ID = item.Discovery.MediaID
	item.Media.AIDescription = fromText(aiDescription)
	item.Media.QualityScore = fromFloat4(qualityScore)

	if len(questionnaire) > 0 {
		q := &domain.Questionnaire{}
		if err := json.Unmarshal(questionnaire, q); err == nil {
			item.Campaign.Questionnaire = q
		}
	}

	return item, nil
}
