package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/podscout/podscout/internal/core/domain"
)

const matchColumns = `
	id, campaign_id, media_id, score, matched_keywords, ai_reasoning,
	vetting_score, vetting_reasoning, vetting_checklist, best_episode_id,
	status, client_approved_at, created_at, updated_at`

// MatchCreationInput carries everything the match transaction needs so
// it can run without further reads outside the transaction.
type MatchCreationInput struct {
	DiscoveryID       string
	CampaignID        string
	MediaID           int64
	PersonID          int64
	Score             float32
	MatchedKeywords   []string
	Reasoning         string
	VettingScore      int
	VettingReasoning  string
	Checklist         []domain.ChecklistItem
	CampaignEmbedding []float32
	EpisodeTopK       int
	AutoCreated       bool
	AutoWeeklyCap     int
}

// MatchCreationResult reports what the transaction did. Exactly one of
// Match, QuotaExceeded, AlreadyCreated is meaningful.
type MatchCreationResult struct {
	Match          *domain.MatchSuggestion
	ReviewTask     *domain.ReviewTask
	QuotaExceeded  bool
	AlreadyCreated bool
}

// CreateMatch promotes a vetted discovery to a match suggestion in one
// transaction: lock the discovery row, spend quota, pick the best
// episode, insert the suggestion and its review task, then stamp the
// discovery. Either everything lands or nothing does, so quota is never
// burned on a half-created match.
func (db *DB) CreateMatch(ctx context.Context, in MatchCreationInput) (*MatchCreationResult, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var matchCreated bool

	err = tx.QueryRow(ctx, `
		SELECT match_created
		FROM campaign_media_discoveries
		WHERE id = $1
		FOR UPDATE
	`, toUUID(in.DiscoveryID)).Scan(&matchCreated)
	if err != nil {
		return nil, fmt.Errorf("lock discovery for match: %w", err)
	}

	if matchCreated {
		return &MatchCreationResult{AlreadyCreated: true}, nil
	}

	ok, err := spendMatchQuota(ctx, tx, in.PersonID, in.AutoCreated, in.AutoWeeklyCap)
	if err != nil {
		return nil, err
	}

	if !ok {
		return &MatchCreationResult{QuotaExceeded: true}, nil
	}

	bestEpisodeID, err := bestEpisodeForCampaign(ctx, tx, in.MediaID, in.CampaignEmbedding, in.EpisodeTopK)
	if err != nil {
		return nil, err
	}

	match, err := insertMatchSuggestion(ctx, tx, in, bestEpisodeID)
	if err != nil {
		return nil, err
	}

	task, err := insertReviewTask(ctx, tx, domain.TaskTypeMatchSuggestion, match.ID, in.CampaignID, "")
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE campaign_media_discoveries
		SET match_created = true,
			match_suggestion_id = $2,
			review_task_created = true,
			review_task_id = $3,
			updated_at = now()
		WHERE id = $1
	`, toUUID(in.DiscoveryID), toUUID(match.ID), toUUID(task.ID))
	if err != nil {
		return nil, fmt.Errorf("stamp discovery with match: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &MatchCreationResult{Match: match, ReviewTask: task}, nil
}

// spendMatchQuota is the compare-and-swap against the weekly allowance.
// Auto-created matches also count against the per-account automation
// cap. The missing-profile insert keeps first-time accounts working.
func spendMatchQuota(ctx context.Context, tx pgx.Tx, personID int64, auto bool, autoCap int) (bool, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO client_profiles (person_id)
		VALUES ($1)
		ON CONFLICT (person_id) DO NOTHING
	`, personID)
	if err != nil {
		return false, fmt.Errorf("ensure client profile: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE client_profiles
		SET current_weekly_matches = current_weekly_matches + 1,
			auto_weekly_matches = auto_weekly_matches + CASE WHEN $2 THEN 1 ELSE 0 END,
			updated_at = now()
		WHERE person_id = $1
		  AND current_weekly_matches < weekly_match_allowance
		  AND (NOT $2 OR auto_weekly_matches < $3)
	`, personID, auto, autoCap)
	if err != nil {
		return false, fmt.Errorf("spend match quota: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func insertMatchSuggestion(ctx context.Context, tx pgx.Tx, in MatchCreationInput, bestEpisodeID *int64) (*domain.MatchSuggestion, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO match_suggestions (
			campaign_id, media_id, score, matched_keywords, ai_reasoning,
			vetting_score, vetting_reasoning, vetting_checklist, best_episode_id, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+matchColumns+`
	`, toUUID(in.CampaignID), in.MediaID, in.Score, in.MatchedKeywords, SanitizeUTF8(in.Reasoning),
		in.VettingScore, SanitizeUTF8(in.VettingReasoning), marshalJSON(in.Checklist),
		toInt8Ptr(bestEpisodeID), domain.MatchStatusPendingClientReview)

	match, err := scanMatch(row)
	if err != nil {
		return nil, fmt.Errorf("insert match suggestion: %w", err)
	}

	return match, nil
}

func (db *DB) GetMatch(ctx context.Context, id string) (*domain.MatchSuggestion, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+matchColumns+`
		FROM match_suggestions
		WHERE id = $1
	`, toUUID(id))

	match, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates match not found
		}

		return nil, fmt.Errorf("get match: %w", err)
	}

	return match, nil
}

// MatchWithMedia pairs a suggestion with the media fields list views
// render.
type MatchWithMedia struct {
	Match        domain.MatchSuggestion
	MediaName    string
	RSSURL       string
	ContactEmail string
	Category     string
}

func (db *DB) ListMatchesByCampaign(ctx context.Context, campaignID string) ([]MatchWithMedia, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+prefixColumns(matchColumns, "ms.")+`,
		       m.name, COALESCE(m.rss_url, ''), m.contact_email, m.category
		FROM match_suggestions ms
		JOIN media m ON m.id = ms.media_id
		WHERE ms.campaign_id = $1
		ORDER BY ms.created_at DESC
	`, toUUID(campaignID))
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	matches := []MatchWithMedia{}

	for rows.Next() {
		var (
			mm               MatchWithMedia
			id, campaignUUID pgtype.UUID
			checklist        []byte
			bestEpisodeID    pgtype.Int8
			clientApprovedAt pgtype.Timestamptz
		)

		err := rows.Scan(
			&id, &campaignUUID, &mm.Match.MediaID, &mm.Match.Score, &mm.Match.MatchedKeywords,
			&mm.Match.Reasoning, &mm.Match.VettingScore, &mm.Match.VettingReasoning, &checklist,
			&bestEpisodeID, &mm.Match.Status, &clientApprovedAt, &mm.Match.CreatedAt, &mm.Match.UpdatedAt,
			&mm.MediaName, &mm.RSSURL, &mm.ContactEmail, &mm.Category,
		)
		if err != nil {
			return nil, fmt.Errorf("scan match with media: %w", err)
		}

		finishMatchScan(&mm.Match, id, campaignUUID, checklist, bestEpisodeID, clientApprovedAt)

		matches = append(matches, mm)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate matches: %w", rows.Err())
	}

	return matches, nil
}

// SetMatchDecision applies a client approve or reject. The ownership
// join and the pending-status guard make it safe to call straight from
// the API layer; zero rows means not found, not owned, or already
// decided.
func (db *DB) SetMatchDecision(ctx context.Context, matchID string, personID int64, approved bool) (bool, error) {
	status := domain.MatchStatusClientRejected
	if approved {
		status = domain.MatchStatusClientApproved
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE match_suggestions ms
		SET status = $3,
			client_approved_at = CASE WHEN $4 THEN now() ELSE client_approved_at END,
			updated_at = now()
		FROM campaigns c
		WHERE ms.id = $1
		  AND c.id = ms.campaign_id
		  AND c.person_id = $2
		  AND ms.status = $5
	`, toUUID(matchID), personID, status, approved, domain.MatchStatusPendingClientReview)
	if err != nil {
		return false, fmt.Errorf("set match decision: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

type matchRowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row matchRowScanner) (*domain.MatchSuggestion, error) {
	var (
		match            domain.MatchSuggestion
		id, campaignID   pgtype.UUID
		checklist        []byte
		bestEpisodeID    pgtype.Int8
		clientApprovedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &campaignID, &match.MediaID, &match.Score, &match.MatchedKeywords,
		&match.Reasoning, &match.VettingScore, &match.VettingReasoning, &checklist,
		&bestEpisodeID, &match.Status, &clientApprovedAt, &match.CreatedAt, &match.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	finishMatchScan(&match, id, campaignID, checklist, bestEpisodeID, clientApprovedAt)

	return &match, nil
}

func finishMatchScan(match *domain.MatchSuggestion, id, campaignID pgtype.UUID,
	checklist []byte, bestEpisodeID pgtype.Int8, clientApprovedAt pgtype.Timestamptz) {
	match.ID = fromUUID(id)
	match.CampaignID = fromUUID(campaignID)
	match.ClientApprovedAt = fromTimestamptz(clientApprovedAt)

	if bestEpisodeID.Valid {
		v := bestEpisodeID.Int64
		match.BestEpisodeID = &v
	}

	if len(checklist) > 0 {
		_ = json.Unmarshal(checklist, &match.Checklist) //nolint:errcheck // malformed checklist blob degrades to nil
	}
}
