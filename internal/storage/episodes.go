package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/podscout/podscout/internal/core/domain"
)

const episodeColumns = `
	id, media_id, source_api, external_id, title, published_at, duration_sec,
	description, audio_url, transcript, ai_summary, themes, keywords, embedding,
	created_at`

// UpsertEpisode inserts or refreshes an episode identified by
// (media_id, source_api, external_id). Transcript and analysis fields
// are never clobbered by a metadata refresh.
func (db *DB) UpsertEpisode(ctx context.Context, e *domain.Episode) (int64, error) {
	var id int64

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO episodes (media_id, source_api, external_id, title, published_at,
		                      duration_sec, description, audio_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (media_id, source_api, external_id) DO UPDATE
		SET title = EXCLUDED.title,
			published_at = coalesce(EXCLUDED.published_at, episodes.published_at),
			duration_sec = GREATEST(episodes.duration_sec, EXCLUDED.duration_sec),
			description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE episodes.description END,
			audio_url = CASE WHEN EXCLUDED.audio_url <> '' THEN EXCLUDED.audio_url ELSE episodes.audio_url END
		RETURNING id
	`, e.MediaID, e.SourceAPI, e.ExternalID, e.Title, toTimestamptz(e.PublishedAt),
		e.DurationSec, e.Description, e.AudioURL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert episode: %w", err)
	}

	return id, nil
}

func (db *DB) RecentEpisodes(ctx context.Context, mediaID int64, limit int) ([]domain.Episode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE media_id = $1
		ORDER BY published_at DESC NULLS LAST
		LIMIT $2
	`, mediaID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	defer rows.Close()

	return collectEpisodes(rows)
}

// EpisodesNeedingTranscription returns the newest episodes of one media
// that have audio but no transcript yet.
func (db *DB) EpisodesNeedingTranscription(ctx context.Context, mediaID int64, limit int) ([]domain.Episode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE media_id = $1
		  AND transcript IS NULL
		  AND audio_url <> ''
		ORDER BY published_at DESC NULLS LAST
		LIMIT $2
	`, mediaID, limit)
	if err != nil {
		return nil, fmt.Errorf("episodes needing transcription: %w", err)
	}
	defer rows.Close()

	return collectEpisodes(rows)
}

// EpisodesPendingTranscription is the cross-media variant used by the
// scheduled transcription sweep: untranscribed episodes whose media is
// referenced by at least one discovery.
func (db *DB) EpisodesPendingTranscription(ctx context.Context, limit int) ([]domain.Episode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+prefixColumns(episodeColumns, "e.")+`
		FROM episodes e
		WHERE e.transcript IS NULL
		  AND e.audio_url <> ''
		  AND EXISTS (
			SELECT 1 FROM campaign_media_discoveries d
			WHERE d.media_id = e.media_id
		  )
		ORDER BY e.published_at DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("episodes pending transcription: %w", err)
	}
	defer rows.Close()

	return collectEpisodes(rows)
}

func (db *DB) SetTranscript(ctx context.Context, episodeID int64, transcript string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET transcript = $2
		WHERE id = $1
	`, episodeID, SanitizeUTF8(transcript))
	if err != nil {
		return fmt.Errorf("set transcript: %w", err)
	}

	return nil
}

func (db *DB) SetEpisodeAnalysis(ctx context.Context, episodeID int64, summary string, themes, keywords []string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET ai_summary = $2,
			themes = $3,
			keywords = $4
		WHERE id = $1
	`, episodeID, SanitizeUTF8(summary), themes, keywords)
	if err != nil {
		return fmt.Errorf("set episode analysis: %w", err)
	}

	return nil
}

func (db *DB) SetEpisodeEmbedding(ctx context.Context, episodeID int64, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	_, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET embedding = $2
		WHERE id = $1
	`, episodeID, vec)
	if err != nil {
		return fmt.Errorf("set episode embedding: %w", err)
	}

	return nil
}

func (db *DB) CountTranscribedEpisodes(ctx context.Context, mediaID int64) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM episodes
		WHERE media_id = $1
		  AND transcript IS NOT NULL
	`, mediaID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transcribed episodes: %w", err)
	}

	return count, nil
}

// BestEpisodeForCampaign picks the episode of a media closest to the
// campaign embedding by cosine distance over the most recent embedded
// episodes, ties broken by publish date. Returns nil when none of the
// recent episodes carry an embedding.
func (db *DB) BestEpisodeForCampaign(ctx context.Context, mediaID int64, campaignEmbedding []float32, recentLimit int) (*int64, error) {
	return bestEpisodeForCampaign(ctx, db.Pool, mediaID, campaignEmbedding, recentLimit)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func bestEpisodeForCampaign(ctx context.Context, q querier, mediaID int64, campaignEmbedding []float32, recentLimit int) (*int64, error) {
	if len(campaignEmbedding) == 0 {
		return nil, nil //nolint:nilnil // no campaign embedding means no best episode
	}

	var id int64

	err := q.QueryRow(ctx, `
		SELECT id
		FROM (
			SELECT id, embedding, published_at
			FROM episodes
			WHERE media_id = $1
			  AND embedding IS NOT NULL
			ORDER BY published_at DESC NULLS LAST
			LIMIT $3
		) recent
		ORDER BY embedding <=> $2::vector, published_at DESC
		LIMIT 1
	`, mediaID, pgvector.NewVector(campaignEmbedding), recentLimit).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // no embedded episodes to rank
		}

		return nil, fmt.Errorf("best episode for campaign: %w", err)
	}

	return &id, nil
}

func collectEpisodes(rows pgx.Rows) ([]domain.Episode, error) {
	episodes := []domain.Episode{}

	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}

		episodes = append(episodes, *e)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate episodes: %w", rows.Err())
	}

	return episodes, nil
}

type episodeRowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row episodeRowScanner) (*domain.Episode, error) {
	var (
		e           domain.Episode
		publishedAt pgtype.Timestamptz
		transcript  pgtype.Text
		embedding   *pgvector.Vector
	)

	if err := row.Scan(
		&e.ID, &e.MediaID, &e.SourceAPI, &e.ExternalID, &e.Title, &publishedAt, &e.DurationSec,
		&e.Description, &e.AudioURL, &transcript, &e.AISummary, &e.Themes, &e.Keywords, &embedding,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}

	e.PublishedAt = fromTimestamptz(publishedAt)
	e.Transcript = fromText(transcript)

	if embedding != nil {
		e.Embedding = embedding.Slice()
	}

	return &e, nil
}
