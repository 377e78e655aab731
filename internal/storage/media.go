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

const mediaColumns = `
	id, rss_url, source_ids, name, description, ai_description, host_names,
	host_confidence, contact_email, category, language, episode_count,
	audience_size, quality_score, social_urls, compiled_summaries,
	description_lock, last_enriched_at, created_at, updated_at`

func (db *DB) GetMedia(ctx context.Context, id int64) (*domain.Media, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+mediaColumns+`
		FROM media
		WHERE id = $1
	`, id)

	m, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates media not found
		}

		return nil, fmt.Errorf("get media: %w", err)
	}

	return m, nil
}

func (db *DB) GetMediaByRSS(ctx context.Context, rssURL string) (*domain.Media, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+mediaColumns+`
		FROM media
		WHERE rss_url = $1
	`, rssURL)

	m, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates media not found
		}

		return nil, fmt.Errorf("get media by rss: %w", err)
	}

	return m, nil
}

func (db *DB) GetMediaBySourceID(ctx context.Context, source, externalID string) (*domain.Media, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+mediaColumns+`
		FROM media
		WHERE source_ids ->> $1 = $2
	`, source, externalID)

	m, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates media not found
		}

		return nil, fmt.Errorf("get media by source id: %w", err)
	}

	return m, nil
}

// CreateMedia inserts a new media row. When the RSS URL is already
// known the existing row is updated instead, so concurrent discovery
// runs converge on one canonical row per feed.
func (db *DB) CreateMedia(ctx context.Context, m *domain.Media) (int64, error) {
	var id int64

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO media (rss_url, source_ids, name, description, host_names, host_confidence,
		                   contact_email, category, language, episode_count, audience_size, social_urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (rss_url) DO UPDATE
		SET source_ids = media.source_ids || EXCLUDED.source_ids,
			contact_email = CASE WHEN media.contact_email = '' THEN EXCLUDED.contact_email ELSE media.contact_email END,
			episode_count = GREATEST(media.episode_count, EXCLUDED.episode_count),
			updated_at = now()
		RETURNING id
	`, toText(m.RSSURL), marshalSourceIDs(m.SourceIDs), m.Name, m.Description,
		m.HostNames, m.HostConfidence, m.ContactEmail, m.Category, m.Language,
		m.EpisodeCount, m.AudienceSize, m.SocialURLs).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create media: %w", err)
	}

	return id, nil
}

// UpdateMediaProfile merges enrichment fields onto an existing row and
// stamps last_enriched_at. Empty incoming values never clobber data
// already present.
func (db *DB) UpdateMediaProfile(ctx context.Context, m *domain.Media) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE media
		SET source_ids = source_ids || $2,
			name = CASE WHEN $3 <> '' THEN $3 ELSE name END,
			description = CASE WHEN $4 <> '' THEN $4 ELSE description END,
			host_names = CASE WHEN cardinality($5::text[]) > 0 THEN $5 ELSE host_names END,
			host_confidence = GREATEST(host_confidence, $6),
			contact_email = CASE WHEN contact_email = '' THEN $7 ELSE contact_email END,
			category = CASE WHEN $8 <> '' THEN $8 ELSE category END,
			language = CASE WHEN $9 <> '' THEN $9 ELSE language END,
			episode_count = GREATEST(episode_count, $10),
			audience_size = GREATEST(audience_size, $11),
			social_urls = CASE WHEN cardinality($12::text[]) > 0 THEN $12 ELSE social_urls END,
			last_enriched_at = now(),
			updated_at = now()
		WHERE id = $1
	`, m.ID, marshalSourceIDs(m.SourceIDs), m.Name, m.Description, m.HostNames,
		m.HostConfidence, m.ContactEmail, m.Category, m.Language, m.EpisodeCount,
		m.AudienceSize, m.SocialURLs)
	if err != nil {
		return fmt.Errorf("update media profile: %w", err)
	}

	return nil
}

// MergeMediaSourceID records an additional (source, external id) pair
// discovered through cross-source promotion.
func (db *DB) MergeMediaSourceID(ctx context.Context, id int64, source, externalID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE media
		SET source_ids = source_ids || jsonb_build_object($2::text, $3::text),
			updated_at = now()
		WHERE id = $1
	`, id, source, externalID)
	if err != nil {
		return fmt.Errorf("merge media source id: %w", err)
	}

	return nil
}

// AcquireDescriptionBatch claims up to n media rows missing an AI
// description, stamping the lock sentinel so duplicate LLM spend is
// impossible across parallel workers.
func (db *DB) AcquireDescriptionBatch(ctx context.Context, n int) ([]domain.Media, error) {
	sentinel := BuildLockSentinel(LockStageAIDescription)

	rows, err := db.Pool.Query(ctx, `
		WITH picked AS (
			SELECT id
			FROM media
			WHERE ai_description IS NULL
			  AND description_lock IS NULL
			ORDER BY last_enriched_at DESC NULLS LAST
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		),
		updated AS (
			UPDATE media m
			SET description_lock = $2,
				updated_at = now()
			FROM picked
			WHERE m.id = picked.id
			RETURNING `+prefixColumns(mediaColumns, "m.")+`
		)
		SELECT * FROM updated
	`, n, sentinel)
	if err != nil {
		return nil, fmt.Errorf("acquire description batch: %w", err)
	}
	defer rows.Close()

	batch := []domain.Media{}

	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed media: %w", err)
		}

		batch = append(batch, *m)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate claimed media: %w", rows.Err())
	}

	return batch, nil
}

// ClaimDescription takes the description lock for one specific media
// row. Returns false when a description already exists or another
// worker holds the lock.
func (db *DB) ClaimDescription(ctx context.Context, mediaID int64) (bool, error) {
	sentinel := BuildLockSentinel(LockStageAIDescription)

	tag, err := db.Pool.Exec(ctx, `
		UPDATE media
		SET description_lock = $2,
			updated_at = now()
		WHERE id = $1
		  AND ai_description IS NULL
		  AND description_lock IS NULL
	`, mediaID, sentinel)
	if err != nil {
		return false, fmt.Errorf("claim description: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SetAIDescription writes the generated description and releases the
// claim lock in the same statement.
func (db *DB) SetAIDescription(ctx context.Context, mediaID int64, description string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE media
		SET ai_description = $2,
			description_lock = NULL,
			updated_at = now()
		WHERE id = $1
	`, mediaID, description)
	if err != nil {
		return fmt.Errorf("set ai description: %w", err)
	}

	return nil
}

// ReleaseDescriptionLock clears the claim lock without writing a
// description (the failure branch of the description worker).
func (db *DB) ReleaseDescriptionLock(ctx context.Context, mediaID int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE media
		SET description_lock = NULL,
			updated_at = now()
		WHERE id = $1
	`, mediaID)
	if err != nil {
		return fmt.Errorf("release description lock: %w", err)
	}

	return nil
}

func (db *DB) SetQualityScore(ctx context.Context, mediaID int64, score float32) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE media
		SET quality_score = $2, updated_at = now()
		WHERE id = $1
	`, mediaID, score)
	if err != nil {
		return fmt.Errorf("set quality score: %w", err)
	}

	return nil
}

// CompileEpisodeSummaries concatenates the newest episode summaries
// (publish date descending, blank ones skipped) into the media-level
// blob consumed by description generation and vetting. Returns the
// compiled text.
func (db *DB) CompileEpisodeSummaries(ctx context.Context, mediaID int64, limit int) (string, error) {
	var compiled pgtype.Text

	err := db.Pool.QueryRow(ctx, `
		UPDATE media
		SET compiled_summaries = coalesce((
			SELECT string_agg(e.ai_summary, E'\n\n---\n\n' ORDER BY e.published_at DESC)
			FROM (
				SELECT ai_summary, published_at
				FROM episodes
				WHERE media_id = $1
				  AND ai_summary <> ''
				ORDER BY published_at DESC
				LIMIT $2
			) e
		), ''),
			updated_at = now()
		WHERE id = $1
		RETURNING compiled_summaries
	`, mediaID, limit).Scan(&compiled)
	if err != nil {
		return "", fmt.Errorf("compile episode summaries: %w", err)
	}

	return fromText(compiled), nil
}

// MediaNeedingEpisodeSync lists media referenced by at least one
// discovery whose newest known episode predates staleBefore. The daily
// episode sync refreshes these catalogs.
func (db *DB) MediaNeedingEpisodeSync(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Media, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+prefixColumns(mediaColumns, "m.")+`
		FROM media m
		WHERE EXISTS (
			SELECT 1 FROM campaign_media_discoveries d
			WHERE d.media_id = m.id
		  )
		  AND coalesce((
			SELECT max(e.published_at)
			FROM episodes e
			WHERE e.media_id = m.id
		  ), 'epoch'::timestamptz) < $1
		ORDER BY m.updated_at
		LIMIT $2
	`, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("media needing episode sync: %w", err)
	}
	defer rows.Close()

	batch := []domain.Media{}

	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}

		batch = append(batch, *m)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate media: %w", rows.Err())
	}

	return batch, nil
}

// MediaMissingCompiledSummaries lists media that have episode summaries
// but an empty compiled blob (the health checker repairs these).
func (db *DB) MediaMissingCompiledSummaries(ctx context.Context, limit int) ([]int64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT m.id
		FROM media m
		WHERE m.compiled_summaries = ''
		  AND EXISTS (
			SELECT 1 FROM episodes e
			WHERE e.media_id = m.id AND e.ai_summary <> ''
		  )
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("media missing compiled summaries: %w", err)
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan media id: %w", err)
		}

		ids = append(ids, id)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate media ids: %w", rows.Err())
	}

	return ids, nil
}

func marshalSourceIDs(ids map[string]string) []byte {
	if ids == nil {
		return []byte("{}")
	}

	return marshalJSON(ids)
}

type mediaRowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row mediaRowScanner) (*domain.Media, error) {
	var (
		m              domain.Media
		rssURL         pgtype.Text
		sourceIDs      []byte
		aiDescription  pgtype.Text
		qualityScore   pgtype.Float4
		lock           pgtype.Text
		lastEnrichedAt pgtype.Timestamptz
	)

	if err := row.Scan(
		&m.ID, &rssURL, &sourceIDs, &m.Name, &m.Description, &aiDescription, &m.HostNames,
		&m.HostConfidence, &m.ContactEmail, &m.Category, &m.Language, &m.EpisodeCount,
		&m.AudienceSize, &qualityScore, &m.SocialURLs, &m.CompiledSummaries,
		&lock, &lastEnrichedAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m.RSSURL = fromText(rssURL)
	m.AIDescription = fromText(aiDescription)
	m.QualityScore = fromFloat4(qualityScore)
	m.DescriptionLock = fromText(lock)
	m.LastEnrichedAt = fromTimestamptz(lastEnrichedAt)

	if len(sourceIDs) > 0 {
		_ = json.Unmarshal(sourceIDs, &m.SourceIDs) //nolint:errcheck // malformed source_ids blob degrades to nil map
	}

	return &m, nil
}
