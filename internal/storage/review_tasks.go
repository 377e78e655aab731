package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/podscout/podscout/internal/core/domain"
)

const reviewTaskColumns = `
	id, task_type, related_id, campaign_id, status, notes, created_at, updated_at`

func insertReviewTask(ctx context.Context, q querier, taskType, relatedID, campaignID, notes string) (*domain.ReviewTask, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO review_tasks (task_type, related_id, campaign_id, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING `+reviewTaskColumns+`
	`, taskType, relatedID, toUUID(campaignID), SanitizeUTF8(notes))

	task, err := scanReviewTask(row)
	if err != nil {
		return nil, fmt.Errorf("insert review task: %w", err)
	}

	return task, nil
}

// CreateReviewTask opens a task for the human review queue. relatedID is
// the entity the task points at; its table is picked by taskType.
func (db *DB) CreateReviewTask(ctx context.Context, taskType, relatedID, campaignID, notes string) (*domain.ReviewTask, error) {
	return insertReviewTask(ctx, db.Pool, taskType, relatedID, campaignID, notes)
}

func (db *DB) GetReviewTask(ctx context.Context, id string) (*domain.ReviewTask, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+reviewTaskColumns+`
		FROM review_tasks
		WHERE id = $1
	`, toUUID(id))

	task, err := scanReviewTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates review task not found
		}

		return nil, fmt.Errorf("get review task: %w", err)
	}

	return task, nil
}

// ListReviewTasks pages through the queue, newest first. Empty status
// means all statuses; a zero personID means all owners, otherwise only
// tasks whose campaign belongs to that person are returned.
func (db *DB) ListReviewTasks(ctx context.Context, personID int64, status string, limit, offset int) ([]domain.ReviewTask, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+reviewTaskColumns+`
		FROM review_tasks
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = 0 OR campaign_id IN (SELECT id FROM campaigns WHERE person_id = $2))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, status, personID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list review tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.ReviewTask{}

	for rows.Next() {
		task, err := scanReviewTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review task: %w", err)
		}

		tasks = append(tasks, *task)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate review tasks: %w", rows.Err())
	}

	return tasks, nil
}

func (db *DB) CountReviewTasks(ctx context.Context, personID int64, status string) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM review_tasks
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = 0 OR campaign_id IN (SELECT id FROM campaigns WHERE person_id = $2))
	`, status, personID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count review tasks: %w", err)
	}

	return count, nil
}

func (db *DB) UpdateReviewTaskStatus(ctx context.Context, id, status, notes string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE review_tasks
		SET status = $2,
			notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END,
			updated_at = now()
		WHERE id = $1
	`, toUUID(id), status, SanitizeUTF8(notes))
	if err != nil {
		return false, fmt.Errorf("update review task status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// HydratedReviewTask adds the context a reviewer needs to act on a task
// without opening the referenced entity.
type HydratedReviewTask struct {
	Task         domain.ReviewTask
	CampaignName string
	MediaID      int64
	MediaName    string
	Score        int
}

// HydrateReviewTasks resolves task references in batches: one query per
// referenced table, never one per task.
func (db *DB) HydrateReviewTasks(ctx context.Context, tasks []domain.ReviewTask) ([]HydratedReviewTask, error) {
	if len(tasks) == 0 {
		return []HydratedReviewTask{}, nil
	}

	campaignIDs := make([]string, 0, len(tasks))
	matchIDs := []string{}
	discoveryIDs := []string{}

	for _, t := range tasks {
		campaignIDs = append(campaignIDs, t.CampaignID)

		switch t.TaskType {
		case domain.TaskTypeMatchSuggestion, domain.TaskTypePitchReview:
			matchIDs = append(matchIDs, t.RelatedID)
		case domain.TaskTypeMatchVetting:
			discoveryIDs = append(discoveryIDs, t.RelatedID)
		}
	}

	campaignNames, err := db.campaignNamesByID(ctx, campaignIDs)
	if err != nil {
		return nil, err
	}

	matchRefs, err := db.matchRefsByID(ctx, matchIDs)
	if err != nil {
		return nil, err
	}

	discoveryRefs, err := db.discoveryRefsByID(ctx, discoveryIDs)
	if err != nil {
		return nil, err
	}

	hydrated := make([]HydratedReviewTask, 0, len(tasks))

	for _, t := range tasks {
		h := HydratedReviewTask{Task: t, CampaignName: campaignNames[t.CampaignID]}

		switch t.TaskType {
		case domain.TaskTypeMatchSuggestion, domain.TaskTypePitchReview:
			if ref, ok := matchRefs[t.RelatedID]; ok {
				h.MediaID = ref.mediaID
				h.MediaName = ref.mediaName
				h.Score = ref.score
			}
		case domain.TaskTypeMatchVetting:
			if ref, ok := discoveryRefs[t.RelatedID]; ok {
				h.MediaID = ref.mediaID
				h.MediaName = ref.mediaName
				h.Score = ref.score
			}
		}

		hydrated = append(hydrated, h)
	}

	return hydrated, nil
}

func (db *DB) campaignNamesByID(ctx context.Context, ids []string) (map[string]string, error) {
	names := map[string]string{}

	parsed := parseUUIDs(ids)
	if len(parsed) == 0 {
		return names, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, name
		FROM campaigns
		WHERE id = ANY($1)
	`, parsed)
	if err != nil {
		return nil, fmt.Errorf("campaign names by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   pgtype.UUID
			name string
		)

		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan campaign name: %w", err)
		}

		names[fromUUID(id)] = name
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate campaign names: %w", rows.Err())
	}

	return names, nil
}

type taskRef struct {
	mediaID   int64
	mediaName string
	score     int
}

func (db *DB) matchRefsByID(ctx context.Context, ids []string) (map[string]taskRef, error) {
	refs := map[string]taskRef{}

	parsed := parseUUIDs(ids)
	if len(parsed) == 0 {
		return refs, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT ms.id, ms.media_id, ms.vetting_score, m.name
		FROM match_suggestions ms
		JOIN media m ON m.id = ms.media_id
		WHERE ms.id = ANY($1)
	`, parsed)
	if err != nil {
		return nil, fmt.Errorf("match refs by id: %w", err)
	}
	defer rows.Close()

	return collectTaskRefs(rows)
}

func (db *DB) discoveryRefsByID(ctx context.Context, ids []string) (map[string]taskRef, error) {
	refs := map[string]taskRef{}

	parsed := parseUUIDs(ids)
	if len(parsed) == 0 {
		return refs, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT d.id, d.media_id, COALESCE(d.vetting_score, 0), m.name
		FROM campaign_media_discoveries d
		JOIN media m ON m.id = d.media_id
		WHERE d.id = ANY($1)
	`, parsed)
	if err != nil {
		return nil, fmt.Errorf("discovery refs by id: %w", err)
	}
	defer rows.Close()

	return collectTaskRefs(rows)
}

func collectTaskRefs(rows pgx.Rows) (map[string]taskRef, error) {
	refs := map[string]taskRef{}

	for rows.Next() {
		var (
			id  pgtype.UUID
			ref taskRef
		)

		if err := rows.Scan(&id, &ref.mediaID, &ref.score, &ref.mediaName); err != nil {
			return nil, fmt.Errorf("scan task ref: %w", err)
		}

		refs[fromUUID(id)] = ref
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate task refs: %w", rows.Err())
	}

	return refs, nil
}

type reviewTaskRowScanner interface {
	Scan(dest ...any) error
}

func scanReviewTask(row reviewTaskRowScanner) (*domain.ReviewTask, error) {
	var (
		task           domain.ReviewTask
		id, campaignID pgtype.UUID
	)

	err := row.Scan(&id, &task.TaskType, &task.RelatedID, &campaignID,
		&task.Status, &task.Notes, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}

	task.ID = fromUUID(id)
	task.CampaignID = fromUUID(campaignID)

	return &task, nil
}
