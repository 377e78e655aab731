package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podscout/podscout/internal/core/domain"
	errs "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/events"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// reviewTaskView is one hydrated queue entry: the task plus the
// campaign and media context a reviewer decides on.
type reviewTaskView struct {
	ID           string    `json:"id"`
	TaskType     string    `json:"task_type"`
	RelatedID    string    `json:"related_id"`
	CampaignID   string    `json:"campaign_id"`
	CampaignName string    `json:"campaign_name"`
	MediaID      int64     `json:"media_id,omitempty"`
	MediaName    string    `json:"media_name,omitempty"`
	Score        int       `json:"score,omitempty"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type reviewTaskListResponse struct {
	Tasks  []reviewTaskView `json:"tasks"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// handleListReviewTasks pages through the caller's queue, hydrated in
// batches so the handler stays at a fixed number of queries.
func (s *Server) handleListReviewTasks(w http.ResponseWriter, r *http.Request) {
	person := personID(r.Context())
	status := r.URL.Query().Get("status")

	limit, err := positiveQueryInt(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset, err := positiveQueryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	tasks, err := s.db.ListReviewTasks(r.Context(), person, status, limit, offset)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("list review tasks: %w", err))

		return
	}

	total, err := s.db.CountReviewTasks(r.Context(), person, status)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("count review tasks: %w", err))

		return
	}

	hydrated, err := s.db.HydrateReviewTasks(r.Context(), tasks)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("hydrate review tasks: %w", err))

		return
	}

	views := make([]reviewTaskView, 0, len(hydrated))
	for _, h := range hydrated {
		views = append(views, reviewTaskView{
			ID:           h.Task.ID,
			TaskType:     h.Task.TaskType,
			RelatedID:    h.Task.RelatedID,
			CampaignID:   h.Task.CampaignID,
			CampaignName: h.CampaignName,
			MediaID:      h.MediaID,
			MediaName:    h.MediaName,
			Score:        h.Score,
			Status:       h.Task.Status,
			Notes:        h.Task.Notes,
			CreatedAt:    h.Task.CreatedAt,
			UpdatedAt:    h.Task.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, reviewTaskListResponse{
		Tasks:  views,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

type reviewDecisionRequest struct {
	Notes string `json:"notes"`
}

type reviewDecisionResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleApproveReviewTask(w http.ResponseWriter, r *http.Request) {
	s.decideReviewTask(w, r, true)
}

func (s *Server) handleRejectReviewTask(w http.ResponseWriter, r *http.Request) {
	s.decideReviewTask(w, r, false)
}

// decideReviewTask records an approve/reject. For match-suggestion
// tasks the match row is decided in the same request; a decision that
// affects zero rows means the match was already decided elsewhere.
func (s *Server) decideReviewTask(w http.ResponseWriter, r *http.Request, approved bool) {
	taskID := chi.URLParam(r, "taskID")

	var req reviewDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	task, err := s.db.GetReviewTask(r.Context(), taskID)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("get review task: %w", err))

		return
	}

	if task == nil {
		writeError(w, r, s.logger, errs.ErrReviewTaskNotFound)

		return
	}

	campaign, err := s.loadOwnedCampaign(r.Context(), task.CampaignID)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	if task.Status != domain.ReviewStatusPending {
		writeError(w, r, s.logger, fmt.Errorf("task already %s: %w", task.Status, errs.ErrIllegalTransition))

		return
	}

	if task.TaskType == domain.TaskTypeMatchSuggestion {
		decided, err := s.db.SetMatchDecision(r.Context(), task.RelatedID, personID(r.Context()), approved)
		if err != nil {
			writeError(w, r, s.logger, fmt.Errorf("set match decision: %w", err))

			return
		}

		if !decided {
			writeError(w, r, s.logger, fmt.Errorf("match already decided: %w", errs.ErrIllegalTransition))

			return
		}
	}

	status := domain.ReviewStatusApproved
	eventType := events.MatchApproved

	if !approved {
		status = domain.ReviewStatusRejected
		eventType = events.MatchRejected
	}

	if _, err := s.db.UpdateReviewTaskStatus(r.Context(), task.ID, status, req.Notes); err != nil {
		writeError(w, r, s.logger, fmt.Errorf("update review task: %w", err))

		return
	}

	s.bus.Publish(events.Event{
		Type:       eventType,
		EntityType: "review_task",
		EntityID:   task.ID,
		Data: map[string]any{
			"campaign_id": campaign.ID,
			"task_type":   task.TaskType,
			"related_id":  task.RelatedID,
		},
		Source: "api",
	})

	writeJSON(w, http.StatusOK, reviewDecisionResponse{TaskID: task.ID, Status: status})
}

func positiveQueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, errs.ErrInvalidInput)
	}

	return v, nil
}
