package api

import (
	"fmt"
	"net/http"

	errs "github.com/podscout/podscout/internal/core/errors"
)

// Scheduler control actions accepted by POST /scheduler/control.
const (
	actionEnable  = "enable"
	actionDisable = "disable"
)

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

type schedulerRunStateResponse struct {
	Running bool `json:"running"`
}

// handleSchedulerStart resumes task launching after a stop. Idempotent.
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	s.sched.Resume()

	writeJSON(w, http.StatusOK, schedulerRunStateResponse{Running: true})
}

// handleSchedulerStop pauses launching. Running tasks finish normally.
func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Pause()

	writeJSON(w, http.StatusOK, schedulerRunStateResponse{Running: false})
}

type schedulerControlRequest struct {
	TaskName string `json:"task_name"`
	Action   string `json:"action"`
}

type schedulerControlResponse struct {
	TaskName string `json:"task_name"`
	Enabled  bool   `json:"enabled"`
}

// handleSchedulerControl enables or disables a single named task.
func (s *Server) handleSchedulerControl(w http.ResponseWriter, r *http.Request) {
	var req schedulerControlRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	if req.TaskName == "" {
		writeError(w, r, s.logger, fmt.Errorf("task_name is required: %w", errs.ErrInvalidInput))

		return
	}

	var enabled bool

	switch req.Action {
	case actionEnable:
		enabled = true
	case actionDisable:
		enabled = false
	default:
		writeError(w, r, s.logger, fmt.Errorf("action must be %q or %q: %w",
			actionEnable, actionDisable, errs.ErrInvalidInput))

		return
	}

	if err := s.sched.SetTaskEnabled(req.TaskName, enabled); err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	writeJSON(w, http.StatusOK, schedulerControlResponse{TaskName: req.TaskName, Enabled: enabled})
}
