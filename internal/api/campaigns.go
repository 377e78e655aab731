package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podscout/podscout/internal/core/domain"
	errs "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/events"
)

// Rough wall-clock estimate returned with 202: adapters are paced per
// keyword, so keywords dominate run time.
const (
	estimateMinutesPerKeyword = 2
	estimateMinMinutes        = 5
)

type discoverRequest struct {
	MaxMatches int `json:"max_matches"`
}

type discoverResponse struct {
	TrackingEndpoint           string `json:"tracking_endpoint"`
	EstimatedCompletionMinutes int    `json:"estimated_completion_minutes"`
}

// handleDiscover starts a manual discovery run and returns 202. The
// run itself happens on the controller's background pool; its outcome
// lands in auto_discovery status and on the event bus.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	var req discoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	if req.MaxMatches < 0 {
		writeError(w, r, s.logger, fmt.Errorf("max_matches must not be negative: %w", errs.ErrInvalidInput))

		return
	}

	campaign, err := s.loadOwnedCampaign(r.Context(), campaignID)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	if campaign.IdealDescription == "" {
		writeError(w, r, s.logger, fmt.Errorf("ideal podcast description: %w", errs.ErrDataMissing))

		return
	}

	go s.runManual(campaign.ID, req.MaxMatches)

	writeJSON(w, http.StatusAccepted, discoverResponse{
		TrackingEndpoint:           fmt.Sprintf("/campaigns/%s/discovery-status", campaign.ID),
		EstimatedCompletionMinutes: estimateMinutes(len(campaign.Keywords), s.cfg.TaskTimeout),
	})
}

// runManual drives the detached run under the same wall-clock cap the
// scheduler applies to its tasks.
func (s *Server) runManual(campaignID string, maxMatches int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()

	if err := s.launcher.RunManual(ctx, campaignID, maxMatches); err != nil {
		s.logger.Error().Err(err).Str("campaign_id", campaignID).Msg("manual discovery run failed")
	}
}

func estimateMinutes(keywords int, taskTimeout time.Duration) int {
	minutes := keywords * estimateMinutesPerKeyword
	if minutes < estimateMinMinutes {
		minutes = estimateMinMinutes
	}

	if limit := int(taskTimeout.Minutes()); limit > 0 && minutes > limit {
		minutes = limit
	}

	return minutes
}

type autoDiscoveryView struct {
	Enabled       bool            `json:"enabled"`
	Status        string          `json:"status"`
	LastRun       time.Time       `json:"last_run,omitempty"`
	LastHeartbeat time.Time       `json:"last_heartbeat,omitempty"`
	Error         string          `json:"error,omitempty"`
	Progress      domain.Progress `json:"progress"`
}

type discoveryStatusResponse struct {
	CampaignID     string            `json:"campaign_id"`
	AutoDiscovery  autoDiscoveryView `json:"auto_discovery"`
	Total          int               `json:"total_discoveries"`
	Enrichment     map[string]int    `json:"enrichment"`
	Vetting        map[string]int    `json:"vetting"`
	MatchesCreated int               `json:"matches_created"`
}

// handleDiscoveryStatus reports per-stage counts plus the live
// controller progress blob, the polling target behind the 202.
func (s *Server) handleDiscoveryStatus(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	campaign, err := s.loadOwnedCampaign(r.Context(), campaignID)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	counts, err := s.db.GetDiscoveryStatusCounts(r.Context(), campaign.ID)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("discovery status counts: %w", err))

		return
	}

	writeJSON(w, http.StatusOK, discoveryStatusResponse{
		CampaignID: campaign.ID,
		AutoDiscovery: autoDiscoveryView{
			Enabled:       campaign.AutoDiscovery.Enabled,
			Status:        campaign.AutoDiscovery.Status,
			LastRun:       campaign.AutoDiscovery.LastRun,
			LastHeartbeat: campaign.AutoDiscovery.LastHeartbeat,
			Error:         campaign.AutoDiscovery.Error,
			Progress:      campaign.AutoDiscovery.Progress,
		},
		Total:          counts.Total,
		Enrichment:     counts.Enrichment,
		Vetting:        counts.Vetting,
		MatchesCreated: counts.MatchesCreated,
	})
}

type autoDiscoveryToggleResponse struct {
	CampaignID string `json:"campaign_id"`
	Enabled    bool   `json:"enabled"`
}

// handleAutoDiscoveryToggle flips the auto pipeline for a campaign.
// Disabling publishes CampaignPaused so ops alerting sees manual
// interventions, not only quota pauses.
func (s *Server) handleAutoDiscoveryToggle(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	raw := r.URL.Query().Get("enabled")

	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("enabled must be a boolean: %w", errs.ErrInvalidInput))

		return
	}

	campaign, err := s.loadOwnedCampaign(r.Context(), campaignID)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	if err := s.db.SetAutoDiscoveryEnabled(r.Context(), campaign.ID, enabled); err != nil {
		writeError(w, r, s.logger, fmt.Errorf("set auto discovery: %w", err))

		return
	}

	if !enabled && campaign.AutoDiscovery.Enabled {
		s.bus.Publish(events.Event{
			Type:       events.CampaignPaused,
			EntityType: "campaign",
			EntityID:   campaign.ID,
			Data:       map[string]any{"campaign_id": campaign.ID, "reason": "disabled_by_client"},
			Source:     "api",
		})
	}

	writeJSON(w, http.StatusOK, autoDiscoveryToggleResponse{CampaignID: campaign.ID, Enabled: enabled})
}

type revetResponse struct {
	CampaignID string `json:"campaign_id"`
	Reset      int64  `json:"reset"`
}

// handleRevet requeues AI-rejected and vetting-failed discoveries so a
// profile edit gets a second pass without re-discovering media.
func (s *Server) handleRevet(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	campaign, err := s.loadOwnedCampaign(r.Context(), campaignID)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	reset, err := s.db.ResetRejectedForCampaign(r.Context(), campaign.ID)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("reset rejected: %w", err))

		return
	}

	s.logger.Info().Str("campaign_id", campaign.ID).Int64("reset", reset).Msg("revet requested")

	writeJSON(w, http.StatusOK, revetResponse{CampaignID: campaign.ID, Reset: reset})
}
