// Package match promotes vetted discoveries into client-facing match
// suggestions. Promotion is one storage transaction per discovery:
// quota is spent, the best episode is picked, the suggestion and its
// review task land together, and the discovery is stamped so the same
// pair is never promoted twice.
package match

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/platform/observability"
	db "github.com/podscout/podscout/internal/storage"
)

const (
	stageName = "match"

	// Log field keys
	logKeyDiscoveryID = "discovery_id"
	logKeyCampaignID  = "campaign_id"
	logKeyMediaID     = "media_id"
	logKeyMatchID     = "match_id"
)

// Outcome classifies one promotion attempt.
type Outcome int

const (
	// OutcomeCreated means the suggestion and review task landed.
	OutcomeCreated Outcome = iota

	// OutcomeQuotaExceeded means the plan allowance refused the match;
	// nothing was written.
	OutcomeQuotaExceeded

	// OutcomeAlreadyCreated means another worker promoted the pair first.
	OutcomeAlreadyCreated

	// OutcomeSkipped means the discovery was not eligible.
	OutcomeSkipped
)

// Repository is the slice of the store the creator needs.
type Repository interface {
	DiscoveriesReadyForMatch(ctx context.Context, threshold, limit int) ([]domain.Discovery, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	CreateMatch(ctx context.Context, in db.MatchCreationInput) (*db.MatchCreationResult, error)
}

// Creator turns vetted discoveries into match suggestions.
type Creator struct {
	cfg    *config.Config
	db     Repository
	bus    *events.Bus
	logger *zerolog.Logger
}

func NewCreator(cfg *config.Config, database Repository, bus *events.Bus, logger *zerolog.Logger) *Creator {
	l := logger.With().Str("component", stageName).Logger()

	return &Creator{
		cfg:    cfg,
		db:     database,
		bus:    bus,
		logger: &l,
	}
}

// Threshold is the minimum vetting score a discovery needs to become a
// match.
func (c *Creator) Threshold() int {
	return c.cfg.MatchThreshold
}

// ProcessReady promotes up to limit vetted discoveries scoring at or
// above the threshold. Per-discovery failures are logged and skipped;
// only context cancellation aborts the batch. Returns how many
// suggestions were created.
func (c *Creator) ProcessReady(ctx context.Context, limit int) (int, error) {
	ready, err := c.db.DiscoveriesReadyForMatch(ctx, c.cfg.MatchThreshold, limit)
	if err != nil {
		return 0, fmt.Errorf("list discoveries ready for match: %w", err)
	}

	created := 0

	for i := range ready {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}

		outcome, err := c.CreateForDiscovery(ctx, &ready[i], false)
		if err != nil {
			c.logger.Warn().Err(err).Str(logKeyDiscoveryID, ready[i].ID).Msg("match creation failed")

			continue
		}

		if outcome == OutcomeCreated {
			created++
		}
	}

	return created, nil
}

// CreateForDiscovery promotes one vetted discovery. The auto flag marks
// suggestions made by the auto-discovery controller, which count
// against the separate automation cap. Quota refusal is a normal
// outcome, not an error: the row is untouched and the caller decides
// whether to stop.
func (c *Creator) CreateForDiscovery(ctx context.Context, d *domain.Discovery, auto bool) (Outcome, error) {
	if d.MatchCreated || d.VettingStatus != domain.StatusCompleted || d.VettingScore < c.cfg.MatchThreshold {
		return OutcomeSkipped, nil
	}

	campaign, err := c.db.GetCampaign(ctx, d.CampaignID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("load campaign %s: %w", d.CampaignID, err)
	}

	if campaign == nil {
		c.logger.Warn().Str(logKeyCampaignID, d.CampaignID).Msg("campaign gone before match creation")

		return OutcomeSkipped, nil
	}

	result, err := c.db.CreateMatch(ctx, db.MatchCreationInput{
		DiscoveryID:       d.ID,
		CampaignID:        d.CampaignID,
		MediaID:           d.MediaID,
		PersonID:          campaign.PersonID,
		Score:             float32(d.VettingScore) / 100,
		MatchedKeywords:   []string{d.Keyword},
		Reasoning:         d.VettingReasoning,
		VettingScore:      d.VettingScore,
		VettingReasoning:  d.VettingReasoning,
		Checklist:         d.Checklist,
		CampaignEmbedding: campaign.Embedding,
		EpisodeTopK:       c.cfg.EpisodeTopK,
		AutoCreated:       auto,
		AutoWeeklyCap:     domain.AutoWeeklyCap,
	})
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("create match for discovery %s: %w", d.ID, err)
	}

	switch {
	case result.AlreadyCreated:
		return OutcomeAlreadyCreated, nil

	case result.QuotaExceeded:
		observability.QuotaRefusals.WithLabelValues(quotaKind(auto)).Inc()

		c.logger.Info().
			Str(logKeyDiscoveryID, d.ID).
			Str(logKeyCampaignID, d.CampaignID).
			Bool("auto", auto).
			Msg("match refused by quota")

		return OutcomeQuotaExceeded, nil
	}

	observability.MatchesCreated.WithLabelValues(strconv.FormatBool(auto)).Inc()

	c.logger.Info().
		Str(logKeyDiscoveryID, d.ID).
		Str(logKeyCampaignID, d.CampaignID).
		Int64(logKeyMediaID, d.MediaID).
		Str(logKeyMatchID, result.Match.ID).
		Int("vetting_score", d.VettingScore).
		Msg("match suggestion created")

	c.bus.Publish(events.Event{
		Type:       events.MatchCreated,
		EntityType: "match_suggestion",
		EntityID:   result.Match.ID,
		Data: map[string]any{
			"campaign_id":   d.CampaignID,
			"media_id":      d.MediaID,
			"vetting_score": d.VettingScore,
			"auto":          auto,
		},
		Source: stageName,
	})

	return OutcomeCreated, nil
}

func quotaKind(auto bool) string {
	if auto {
		return "auto_weekly_matches"
	}

	return "weekly_matches"
}
