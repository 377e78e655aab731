package vetting

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/platform/observability"
	db "github.com/podscout/podscout/internal/storage"
)

const (
	stageName = "vetting"

	// Log field keys
	logKeyDiscoveryID = "discovery_id"
	logKeyCampaignID  = "campaign_id"
	logKeyMediaID     = "media_id"
	logKeyScore       = "score"
)

// Repository is the slice of the store the worker needs. Acquisition
// is the skip-locked batch claim, so parallel workers split the
// backlog without coordination.
type Repository interface {
	AcquireVettingBatch(ctx context.Context, n int) ([]db.VettingWorkItem, error)
	AcquireVettingItem(ctx context.Context, discoveryID string) (*db.VettingWorkItem, error)
	CountDiscoveriesReadyForVetting(ctx context.Context) (int, error)
	RecentEpisodes(ctx context.Context, mediaID int64, limit int) ([]domain.Episode, error)
	SaveVettingResult(ctx context.Context, discoveryID string, result *domain.VettingResult) (bool, error)
	MarkVettingFailed(ctx context.Context, discoveryID, errMsg string) error
	ReleaseVettingLock(ctx context.Context, discoveryID string) error
}

// Worker drains the vetting backlog: claim a batch, run the agent on
// each item, persist the verdict or the failure. Every branch ends
// with the row's lock released, held rows never outlive the run.
type Worker struct {
	db     Repository
	agent  *Agent
	bus    *events.Bus
	logger *zerolog.Logger
}

func NewWorker(database Repository, agent *Agent, bus *events.Bus, logger *zerolog.Logger) *Worker {
	l := logger.With().Str("component", stageName).Logger()

	return &Worker{
		db:     database,
		agent:  agent,
		bus:    bus,
		logger: &l,
	}
}

// ProcessBatch claims up to n eligible discoveries and vets them
// sequentially. Returns how many verdicts were persisted. A cancelled
// context releases the remaining claims back to pending.
func (w *Worker) ProcessBatch(ctx context.Context, n int) (int, error) {
	if backlog, err := w.db.CountDiscoveriesReadyForVetting(ctx); err == nil {
		observability.VettingBacklog.Set(float64(backlog))
	}

	batch, err := w.db.AcquireVettingBatch(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("acquire vetting batch: %w", err)
	}

	completed := 0

	for i := range batch {
		item := &batch[i]

		if ctx.Err() != nil {
			w.release(item.Discovery.ID)

			continue
		}

		if w.vetOne(ctx, item) {
			completed++
		}
	}

	if ctx.Err() != nil {
		return completed, ctx.Err()
	}

	return completed, nil
}

// ProcessDiscovery claims and vets one specific discovery. The
// controller's inline pipeline uses it to push a row through vetting
// without waiting for the batch cadence. Returns false when the row is
// not eligible or another worker holds it.
func (w *Worker) ProcessDiscovery(ctx context.Context, discoveryID string) (bool, error) {
	item, err := w.db.AcquireVettingItem(ctx, discoveryID)
	if err != nil {
		return false, fmt.Errorf("acquire vetting item: %w", err)
	}

	if item == nil {
		return false, nil
	}

	if ctx.Err() != nil {
		w.release(item.Discovery.ID)

		return false, ctx.Err()
	}

	return w.vetOne(ctx, item), nil
}

// vetOne runs the agent for one claimed discovery and persists the
// outcome. Reports whether a verdict landed.
func (w *Worker) vetOne(ctx context.Context, item *db.VettingWorkItem) bool {
	d := &item.Discovery

	episodes, err := w.db.RecentEpisodes(ctx, item.Media.ID, evidenceEpisodeLimit)
	if err != nil {
		w.logger.Warn().Err(err).Str(logKeyDiscoveryID, d.ID).Msg("list evidence episodes failed")
	}

	result, err := w.agent.Vet(ctx, Input{
		Campaign: item.Campaign,
		Media:    item.Media,
		Episodes: episodes,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: hand the row back to the next run.
			w.release(d.ID)

			return false
		}

		observability.StageProcessed.WithLabelValues(stageName, domain.StatusFailed).Inc()

		w.logger.Warn().Err(err).
			Str(logKeyDiscoveryID, d.ID).
			Str(logKeyCampaignID, d.CampaignID).
			Int64(logKeyMediaID, d.MediaID).
			Msg("vetting failed")

		if failErr := w.db.MarkVettingFailed(ctx, d.ID, err.Error()); failErr != nil {
			w.logger.Error().Err(failErr).Str(logKeyDiscoveryID, d.ID).Msg("mark vetting failed errored")
		}

		return false
	}

	saved, err := w.db.SaveVettingResult(ctx, d.ID, result)
	if err != nil {
		w.logger.Error().Err(err).Str(logKeyDiscoveryID, d.ID).Msg("save vetting result failed")

		return false
	}

	if !saved {
		// Lock was cleaned from under us; the verdict is discarded and
		// the row will be re-vetted.
		w.logger.Warn().Str(logKeyDiscoveryID, d.ID).Msg("vetting claim lost before save")

		return false
	}

	observability.StageProcessed.WithLabelValues(stageName, domain.StatusCompleted).Inc()

	w.logger.Info().
		Str(logKeyDiscoveryID, d.ID).
		Str(logKeyCampaignID, d.CampaignID).
		Int64(logKeyMediaID, d.MediaID).
		Int(logKeyScore, result.Score).
		Msg("discovery vetted")

	w.bus.Publish(events.Event{
		Type:       events.VettingCompleted,
		EntityType: "discovery",
		EntityID:   d.ID,
		Data: map[string]any{
			"campaign_id": d.CampaignID,
			"media_id":    d.MediaID,
			"score":       result.Score,
		},
		Source: stageName,
	})

	return true
}

// release demotes a claimed row back to pending. Runs on a fresh
// context so a cancelled batch can still return its claims.
func (w *Worker) release(discoveryID string) {
	if err := w.db.ReleaseVettingLock(context.Background(), discoveryID); err != nil {
		w.logger.Error().Err(err).Str(logKeyDiscoveryID, discoveryID).Msg("release vetting lock failed")
	}
}
