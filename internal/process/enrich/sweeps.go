package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/podscout/podscout/internal/sources"
)

// episodeSyncStaleness: media whose newest known episode is older than
// this get their catalog refreshed by the daily sync.
const episodeSyncStaleness = 7 * 24 * time.Hour

const episodeSyncBatch = 50

// TranscriptionSweep transcribes up to limit pending episodes across
// all media referenced by discoveries, then refreshes the compiled
// summaries and quality scores of every media it touched. This is the
// scheduled path; the per-discovery orchestration covers fresh
// discoveries inline.
func (o *Orchestrator) TranscriptionSweep(ctx context.Context, limit int) (int, error) {
	pending, err := o.db.EpisodesPendingTranscription(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending transcriptions: %w", err)
	}

	touched := map[int64]string{}
	done := 0

	for i := range pending {
		if ctx.Err() != nil {
			break
		}

		ep := &pending[i]

		name, ok := touched[ep.MediaID]
		if !ok {
			name = o.mediaName(ctx, ep.MediaID)
			touched[ep.MediaID] = name
		}

		o.transcribeEpisode(ctx, name, ep)

		if ep.Transcript != "" {
			done++
		}
	}

	for mediaID := range touched {
		if ctx.Err() != nil {
			break
		}

		o.refreshMediaDigest(ctx, mediaID)
	}

	return done, ctx.Err()
}

func (o *Orchestrator) mediaName(ctx context.Context, mediaID int64) string {
	media, err := o.db.GetMedia(ctx, mediaID)
	if err != nil || media == nil {
		return ""
	}

	return media.Name
}

func (o *Orchestrator) refreshMediaDigest(ctx context.Context, mediaID int64) {
	if _, err := o.db.CompileEpisodeSummaries(ctx, mediaID, o.cfg.EpisodeTopK); err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, mediaID).Msg("compile summaries failed")

		return
	}

	media, err := o.db.GetMedia(ctx, mediaID)
	if err != nil || media == nil {
		return
	}

	o.refreshQualityScore(ctx, media)
}

// DescribePendingBatch claims up to n media missing an AI description
// and generates one for each. Failed generations release the claim so
// the next batch retries them. Returns how many descriptions landed.
func (o *Orchestrator) DescribePendingBatch(ctx context.Context, n int) (int, error) {
	batch, err := o.db.AcquireDescriptionBatch(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("acquire description batch: %w", err)
	}

	done := 0

	for i := range batch {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}

		media := &batch[i]

		if err := o.generateDescription(ctx, media); err != nil {
			o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("description generation failed")

			if releaseErr := o.db.ReleaseDescriptionLock(ctx, media.ID); releaseErr != nil {
				o.logger.Error().Err(releaseErr).Int64(logKeyMediaID, media.ID).Msg("release description lock failed")
			}

			continue
		}

		done++
	}

	return done, nil
}

// SyncEpisodes refreshes the episode catalogs of media whose newest
// known episode has gone stale. Runs daily; per-media failures only
// log, so one dead feed never blocks the rest of the batch.
func (o *Orchestrator) SyncEpisodes(ctx context.Context) (int, error) {
	staleBefore := time.Now().Add(-episodeSyncStaleness)

	batch, err := o.db.MediaNeedingEpisodeSync(ctx, staleBefore, episodeSyncBatch)
	if err != nil {
		return 0, fmt.Errorf("list media needing episode sync: %w", err)
	}

	synced := 0

	for i := range batch {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}

		media := &batch[i]

		if o.seedFromAdapters(ctx, media) {
			synced++

			continue
		}

		feed := o.fetchFeed(ctx, media.RSSURL)
		if feed == nil {
			continue
		}

		for _, ep := range sources.EpisodesFromFeed(feed, o.cfg.EpisodeTopK) {
			o.upsertEpisode(ctx, media.ID, sources.SourceRSS, ep)
		}

		synced++
	}

	return synced, nil
}
