// Package enrich implements the enrichment stage: a discovered media
// row is fleshed out with a merged cross-source profile, a seeded
// episode catalog, transcripts with per-episode analysis, a compiled
// summary blob, an AI description and a deterministic quality score,
// so the vetting agent always works from evidence instead of raw
// directory records.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/core/llm"
	"github.com/podscout/podscout/internal/core/transcripts"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/platform/htmlutils"
	"github.com/podscout/podscout/internal/platform/observability"
	"github.com/podscout/podscout/internal/sources"
)

const (
	stageName = "enrichment"

	// profileFreshness caps how often the adapter-facing profile merge
	// and episode seeding run for one media. Discoveries sharing a
	// media row skip straight to the cheap idempotent steps.
	profileFreshness = 24 * time.Hour

	// analysisBacklog bounds how many already-transcribed episodes one
	// run re-analyzes after a partial failure.
	analysisBacklog = 10

	// Log field keys
	logKeyDiscoveryID = "discovery_id"
	logKeyMediaID     = "media_id"
	logKeyEpisodeID   = "episode_id"
	logKeyAdapter     = "adapter"
)

// Repository is the slice of the store the orchestrator needs.
type Repository interface {
	GetMedia(ctx context.Context, id int64) (*domain.Media, error)
	UpdateMediaProfile(ctx context.Context, m *domain.Media) error
	UpsertEpisode(ctx context.Context, e *domain.Episode) (int64, error)
	RecentEpisodes(ctx context.Context, mediaID int64, limit int) ([]domain.Episode, error)
	EpisodesNeedingTranscription(ctx context.Context, mediaID int64, limit int) ([]domain.Episode, error)
	EpisodesPendingTranscription(ctx context.Context, limit int) ([]domain.Episode, error)
	SetTranscript(ctx context.Context, episodeID int64, transcript string) error
	SetEpisodeAnalysis(ctx context.Context, episodeID int64, summary string, themes, keywords []string) error
	SetEpisodeEmbedding(ctx context.Context, episodeID int64, embedding []float32) error
	CountTranscribedEpisodes(ctx context.Context, mediaID int64) (int, error)
	CompileEpisodeSummaries(ctx context.Context, mediaID int64, limit int) (string, error)
	ClaimDescription(ctx context.Context, mediaID int64) (bool, error)
	SetAIDescription(ctx context.Context, mediaID int64, description string) error
	ReleaseDescriptionLock(ctx context.Context, mediaID int64) error
	AcquireDescriptionBatch(ctx context.Context, n int) ([]domain.Media, error)
	SetQualityScore(ctx context.Context, mediaID int64, score float32) error
	DiscoveriesNeedingEnrichment(ctx context.Context, limit int) ([]domain.Discovery, error)
	ClaimEnrichment(ctx context.Context, discoveryID string) (bool, error)
	CompleteEnrichment(ctx context.Context, discoveryID string) error
	FailEnrichment(ctx context.Context, discoveryID, errMsg string) error
	MediaNeedingEpisodeSync(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Media, error)
}

// Analyzer is the completion surface enrichment consumes.
type Analyzer interface {
	AnalyzeEpisode(ctx context.Context, in llm.EpisodeInput) (*llm.EpisodeAnalysis, error)
	DescribeMedia(ctx context.Context, in llm.MediaInput) (string, error)
}

// Embedder produces the vectors stored on analyzed episodes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FeedSource fetches RSS feeds for host names, owner email and the
// episode fallback.
type FeedSource interface {
	FetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// Orchestrator drives the enrichment stage for claimed discoveries and
// runs the scheduled transcription, description and episode-sync
// sweeps.
type Orchestrator struct {
	cfg         *config.Config
	db          Repository
	registry    *sources.Registry
	feeds       FeedSource
	analyzer    Analyzer
	embedder    Embedder
	transcriber transcripts.Client
	bus         *events.Bus
	retry       sources.RetryPolicy
	logger      *zerolog.Logger
}

func NewOrchestrator(cfg *config.Config, database Repository, registry *sources.Registry,
	feeds FeedSource, analyzer Analyzer, embedder Embedder, transcriber transcripts.Client,
	bus *events.Bus, logger *zerolog.Logger,
) *Orchestrator {
	policy := sources.DefaultRetryPolicy()
	if cfg.AdapterMaxRetries > 0 {
		policy.MaxAttempts = cfg.AdapterMaxRetries
	}

	l := logger.With().Str("component", stageName).Logger()

	return &Orchestrator{
		cfg:         cfg,
		db:          database,
		registry:    registry,
		feeds:       feeds,
		analyzer:    analyzer,
		embedder:    embedder,
		transcriber: transcriber,
		bus:         bus,
		retry:       policy,
		logger:      &l,
	}
}

// ProcessPending claims and enriches up to limit pending discoveries.
// Per-discovery failures are recorded on the row and never abort the
// batch; only context cancellation does. Returns how many discoveries
// reached completed.
func (o *Orchestrator) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := o.db.DiscoveriesNeedingEnrichment(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending enrichment: %w", err)
	}

	observability.EnrichmentBacklog.Set(float64(len(pending)))

	completed := 0

	for i := range pending {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}

		if o.EnrichDiscovery(ctx, &pending[i]) {
			completed++
		}
	}

	return completed, nil
}

// EnrichDiscovery claims one discovery and runs the full enrichment
// sequence for its media. Reports whether the discovery reached
// completed. The claim guard means concurrent orchestrators never
// double-process a row.
func (o *Orchestrator) EnrichDiscovery(ctx context.Context, d *domain.Discovery) bool {
	claimed, err := o.db.ClaimEnrichment(ctx, d.ID)
	if err != nil {
		o.logger.Warn().Err(err).Str(logKeyDiscoveryID, d.ID).Msg("claim enrichment failed")

		return false
	}

	if !claimed {
		return false
	}

	if err := o.enrichMedia(ctx, d.MediaID); err != nil {
		if ctx.Err() != nil {
			// Leave the row in_progress; the health checker advances or
			// resets interrupted claims.
			return false
		}

		observability.StageProcessed.WithLabelValues(stageName, domain.StatusFailed).Inc()

		o.logger.Warn().Err(err).
			Str(logKeyDiscoveryID, d.ID).
			Int64(logKeyMediaID, d.MediaID).
			Msg("enrichment failed")

		if failErr := o.db.FailEnrichment(ctx, d.ID, err.Error()); failErr != nil {
			o.logger.Error().Err(failErr).Str(logKeyDiscoveryID, d.ID).Msg("mark enrichment failed errored")
		}

		return false
	}

	if err := o.db.CompleteEnrichment(ctx, d.ID); err != nil {
		o.logger.Error().Err(err).Str(logKeyDiscoveryID, d.ID).Msg("complete enrichment errored")

		return false
	}

	observability.StageProcessed.WithLabelValues(stageName, domain.StatusCompleted).Inc()

	o.bus.Publish(events.Event{
		Type:       events.EnrichmentCompleted,
		EntityType: "discovery",
		EntityID:   d.ID,
		Data: map[string]any{
			"campaign_id": d.CampaignID,
			"media_id":    d.MediaID,
		},
		Source: stageName,
	})

	return true
}

// enrichMedia runs the media-level sequence. Adapter and LLM hiccups
// on individual steps degrade to logs; only a missing media row or a
// store failure aborts, because those leave nothing to vet.
func (o *Orchestrator) enrichMedia(ctx context.Context, mediaID int64) error {
	media, err := o.db.GetMedia(ctx, mediaID)
	if err != nil {
		return err
	}

	if media == nil {
		return fmt.Errorf("media %d: %w", mediaID, apperrors.ErrMediaNotFound)
	}

	if time.Since(media.LastEnrichedAt) > profileFreshness {
		feed := o.fetchFeed(ctx, media.RSSURL)

		if err := o.refreshProfile(ctx, media, feed); err != nil {
			return err
		}

		o.ensureEpisodes(ctx, media, feed)
	}

	o.transcribeForMedia(ctx, media, o.cfg.TranscriptionsPerRun)
	o.analyzeTranscribed(ctx, media)

	if _, err := o.db.CompileEpisodeSummaries(ctx, media.ID, o.cfg.EpisodeTopK); err != nil {
		return err
	}

	o.describeMedia(ctx, media)
	o.refreshQualityScore(ctx, media)

	return nil
}

func (o *Orchestrator) fetchFeed(ctx context.Context, rssURL string) *gofeed.Feed {
	if rssURL == "" {
		return nil
	}

	feed, err := o.feeds.FetchFeed(ctx, rssURL)
	if err != nil {
		o.logger.Debug().Err(err).Str("rss_url", rssURL).Msg("feed fetch failed")

		return nil
	}

	return feed
}

// refreshProfile merges every available adapter's view of the podcast
// plus the feed-level host and owner signals onto the media row. The
// store layer never lets an empty incoming field clobber existing
// data, so a degraded provider only means a thinner merge.
func (o *Orchestrator) refreshProfile(ctx context.Context, media *domain.Media, feed *gofeed.Feed) error {
	if feed != nil {
		if names, confidence := sources.HostNames(feed); len(names) > 0 {
			media.HostNames = names
			media.HostConfidence = confidence
		}

		if media.ContactEmail == "" {
			media.ContactEmail = sources.OwnerEmail(feed)
		}
	}

	if media.RSSURL != "" {
		for _, adapter := range o.registry.Available() {
			o.mergeAdapterProfile(ctx, adapter, media)
		}
	}

	return o.db.UpdateMediaProfile(ctx, media)
}

func (o *Orchestrator) mergeAdapterProfile(ctx context.Context, adapter sources.Adapter, media *domain.Media) {
	name := adapter.Name()

	var hit *sources.MediaResult

	err := sources.Retry(ctx, o.retry, func() error {
		var lookupErr error

		hit, lookupErr = adapter.LookupByRSS(ctx, media.RSSURL)
		o.registry.RecordOutcome(name, sources.IgnoreNotFound(lookupErr))

		return lookupErr
	})
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			o.logger.Debug().Err(err).
				Int64(logKeyMediaID, media.ID).
				Str(logKeyAdapter, name).
				Msg("profile lookup failed")
		}

		return
	}

	if hit == nil {
		return
	}

	if media.SourceIDs == nil {
		media.SourceIDs = map[string]string{}
	}

	if hit.ExternalID != "" {
		media.SourceIDs[name] = hit.ExternalID
	}

	mergeProfileFields(media, hit)
}

// mergeProfileFields overlays profile gaps with the adapter's values
// and keeps the larger counters.
func mergeProfileFields(media *domain.Media, hit *sources.MediaResult) {
	if media.Name == "" {
		media.Name = hit.Name
	}

	if media.Description == "" {
		media.Description = htmlutils.StripTags(hit.Description)
	}

	if media.Category == "" {
		media.Category = hit.Category
	}

	if media.Language == "" {
		media.Language = hit.Language
	}

	if media.ContactEmail == "" {
		media.ContactEmail = hit.ContactEmail
	}

	if hit.EpisodeCount > media.EpisodeCount {
		media.EpisodeCount = hit.EpisodeCount
	}

	if hit.AudienceSize > media.AudienceSize {
		media.AudienceSize = hit.AudienceSize
	}

	if len(media.SocialURLs) == 0 {
		media.SocialURLs = hit.SocialURLs
	}
}

// ensureEpisodes tops the episode catalog up to EpisodeTopK, preferring
// the directory that knows the podcast and falling back to the raw
// feed for media no directory indexes.
func (o *Orchestrator) ensureEpisodes(ctx context.Context, media *domain.Media, feed *gofeed.Feed) {
	existing, err := o.db.RecentEpisodes(ctx, media.ID, o.cfg.EpisodeTopK)
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("list recent episodes failed")

		return
	}

	if len(existing) >= o.cfg.EpisodeTopK {
		return
	}

	if o.seedFromAdapters(ctx, media) {
		return
	}

	if feed == nil {
		feed = o.fetchFeed(ctx, media.RSSURL)
	}

	for _, ep := range sources.EpisodesFromFeed(feed, o.cfg.EpisodeTopK) {
		o.upsertEpisode(ctx, media.ID, sources.SourceRSS, ep)
	}
}

func (o *Orchestrator) seedFromAdapters(ctx context.Context, media *domain.Media) bool {
	for source, externalID := range media.SourceIDs {
		adapter, ok := o.registry.Get(source)
		if !ok || !adapter.IsAvailable() {
			continue
		}

		episodes, err := adapter.ListEpisodes(ctx, externalID, o.cfg.EpisodeTopK)
		o.registry.RecordOutcome(source, sources.IgnoreNotFound(err))

		if err != nil {
			o.logger.Debug().Err(err).
				Int64(logKeyMediaID, media.ID).
				Str(logKeyAdapter, source).
				Msg("episode listing failed")

			continue
		}

		if len(episodes) == 0 {
			continue
		}

		for _, ep := range episodes {
			o.upsertEpisode(ctx, media.ID, source, ep)
		}

		return true
	}

	return false
}

func (o *Orchestrator) upsertEpisode(ctx context.Context, mediaID int64, source string, ep sources.EpisodeResult) {
	_, err := o.db.UpsertEpisode(ctx, &domain.Episode{
		MediaID:     mediaID,
		SourceAPI:   source,
		ExternalID:  ep.ExternalID,
		Title:       ep.Title,
		PublishedAt: ep.PublishedAt,
		DurationSec: ep.DurationSec,
		Description: htmlutils.StripTags(ep.Description),
		AudioURL:    ep.AudioURL,
	})
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, mediaID).Msg("episode upsert failed")
	}
}

// transcribeForMedia transcribes up to limit untranscribed episodes of
// one media, newest first, analyzing each as it lands.
func (o *Orchestrator) transcribeForMedia(ctx context.Context, media *domain.Media, limit int) {
	if limit <= 0 {
		return
	}

	pending, err := o.db.EpisodesNeedingTranscription(ctx, media.ID, limit)
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("list episodes needing transcription failed")

		return
	}

	for i := range pending {
		if ctx.Err() != nil {
			return
		}

		o.transcribeEpisode(ctx, media.Name, &pending[i])
	}
}

// transcribeEpisode runs one transcription and, on success, the
// follow-up analysis. A failed transcription leaves the episode
// untranscribed for a later sweep.
func (o *Orchestrator) transcribeEpisode(ctx context.Context, mediaName string, ep *domain.Episode) {
	transcript, err := o.transcriber.Transcribe(ctx, ep.AudioURL)
	if err != nil {
		observability.TranscriptionsTotal.WithLabelValues(domain.StatusFailed).Inc()

		o.logger.Warn().Err(err).
			Int64(logKeyEpisodeID, ep.ID).
			Int64(logKeyMediaID, ep.MediaID).
			Msg("transcription failed")

		return
	}

	if err := o.db.SetTranscript(ctx, ep.ID, transcript); err != nil {
		o.logger.Error().Err(err).Int64(logKeyEpisodeID, ep.ID).Msg("store transcript failed")

		return
	}

	observability.TranscriptionsTotal.WithLabelValues(domain.StatusCompleted).Inc()

	o.bus.Publish(events.Event{
		Type:       events.EpisodeTranscribed,
		EntityType: "episode",
		EntityID:   fmt.Sprintf("%d", ep.ID),
		Data: map[string]any{
			"media_id": ep.MediaID,
			"title":    ep.Title,
		},
		Source: stageName,
	})

	ep.Transcript = transcript

	o.analyzeEpisode(ctx, mediaName, ep)
}

// analyzeTranscribed catches episodes transcribed in an earlier run
// whose analysis never landed.
func (o *Orchestrator) analyzeTranscribed(ctx context.Context, media *domain.Media) {
	episodes, err := o.db.RecentEpisodes(ctx, media.ID, analysisBacklog)
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("list recent episodes failed")

		return
	}

	for i := range episodes {
		if ctx.Err() != nil {
			return
		}

		ep := &episodes[i]
		if ep.Transcript == "" || ep.AISummary != "" {
			continue
		}

		o.analyzeEpisode(ctx, media.Name, ep)
	}
}

// analyzeEpisode produces the summary, themes and keywords plus the
// summary embedding for one transcribed episode.
func (o *Orchestrator) analyzeEpisode(ctx context.Context, mediaName string, ep *domain.Episode) {
	analysis, err := o.analyzer.AnalyzeEpisode(ctx, llm.EpisodeInput{
		MediaName:   mediaName,
		Title:       ep.Title,
		Description: ep.Description,
		Transcript:  ep.Transcript,
	})
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyEpisodeID, ep.ID).Msg("episode analysis failed")

		return
	}

	if err := o.db.SetEpisodeAnalysis(ctx, ep.ID, analysis.Summary, analysis.Themes, analysis.Keywords); err != nil {
		o.logger.Error().Err(err).Int64(logKeyEpisodeID, ep.ID).Msg("store episode analysis failed")

		return
	}

	embedding, err := o.embedder.Embed(ctx, analysis.Summary)
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyEpisodeID, ep.ID).Msg("episode embedding failed")

		return
	}

	if err := o.db.SetEpisodeEmbedding(ctx, ep.ID, embedding); err != nil {
		o.logger.Error().Err(err).Int64(logKeyEpisodeID, ep.ID).Msg("store episode embedding failed")
	}
}

// describeMedia generates the AI description when none exists. The
// claim lock makes the LLM spend single-flight across workers; the
// scheduled description batch retries anything that fails here.
func (o *Orchestrator) describeMedia(ctx context.Context, media *domain.Media) {
	if media.AIDescription != "" {
		return
	}

	claimed, err := o.db.ClaimDescription(ctx, media.ID)
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("claim description failed")

		return
	}

	if !claimed {
		return
	}

	if err := o.generateDescription(ctx, media); err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("description generation failed")

		if releaseErr := o.db.ReleaseDescriptionLock(ctx, media.ID); releaseErr != nil {
			o.logger.Error().Err(releaseErr).Int64(logKeyMediaID, media.ID).Msg("release description lock failed")
		}
	}
}

func (o *Orchestrator) generateDescription(ctx context.Context, media *domain.Media) error {
	compiled, err := o.db.CompileEpisodeSummaries(ctx, media.ID, o.cfg.EpisodeTopK)
	if err != nil {
		return err
	}

	description, err := o.analyzer.DescribeMedia(ctx, llm.MediaInput{
		Name:              media.Name,
		Description:       media.Description,
		CompiledSummaries: compiled,
		Category:          media.Category,
		HostNames:         media.HostNames,
	})
	if err != nil {
		return err
	}

	return o.db.SetAIDescription(ctx, media.ID, description)
}

// refreshQualityScore recomputes the deterministic quality score once
// enough transcripts exist to make depth meaningful.
func (o *Orchestrator) refreshQualityScore(ctx context.Context, media *domain.Media) {
	transcribed, err := o.db.CountTranscribedEpisodes(ctx, media.ID)
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("count transcripts failed")

		return
	}

	if transcribed < o.cfg.QualityMinTranscripts {
		return
	}

	episodes, err := o.db.RecentEpisodes(ctx, media.ID, qualityEpisodeWindow)
	if err != nil {
		o.logger.Warn().Err(err).Int64(logKeyMediaID, media.ID).Msg("list recent episodes failed")

		return
	}

	score := Score(qualityInputs(media, episodes))

	if err := o.db.SetQualityScore(ctx, media.ID, score); err != nil {
		o.logger.Error().Err(err).Int64(logKeyMediaID, media.ID).Msg("store quality score failed")
	}
}

func qualityInputs(media *domain.Media, episodes []domain.Episode) Inputs {
	in := Inputs{
		AudienceSize: media.AudienceSize,
		EpisodeCount: media.EpisodeCount,
	}

	themes := map[string]struct{}{}

	for i := range episodes {
		ep := &episodes[i]

		if ep.Transcript != "" {
			in.TranscriptWords = append(in.TranscriptWords, len(strings.Fields(ep.Transcript)))
		}

		for _, theme := range ep.Themes {
			key := strings.ToLower(strings.TrimSpace(theme))
			if key != "" {
				themes[key] = struct{}{}
			}
		}
	}

	in.DistinctThemes = len(themes)

	return in
}
