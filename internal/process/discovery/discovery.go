// Package discovery implements the discovery stage: campaign keywords
// fan out to the source adapters, raw directory records are filtered
// and canonicalized into media rows, and a budgeted second pass records
// (campaign, media) discovery rows for the rest of the pipeline.
package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/podscout/podscout/internal/core/domain"
	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/core/llm"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/platform/htmlutils"
	"github.com/podscout/podscout/internal/platform/observability"
	"github.com/podscout/podscout/internal/sources"
)

const (
	// maxSearchPages bounds pagination per (keyword, adapter) so one
	// broad keyword cannot monopolize a run.
	maxSearchPages = 10

	// episodeFetchConcurrency bounds the background episode fetches
	// spawned for newly created media.
	episodeFetchConcurrency = 4

	stageName = "discovery"

	// Log field keys
	logKeyCampaignID = "campaign_id"
	logKeyKeyword    = "keyword"
	logKeyAdapter    = "adapter"
	logKeyMediaID    = "media_id"
	logKeyRSS        = "rss_url"
)

// Repository is the slice of the store the fetcher needs.
type Repository interface {
	GetMediaByRSS(ctx context.Context, rssURL string) (*domain.Media, error)
	GetMediaBySourceID(ctx context.Context, source, externalID string) (*domain.Media, error)
	CreateMedia(ctx context.Context, m *domain.Media) (int64, error)
	MergeMediaSourceID(ctx context.Context, id int64, source, externalID string) error
	UpsertEpisode(ctx context.Context, e *domain.Episode) (int64, error)
	CreateOrGetDiscovery(ctx context.Context, campaignID string, mediaID int64, keyword string) (*domain.Discovery, bool, error)
}

// KeywordMapper maps one campaign keyword onto a provider taxonomy.
type KeywordMapper interface {
	MapKeywordToGenres(ctx context.Context, keyword string, genres []llm.GenreOption) ([]string, error)
}

// FeedSource fetches RSS feeds for the owner-email fallback.
type FeedSource interface {
	FetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// Result summarizes one fetcher pass.
type Result struct {
	RecordsSeen     int
	MediaNew        int
	MediaMatched    int
	DroppedNoEmail  int
	KeywordsSkipped int
	DiscoveriesNew  int
	DiscoveryDupes  int
}

type candidate struct {
	mediaID int64
	keyword string
	source  string
	isNew   bool
}

type runState struct {
	seen       map[string]struct{}
	byMedia    map[int64]struct{}
	candidates []candidate
	result     Result
}

// Fetcher runs the discovery stage for one campaign.
type Fetcher struct {
	cfg      *config.Config
	db       Repository
	registry *sources.Registry
	feeds    FeedSource
	mapper   KeywordMapper
	bus      *events.Bus
	retry    sources.RetryPolicy
	logger   *zerolog.Logger
}

func NewFetcher(cfg *config.Config, database Repository, registry *sources.Registry,
	feeds FeedSource, mapper KeywordMapper, bus *events.Bus, logger *zerolog.Logger,
) *Fetcher {
	policy := sources.DefaultRetryPolicy()
	if cfg.AdapterMaxRetries > 0 {
		policy.MaxAttempts = cfg.AdapterMaxRetries
	}

	l := logger.With().Str("component", stageName).Logger()

	return &Fetcher{
		cfg:      cfg,
		db:       database,
		registry: registry,
		feeds:    feeds,
		mapper:   mapper,
		bus:      bus,
		retry:    policy,
		logger:   &l,
	}
}

// Run executes one discovery pass for the campaign over the given
// keywords (the campaign's own list when empty). maxDiscoveries caps
// how many new discovery rows the pass may insert; zero or negative
// means no cap. Keyword-level failures are absorbed so one rate-limited
// provider never aborts the pass; only context cancellation does.
func (f *Fetcher) Run(ctx context.Context, campaign *domain.Campaign, keywords []string, maxDiscoveries int) (*Result, error) {
	if len(keywords) == 0 {
		keywords = campaign.Keywords
	}

	run := &runState{
		seen:    map[string]struct{}{},
		byMedia: map[int64]struct{}{},
	}

	var fetches errgroup.Group

	fetches.SetLimit(episodeFetchConcurrency)

	f.logger.Info().
		Str(logKeyCampaignID, campaign.ID).
		Int("keywords", len(keywords)).
		Int("budget", maxDiscoveries).
		Msg("discovery pass starting")

	var runErr error

	for i, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}

		if i > 0 {
			if err := f.pause(ctx, f.cfg.KeywordDelay); err != nil {
				runErr = err

				break
			}
		}

		f.runKeyword(ctx, &fetches, keyword, run)

		if ctx.Err() != nil {
			runErr = ctx.Err()

			break
		}
	}

	// Episode fetch failures are logged inside the goroutines.
	_ = fetches.Wait()

	if runErr == nil {
		f.createDiscoveries(ctx, campaign.ID, run, maxDiscoveries)
		runErr = ctx.Err()
	}

	status := domain.StatusCompleted
	if runErr != nil {
		status = domain.StatusFailed
	}

	observability.StageProcessed.WithLabelValues(stageName, status).Inc()

	f.logger.Info().
		Str(logKeyCampaignID, campaign.ID).
		Int("records_seen", run.result.RecordsSeen).
		Int("media_new", run.result.MediaNew).
		Int("discoveries_new", run.result.DiscoveriesNew).
		Int("keywords_skipped", run.result.KeywordsSkipped).
		Msg("discovery pass finished")

	result := run.result

	return &result, runErr
}

// runKeyword fans one keyword out to every available adapter. A
// retryable failure that survives the backoff policy abandons the
// keyword entirely; a permanent failure only skips the adapter.
func (f *Fetcher) runKeyword(ctx context.Context, fetches *errgroup.Group, keyword string, run *runState) {
	adapters := f.registry.Available()
	if len(adapters) == 0 {
		run.result.KeywordsSkipped++
		f.logger.Warn().Str(logKeyKeyword, keyword).Msg("no source adapters available, skipping keyword")

		return
	}

	for i, adapter := range adapters {
		if i > 0 {
			if f.pause(ctx, f.cfg.APICallDelay) != nil {
				return
			}
		}

		genreIDs, err := f.genresFor(ctx, adapter, keyword)
		if err != nil {
			f.logger.Warn().Err(err).
				Str(logKeyKeyword, keyword).
				Str(logKeyAdapter, adapter.Name()).
				Msg("keyword taxonomy mapping failed")

			continue
		}

		if len(genreIDs) == 0 {
			f.logger.Debug().
				Str(logKeyKeyword, keyword).
				Str(logKeyAdapter, adapter.Name()).
				Msg("keyword maps to no genres, skipping adapter")

			continue
		}

		if err := f.searchAdapter(ctx, fetches, adapter, keyword, genreIDs, run); err != nil {
			if ctx.Err() != nil {
				return
			}

			if apperrors.Retryable(err) {
				run.result.KeywordsSkipped++
				f.logger.Warn().Err(err).
					Str(logKeyKeyword, keyword).
					Str(logKeyAdapter, adapter.Name()).
					Msg("keyword abandoned after retry exhaustion")

				return
			}

			f.logger.Warn().Err(err).
				Str(logKeyKeyword, keyword).
				Str(logKeyAdapter, adapter.Name()).
				Msg("adapter search failed")
		}
	}
}

// searchAdapter paginates one (keyword, adapter) pair, feeding every
// raw record through the business filter and canonicalizer.
func (f *Fetcher) searchAdapter(ctx context.Context, fetches *errgroup.Group, adapter sources.Adapter,
	keyword string, genreIDs []string, run *runState,
) error {
	name := adapter.Name()

	for page := 1; page <= maxSearchPages; page++ {
		if page > 1 {
			if err := f.pause(ctx, f.cfg.APICallDelay); err != nil {
				return err
			}
		}

		var sp *sources.SearchPage

		err := sources.Retry(ctx, f.retry, func() error {
			var searchErr error

			sp, searchErr = adapter.Search(ctx, sources.SearchQuery{
				Term:     keyword,
				GenreIDs: genreIDs,
				Page:     page,
				PerPage:  f.cfg.AdapterPageSize,
			})
			f.registry.RecordOutcome(name, searchErr)

			return searchErr
		})
		if err != nil {
			return err
		}

		for _, rec := range sp.Results {
			f.collectRecord(ctx, fetches, name, keyword, rec, run)

			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		if !sp.HasMore {
			break
		}
	}

	return nil
}

// collectRecord applies the per-record pipeline: seen-set, contact
// email filter with RSS fallback, canonicalization, candidate
// bookkeeping. Failures drop the record, never the run.
func (f *Fetcher) collectRecord(ctx context.Context, fetches *errgroup.Group, source, keyword string,
	rec sources.MediaResult, run *runState,
) {
	run.result.RecordsSeen++

	if run.alreadySeen(source, rec) {
		return
	}

	run.markSeen(source, rec)

	if rec.ContactEmail == "" && rec.RSSURL != "" {
		rec.ContactEmail = f.feedEmail(ctx, rec.RSSURL)
	}

	if rec.ContactEmail == "" {
		run.result.DroppedNoEmail++

		return
	}

	mediaID, isNew, err := f.canonicalize(ctx, source, rec)
	if err != nil {
		f.logger.Warn().Err(err).
			Str(logKeyAdapter, source).
			Str(logKeyRSS, rec.RSSURL).
			Msg("media upsert failed")

		return
	}

	if isNew {
		run.result.MediaNew++
		f.scheduleEpisodeFetch(ctx, fetches, source, mediaID, rec.ExternalID)
	} else {
		run.result.MediaMatched++
	}

	// First keyword wins for a media seen under several keywords.
	if _, ok := run.byMedia[mediaID]; ok {
		return
	}

	run.byMedia[mediaID] = struct{}{}
	run.candidates = append(run.candidates, candidate{
		mediaID: mediaID,
		keyword: keyword,
		source:  source,
		isNew:   isNew,
	})
}

// canonicalize resolves a raw directory record to a media row, creating
// one when no source knows it yet. Lookup order is RSS URL, then
// (source, external id), then a cross-source lookup that promotes the
// record to the richer provider so one podcast never splits across
// rows.
func (f *Fetcher) canonicalize(ctx context.Context, source string, rec sources.MediaResult) (int64, bool, error) {
	if rec.RSSURL != "" {
		m, err := f.db.GetMediaByRSS(ctx, rec.RSSURL)
		if err != nil {
			return 0, false, err
		}

		if m != nil {
			f.adoptSource(ctx, m, source, rec.ExternalID)

			return m.ID, false, nil
		}
	}

	if rec.ExternalID != "" {
		m, err := f.db.GetMediaBySourceID(ctx, source, rec.ExternalID)
		if err != nil {
			return 0, false, err
		}

		if m != nil {
			return m.ID, false, nil
		}
	}

	merged, ids := f.crossSourceLookup(ctx, source, rec)

	id, err := f.db.CreateMedia(ctx, mediaFromResult(merged, ids))
	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}

// adoptSource records this provider's external id on an already known
// media row.
func (f *Fetcher) adoptSource(ctx context.Context, m *domain.Media, source, externalID string) {
	if externalID == "" || m.SourceIDs[source] == externalID {
		return
	}

	if err := f.db.MergeMediaSourceID(ctx, m.ID, source, externalID); err != nil {
		f.logger.Warn().Err(err).
			Int64(logKeyMediaID, m.ID).
			Str(logKeyAdapter, source).
			Msg("merge source id failed")
	}
}

// crossSourceLookup asks the other providers whether they already know
// this podcast, by RSS URL then iTunes id. The first hit contributes
// its external id and any profile fields the original record lacked.
func (f *Fetcher) crossSourceLookup(ctx context.Context, source string, rec sources.MediaResult) (sources.MediaResult, map[string]string) {
	ids := map[string]string{}
	if rec.ExternalID != "" {
		ids[source] = rec.ExternalID
	}

	for _, other := range f.registry.Available() {
		if other.Name() == source {
			continue
		}

		hit := f.lookupOther(ctx, other, rec)
		if hit == nil {
			continue
		}

		if hit.ExternalID != "" {
			ids[other.Name()] = hit.ExternalID
		}

		rec = fillFrom(rec, *hit)

		break
	}

	return rec, ids
}

func (f *Fetcher) lookupOther(ctx context.Context, other sources.Adapter, rec sources.MediaResult) *sources.MediaResult {
	name := other.Name()

	if rec.RSSURL != "" {
		hit, err := other.LookupByRSS(ctx, rec.RSSURL)
		f.registry.RecordOutcome(name, sources.IgnoreNotFound(err))

		if err == nil && hit != nil {
			return hit
		}
	}

	if rec.ItunesID != "" {
		hit, err := other.LookupByItunesID(ctx, rec.ItunesID)
		f.registry.RecordOutcome(name, sources.IgnoreNotFound(err))

		if err == nil && hit != nil {
			return hit
		}
	}

	return nil
}

// createDiscoveries runs the budgeted second pass over the deduplicated
// candidates. The budget counts newly inserted rows only; refreshing an
// existing discovery is free, which keeps media coverage growing even
// under small budgets.
func (f *Fetcher) createDiscoveries(ctx context.Context, campaignID string, run *runState, maxDiscoveries int) {
	for _, c := range run.candidates {
		if maxDiscoveries > 0 && run.result.DiscoveriesNew >= maxDiscoveries {
			break
		}

		if ctx.Err() != nil {
			return
		}

		d, inserted, err := f.db.CreateOrGetDiscovery(ctx, campaignID, c.mediaID, c.keyword)
		if err != nil {
			f.logger.Warn().Err(err).
				Str(logKeyCampaignID, campaignID).
				Int64(logKeyMediaID, c.mediaID).
				Msg("create discovery failed")

			continue
		}

		if !inserted {
			run.result.DiscoveryDupes++

			continue
		}

		run.result.DiscoveriesNew++
		observability.DiscoveriesCreated.WithLabelValues(c.source).Inc()

		f.bus.Publish(events.Event{
			Type:       events.MediaDiscovered,
			EntityType: "discovery",
			EntityID:   d.ID,
			Data: map[string]any{
				"campaign_id": campaignID,
				"media_id":    c.mediaID,
				"keyword":     c.keyword,
				"new_media":   c.isNew,
			},
			Source: stageName,
		})
	}
}

// scheduleEpisodeFetch seeds the newest episodes for a just-created
// media row off the hot path. Failures only log; the discovery row does
// not depend on episodes existing yet.
func (f *Fetcher) scheduleEpisodeFetch(ctx context.Context, fetches *errgroup.Group, source string, mediaID int64, externalID string) {
	if externalID == "" {
		return
	}

	adapter, ok := f.registry.Get(source)
	if !ok {
		return
	}

	limit := f.cfg.EpisodeTopK

	fetches.Go(func() error {
		episodes, err := adapter.ListEpisodes(ctx, externalID, limit)
		f.registry.RecordOutcome(source, sources.IgnoreNotFound(err))

		if err != nil {
			f.logger.Warn().Err(err).
				Int64(logKeyMediaID, mediaID).
				Str(logKeyAdapter, source).
				Msg("initial episode fetch failed")

			return nil
		}

		for _, ep := range episodes {
			if _, err := f.db.UpsertEpisode(ctx, episodeFromResult(source, mediaID, ep)); err != nil {
				f.logger.Warn().Err(err).
					Int64(logKeyMediaID, mediaID).
					Msg("episode upsert failed")
			}
		}

		return nil
	})
}

// genresFor maps the keyword onto the adapter's taxonomy. An empty
// result means the keyword has no home in this directory.
func (f *Fetcher) genresFor(ctx context.Context, adapter sources.Adapter, keyword string) ([]string, error) {
	taxonomy := adapter.Taxonomy()

	options := make([]llm.GenreOption, 0, len(taxonomy))
	for _, t := range taxonomy {
		options = append(options, llm.GenreOption{ID: t.ID, Name: t.Name})
	}

	return f.mapper.MapKeywordToGenres(ctx, keyword, options)
}

// feedEmail fetches the feed and extracts the owner email. Any failure
// reads as "no email found".
func (f *Fetcher) feedEmail(ctx context.Context, rssURL string) string {
	feed, err := f.feeds.FetchFeed(ctx, rssURL)
	if err != nil {
		f.logger.Debug().Err(err).Str(logKeyRSS, rssURL).Msg("rss email fallback failed")

		return ""
	}

	return sources.OwnerEmail(feed)
}

func (f *Fetcher) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (run *runState) alreadySeen(source string, rec sources.MediaResult) bool {
	for _, k := range seenKeys(source, rec) {
		if _, ok := run.seen[k]; ok {
			return true
		}
	}

	return false
}

func (run *runState) markSeen(source string, rec sources.MediaResult) {
	for _, k := range seenKeys(source, rec) {
		run.seen[k] = struct{}{}
	}
}

func seenKeys(source string, rec sources.MediaResult) []string {
	keys := make([]string, 0, 2)

	if rec.ExternalID != "" {
		keys = append(keys, source+":"+rec.ExternalID)
	}

	if rec.RSSURL != "" {
		keys = append(keys, "rss:"+rec.RSSURL)
	}

	return keys
}

// fillFrom overlays profile fields the record lacks with values from a
// cross-source hit and keeps the larger audience numbers.
func fillFrom(rec, hit sources.MediaResult) sources.MediaResult {
	if rec.RSSURL == "" {
		rec.RSSURL = hit.RSSURL
	}

	if rec.Name == "" {
		rec.Name = hit.Name
	}

	if rec.Description == "" {
		rec.Description = hit.Description
	}

	if rec.ItunesID == "" {
		rec.ItunesID = hit.ItunesID
	}

	if rec.ContactEmail == "" {
		rec.ContactEmail = hit.ContactEmail
	}

	if rec.Category == "" {
		rec.Category = hit.Category
	}

	if rec.Language == "" {
		rec.Language = hit.Language
	}

	if hit.EpisodeCount > rec.EpisodeCount {
		rec.EpisodeCount = hit.EpisodeCount
	}

	if hit.AudienceSize > rec.AudienceSize {
		rec.AudienceSize = hit.AudienceSize
	}

	if len(rec.SocialURLs) == 0 {
		rec.SocialURLs = hit.SocialURLs
	}

	return rec
}

func mediaFromResult(rec sources.MediaResult, ids map[string]string) *domain.Media {
	return &domain.Media{
		RSSURL:       rec.RSSURL,
		SourceIDs:    ids,
		Name:         rec.Name,
		Description:  htmlutils.StripTags(rec.Description),
		ContactEmail: rec.ContactEmail,
		Category:     normalizeCategory(rec.Category),
		Language:     rec.Language,
		EpisodeCount: rec.EpisodeCount,
		AudienceSize: rec.AudienceSize,
		SocialURLs:   rec.SocialURLs,
	}
}

// normalizeCategory folds provider casing ("true crime", "TRUE CRIME")
// into one display form so records from different directories land
// under the same label.
func normalizeCategory(category string) string {
	return strings.TrimSpace(cases.Title(language.English).String(strings.ToLower(category)))
}

func episodeFromResult(source string, mediaID int64, ep sources.EpisodeResult) *domain.Episode {
	return &domain.Episode{
		MediaID:     mediaID,
		SourceAPI:   source,
		ExternalID:  ep.ExternalID,
		Title:       ep.Title,
		PublishedAt: ep.PublishedAt,
		DurationSec: ep.DurationSec,
		Description: htmlutils.StripTags(ep.Description),
		AudioURL:    ep.AudioURL,
	}
}
