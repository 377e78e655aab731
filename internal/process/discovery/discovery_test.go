package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podscout/podscout/internal/core/domain"
	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/core/llm"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/sources"
)

type discoveryRow struct {
	campaignID string
	mediaID    int64
	keyword    string
}

type fakeRepo struct {
	mu          sync.Mutex
	byRSS       map[string]*domain.Media
	bySource    map[string]*domain.Media
	created     []*domain.Media
	merged      []string
	episodes    []*domain.Episode
	discoveries []discoveryRow
	nextID      int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		byRSS:    map[string]*domain.Media{},
		bySource: map[string]*domain.Media{},
	}
}

func (r *fakeRepo) seed(m *domain.Media) {
	r.byRSS[m.RSSURL] = m
	for src, id := range m.SourceIDs {
		r.bySource[src+":"+id] = m
	}
}

func (r *fakeRepo) GetMediaByRSS(_ context.Context, rssURL string) (*domain.Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.byRSS[rssURL], nil
}

func (r *fakeRepo) GetMediaBySourceID(_ context.Context, source, externalID string) (*domain.Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bySource[source+":"+externalID], nil
}

func (r *fakeRepo) CreateMedia(_ context.Context, m *domain.Media) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.RSSURL != "" {
		if existing := r.byRSS[m.RSSURL]; existing != nil {
			return existing.ID, nil
		}
	}

	r.nextID++
	m.ID = r.nextID
	r.created = append(r.created, m)

	if m.RSSURL != "" {
		r.byRSS[m.RSSURL] = m
	}

	for src, id := range m.SourceIDs {
		r.bySource[src+":"+id] = m
	}

	return m.ID, nil
}

func (r *fakeRepo) MergeMediaSourceID(_ context.Context, id int64, source, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.merged = append(r.merged, fmt.Sprintf("%d:%s:%s", id, source, externalID))

	return nil
}

func (r *fakeRepo) UpsertEpisode(_ context.Context, e *domain.Episode) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.episodes = append(r.episodes, e)

	return int64(len(r.episodes)), nil
}

func (r *fakeRepo) CreateOrGetDiscovery(_ context.Context, campaignID string, mediaID int64, keyword string) (*domain.Discovery, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.discoveries {
		if d.campaignID == campaignID && d.mediaID == mediaID {
			return &domain.Discovery{ID: "existing", CampaignID: campaignID, MediaID: mediaID, Keyword: d.keyword}, false, nil
		}
	}

	r.discoveries = append(r.discoveries, discoveryRow{campaignID: campaignID, mediaID: mediaID, keyword: keyword})

	return &domain.Discovery{
		ID:         fmt.Sprintf("d-%d", len(r.discoveries)),
		CampaignID: campaignID,
		MediaID:    mediaID,
		Keyword:    keyword,
	}, true, nil
}

type fakeAdapter struct {
	mu          sync.Mutex
	name        string
	priority    int
	pages       map[string][]sources.SearchPage
	rateLimited map[string]bool
	rssHits     map[string]*sources.MediaResult
	itunesHits  map[string]*sources.MediaResult
	episodes    map[string][]sources.EpisodeResult
	searchCalls int
}

func (a *fakeAdapter) Name() string      { return a.name }
func (a *fakeAdapter) Priority() int     { return a.priority }
func (a *fakeAdapter) IsAvailable() bool { return true }

func (a *fakeAdapter) Taxonomy() []sources.TaxonomyEntry {
	return []sources.TaxonomyEntry{{ID: "93", Name: "Business"}, {ID: "127", Name: "Technology"}}
}

func (a *fakeAdapter) Search(_ context.Context, q sources.SearchQuery) (*sources.SearchPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.searchCalls++

	if a.rateLimited[q.Term] {
		return nil, fmt.Errorf("%s: %w", a.name, apperrors.ErrRateLimited)
	}

	pages := a.pages[q.Term]
	if q.Page < 1 || q.Page > len(pages) {
		return &sources.SearchPage{Page: q.Page}, nil
	}

	page := pages[q.Page-1]
	page.Page = q.Page

	return &page, nil
}

func (a *fakeAdapter) LookupByRSS(_ context.Context, rssURL string) (*sources.MediaResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hit := a.rssHits[rssURL]; hit != nil {
		return hit, nil
	}

	return nil, fmt.Errorf("%s: %w", a.name, apperrors.ErrNotFound)
}

func (a *fakeAdapter) LookupByItunesID(_ context.Context, itunesID string) (*sources.MediaResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hit := a.itunesHits[itunesID]; hit != nil {
		return hit, nil
	}

	return nil, fmt.Errorf("%s: %w", a.name, apperrors.ErrNotFound)
}

func (a *fakeAdapter) ListEpisodes(_ context.Context, externalID string, limit int) ([]sources.EpisodeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	eps := a.episodes[externalID]
	if limit > 0 && len(eps) > limit {
		eps = eps[:limit]
	}

	return eps, nil
}

type fakeMapper struct {
	genres map[string][]string
}

func (m *fakeMapper) MapKeywordToGenres(_ context.Context, keyword string, genres []llm.GenreOption) ([]string, error) {
	if m.genres != nil {
		if ids, ok := m.genres[keyword]; ok {
			return ids, nil
		}
	}

	if len(genres) == 0 {
		return nil, nil
	}

	return []string{genres[0].ID}, nil
}

type fakeFeeds struct {
	emails map[string]string
}

func (f *fakeFeeds) FetchFeed(_ context.Context, feedURL string) (*gofeed.Feed, error) {
	email, ok := f.emails[feedURL]
	if !ok {
		return nil, fmt.Errorf("fetch feed: %w", apperrors.ErrNotFound)
	}

	return &gofeed.Feed{Authors: []*gofeed.Person{{Email: email}}}, nil
}

type eventSink struct {
	mu  sync.Mutex
	got []events.Event
}

func (s *eventSink) add(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.got = append(s.got, ev)
}

func (s *eventSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]events.Event{}, s.got...)
}

type harness struct {
	fetcher *Fetcher
	repo    *fakeRepo
	feeds   *fakeFeeds
	mapper  *fakeMapper
	bus     *events.Bus
	sink    *eventSink
}

func newHarness(t *testing.T, adapters ...sources.Adapter) *harness {
	t.Helper()

	logger := zerolog.Nop()

	registry := sources.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}

	bus := events.NewBus(&logger)
	t.Cleanup(bus.Close)

	sink := &eventSink{}
	bus.Subscribe("test", sink.add, events.MediaDiscovered)

	cfg := &config.Config{
		AdapterPageSize:   25,
		AdapterMaxRetries: 2,
		EpisodeTopK:       5,
	}

	repo := newFakeRepo()
	feeds := &fakeFeeds{emails: map[string]string{}}
	mapper := &fakeMapper{}

	f := NewFetcher(cfg, repo, registry, feeds, mapper, bus, &logger)
	f.retry = sources.RetryPolicy{
		MaxAttempts:   2,
		BaseDelay:     time.Millisecond,
		RateLimitBase: time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
	}

	return &harness{fetcher: f, repo: repo, feeds: feeds, mapper: mapper, bus: bus, sink: sink}
}

func testCampaign(keywords ...string) *domain.Campaign {
	return &domain.Campaign{ID: "c-1", PersonID: 7, Name: "Launch", Keywords: keywords}
}

func record(id, rss, email string) sources.MediaResult {
	return sources.MediaResult{
		ExternalID:   id,
		Name:         "Show " + id,
		Description:  "<p>About " + id + "</p>",
		RSSURL:       rss,
		ContactEmail: email,
		Category:     "Business",
		EpisodeCount: 40,
	}
}

func TestRunCreatesDiscoveriesAndPublishes(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		pages: map[string][]sources.SearchPage{
			"pricing": {{Results: []sources.MediaResult{
				record("p1", "https://feeds.one.fm/rss", "one@show.fm"),
				record("p2", "https://feeds.two.fm/rss", "two@show.fm"),
				record("p3", "https://feeds.three.fm/rss", "three@show.fm"),
			}}},
		},
		episodes: map[string][]sources.EpisodeResult{
			"p1": {{ExternalID: "e1", Title: "Ep 1", AudioURL: "https://cdn.one.fm/e1.mp3"}},
		},
	}

	h := newHarness(t, adapter)

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing"), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, res.RecordsSeen)
	assert.Equal(t, 3, res.MediaNew)
	assert.Equal(t, 3, res.DiscoveriesNew)
	require.Len(t, h.repo.discoveries, 3)
	assert.Equal(t, "pricing", h.repo.discoveries[0].keyword)

	require.NotEmpty(t, h.repo.created)
	assert.Equal(t, "About p1", h.repo.created[0].Description, "description should be plain text")

	assert.Len(t, h.repo.episodes, 1, "new media should get its first episodes seeded")

	h.bus.Close()

	got := h.sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, events.MediaDiscovered, got[0].Type)
	assert.Equal(t, "c-1", got[0].Data["campaign_id"])
}

func TestRunBudgetCapsNewDiscoveries(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		pages: map[string][]sources.SearchPage{
			"pricing": {{Results: []sources.MediaResult{
				record("p1", "https://feeds.one.fm/rss", "a@a.fm"),
				record("p2", "https://feeds.two.fm/rss", "b@b.fm"),
				record("p3", "https://feeds.three.fm/rss", "c@c.fm"),
				record("p4", "https://feeds.four.fm/rss", "d@d.fm"),
			}}},
		},
	}

	h := newHarness(t, adapter)

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing"), nil, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, res.DiscoveriesNew)
	assert.Len(t, h.repo.discoveries, 2)
	assert.Equal(t, 4, res.MediaNew, "media inventory should keep growing past the budget")
}

func TestRunRequiresContactEmail(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		pages: map[string][]sources.SearchPage{
			"pricing": {{Results: []sources.MediaResult{
				record("p1", "https://feeds.one.fm/rss", ""),
				record("p2", "https://feeds.two.fm/rss", ""),
			}}},
		},
	}

	h := newHarness(t, adapter)
	h.feeds.emails["https://feeds.one.fm/rss"] = "owner@one.fm"

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing"), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.MediaNew)
	assert.Equal(t, 1, res.DroppedNoEmail)
	require.Len(t, h.repo.created, 1)
	assert.Equal(t, "owner@one.fm", h.repo.created[0].ContactEmail)
}

func TestRunFirstKeywordWinsForSharedMedia(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		pages: map[string][]sources.SearchPage{
			"pricing": {{Results: []sources.MediaResult{record("p1", "https://feeds.one.fm/rss", "a@a.fm")}}},
			"saas":    {{Results: []sources.MediaResult{record("p9", "", "b@b.fm")}}},
		},
	}

	h := newHarness(t, adapter)
	h.repo.seed(&domain.Media{
		ID:        41,
		RSSURL:    "https://feeds.one.fm/rss",
		SourceIDs: map[string]string{"podscan": "p9"},
	})
	h.repo.nextID = 41

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing", "saas"), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RecordsSeen)
	assert.Equal(t, 1, res.DiscoveriesNew)
	require.Len(t, h.repo.discoveries, 1)
	assert.Equal(t, int64(41), h.repo.discoveries[0].mediaID)
	assert.Equal(t, "pricing", h.repo.discoveries[0].keyword)
}

func TestRunSeenSetSkipsRepeatedRecords(t *testing.T) {
	rec := record("p1", "https://feeds.one.fm/rss", "a@a.fm")
	adapter := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		pages: map[string][]sources.SearchPage{
			"pricing": {{Results: []sources.MediaResult{rec, rec}}},
		},
	}

	h := newHarness(t, adapter)

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing"), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RecordsSeen)
	assert.Equal(t, 1, res.MediaNew)
	assert.Len(t, h.repo.created, 1)
}

func TestRunRateLimitedKeywordSkipped(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "podscan",
		priority:    sources.PriorityPrimary,
		rateLimited: map[string]bool{"pricing": true},
		pages: map[string][]sources.SearchPage{
			"growth": {{Results: []sources.MediaResult{record("g1", "https://feeds.g.fm/rss", "g@g.fm")}}},
		},
	}

	h := newHarness(t, adapter)

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing", "growth"), nil, 0)
	require.NoError(t, err, "a rate-limited keyword must not fail the run")

	assert.Equal(t, 1, res.KeywordsSkipped)
	assert.Equal(t, 1, res.DiscoveriesNew)
	require.Len(t, h.repo.discoveries, 1)
	assert.Equal(t, "growth", h.repo.discoveries[0].keyword)
	assert.Equal(t, 3, adapter.searchCalls, "two rate-limited attempts, then the next keyword")
}

func TestRunCrossSourcePromotion(t *testing.T) {
	primary := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		rssHits: map[string]*sources.MediaResult{
			"https://feeds.rich.fm/rss": {
				ExternalID:   "ps9",
				AudienceSize: 90000,
				SocialURLs:   []string{"https://x.com/richshow"},
			},
		},
	}
	secondary := &fakeAdapter{
		name:     "listennotes",
		priority: sources.PrioritySecondary,
		pages: map[string][]sources.SearchPage{
			"growth": {{Results: []sources.MediaResult{record("ln1", "https://feeds.rich.fm/rss", "host@rich.fm")}}},
		},
	}

	h := newHarness(t, primary, secondary)

	_, err := h.fetcher.Run(context.Background(), testCampaign("growth"), nil, 0)
	require.NoError(t, err)

	require.Len(t, h.repo.created, 1)
	m := h.repo.created[0]
	assert.Equal(t, "ln1", m.SourceIDs["listennotes"])
	assert.Equal(t, "ps9", m.SourceIDs["podscan"])
	assert.Equal(t, int64(90000), m.AudienceSize)
	assert.Equal(t, []string{"https://x.com/richshow"}, m.SocialURLs)
}

func TestRunExistingMediaAdoptsSourceID(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		pages: map[string][]sources.SearchPage{
			"pricing": {{Results: []sources.MediaResult{record("p1", "https://feeds.one.fm/rss", "a@a.fm")}}},
		},
	}

	h := newHarness(t, adapter)
	h.repo.seed(&domain.Media{ID: 42, RSSURL: "https://feeds.one.fm/rss", SourceIDs: map[string]string{}})
	h.repo.nextID = 42

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing"), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, res.MediaNew)
	assert.Equal(t, 1, res.MediaMatched)
	assert.Empty(t, h.repo.created)
	assert.Equal(t, []string{"42:podscan:p1"}, h.repo.merged)
	require.Len(t, h.repo.discoveries, 1)
	assert.Equal(t, int64(42), h.repo.discoveries[0].mediaID)
}

func TestRunKeywordWithoutGenresSkipsAdapter(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "podscan",
		priority: sources.PriorityPrimary,
		pages: map[string][]sources.SearchPage{
			"pricing": {{Results: []sources.MediaResult{record("p1", "https://feeds.one.fm/rss", "a@a.fm")}}},
		},
	}

	h := newHarness(t, adapter)
	h.mapper.genres = map[string][]string{"pricing": {}}

	res, err := h.fetcher.Run(context.Background(), testCampaign("pricing"), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, adapter.searchCalls)
	assert.Equal(t, 0, res.DiscoveriesNew)
}

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]string{
		"true crime":    "True Crime",
		"TRUE CRIME":    "True Crime",
		" Business  ":   "Business",
		"saas & growth": "Saas & Growth",
		"":              "",
	}

	for in, want := range cases {
		assert.Equal(t, want, normalizeCategory(in), "input %q", in)
	}
}
