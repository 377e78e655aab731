package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/time/rate"

	apperrors "github.com/podscout/podscout/internal/core/errors"
)

const (
	AdapterPodscan = "podscan"

	podscanDefaultBaseURL = "https://podscan.fm/api/v1"
	podscanDefaultTimeout = 30 * time.Second
	podscanAuthPrefix     = "Bearer "
	headerAuthorization   = "Authorization"
	headerAccept          = "Accept"
	contentTypeJSON       = "application/json"
)

// PodscanConfig configures the Podscan directory adapter.
type PodscanConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	PageSize          int
	RequestsPerSecond float64
}

// PodscanAdapter searches the Podscan directory. Podscan indexes
// transcripts, so its results tend to carry richer reach estimates.
type PodscanAdapter struct {
	baseURL     string
	apiKey      string
	pageSize    int
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewPodscanAdapter(cfg PodscanConfig) *PodscanAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = podscanDefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = podscanDefaultTimeout
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	return &PodscanAdapter{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		pageSize:    pageSize,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (p *PodscanAdapter) Name() string { return AdapterPodscan }

func (p *PodscanAdapter) Priority() int { return PriorityPrimary }

func (p *PodscanAdapter) IsAvailable() bool { return p.apiKey != "" }

type podscanCategory struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
}

type podscanSocial struct {
	URL string `json:"url"`
}

type podscanPodcast struct {
	PodcastID          string            `json:"podcast_id"`
	PodcastName        string            `json:"podcast_name"`
	PodcastDescription string            `json:"podcast_description"`
	RSSURL             string            `json:"rss_url"`
	ItunesID           json.Number       `json:"podcast_itunes_id"`
	Email              string            `json:"email"`
	Language           string            `json:"podcast_language"`
	EpisodeCount       int               `json:"episode_count"`
	AudienceEstimate   int64             `json:"audience_estimate"`
	Categories         []podscanCategory `json:"categories"`
	Socials            []podscanSocial   `json:"socials"`
}

type podscanSearchResponse struct {
	Podcasts    []podscanPodcast `json:"podcasts"`
	CurrentPage int              `json:"current_page"`
	LastPage    int              `json:"last_page"`
}

type podscanPodcastResponse struct {
	Podcast *podscanPodcast `json:"podcast"`
}

type podscanEpisode struct {
	EpisodeID          string `json:"episode_id"`
	EpisodeTitle       string `json:"episode_title"`
	EpisodeDescription string `json:"episode_description"`
	EpisodeAudioURL    string `json:"episode_audio_url"`
	PostedAt           string `json:"posted_at"`
	DurationInSeconds  int    `json:"duration_in_seconds"`
}

type podscanEpisodesResponse struct {
	Episodes []podscanEpisode `json:"episodes"`
}

func (p *PodscanAdapter) Search(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = p.pageSize
	}

	page := q.Page
	if page <= 0 {
		page = 1
	}

	params := url.Values{}
	params.Set("query", q.Term)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))

	for _, id := range q.GenreIDs {
		params.Add("category_ids[]", id)
	}

	if q.Language != "" {
		params.Set("language", q.Language)
	}

	var resp podscanSearchResponse
	if err := p.get(ctx, "/podcasts/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	results := make([]MediaResult, 0, len(resp.Podcasts))
	for i := range resp.Podcasts {
		results = append(results, podscanToMediaResult(&resp.Podcasts[i]))
	}

	return &SearchPage{
		Results: results,
		Page:    page,
		HasMore: resp.CurrentPage < resp.LastPage,
	}, nil
}

func (p *PodscanAdapter) LookupByRSS(ctx context.Context, rssURL string) (*MediaResult, error) {
	params := url.Values{}
	params.Set("rss_url", rssURL)

	var resp podscanPodcastResponse
	if err := p.get(ctx, "/podcasts/by_rss?"+params.Encode(), &resp); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil //nolint:nilnil // nil,nil indicates not indexed by this provider
		}

		return nil, err
	}

	if resp.Podcast == nil {
		return nil, nil //nolint:nilnil // nil,nil indicates not indexed by this provider
	}

	result := podscanToMediaResult(resp.Podcast)

	return &result, nil
}

func (p *PodscanAdapter) LookupByItunesID(ctx context.Context, itunesID string) (*MediaResult, error) {
	params := url.Values{}
	params.Set("itunes_id", itunesID)

	var resp podscanPodcastResponse
	if err := p.get(ctx, "/podcasts/by_itunes_id?"+params.Encode(), &resp); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil //nolint:nilnil // nil,nil indicates not indexed by this provider
		}

		return nil, err
	}

	if resp.Podcast == nil {
		return nil, nil //nolint:nilnil // nil,nil indicates not indexed by this provider
	}

	result := podscanToMediaResult(resp.Podcast)

	return &result, nil
}

func (p *PodscanAdapter) ListEpisodes(ctx context.Context, externalID string, limit int) ([]EpisodeResult, error) {
	params := url.Values{}
	params.Set("order_by", "posted_at")
	params.Set("limit", strconv.Itoa(limit))

	var resp podscanEpisodesResponse
	if err := p.get(ctx, "/podcasts/"+url.PathEscape(externalID)+"/episodes?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	episodes := make([]EpisodeResult, 0, len(resp.Episodes))

	for _, e := range resp.Episodes {
		episode := EpisodeResult{
			ExternalID:  e.EpisodeID,
			Title:       e.EpisodeTitle,
			Description: e.EpisodeDescription,
			AudioURL:    e.EpisodeAudioURL,
			DurationSec: e.DurationInSeconds,
		}

		if e.PostedAt != "" {
			if ts, err := dateparse.ParseAny(e.PostedAt); err == nil {
				episode.PublishedAt = ts
			}
		}

		episodes = append(episodes, episode)
	}

	return episodes, nil
}

// Taxonomy returns Podscan's published category list.
func (p *PodscanAdapter) Taxonomy() []TaxonomyEntry {
	return podscanCategories
}

func (p *PodscanAdapter) get(ctx context.Context, path string, out any) error {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("podscan rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create podscan request: %w", err)
	}

	req.Header.Set(headerAuthorization, podscanAuthPrefix+p.apiKey)
	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("podscan request: %w: %v", apperrors.ErrTransient, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read podscan response: %w: %v", apperrors.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return mapStatusError(AdapterPodscan, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode podscan response: %w", err)
	}

	return nil
}

func podscanToMediaResult(p *podscanPodcast) MediaResult {
	socials := make([]string, 0, len(p.Socials))
	for _, s := range p.Socials {
		if s.URL != "" {
			socials = append(socials, s.URL)
		}
	}

	category := ""
	if len(p.Categories) > 0 {
		category = p.Categories[0].CategoryName
	}

	return MediaResult{
		ExternalID:   p.PodcastID,
		Name:         p.PodcastName,
		Description:  p.PodcastDescription,
		RSSURL:       p.RSSURL,
		ItunesID:     p.ItunesID.String(),
		ContactEmail: p.Email,
		Category:     category,
		Language:     p.Language,
		EpisodeCount: p.EpisodeCount,
		AudienceSize: p.AudienceEstimate,
		SocialURLs:   socials,
	}
}

// podscanCategories is the provider's category taxonomy; ids are what
// the search endpoint accepts in category_ids[].
var podscanCategories = []TaxonomyEntry{
	{ID: "ct_arts", Name: "Arts"},
	{ID: "ct_business", Name: "Business"},
	{ID: "ct_comedy", Name: "Comedy"},
	{ID: "ct_education", Name: "Education"},
	{ID: "ct_fiction", Name: "Fiction"},
	{ID: "ct_government", Name: "Government"},
	{ID: "ct_health_fitness", Name: "Health & Fitness"},
	{ID: "ct_history", Name: "History"},
	{ID: "ct_kids_family", Name: "Kids & Family"},
	{ID: "ct_leisure", Name: "Leisure"},
	{ID: "ct_music", Name: "Music"},
	{ID: "ct_news", Name: "News"},
	{ID: "ct_religion_spirituality", Name: "Religion & Spirituality"},
	{ID: "ct_science", Name: "Science"},
	{ID: "ct_society_culture", Name: "Society & Culture"},
	{ID: "ct_sports", Name: "Sports"},
	{ID: "ct_technology", Name: "Technology"},
	{ID: "ct_true_crime", Name: "True Crime"},
	{ID: "ct_tv_film", Name: "TV & Film"},
}
