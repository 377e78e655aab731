package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/podscout/podscout/internal/core/errors"
)

const (
	AdapterListenNotes = "listennotes"

	listenNotesDefaultBaseURL = "https://listen-api.listennotes.com/api/v2"
	listenNotesDefaultTimeout = 30 * time.Second
	listenNotesAuthHeader     = "X-ListenAPI-Key"
)

// ListenNotesConfig configures the Listen Notes directory adapter.
type ListenNotesConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	PageSize          int
	RequestsPerSecond float64
}

// ListenNotesAdapter searches the Listen Notes directory. Offset-based
// paging; genre ids are integers on the wire.
type ListenNotesAdapter struct {
	baseURL     string
	apiKey      string
	pageSize    int
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewListenNotesAdapter(cfg ListenNotesConfig) *ListenNotesAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = listenNotesDefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = listenNotesDefaultTimeout
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	return &ListenNotesAdapter{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		pageSize:    pageSize,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (l *ListenNotesAdapter) Name() string { return AdapterListenNotes }

func (l *ListenNotesAdapter) Priority() int { return PrioritySecondary }

func (l *ListenNotesAdapter) IsAvailable() bool { return l.apiKey != "" }

type listenNotesResult struct {
	ID            string      `json:"id"`
	TitleOriginal string      `json:"title_original"`
	DescOriginal  string      `json:"description_original"`
	RSS           string      `json:"rss"`
	ItunesID      json.Number `json:"itunes_id"`
	Email         string      `json:"email"`
	GenreIDs      []int       `json:"genre_ids"`
	TotalEpisodes int         `json:"total_episodes"`
	ListenScore   int         `json:"listen_score"`
	Website       string      `json:"website"`
}

type listenNotesSearchResponse struct {
	Results    []listenNotesResult `json:"results"`
	NextOffset int                 `json:"next_offset"`
	Total      int                 `json:"total"`
	Count      int                 `json:"count"`
}

type listenNotesEpisode struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Audio         string      `json:"audio"`
	AudioLengthSc int         `json:"audio_length_sec"`
	PubDateMS     json.Number `json:"pub_date_ms"`
}

type listenNotesPodcast struct {
	listenNotesResult

	Title       string               `json:"title"`
	Description string               `json:"description"`
	Episodes    []listenNotesEpisode `json:"episodes"`
}

func (l *ListenNotesAdapter) Search(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = l.pageSize
	}

	page := q.Page
	if page <= 0 {
		page = 1
	}

	params := url.Values{}
	params.Set("q", q.Term)
	params.Set("type", "podcast")
	params.Set("offset", strconv.Itoa((page-1)*perPage))
	params.Set("page_size", strconv.Itoa(perPage))

	if len(q.GenreIDs) > 0 {
		params.Set("genre_ids", strings.Join(q.GenreIDs, ","))
	}

	if q.Language != "" {
		params.Set("language", q.Language)
	}

	var resp listenNotesSearchResponse
	if err := l.get(ctx, "/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	results := make([]MediaResult, 0, len(resp.Results))
	for i := range resp.Results {
		results = append(results, listenNotesToMediaResult(&resp.Results[i]))
	}

	return &SearchPage{
		Results: results,
		Page:    page,
		HasMore: resp.NextOffset < resp.Total && len(resp.Results) > 0,
	}, nil
}

func (l *ListenNotesAdapter) LookupByRSS(ctx context.Context, rssURL string) (*MediaResult, error) {
	params := url.Values{}
	params.Set("rss", rssURL)
	params.Set("type", "podcast")

	var resp listenNotesSearchResponse
	if err := l.get(ctx, "/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	for i := range resp.Results {
		if resp.Results[i].RSS == rssURL {
			result := listenNotesToMediaResult(&resp.Results[i])

			return &result, nil
		}
	}

	return nil, nil //nolint:nilnil // nil,nil indicates not indexed by this provider
}

func (l *ListenNotesAdapter) LookupByItunesID(ctx context.Context, itunesID string) (*MediaResult, error) {
	var resp listenNotesPodcast
	if err := l.get(ctx, "/podcasts/itunes/"+url.PathEscape(itunesID), &resp); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil //nolint:nilnil // nil,nil indicates not indexed by this provider
		}

		return nil, err
	}

	result := listenNotesPodcastToMediaResult(&resp)

	return &result, nil
}

func (l *ListenNotesAdapter) ListEpisodes(ctx context.Context, externalID string, limit int) ([]EpisodeResult, error) {
	var resp listenNotesPodcast
	if err := l.get(ctx, "/podcasts/"+url.PathEscape(externalID)+"?sort=recent_first", &resp); err != nil {
		return nil, err
	}

	episodes := make([]EpisodeResult, 0, len(resp.Episodes))

	for _, e := range resp.Episodes {
		if limit > 0 && len(episodes) >= limit {
			break
		}

		episode := EpisodeResult{
			ExternalID:  e.ID,
			Title:       e.Title,
			Description: e.Description,
			AudioURL:    e.Audio,
			DurationSec: e.AudioLengthSc,
		}

		if ms, err := e.PubDateMS.Int64(); err == nil && ms > 0 {
			episode.PublishedAt = time.UnixMilli(ms).UTC()
		}

		episodes = append(episodes, episode)
	}

	return episodes, nil
}

// Taxonomy returns the Listen Notes genre tree flattened to the genres
// campaigns actually search.
func (l *ListenNotesAdapter) Taxonomy() []TaxonomyEntry {
	return listenNotesGenres
}

func (l *ListenNotesAdapter) get(ctx context.Context, path string, out any) error {
	if err := l.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("listennotes rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create listennotes request: %w", err)
	}

	req.Header.Set(listenNotesAuthHeader, l.apiKey)
	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("listennotes request: %w: %v", apperrors.ErrTransient, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read listennotes response: %w: %v", apperrors.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return mapStatusError(AdapterListenNotes, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode listennotes response: %w", err)
	}

	return nil
}

func listenNotesToMediaResult(r *listenNotesResult) MediaResult {
	socials := []string{}
	if r.Website != "" {
		socials = append(socials, r.Website)
	}

	category := ""
	if len(r.GenreIDs) > 0 {
		category = genreName(r.GenreIDs[0])
	}

	// Listen score is 0-100; scale to a rough audience estimate so the
	// two providers stay comparable.
	audience := int64(r.ListenScore) * listenScoreAudienceScale

	return MediaResult{
		ExternalID:   r.ID,
		Name:         r.TitleOriginal,
		Description:  r.DescOriginal,
		RSSURL:       r.RSS,
		ItunesID:     r.ItunesID.String(),
		ContactEmail: r.Email,
		Category:     category,
		EpisodeCount: r.TotalEpisodes,
		AudienceSize: audience,
		SocialURLs:   socials,
	}
}

func listenNotesPodcastToMediaResult(p *listenNotesPodcast) MediaResult {
	result := listenNotesToMediaResult(&p.listenNotesResult)

	if result.Name == "" {
		result.Name = p.Title
	}

	if result.Description == "" {
		result.Description = p.Description
	}

	return result
}

const listenScoreAudienceScale = 1000

func genreName(id int) string {
	for _, g := range listenNotesGenres {
		if g.ID == strconv.Itoa(id) {
			return g.Name
		}
	}

	return ""
}

// listenNotesGenres mirrors the provider's GET /genres ids.
var listenNotesGenres = []TaxonomyEntry{
	{ID: "93", Name: "Business"},
	{ID: "67", Name: "Investing"},
	{ID: "97", Name: "Entrepreneurship"},
	{ID: "94", Name: "Marketing"},
	{ID: "127", Name: "Technology"},
	{ID: "131", Name: "Programming"},
	{ID: "107", Name: "Science"},
	{ID: "111", Name: "Education"},
	{ID: "115", Name: "Self-Improvement"},
	{ID: "88", Name: "Health & Fitness"},
	{ID: "90", Name: "Mental Health"},
	{ID: "122", Name: "Society & Culture"},
	{ID: "99", Name: "News"},
	{ID: "117", Name: "Government"},
	{ID: "135", Name: "True Crime"},
	{ID: "133", Name: "Comedy"},
	{ID: "100", Name: "Arts"},
	{ID: "77", Name: "Sports"},
	{ID: "125", Name: "History"},
	{ID: "69", Name: "Religion & Spirituality"},
}
