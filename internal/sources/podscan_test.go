package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/podscout/podscout/internal/core/errors"
)

func TestPodscanAdapter_Search_Success(t *testing.T) {
	var gotAuth, gotQuery string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get(headerAuthorization)
		gotQuery = r.URL.Query().Get("query")

		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte(`{
			"podcasts": [
				{
					"podcast_id": "pd_abc123",
					"podcast_name": "Founder Stories",
					"podcast_description": "Interviews with startup founders.",
					"rss_url": "https://feeds.example.com/founders",
					"podcast_itunes_id": 123456,
					"email": "host@example.com",
					"podcast_language": "en",
					"episode_count": 87,
					"audience_estimate": 15000,
					"categories": [{"category_id": "ct_business", "category_name": "Business"}],
					"socials": [{"url": "https://twitter.com/founders"}]
				}
			],
			"current_page": 1,
			"last_page": 3
		}`)); err != nil {
			t.Errorf(failedToWriteResp, err)
		}
	}))
	defer ts.Close()

	p := NewPodscanAdapter(PodscanConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	p.baseURL = ts.URL

	page, err := p.Search(context.Background(), SearchQuery{Term: testSearchTerm})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if gotAuth != "Bearer "+testAPIKey {
		t.Errorf(expectedFmt, "Bearer "+testAPIKey, gotAuth)
	}

	if gotQuery != testSearchTerm {
		t.Errorf(expectedFmt, testSearchTerm, gotQuery)
	}

	if len(page.Results) != 1 {
		t.Fatalf("results length = %d, want 1", len(page.Results))
	}

	got := page.Results[0]

	if got.ExternalID != "pd_abc123" {
		t.Errorf(expectedFmt, "pd_abc123", got.ExternalID)
	}

	if got.ContactEmail != "host@example.com" {
		t.Errorf(expectedFmt, "host@example.com", got.ContactEmail)
	}

	if got.ItunesID != "123456" {
		t.Errorf(expectedFmt, "123456", got.ItunesID)
	}

	if got.Category != "Business" {
		t.Errorf(expectedFmt, "Business", got.Category)
	}

	if got.AudienceSize != 15000 {
		t.Errorf("AudienceSize = %d, want 15000", got.AudienceSize)
	}

	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestPodscanAdapter_Search_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	p := NewPodscanAdapter(PodscanConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	p.baseURL = ts.URL

	_, err := p.Search(context.Background(), SearchQuery{Term: testSearchTerm})
	if err == nil {
		t.Fatal(expectedErrGotNil)
	}

	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestPodscanAdapter_Search_AuthError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	p := NewPodscanAdapter(PodscanConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	p.baseURL = ts.URL

	_, err := p.Search(context.Background(), SearchQuery{Term: testSearchTerm})
	if err == nil {
		t.Fatal(expectedErrGotNil)
	}

	if !errors.Is(err, apperrors.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestPodscanAdapter_Search_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	p := NewPodscanAdapter(PodscanConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	p.baseURL = ts.URL

	_, err := p.Search(context.Background(), SearchQuery{Term: testSearchTerm})
	if err == nil {
		t.Fatal(expectedErrGotNil)
	}

	if !errors.Is(err, apperrors.ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
}

func TestPodscanAdapter_LookupByRSS_NotIndexed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	p := NewPodscanAdapter(PodscanConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	p.baseURL = ts.URL

	result, err := p.LookupByRSS(context.Background(), "https://feeds.example.com/unknown")
	if err != nil {
		t.Fatalf("LookupByRSS() error = %v", err)
	}

	if result != nil {
		t.Errorf("result = %+v, want nil for unindexed feed", result)
	}
}

func TestPodscanAdapter_ListEpisodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/podcasts/pd_abc123/episodes" {
			t.Errorf("path = %q, want /podcasts/pd_abc123/episodes", r.URL.Path)
		}

		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte(`{
			"episodes": [
				{
					"episode_id": "ep_1",
					"episode_title": "Scaling to 100 employees",
					"episode_audio_url": "https://cdn.example.com/ep1.mp3",
					"posted_at": "2026-02-10 09:30:00",
					"duration_in_seconds": 2712
				}
			]
		}`)); err != nil {
			t.Errorf(failedToWriteResp, err)
		}
	}))
	defer ts.Close()

	p := NewPodscanAdapter(PodscanConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	p.baseURL = ts.URL

	episodes, err := p.ListEpisodes(context.Background(), "pd_abc123", 5)
	if err != nil {
		t.Fatalf("ListEpisodes() error = %v", err)
	}

	if len(episodes) != 1 {
		t.Fatalf("episodes length = %d, want 1", len(episodes))
	}

	if episodes[0].DurationSec != 2712 {
		t.Errorf("DurationSec = %d, want 2712", episodes[0].DurationSec)
	}

	if episodes[0].PublishedAt.IsZero() {
		t.Error("PublishedAt is zero, want parsed time")
	}
}

func TestPodscanAdapter_NotAvailableWithoutKey(t *testing.T) {
	p := NewPodscanAdapter(PodscanConfig{})

	if p.IsAvailable() {
		t.Error("IsAvailable() = true without api key")
	}
}
