package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/podscout/podscout/internal/core/errors"
)

func TestListenNotesAdapter_Search_Success(t *testing.T) {
	var gotKey string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(listenNotesAuthHeader)

		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte(`{
			"results": [
				{
					"id": "ln_xyz",
					"title_original": "The SaaS Grind",
					"description_original": "Weekly conversations about bootstrapping.",
					"rss": "https://feeds.example.com/saasgrind",
					"itunes_id": 987654,
					"email": "team@saasgrind.fm",
					"genre_ids": [93, 97],
					"total_episodes": 210,
					"listen_score": 45,
					"website": "https://saasgrind.fm"
				}
			],
			"next_offset": 10,
			"total": 120,
			"count": 10
		}`)); err != nil {
			t.Errorf(failedToWriteResp, err)
		}
	}))
	defer ts.Close()

	l := NewListenNotesAdapter(ListenNotesConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	l.baseURL = ts.URL

	page, err := l.Search(context.Background(), SearchQuery{Term: testSearchTerm})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if gotKey != testAPIKey {
		t.Errorf(expectedFmt, testAPIKey, gotKey)
	}

	if len(page.Results) != 1 {
		t.Fatalf("results length = %d, want 1", len(page.Results))
	}

	got := page.Results[0]

	if got.ExternalID != "ln_xyz" {
		t.Errorf(expectedFmt, "ln_xyz", got.ExternalID)
	}

	if got.Category != "Business" {
		t.Errorf(expectedFmt, "Business", got.Category)
	}

	if got.AudienceSize != 45*listenScoreAudienceScale {
		t.Errorf("AudienceSize = %d, want %d", got.AudienceSize, 45*listenScoreAudienceScale)
	}

	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestListenNotesAdapter_Search_AuthError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	l := NewListenNotesAdapter(ListenNotesConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	l.baseURL = ts.URL

	_, err := l.Search(context.Background(), SearchQuery{Term: testSearchTerm})
	if err == nil {
		t.Fatal(expectedErrGotNil)
	}

	if !errors.Is(err, apperrors.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestListenNotesAdapter_ListEpisodes_Limit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte(`{
			"id": "ln_xyz",
			"title": "The SaaS Grind",
			"episodes": [
				{"id": "e1", "title": "One", "audio": "https://cdn.example.com/1.mp3", "audio_length_sec": 100, "pub_date_ms": 1717200000000},
				{"id": "e2", "title": "Two", "audio": "https://cdn.example.com/2.mp3", "audio_length_sec": 200, "pub_date_ms": 1717100000000},
				{"id": "e3", "title": "Three", "audio": "https://cdn.example.com/3.mp3", "audio_length_sec": 300, "pub_date_ms": 1717000000000}
			]
		}`)); err != nil {
			t.Errorf(failedToWriteResp, err)
		}
	}))
	defer ts.Close()

	l := NewListenNotesAdapter(ListenNotesConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	l.baseURL = ts.URL

	episodes, err := l.ListEpisodes(context.Background(), "ln_xyz", 2)
	if err != nil {
		t.Fatalf("ListEpisodes() error = %v", err)
	}

	if len(episodes) != 2 {
		t.Fatalf("episodes length = %d, want 2", len(episodes))
	}

	if episodes[0].PublishedAt.IsZero() {
		t.Error("PublishedAt is zero, want parsed from pub_date_ms")
	}
}

func TestListenNotesAdapter_LookupByItunesID_NotIndexed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	l := NewListenNotesAdapter(ListenNotesConfig{APIKey: testAPIKey, RequestsPerSecond: 100})
	l.baseURL = ts.URL

	result, err := l.LookupByItunesID(context.Background(), "12345")
	if err != nil {
		t.Fatalf("LookupByItunesID() error = %v", err)
	}

	if result != nil {
		t.Errorf("result = %+v, want nil for unindexed id", result)
	}
}
