// Package sources wraps the external podcast directories behind one
// Adapter interface. Each adapter owns its auth scheme, rate limiter
// and error taxonomy mapping; the registry picks adapters by priority
// and trips a circuit breaker per provider.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/podscout/podscout/internal/core/errors"
)

// Adapter priorities, lower runs first.
const (
	PriorityPrimary   = 1
	PrioritySecondary = 2
)

const defaultPageSize = 25

// SearchQuery describes one directory search call.
type SearchQuery struct {
	Term     string
	GenreIDs []string
	Language string
	Page     int
	PerPage  int
}

// SearchPage is one page of directory results.
type SearchPage struct {
	Results []MediaResult
	Page    int
	HasMore bool
}

// MediaResult is a directory's view of one podcast.
type MediaResult struct {
	ExternalID   string
	Name         string
	Description  string
	RSSURL       string
	ItunesID     string
	ContactEmail string
	Category     string
	Language     string
	EpisodeCount int
	AudienceSize int64
	SocialURLs   []string
}

// EpisodeResult is a directory's view of one episode.
type EpisodeResult struct {
	ExternalID  string
	Title       string
	Description string
	AudioURL    string
	PublishedAt time.Time
	DurationSec int
}

// TaxonomyEntry is one genre the provider understands; the discovery
// stage asks the LLM to map campaign keywords onto these ids.
type TaxonomyEntry struct {
	ID   string
	Name string
}

// Adapter is a podcast directory client.
type Adapter interface {
	Name() string
	Search(ctx context.Context, q SearchQuery) (*SearchPage, error)
	LookupByRSS(ctx context.Context, rssURL string) (*MediaResult, error)
	LookupByItunesID(ctx context.Context, itunesID string) (*MediaResult, error)
	ListEpisodes(ctx context.Context, externalID string, limit int) ([]EpisodeResult, error)
	Taxonomy() []TaxonomyEntry
	IsAvailable() bool
	Priority() int
}

// IgnoreNotFound filters NotFound out of a circuit-breaker outcome; an
// unknown record is a normal answer, not a provider fault.
func IgnoreNotFound(err error) error {
	if err == nil || apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}

	return err
}

// mapStatusError converts an HTTP status into the shared error
// taxonomy so callers can pick a retry policy with errors.Is.
func mapStatusError(provider string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s status %d: %w", provider, status, apperrors.ErrAuth)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", provider, apperrors.ErrNotFound)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", provider, apperrors.ErrRateLimited)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%s status %d: %w", provider, status, apperrors.ErrTransient)
	default:
		return fmt.Errorf("%s status %d: %w", provider, status, apperrors.ErrPermanent)
	}
}
