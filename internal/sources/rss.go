package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	apperrors "github.com/podscout/podscout/internal/core/errors"
)

const (
	rssDefaultTimeout = 10 * time.Second
	rssUserAgent      = "podscout/1.0 (+https://podscout.io)"
	headerUserAgent   = "User-Agent"

	// SourceRSS names the feed itself as an episode source, for media
	// that no directory indexes.
	SourceRSS = "rss"
)

// FeedReader fetches and parses podcast RSS feeds directly. Used as
// the fallback channel when directory adapters return a podcast
// without a contact email, and to canonicalize media by feed URL.
type FeedReader struct {
	httpClient *http.Client
	parser     *gofeed.Parser
}

func NewFeedReader(timeout time.Duration) *FeedReader {
	if timeout <= 0 {
		timeout = rssDefaultTimeout
	}

	return &FeedReader{
		httpClient: &http.Client{Timeout: timeout},
		parser:     gofeed.NewParser(),
	}
}

// FetchFeed downloads and parses one feed.
func (f *FeedReader) FetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}

	req.Header.Set(headerUserAgent, rssUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w: %v", apperrors.ErrTransient, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatusError(SourceRSS, resp.StatusCode)
	}

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return feed, nil
}

// OwnerEmail extracts the show's contact address from a parsed feed.
// Precedence: managingEditor, then webMaster (both folded into the
// feed authors by the parser), then the itunes:owner block. Returns
// the first syntactically valid address.
func OwnerEmail(feed *gofeed.Feed) string {
	if feed == nil {
		return ""
	}

	candidates := []string{}

	for _, author := range feed.Authors {
		if author != nil {
			candidates = append(candidates, author.Email)
		}
	}

	if feed.ITunesExt != nil && feed.ITunesExt.Owner != nil {
		candidates = append(candidates, feed.ITunesExt.Owner.Email)
	}

	for _, c := range candidates {
		if email := validEmail(c); email != "" {
			return email
		}
	}

	return ""
}

func validEmail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "@") {
		return ""
	}

	addr, err := mail.ParseAddress(s)
	if err != nil {
		return ""
	}

	return addr.Address
}

// Host-name confidence by provenance. itunes:author names the talent
// directly on most shows; plain feed authors are often the production
// company, a weaker signal.
const (
	hostConfidenceItunesAuthor float32 = 0.9
	hostConfidenceFeedAuthor   float32 = 0.8
)

// HostNames extracts likely host names from a parsed feed together
// with a provenance-based confidence. Returns nothing when the feed
// names no person.
func HostNames(feed *gofeed.Feed) ([]string, float32) {
	if feed == nil {
		return nil, 0
	}

	if feed.ITunesExt != nil {
		if names := splitHostNames(feed.ITunesExt.Author); len(names) > 0 {
			return names, hostConfidenceItunesAuthor
		}
	}

	names := []string{}
	for _, author := range feed.Authors {
		if author == nil {
			continue
		}

		names = append(names, splitHostNames(author.Name)...)
	}

	if len(names) == 0 {
		return nil, 0
	}

	return dedupeNames(names), hostConfidenceFeedAuthor
}

// splitHostNames breaks "Alice Smith & Bob Jones" style author strings
// into individual names. An email address is not a host name.
func splitHostNames(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "@") {
		return nil
	}

	raw = strings.ReplaceAll(raw, " and ", ",")
	raw = strings.ReplaceAll(raw, " with ", ",")
	raw = strings.ReplaceAll(raw, "&", ",")

	parts := strings.Split(raw, ",")

	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}

	return names
}

func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	for _, n := range names {
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, n)
	}

	return out
}

// EpisodesFromFeed converts feed items to episode results, newest
// first as feeds list them. Items without an enclosure still carry
// metadata; the transcription stage skips them by empty AudioURL.
func EpisodesFromFeed(feed *gofeed.Feed, limit int) []EpisodeResult {
	if feed == nil {
		return nil
	}

	episodes := make([]EpisodeResult, 0, len(feed.Items))

	for _, item := range feed.Items {
		if limit > 0 && len(episodes) >= limit {
			break
		}

		if item == nil {
			continue
		}

		episode := EpisodeResult{
			ExternalID:  item.GUID,
			Title:       item.Title,
			Description: item.Description,
		}

		if episode.ExternalID == "" {
			episode.ExternalID = item.Link
		}

		if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
			episode.AudioURL = item.Enclosures[0].URL
		}

		episode.PublishedAt = itemPublishedAt(item)
		episode.DurationSec = itemDuration(item)

		episodes = append(episodes, episode)
	}

	return episodes
}

func itemPublishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}

	if item.Published != "" {
		if ts, err := dateparse.ParseAny(item.Published); err == nil {
			return ts
		}
	}

	return time.Time{}
}

func itemDuration(item *gofeed.Item) int {
	if item.ITunesExt == nil || item.ITunesExt.Duration == "" {
		return 0
	}

	return parseDuration(item.ITunesExt.Duration)
}

// parseDuration handles both plain seconds and HH:MM:SS / MM:SS forms
// seen in itunes:duration tags.
func parseDuration(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	if !strings.Contains(raw, ":") {
		if secs, err := strconv.Atoi(raw); err == nil {
			return secs
		}

		return 0
	}

	parts := strings.Split(raw, ":")
	total := 0

	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0
		}

		total = total*60 + n
	}

	return total
}
