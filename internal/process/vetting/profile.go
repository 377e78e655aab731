package vetting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/core/llm"
)

// bioMaxWords caps the website-derived bio so one long about-page
// cannot crowd the checklist prompt.
const bioMaxWords = 300

const bioMaxHTMLBytes = 2 << 20

// Profile is the client-side half of a vetting run, extracted from the
// campaign and its questionnaire. The ideal description is the only
// required field; everything else degrades to absent.
type Profile struct {
	CampaignName         string
	IdealDescription     string
	ExpertiseTopics      []string
	SuggestedTopics      []string
	KeyMessages          []string
	AudienceRequirements string
	PreviousShows        []string
	PromotionItems       []string
	Bio                  string
	WebsiteURL           string
}

// ExtractProfile builds the client profile from a campaign. List
// fields are split on common delimiters and deduplicated, so intake
// blobs like "pricing; SaaS, monetization" become clean topic lists.
func ExtractProfile(c *domain.Campaign) (Profile, error) {
	ideal := strings.TrimSpace(c.IdealDescription)
	if ideal == "" {
		return Profile{}, fmt.Errorf("campaign %s has no ideal description: %w", c.ID, apperrors.ErrDataMissing)
	}

	p := Profile{
		CampaignName:     c.Name,
		IdealDescription: ideal,
	}

	q := c.Questionnaire
	if q == nil {
		return p, nil
	}

	p.ExpertiseTopics = splitAndDedupe(q.ExpertiseTopics)
	p.SuggestedTopics = splitAndDedupe(q.SuggestedTopics)
	p.KeyMessages = splitAndDedupe(q.KeyMessages)
	p.PreviousShows = splitAndDedupe(q.PreviousShows)
	p.PromotionItems = splitAndDedupe(q.PromotionItems)

	if q.AudienceRequirements != nil {
		p.AudienceRequirements = strings.TrimSpace(*q.AudienceRequirements)
	}

	if q.Bio != nil {
		p.Bio = strings.TrimSpace(*q.Bio)
	}

	if q.WebsiteURL != nil {
		p.WebsiteURL = strings.TrimSpace(*q.WebsiteURL)
	}

	return p, nil
}

func (p Profile) checklistInput() llm.ChecklistInput {
	return llm.ChecklistInput{
		CampaignName:         p.CampaignName,
		IdealDescription:     p.IdealDescription,
		ExpertiseTopics:      p.ExpertiseTopics,
		SuggestedTopics:      p.SuggestedTopics,
		KeyMessages:          p.KeyMessages,
		AudienceRequirements: p.AudienceRequirements,
		PreviousShows:        p.PreviousShows,
		PromotionItems:       p.PromotionItems,
		Bio:                  p.Bio,
	}
}

// splitAndDedupe splits every raw value on common delimiters and
// returns the trimmed, case-insensitively deduplicated parts in input
// order.
func splitAndDedupe(values []string) []string {
	seen := map[string]bool{}
	out := []string{}

	for _, v := range values {
		for _, part := range splitDelimiters(v) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			key := strings.ToLower(part)
			if seen[key] {
				continue
			}

			seen[key] = true

			out = append(out, part)
		}
	}

	return out
}

func splitDelimiters(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ';', '|', '\n':
			return true
		}

		return false
	})
}

// BioFetcher pulls a readable-text bio off the client's website when
// the questionnaire has a URL but no written bio.
type BioFetcher struct {
	client *http.Client
	logger *zerolog.Logger
}

func NewBioFetcher(timeout time.Duration, logger *zerolog.Logger) *BioFetcher {
	l := logger.With().Str("component", "vetting.bio").Logger()

	return &BioFetcher{
		client: &http.Client{Timeout: timeout},
		logger: &l,
	}
}

// FetchBio downloads the page and extracts its main text with the
// reader-mode algorithm, truncated to a prompt-sized bio.
func (f *BioFetcher) FetchBio(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("website url %q: %w", rawURL, apperrors.ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build website request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch website %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("website %s status %d: %w", u.Host, resp.StatusCode, apperrors.ErrTransient)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, bioMaxHTMLBytes), u)
	if err != nil {
		return "", fmt.Errorf("extract website text: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("website %s has no readable text: %w", u.Host, apperrors.ErrEmptyResponse)
	}

	return llm.TruncateWords(text, bioMaxWords), nil
}
