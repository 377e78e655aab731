// Package vetting implements the vetting stage: for each enriched
// discovery the agent derives a weighted checklist from the campaign's
// ideal-guest profile, assembles an evidence block from the media row
// and its analyzed episodes, has the model score every criterion, and
// reduces the scores to one 0-100 fit verdict. The agent is pure over
// its inputs; only the worker touches the store.
package vetting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	"github.com/podscout/podscout/internal/core/llm"
	"github.com/podscout/podscout/internal/sources"
)

const (
	// evidenceEpisodeLimit bounds how many recent episodes make it
	// into the evidence block.
	evidenceEpisodeLimit = 5

	evidenceSummaryWords = 120
	evidenceTopSignals   = 10

	scoreFloor   = 0
	scoreCeiling = 100
)

// LLM is the completion surface the agent consumes.
type LLM interface {
	GenerateChecklist(ctx context.Context, in llm.ChecklistInput) ([]domain.ChecklistItem, error)
	ScoreChecklist(ctx context.Context, in llm.ScoringInput) (*llm.ScoringResult, error)
}

// BioSource fetches a client bio from their website. Optional; a nil
// source just means the questionnaire bio (or nothing) is used.
type BioSource interface {
	FetchBio(ctx context.Context, rawURL string) (string, error)
}

// Input is everything the agent evaluates for one discovery.
type Input struct {
	Campaign domain.Campaign
	Media    domain.Media
	Episodes []domain.Episode
}

// Agent runs the two-call vetting conversation for one discovery.
type Agent struct {
	llm    LLM
	bio    BioSource
	retry  sources.RetryPolicy
	logger *zerolog.Logger
}

func NewAgent(llmClient LLM, bio BioSource, logger *zerolog.Logger) *Agent {
	l := logger.With().Str("component", stageName).Logger()

	return &Agent{
		llm:    llmClient,
		bio:    bio,
		retry:  sources.DefaultRetryPolicy(),
		logger: &l,
	}
}

// Vet produces the full vetting verdict for one discovery. Transient
// model failures are retried with backoff; exhausting the retries or a
// permanent failure surfaces as an error the worker records on the
// discovery row.
func (a *Agent) Vet(ctx context.Context, in Input) (*domain.VettingResult, error) {
	profile, err := ExtractProfile(&in.Campaign)
	if err != nil {
		return nil, err
	}

	a.fillWebsiteBio(ctx, &profile)

	var checklist []domain.ChecklistItem

	err = sources.Retry(ctx, a.retry, func() error {
		var genErr error

		checklist, genErr = a.llm.GenerateChecklist(ctx, profile.checklistInput())

		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("generate checklist: %w", err)
	}

	evidence := buildEvidence(&in.Media, in.Episodes)

	var scoring *llm.ScoringResult

	err = sources.Retry(ctx, a.retry, func() error {
		var scoreErr error

		scoring, scoreErr = a.llm.ScoreChecklist(ctx, llm.ScoringInput{
			IdealDescription: profile.IdealDescription,
			Checklist:        checklist,
			Evidence:         evidence,
			ExpertiseTopics:  profile.ExpertiseTopics,
		})

		return scoreErr
	})
	if err != nil {
		return nil, fmt.Errorf("score checklist: %w", err)
	}

	return &domain.VettingResult{
		Score:            finalScore(checklist, scoring.Scores),
		Reasoning:        scoring.FinalSummary,
		TopicMatch:       scoring.TopicMatchAnalysis,
		CriteriaScores:   scoring.Scores,
		Checklist:        checklist,
		MatchedExpertise: scoring.MatchedExpertise,
	}, nil
}

// fillWebsiteBio backfills the profile bio from the client's website.
// Best-effort: a dead site is worth a debug line, not a failed vet.
func (a *Agent) fillWebsiteBio(ctx context.Context, profile *Profile) {
	if a.bio == nil || profile.Bio != "" || profile.WebsiteURL == "" {
		return
	}

	bio, err := a.bio.FetchBio(ctx, profile.WebsiteURL)
	if err != nil {
		a.logger.Debug().Err(err).Str("website", profile.WebsiteURL).Msg("website bio fetch failed")

		return
	}

	profile.Bio = bio
}

// finalScore reduces per-criterion scores to the weighted average,
// rounded and clamped to [0,100]. Scores are matched to checklist
// weights by criterion text, falling back to position for criteria the
// model renamed in flight.
func finalScore(checklist []domain.ChecklistItem, scores []domain.CriterionScore) int {
	weights := make(map[string]int, len(checklist))
	for _, item := range checklist {
		weights[normalizeCriterion(item.Criterion)] = item.Weight
	}

	sum := 0
	weightSum := 0

	for i, s := range scores {
		w, ok := weights[normalizeCriterion(s.Criterion)]
		if !ok {
			if i < len(checklist) {
				w = checklist[i].Weight
			} else {
				w = 1
			}
		}

		sum += s.Score * w
		weightSum += w
	}

	if weightSum == 0 {
		return 0
	}

	final := int(math.Round(float64(sum) / float64(weightSum)))

	if final < scoreFloor {
		return scoreFloor
	}

	if final > scoreCeiling {
		return scoreCeiling
	}

	return final
}

func normalizeCriterion(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// buildEvidence renders the media's enrichment output as the
// structured text block the scoring call grades against.
func buildEvidence(media *domain.Media, episodes []domain.Episode) string {
	var sb strings.Builder

	sb.WriteString("## Podcast\n")
	fmt.Fprintf(&sb, "Name: %s\n", media.Name)

	if media.AIDescription != "" {
		fmt.Fprintf(&sb, "About: %s\n", media.AIDescription)
	}

	if media.Description != "" && media.Description != media.AIDescription {
		fmt.Fprintf(&sb, "Directory description: %s\n", llm.TruncateWords(media.Description, evidenceSummaryWords))
	}

	if media.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", media.Category)
	}

	if media.Language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", media.Language)
	}

	if len(media.HostNames) > 0 {
		fmt.Fprintf(&sb, "Hosts: %s (confidence %.1f)\n", strings.Join(media.HostNames, ", "), media.HostConfidence)
	}

	if media.AudienceSize > 0 {
		fmt.Fprintf(&sb, "Estimated audience: %d\n", media.AudienceSize)
	}

	if media.EpisodeCount > 0 {
		fmt.Fprintf(&sb, "Published episodes: %d\n", media.EpisodeCount)
	}

	if media.QualityScore > 0 {
		fmt.Fprintf(&sb, "Content quality score: %.2f of 1.00\n", media.QualityScore)
	}

	if n := len(media.SocialURLs); n > 0 {
		fmt.Fprintf(&sb, "Social profiles on record: %d\n", n)
	}

	writeEpisodeEvidence(&sb, episodes)
	writeSignalFrequencies(&sb, episodes)

	return sb.String()
}

func writeEpisodeEvidence(sb *strings.Builder, episodes []domain.Episode) {
	if len(episodes) == 0 {
		return
	}

	if len(episodes) > evidenceEpisodeLimit {
		episodes = episodes[:evidenceEpisodeLimit]
	}

	sb.WriteString("\n## Recent episodes\n")

	for i, ep := range episodes {
		fmt.Fprintf(sb, "%d. %s", i+1, ep.Title)

		if !ep.PublishedAt.IsZero() {
			fmt.Fprintf(sb, " (%s)", ep.PublishedAt.Format("2006-01-02"))
		}

		sb.WriteString("\n")

		if ep.AISummary != "" {
			fmt.Fprintf(sb, "   Summary: %s\n", llm.TruncateWords(ep.AISummary, evidenceSummaryWords))
		}

		if len(ep.Themes) > 0 {
			fmt.Fprintf(sb, "   Themes: %s\n", strings.Join(ep.Themes, ", "))
		}

		if len(ep.Keywords) > 0 {
			fmt.Fprintf(sb, "   Keywords: %s\n", strings.Join(ep.Keywords, ", "))
		}
	}
}

// writeSignalFrequencies aggregates themes and keywords across the
// evidence episodes so the model sees what the show keeps coming back
// to, not just what one episode mentioned.
func writeSignalFrequencies(sb *strings.Builder, episodes []domain.Episode) {
	themes := map[string]int{}
	keywords := map[string]int{}

	for _, ep := range episodes {
		countSignals(themes, ep.Themes)
		countSignals(keywords, ep.Keywords)
	}

	if len(themes) == 0 && len(keywords) == 0 {
		return
	}

	sb.WriteString("\n## Recurring signals\n")

	if line := formatFrequencies(themes); line != "" {
		fmt.Fprintf(sb, "Themes: %s\n", line)
	}

	if line := formatFrequencies(keywords); line != "" {
		fmt.Fprintf(sb, "Keywords: %s\n", line)
	}
}

func countSignals(counts map[string]int, values []string) {
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			counts[v]++
		}
	}
}

func formatFrequencies(counts map[string]int) string {
	type signal struct {
		name  string
		count int
	}

	signals := make([]signal, 0, len(counts))
	for name, count := range counts {
		signals = append(signals, signal{name, count})
	}

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].count != signals[j].count {
			return signals[i].count > signals[j].count
		}

		return signals[i].name < signals[j].name
	})

	if len(signals) > evidenceTopSignals {
		signals = signals[:evidenceTopSignals]
	}

	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		parts = append(parts, fmt.Sprintf("%s (%d)", s.name, s.count))
	}

	return strings.Join(parts, ", ")
}
