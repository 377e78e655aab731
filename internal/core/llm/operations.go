package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/podscout/podscout/internal/core/domain"
	apperrors "github.com/podscout/podscout/internal/core/errors"
)

// Transcript excerpts beyond this size add cost without adding signal.
const maxTranscriptChars = 24000

// Checklist size bounds requested from the model.
const (
	minChecklistSize   = 7
	maxChecklistSize   = 10
	minCriterionWeight = 1
	maxCriterionWeight = 5
)

const maxDescriptionWords = 200

// GenreOption is one taxonomy entry a directory understands.
type GenreOption struct {
	ID   string
	Name string
}

// EpisodeInput is the material for a per-episode analysis.
type EpisodeInput struct {
	MediaName   string
	Title       string
	Description string
	Transcript  string
}

// EpisodeAnalysis is the structured output of episode analysis.
type EpisodeAnalysis struct {
	Summary  string   `json:"summary"`
	Themes   []string `json:"themes"`
	Keywords []string `json:"keywords"`
}

// MediaInput is the material for generating a podcast description.
type MediaInput struct {
	Name              string
	Description       string
	CompiledSummaries string
	Category          string
	HostNames         []string
}

// ChecklistInput is the client profile the checklist is derived from.
type ChecklistInput struct {
	CampaignName         string
	IdealDescription     string
	ExpertiseTopics      []string
	SuggestedTopics      []string
	KeyMessages          []string
	AudienceRequirements string
	PreviousShows        []string
	PromotionItems       []string
	Bio                  string
}

// ScoringInput pairs a generated checklist with the evidence block to
// score it against.
type ScoringInput struct {
	IdealDescription string
	Checklist        []domain.ChecklistItem
	Evidence         string
	ExpertiseTopics  []string
}

// ScoringResult is the structured verdict for one media.
type ScoringResult struct {
	Scores             []domain.CriterionScore
	FinalSummary       string
	TopicMatchAnalysis string
	MatchedExpertise   []string
}

const systemPodcastAnalyst = "You are an expert podcast research analyst. " +
	"Always respond with a single JSON object matching the requested schema exactly. " +
	"Never wrap the JSON in markdown fences and never add commentary."

// MapKeywordToGenres asks the model which of a directory's genres a
// campaign keyword belongs to. An empty result means the directory has
// no fitting genre and the caller skips it for this keyword.
func (r *Registry) MapKeywordToGenres(ctx context.Context, keyword string, genres []GenreOption) ([]string, error) {
	if len(genres) == 0 {
		return nil, nil
	}

	var sb strings.Builder

	sb.WriteString("Pick the genres that best match the podcast search keyword.\n\n")
	sb.WriteString("Keyword: " + keyword + "\n\nAvailable genres:\n")

	valid := make(map[string]bool, len(genres))

	for _, g := range genres {
		valid[g.ID] = true

		sb.WriteString("- " + g.ID + ": " + g.Name + "\n")
	}

	sb.WriteString("\nRespond with JSON: {\"genre_ids\": [\"id\", ...]}. " +
		"Use only ids from the list. Return at most 3 ids; return an empty list when nothing fits.")

	result, err := r.complete(ctx, CompletionRequest{
		Task:     TaskTaxonomy,
		System:   systemPodcastAnalyst,
		Prompt:   sb.String(),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		GenreIDs []string `json:"genre_ids"`
	}

	if err := unmarshalResponse(result.Text, &parsed); err != nil {
		return nil, fmt.Errorf(errParseResponse, "taxonomy", err)
	}

	ids := make([]string, 0, len(parsed.GenreIDs))

	for _, id := range parsed.GenreIDs {
		if valid[id] {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// AnalyzeEpisode produces the summary, themes and keywords stored on an
// episode after transcription.
func (r *Registry) AnalyzeEpisode(ctx context.Context, in EpisodeInput) (*EpisodeAnalysis, error) {
	transcript := in.Transcript
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars]
	}

	var sb strings.Builder

	sb.WriteString("Analyze this podcast episode.\n\n")
	sb.WriteString("Podcast: " + in.MediaName + "\nEpisode: " + in.Title + "\n")

	if in.Description != "" {
		sb.WriteString("Show notes: " + in.Description + "\n")
	}

	sb.WriteString("\nTranscript:\n" + transcript + "\n\n")
	sb.WriteString("Respond with JSON: {\"summary\": \"3-5 sentence summary\", " +
		"\"themes\": [\"up to 5 recurring themes\"], \"keywords\": [\"up to 8 topical keywords\"]}")

	result, err := r.complete(ctx, CompletionRequest{
		Task:     TaskEpisodeAnalysis,
		System:   systemPodcastAnalyst,
		Prompt:   sb.String(),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	analysis := &EpisodeAnalysis{}
	if err := unmarshalResponse(result.Text, analysis); err != nil {
		return nil, fmt.Errorf(errParseResponse, "episode analysis", err)
	}

	if analysis.Summary == "" {
		return nil, fmt.Errorf("episode analysis missing summary: %w", apperrors.ErrSchemaViolation)
	}

	return analysis, nil
}

// DescribeMedia generates the AI description for a podcast from its raw
// description plus compiled episode summaries, capped at roughly 200
// words.
func (r *Registry) DescribeMedia(ctx context.Context, in MediaInput) (string, error) {
	var sb strings.Builder

	sb.WriteString("Write a factual description of this podcast for guest-booking research.\n\n")
	sb.WriteString("Name: " + in.Name + "\n")

	if in.Category != "" {
		sb.WriteString("Category: " + in.Category + "\n")
	}

	if len(in.HostNames) > 0 {
		sb.WriteString("Hosts: " + strings.Join(in.HostNames, ", ") + "\n")
	}

	if in.Description != "" {
		sb.WriteString("\nPublisher description:\n" + in.Description + "\n")
	}

	if in.CompiledSummaries != "" {
		sb.WriteString("\nRecent episode summaries:\n" + in.CompiledSummaries + "\n")
	}

	sb.WriteString("\nDescribe what the show covers, its angle and its typical guests in at most " +
		"200 words. Respond with JSON: {\"description\": \"...\"}")

	result, err := r.complete(ctx, CompletionRequest{
		Task:     TaskMediaDescription,
		System:   systemPodcastAnalyst,
		Prompt:   sb.String(),
		JSONMode: true,
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Description string `json:"description"`
	}

	if err := unmarshalResponse(result.Text, &parsed); err != nil {
		return "", fmt.Errorf(errParseResponse, "media description", err)
	}

	if parsed.Description == "" {
		return "", fmt.Errorf("media description empty: %w", apperrors.ErrSchemaViolation)
	}

	return TruncateWords(parsed.Description, maxDescriptionWords), nil
}

// GenerateChecklist derives 7-10 weighted vetting criteria from a
// campaign's ideal-guest profile.
func (r *Registry) GenerateChecklist(ctx context.Context, in ChecklistInput) ([]domain.ChecklistItem, error) {
	var sb strings.Builder

	sb.WriteString("Create a vetting checklist for matching podcasts to this client.\n\n")
	sb.WriteString("Ideal podcast description:\n" + in.IdealDescription + "\n")

	writeProfileList(&sb, "Expertise topics", in.ExpertiseTopics)
	writeProfileList(&sb, "Suggested interview topics", in.SuggestedTopics)
	writeProfileList(&sb, "Key messages", in.KeyMessages)

	if in.AudienceRequirements != "" {
		sb.WriteString("Audience requirements: " + in.AudienceRequirements + "\n")
	}

	writeProfileList(&sb, "Previous show types", in.PreviousShows)
	writeProfileList(&sb, "Items to promote", in.PromotionItems)

	if in.Bio != "" {
		sb.WriteString("Client bio:\n" + in.Bio + "\n")
	}

	fmt.Fprintf(&sb, "\nProduce between %d and %d criteria. Weight reflects importance "+
		"(%d lowest, %d highest). Respond with JSON: {\"criteria\": [{\"criterion\": \"...\", "+
		"\"reasoning\": \"why it matters for this client\", \"weight\": 1-5}]}",
		minChecklistSize, maxChecklistSize, minCriterionWeight, maxCriterionWeight)

	result, err := r.complete(ctx, CompletionRequest{
		Task:     TaskChecklist,
		System:   systemPodcastAnalyst,
		Prompt:   sb.String(),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Criteria []domain.ChecklistItem `json:"criteria"`
	}

	if err := unmarshalResponse(result.Text, &parsed); err != nil {
		return nil, fmt.Errorf(errParseResponse, "checklist", err)
	}

	items := sanitizeChecklist(parsed.Criteria)
	if len(items) == 0 {
		return nil, fmt.Errorf("checklist has no usable criteria: %w", apperrors.ErrSchemaViolation)
	}

	return items, nil
}

const scoringGuidance = "Score each criterion 0-100: 0-20 no evidence of fit, 21-40 weak fit, " +
	"41-60 partial fit, 61-80 good fit, 81-100 excellent fit. Justify every score from the " +
	"evidence only; do not invent facts."

// ScoreChecklist scores the evidence block against each checklist
// criterion and produces the final summary plus topic-match analysis.
// The weighted final score is computed by the caller, not the model.
func (r *Registry) ScoreChecklist(ctx context.Context, in ScoringInput) (*ScoringResult, error) {
	checklistJSON, err := json.Marshal(in.Checklist)
	if err != nil {
		return nil, fmt.Errorf("marshal checklist: %w", err)
	}

	var sb strings.Builder

	sb.WriteString("Evaluate how well this podcast fits the client profile.\n\n")
	sb.WriteString("Ideal podcast description:\n" + in.IdealDescription + "\n")
	writeProfileList(&sb, "Client expertise topics", in.ExpertiseTopics)
	sb.WriteString("\nChecklist (score every criterion, in order):\n" + string(checklistJSON) + "\n")
	sb.WriteString("\nEvidence about the podcast:\n" + in.Evidence + "\n\n")
	sb.WriteString(scoringGuidance)
	sb.WriteString("\n\nRespond with JSON: {\"scores\": [{\"criterion\": \"...\", \"score\": 0-100, " +
		"\"justification\": \"...\"}], \"final_summary\": \"2-4 sentence overall assessment\", " +
		"\"topic_match_analysis\": \"how the show's topics overlap the client's\", " +
		"\"matched_expertise\": [\"client expertise topics this show actually covers\"]}")

	result, err := r.complete(ctx, CompletionRequest{
		Task:     TaskScoring,
		System:   systemPodcastAnalyst,
		Prompt:   sb.String(),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores             []domain.CriterionScore `json:"scores"`
		FinalSummary       string                  `json:"final_summary"`
		TopicMatchAnalysis string                  `json:"topic_match_analysis"`
		MatchedExpertise   []string                `json:"matched_expertise"`
	}

	if err := unmarshalResponse(result.Text, &parsed); err != nil {
		return nil, fmt.Errorf(errParseResponse, "scoring", err)
	}

	if len(parsed.Scores) == 0 || parsed.FinalSummary == "" {
		return nil, fmt.Errorf("scoring response incomplete: %w", apperrors.ErrSchemaViolation)
	}

	for i := range parsed.Scores {
		parsed.Scores[i].Score = clampScore(parsed.Scores[i].Score)
	}

	return &ScoringResult{
		Scores:             parsed.Scores,
		FinalSummary:       parsed.FinalSummary,
		TopicMatchAnalysis: parsed.TopicMatchAnalysis,
		MatchedExpertise:   parsed.MatchedExpertise,
	}, nil
}

func writeProfileList(sb *strings.Builder, label string, values []string) {
	if len(values) == 0 {
		return
	}

	sb.WriteString(label + ": " + strings.Join(values, "; ") + "\n")
}

func sanitizeChecklist(items []domain.ChecklistItem) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, 0, len(items))

	for _, item := range items {
		if strings.TrimSpace(item.Criterion) == "" {
			continue
		}

		if item.Weight < minCriterionWeight {
			item.Weight = minCriterionWeight
		}

		if item.Weight > maxCriterionWeight {
			item.Weight = maxCriterionWeight
		}

		out = append(out, item)

		if len(out) == maxChecklistSize {
			break
		}
	}

	return out
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}

	if score > 100 {
		return 100
	}

	return score
}

// unmarshalResponse parses model output into target, tolerating the
// common failure mode of JSON wrapped in markdown fences.
func unmarshalResponse(text string, target any) error {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return apperrors.ErrEmptyResponse
	}

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSchemaViolation, err)
	}

	return nil
}

// TruncateWords trims text to at most n words, appending an ellipsis
// when anything was cut.
func TruncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}

	return strings.Join(words[:n], " ") + "…"
}
