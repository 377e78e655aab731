package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/podscout/podscout/internal/core/domain"
)

// mockProvider returns deterministic canned responses for development
// and tests without external API calls. Registered last, it also keeps
// the pipeline moving when every real provider is down.
type mockProvider struct{}

func newMockProvider() *mockProvider {
	return &mockProvider{}
}

// Name returns the provider identifier.
func (p *mockProvider) Name() ProviderName {
	return ProviderMock
}

// IsAvailable always returns true.
func (p *mockProvider) IsAvailable() bool {
	return true
}

// Priority returns the lowest priority so real providers go first.
func (p *mockProvider) Priority() int {
	return PriorityMock
}

const mockModel = "mock-model"

// Complete implements Provider with schema-shaped output per task.
func (p *mockProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResult, error) {
	var text string

	switch req.Task {
	case TaskTaxonomy:
		text = mockTaxonomyResponse(req.Prompt)
	case TaskEpisodeAnalysis:
		text = `{"summary":"A conversation covering the show's usual themes with a guest expert.","themes":["business","technology"],"keywords":["interview","strategy","growth"]}`
	case TaskMediaDescription:
		text = `{"description":"An interview podcast where the host talks with practitioners about their field, lessons learned and current projects."}`
	case TaskChecklist:
		text = mockChecklistResponse()
	case TaskScoring:
		text = mockScoringResponse(req.Prompt)
	default:
		text = `{"result":"mock"}`
	}

	promptTokens := estimateMockTokens(req.System) + estimateMockTokens(req.Prompt)

	return &CompletionResult{
		Text:             text,
		Model:            mockModel,
		PromptTokens:     promptTokens,
		CompletionTokens: estimateMockTokens(text),
	}, nil
}

// mockTaxonomyResponse picks the first genre id offered in the prompt.
func mockTaxonomyResponse(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}

		idx := strings.Index(line, ":")
		if idx <= 2 {
			continue
		}

		id := strings.TrimSpace(line[2:idx])
		if id == "" {
			continue
		}

		return fmt.Sprintf(`{"genre_ids":[%q]}`, id)
	}

	return `{"genre_ids":[]}`
}

func mockChecklistResponse() string {
	criteria := []domain.ChecklistItem{
		{Criterion: "Show covers the client's core expertise area", Reasoning: "Direct topical fit drives acceptance", Weight: 5},
		{Criterion: "Audience matches the client's target segment", Reasoning: "Wrong audience wastes the appearance", Weight: 5},
		{Criterion: "Format features guest interviews", Reasoning: "Solo shows cannot host the client", Weight: 4},
		{Criterion: "Episodes go deep rather than surface level", Reasoning: "Depth lets key messages land", Weight: 3},
		{Criterion: "Show publishes on a regular schedule", Reasoning: "Active shows deliver reach", Weight: 3},
		{Criterion: "Host engages critically with guests", Reasoning: "Credible hosts transfer credibility", Weight: 2},
		{Criterion: "Topics connect to the client's key messages", Reasoning: "Message fit shapes the conversation", Weight: 2},
	}

	payload, _ := json.Marshal(map[string]any{"criteria": criteria})

	return string(payload)
}

var mockCriterionPattern = regexp.MustCompile(`"criterion":"((?:[^"\\]|\\.)*)"`)

// mockScoringResponse scores every checklist criterion found in the
// prompt with a stable hash-derived value in [50,90].
func mockScoringResponse(prompt string) string {
	matches := mockCriterionPattern.FindAllStringSubmatch(prompt, -1)

	scores := make([]domain.CriterionScore, 0, len(matches))

	for _, m := range matches {
		var criterion string
		if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &criterion); err != nil {
			criterion = m[1]
		}

		scores = append(scores, domain.CriterionScore{
			Criterion:     criterion,
			Score:         mockScoreFor(criterion),
			Justification: "Mock evidence assessment.",
		})
	}

	if len(scores) == 0 {
		scores = append(scores, domain.CriterionScore{
			Criterion:     "Overall fit",
			Score:         70,
			Justification: "Mock evidence assessment.",
		})
	}

	payload, _ := json.Marshal(map[string]any{
		"scores":               scores,
		"final_summary":        "Mock assessment: the show appears to be a workable fit for the client based on the available evidence.",
		"topic_match_analysis": "Mock topic analysis: the show's themes overlap the client's expertise in places.",
		"matched_expertise":    []string{},
	})

	return string(payload)
}

func mockScoreFor(criterion string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(criterion))

	return 50 + int(h.Sum32()%41)
}

func estimateMockTokens(text string) int {
	const charsPerToken = 4

	return len(text) / charsPerToken
}

// Ensure mockProvider implements Provider interface.
var _ Provider = (*mockProvider)(nil)
