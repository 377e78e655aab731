package vetting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podscout/podscout/internal/core/domain"
	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/core/llm"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/sources"
	db "github.com/podscout/podscout/internal/storage"
)

type fakeLLM struct {
	mu sync.Mutex

	checklist         []domain.ChecklistItem
	checklistFailures int
	checklistCalls    int

	scoring         *llm.ScoringResult
	scoringFailures int
	scoringCalls    int
}

func (f *fakeLLM) GenerateChecklist(_ context.Context, _ llm.ChecklistInput) ([]domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checklistCalls++

	if f.checklistCalls <= f.checklistFailures {
		return nil, fmt.Errorf("provider blip: %w", apperrors.ErrTransient)
	}

	return f.checklist, nil
}

func (f *fakeLLM) ScoreChecklist(_ context.Context, in llm.ScoringInput) (*llm.ScoringResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scoringCalls++

	if f.scoringCalls <= f.scoringFailures {
		return nil, fmt.Errorf("provider blip: %w", apperrors.ErrTransient)
	}

	if f.scoring != nil {
		return f.scoring, nil
	}

	// Default: score every criterion 80.
	scores := make([]domain.CriterionScore, 0, len(in.Checklist))
	for _, item := range in.Checklist {
		scores = append(scores, domain.CriterionScore{
			Criterion:     item.Criterion,
			Score:         80,
			Justification: "well covered in recent episodes",
		})
	}

	return &llm.ScoringResult{
		Scores:             scores,
		FinalSummary:       "Strong topical overlap with the client's expertise.",
		TopicMatchAnalysis: "The show's pricing themes mirror the client's focus.",
		MatchedExpertise:   []string{"pricing"},
	}, nil
}

type fakeBio struct {
	bio   string
	err   error
	calls int
}

func (f *fakeBio) FetchBio(_ context.Context, _ string) (string, error) {
	f.calls++

	if f.err != nil {
		return "", f.err
	}

	return f.bio, nil
}

func fastRetry() sources.RetryPolicy {
	return sources.RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     time.Millisecond,
		RateLimitBase: time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	}
}

func defaultChecklist() []domain.ChecklistItem {
	return []domain.ChecklistItem{
		{Criterion: "Covers SaaS pricing in depth", Reasoning: "core topic", Weight: 5},
		{Criterion: "Interviews operator guests", Reasoning: "format fit", Weight: 3},
		{Criterion: "Reaches founder audience", Reasoning: "audience fit", Weight: 2},
	}
}

func testAgent(t *testing.T, client *fakeLLM, bio BioSource) *Agent {
	t.Helper()

	logger := zerolog.Nop()
	agent := NewAgent(client, bio, &logger)
	agent.retry = fastRetry()

	return agent
}

func vetInput() Input {
	return Input{
		Campaign: domain.Campaign{
			ID:               "c-1",
			Name:             "Launch",
			IdealDescription: "Podcasts about SaaS pricing",
			Questionnaire: &domain.Questionnaire{
				ExpertiseTopics: []string{"pricing, monetization"},
				WebsiteURL:      strPtr("https://client.example.com"),
			},
		},
		Media: domain.Media{
			ID:            7,
			Name:          "Pricing Signals",
			AIDescription: "A weekly show on software pricing strategy.",
			Category:      "Business",
			HostNames:     []string{"Dana Cole"},
			AudienceSize:  42000,
			EpisodeCount:  80,
			QualityScore:  0.7,
		},
		Episodes: []domain.Episode{
			{Title: "Usage-based billing", AISummary: "Why metering beats seats.", Themes: []string{"pricing", "billing"}, Keywords: []string{"usage-based"}, PublishedAt: time.Now()},
			{Title: "Freemium traps", AISummary: "When free tiers stall growth.", Themes: []string{"pricing"}, Keywords: []string{"freemium"}, PublishedAt: time.Now().Add(-72 * time.Hour)},
		},
	}
}

func TestVetProducesWeightedVerdict(t *testing.T) {
	client := &fakeLLM{checklist: defaultChecklist()}
	bio := &fakeBio{bio: "Twenty years pricing software."}
	agent := testAgent(t, client, bio)

	result, err := agent.Vet(context.Background(), vetInput())
	require.NoError(t, err)

	assert.Equal(t, 80, result.Score)
	assert.Equal(t, "Strong topical overlap with the client's expertise.", result.Reasoning)
	assert.Equal(t, "The show's pricing themes mirror the client's focus.", result.TopicMatch)
	assert.Len(t, result.CriteriaScores, 3)
	assert.Len(t, result.Checklist, 3)
	assert.Equal(t, []string{"pricing"}, result.MatchedExpertise)

	// Questionnaire had a URL but no bio, so the website was consulted.
	assert.Equal(t, 1, bio.calls)
}

func TestVetRetriesTransientChecklistFailures(t *testing.T) {
	client := &fakeLLM{checklist: defaultChecklist(), checklistFailures: 2}
	agent := testAgent(t, client, nil)

	_, err := agent.Vet(context.Background(), vetInput())
	require.NoError(t, err)
	assert.Equal(t, 3, client.checklistCalls)
}

func TestVetFailsAfterRetryExhaustion(t *testing.T) {
	client := &fakeLLM{checklist: defaultChecklist(), checklistFailures: 10}
	agent := testAgent(t, client, nil)

	_, err := agent.Vet(context.Background(), vetInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate checklist")
	assert.Equal(t, 5, client.checklistCalls)
}

func TestVetSurvivesBioFetchFailure(t *testing.T) {
	client := &fakeLLM{checklist: defaultChecklist()}
	bio := &fakeBio{err: fmt.Errorf("site down: %w", apperrors.ErrTransient)}
	agent := testAgent(t, client, bio)

	result, err := agent.Vet(context.Background(), vetInput())
	require.NoError(t, err)
	assert.Equal(t, 80, result.Score)
}

func TestVetRequiresIdealDescription(t *testing.T) {
	client := &fakeLLM{checklist: defaultChecklist()}
	agent := testAgent(t, client, nil)

	in := vetInput()
	in.Campaign.IdealDescription = ""

	_, err := agent.Vet(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDataMissing))
	assert.Zero(t, client.checklistCalls)
}

func TestFinalScoreWeightedAverage(t *testing.T) {
	checklist := []domain.ChecklistItem{
		{Criterion: "A", Weight: 5},
		{Criterion: "B", Weight: 1},
	}
	scores := []domain.CriterionScore{
		{Criterion: "A", Score: 100},
		{Criterion: "B", Score: 0},
	}

	// (100*5 + 0*1) / 6 = 83.33 -> 83
	assert.Equal(t, 83, finalScore(checklist, scores))
}

func TestFinalScoreMatchesCriteriaCaseInsensitively(t *testing.T) {
	checklist := []domain.ChecklistItem{{Criterion: "Covers Pricing", Weight: 4}}
	scores := []domain.CriterionScore{{Criterion: "  covers pricing ", Score: 60}}

	assert.Equal(t, 60, finalScore(checklist, scores))
}

func TestFinalScoreFallsBackToPosition(t *testing.T) {
	checklist := []domain.ChecklistItem{
		{Criterion: "Original name", Weight: 4},
		{Criterion: "Second", Weight: 2},
	}

	// Model rewrote the first criterion's text; positional weight applies.
	scores := []domain.CriterionScore{
		{Criterion: "Rewritten name", Score: 90},
		{Criterion: "Second", Score: 30},
	}

	// (90*4 + 30*2) / 6 = 70
	assert.Equal(t, 70, finalScore(checklist, scores))
}

func TestFinalScoreEmptyIsZero(t *testing.T) {
	assert.Zero(t, finalScore(nil, nil))
}

func TestBuildEvidenceLayout(t *testing.T) {
	in := vetInput()

	evidence := buildEvidence(&in.Media, in.Episodes)

	assert.Contains(t, evidence, "## Podcast")
	assert.Contains(t, evidence, "Name: Pricing Signals")
	assert.Contains(t, evidence, "Hosts: Dana Cole")
	assert.Contains(t, evidence, "Estimated audience: 42000")
	assert.Contains(t, evidence, "## Recent episodes")
	assert.Contains(t, evidence, "1. Usage-based billing")
	assert.Contains(t, evidence, "## Recurring signals")
	assert.Contains(t, evidence, "pricing (2)")
}

func TestBuildEvidenceCapsEpisodes(t *testing.T) {
	episodes := make([]domain.Episode, 8)
	for i := range episodes {
		episodes[i] = domain.Episode{Title: fmt.Sprintf("Episode %d", i+1)}
	}

	evidence := buildEvidence(&domain.Media{Name: "Show"}, episodes)

	assert.Contains(t, evidence, "5. Episode 5")
	assert.NotContains(t, evidence, "6. Episode 6")
}

// --- worker ---

type fakeVettingStore struct {
	mu sync.Mutex

	backlog  []db.VettingWorkItem
	episodes map[int64][]domain.Episode

	saved    map[string]*domain.VettingResult
	failed   map[string]string
	released []string
	lost     map[string]bool
}

func newFakeVettingStore(items ...db.VettingWorkItem) *fakeVettingStore {
	return &fakeVettingStore{
		backlog:  items,
		episodes: map[int64][]domain.Episode{},
		saved:    map[string]*domain.VettingResult{},
		failed:   map[string]string{},
		lost:     map[string]bool{},
	}
}

func (s *fakeVettingStore) AcquireVettingBatch(_ context.Context, n int) ([]db.VettingWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.backlog) {
		n = len(s.backlog)
	}

	batch := s.backlog[:n]
	s.backlog = s.backlog[n:]

	return batch, nil
}

func (s *fakeVettingStore) AcquireVettingItem(_ context.Context, discoveryID string) (*db.VettingWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.backlog {
		if s.backlog[i].Discovery.ID == discoveryID {
			item := s.backlog[i]
			s.backlog = append(s.backlog[:i], s.backlog[i+1:]...)

			return &item, nil
		}
	}

	return nil, nil
}

func (s *fakeVettingStore) CountDiscoveriesReadyForVetting(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.backlog), nil
}

func (s *fakeVettingStore) RecentEpisodes(_ context.Context, mediaID int64, _ int) ([]domain.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.episodes[mediaID], nil
}

func (s *fakeVettingStore) SaveVettingResult(_ context.Context, discoveryID string, result *domain.VettingResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lost[discoveryID] {
		return false, nil
	}

	s.saved[discoveryID] = result

	return true, nil
}

func (s *fakeVettingStore) MarkVettingFailed(_ context.Context, discoveryID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed[discoveryID] = errMsg

	return nil
}

func (s *fakeVettingStore) ReleaseVettingLock(_ context.Context, discoveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.released = append(s.released, discoveryID)

	return nil
}

type eventSink struct {
	mu  sync.Mutex
	evs []events.Event
}

func (s *eventSink) add(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evs = append(s.evs, ev)
}

func (s *eventSink) byType(t events.Type) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []events.Event{}

	for _, ev := range s.evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}

	return out
}

func waitForEvents(t *testing.T, sink *eventSink, typ events.Type, want int) {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		if len(sink.byType(typ)) >= want {
			return
		}

		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d %s events, got %d", want, typ, len(sink.byType(typ)))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func workItem(discoveryID string, mediaID int64) db.VettingWorkItem {
	return db.VettingWorkItem{
		Discovery: domain.Discovery{
			ID:         discoveryID,
			CampaignID: "c-1",
			MediaID:    mediaID,
			Keyword:    "pricing",
		},
		Campaign: domain.Campaign{
			ID:               "c-1",
			Name:             "Launch",
			IdealDescription: "Podcasts about SaaS pricing",
		},
		Media: domain.Media{
			ID:            mediaID,
			Name:          fmt.Sprintf("Show %d", mediaID),
			AIDescription: "A show about pricing.",
		},
	}
}

func testWorker(t *testing.T, store *fakeVettingStore, client *fakeLLM) (*Worker, *eventSink) {
	t.Helper()

	logger := zerolog.Nop()

	bus := events.NewBus(&logger)
	t.Cleanup(bus.Close)

	sink := &eventSink{}
	bus.Subscribe("test", sink.add)

	agent := NewAgent(client, nil, &logger)
	agent.retry = fastRetry()

	return NewWorker(store, agent, bus, &logger), sink
}

func TestProcessBatchSavesVerdicts(t *testing.T) {
	store := newFakeVettingStore(workItem("d-1", 1), workItem("d-2", 2))
	worker, sink := testWorker(t, store, &fakeLLM{checklist: defaultChecklist()})

	done, err := worker.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, done)

	require.Contains(t, store.saved, "d-1")
	require.Contains(t, store.saved, "d-2")
	assert.Equal(t, 80, store.saved["d-1"].Score)
	assert.Empty(t, store.failed)
	assert.Empty(t, store.released)

	waitForEvents(t, sink, events.VettingCompleted, 2)

	ev := sink.byType(events.VettingCompleted)[0]
	assert.Equal(t, "c-1", ev.Data["campaign_id"])
	assert.Equal(t, 80, ev.Data["score"])
}

func TestProcessDiscoveryVetsOneRow(t *testing.T) {
	store := newFakeVettingStore(workItem("d-1", 1), workItem("d-2", 2))
	worker, sink := testWorker(t, store, &fakeLLM{checklist: defaultChecklist()})

	done, err := worker.ProcessDiscovery(context.Background(), "d-2")
	require.NoError(t, err)
	assert.True(t, done)

	require.Contains(t, store.saved, "d-2")
	assert.NotContains(t, store.saved, "d-1", "only the requested row is claimed")

	waitForEvents(t, sink, events.VettingCompleted, 1)
}

func TestProcessDiscoveryIneligibleRowIsNoop(t *testing.T) {
	store := newFakeVettingStore()
	worker, _ := testWorker(t, store, &fakeLLM{checklist: defaultChecklist()})

	done, err := worker.ProcessDiscovery(context.Background(), "d-404")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, store.saved)
	assert.Empty(t, store.failed)
}

func TestProcessBatchMarksPermanentFailures(t *testing.T) {
	item := workItem("d-1", 1)
	item.Campaign.IdealDescription = ""

	store := newFakeVettingStore(item)
	worker, sink := testWorker(t, store, &fakeLLM{checklist: defaultChecklist()})

	done, err := worker.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, done)

	require.Contains(t, store.failed, "d-1")
	assert.Contains(t, store.failed["d-1"], "ideal description")
	assert.Empty(t, store.saved)
	assert.Empty(t, sink.byType(events.VettingCompleted))
}

func TestProcessBatchReleasesClaimsOnCancel(t *testing.T) {
	store := newFakeVettingStore(workItem("d-1", 1), workItem("d-2", 2))
	worker, _ := testWorker(t, store, &fakeLLM{checklist: defaultChecklist()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done, err := worker.ProcessBatch(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, done)
	assert.ElementsMatch(t, []string{"d-1", "d-2"}, store.released)
	assert.Empty(t, store.saved)
	assert.Empty(t, store.failed)
}

func TestProcessBatchDiscardsLostClaims(t *testing.T) {
	store := newFakeVettingStore(workItem("d-1", 1))
	store.lost["d-1"] = true

	worker, sink := testWorker(t, store, &fakeLLM{checklist: defaultChecklist()})

	done, err := worker.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, done)
	assert.Empty(t, sink.byType(events.VettingCompleted))
}

func TestProcessBatchUsesEvidenceEpisodes(t *testing.T) {
	store := newFakeVettingStore(workItem("d-1", 1))
	store.episodes[1] = []domain.Episode{
		{Title: "Usage-based billing", AISummary: "Metering beats seats.", Themes: []string{"pricing"}},
	}

	scored := &fakeLLM{checklist: defaultChecklist()}
	worker, _ := testWorker(t, store, scored)

	done, err := worker.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	require.Contains(t, store.saved, "d-1")
	assert.False(t, strings.Contains(store.saved["d-1"].Reasoning, "no evidence"))
}
