package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podscout/podscout/internal/platform/circuit"
)

type fakeProvider struct {
	name      ProviderName
	priority  int
	available bool
	err       error
	calls     int
	lastReq   CompletionRequest
	text      string
}

func (f *fakeProvider) Name() ProviderName { return f.name }
func (f *fakeProvider) IsAvailable() bool  { return f.available }
func (f *fakeProvider) Priority() int      { return f.priority }

func (f *fakeProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResult, error) {
	f.calls++
	f.lastReq = req

	if f.err != nil {
		return nil, f.err
	}

	return &CompletionResult{Text: f.text, Model: "fake", PromptTokens: 10, CompletionTokens: 5}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	logger := zerolog.Nop()

	return NewRegistry(DefaultTaskConfig(), newUsageRecorder(nil, &logger), &logger)
}

func cbSettings(trip int) circuit.Settings {
	return circuit.Settings{Trip: trip, Cooldown: time.Minute}
}

func TestRegistryFallsBackToNextProvider(t *testing.T) {
	r := newTestRegistry(t)

	primary := &fakeProvider{name: ProviderOpenAI, priority: PriorityPrimary, available: true, err: errors.New("boom")}
	fallback := &fakeProvider{name: ProviderOpenRouter, priority: PriorityFallback, available: true, text: `{"ok":true}`}

	r.Register(primary, cbSettings(5))
	r.Register(fallback, cbSettings(5))

	result, err := r.complete(context.Background(), CompletionRequest{Task: TaskEpisodeAnalysis, Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, result.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)

	// Only the successful attempt reports usage.
	tokens, _, _ := r.SpendStatus()
	assert.Equal(t, int64(15), tokens)
}

func TestRegistrySkipsUnavailableProvider(t *testing.T) {
	r := newTestRegistry(t)

	offline := &fakeProvider{name: ProviderOpenAI, priority: PriorityPrimary, available: false}
	online := &fakeProvider{name: ProviderOpenRouter, priority: PriorityFallback, available: true, text: "{}"}

	r.Register(offline, cbSettings(5))
	r.Register(online, cbSettings(5))

	_, err := r.complete(context.Background(), CompletionRequest{Task: TaskTaxonomy, Prompt: "x"})
	require.NoError(t, err)
	assert.Zero(t, offline.calls)
	assert.Equal(t, 1, online.calls)
}

func TestRegistryCircuitOpensAfterThreshold(t *testing.T) {
	r := newTestRegistry(t)

	failing := &fakeProvider{name: ProviderOpenAI, priority: PriorityPrimary, available: true, err: errors.New("boom")}
	backup := &fakeProvider{name: ProviderOpenRouter, priority: PriorityFallback, available: true, text: "{}"}

	r.Register(failing, cbSettings(2))
	r.Register(backup, cbSettings(2))

	for i := 0; i < 3; i++ {
		_, err := r.complete(context.Background(), CompletionRequest{Task: TaskTaxonomy, Prompt: "x"})
		require.NoError(t, err)
	}

	// Two failures trip the breaker; the third round skips the provider.
	assert.Equal(t, 2, failing.calls)
	assert.Equal(t, 3, backup.calls)

	statuses := r.GetProviderStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, ProviderOpenAI, statuses[0].Name)
	assert.True(t, statuses[0].CircuitOpen)
	assert.False(t, statuses[1].CircuitOpen)
}

func TestRegistryAllProvidersFailed(t *testing.T) {
	r := newTestRegistry(t)

	boom := errors.New("boom")
	r.Register(&fakeProvider{name: ProviderOpenAI, priority: PriorityPrimary, available: true, err: boom}, cbSettings(5))

	_, err := r.complete(context.Background(), CompletionRequest{Task: TaskScoring, Prompt: "x"})
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	require.ErrorIs(t, err, boom)
}

func TestRegistryNoProviders(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.complete(context.Background(), CompletionRequest{Task: TaskTaxonomy, Prompt: "x"})
	require.ErrorIs(t, err, ErrNoProvidersAvailable)
}

func TestRegistryJudgementChainUsesLargerModel(t *testing.T) {
	r := newTestRegistry(t)

	p := &fakeProvider{name: ProviderOpenAI, priority: PriorityPrimary, available: true, text: "{}"}
	r.Register(p, cbSettings(5))

	_, err := r.complete(context.Background(), CompletionRequest{Task: TaskChecklist, Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, ModelGPT4o, p.lastReq.Model)

	_, err = r.complete(context.Background(), CompletionRequest{Task: TaskEpisodeAnalysis, Prompt: "x"})
	require.NoError(t, err)
	assert.Empty(t, p.lastReq.Model)
}

func TestSpendTrackerThresholds(t *testing.T) {
	logger := zerolog.Nop()
	st := NewSpendTracker(1000, &logger)

	alerts := make(chan SpendAlert, 2)
	st.OnAlert(func(alert SpendAlert) { alerts <- alert })

	st.Record(700)
	select {
	case <-alerts:
		t.Fatal("no alert expected below warning threshold")
	case <-time.After(50 * time.Millisecond):
	}

	st.Record(200)

	select {
	case alert := <-alerts:
		assert.Equal(t, SpendWarning, alert.Level)
	case <-time.After(time.Second):
		t.Fatal("expected warning alert")
	}

	st.Record(200)

	select {
	case alert := <-alerts:
		assert.Equal(t, SpendExhausted, alert.Level)
	case <-time.After(time.Second):
		t.Fatal("expected exhausted alert")
	}

	st.Record(100)
	select {
	case <-alerts:
		t.Fatal("each level alerts once per day")
	case <-time.After(50 * time.Millisecond):
	}

	tokens, limit, fraction := st.Status()
	assert.Equal(t, int64(1200), tokens)
	assert.Equal(t, int64(1000), limit)
	assert.InDelta(t, 1.2, fraction, 0.001)
}

func TestSpendTrackerSeedMarksCrossedThresholds(t *testing.T) {
	logger := zerolog.Nop()
	st := NewSpendTracker(1000, &logger)

	alerts := make(chan SpendAlert, 2)
	st.OnAlert(func(alert SpendAlert) { alerts <- alert })

	// The pre-restart process already alerted on the warning level.
	st.Seed(850)

	select {
	case <-alerts:
		t.Fatal("seeding must not re-fire alerts")
	case <-time.After(50 * time.Millisecond):
	}

	tokens, _, _ := st.Status()
	assert.Equal(t, int64(850), tokens)

	// Crossing the next threshold after the seed still alerts.
	st.Record(200)

	select {
	case alert := <-alerts:
		assert.Equal(t, SpendExhausted, alert.Level)
	case <-time.After(time.Second):
		t.Fatal("expected exhausted alert")
	}
}

func TestSpendTrackerSeedNeverLowersCount(t *testing.T) {
	logger := zerolog.Nop()
	st := NewSpendTracker(1000, &logger)

	st.Record(300)
	st.Seed(100)

	tokens, _, _ := st.Status()
	assert.Equal(t, int64(300), tokens)
}
