package api

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/podscout/podscout/internal/core/domain"
	errs "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/notify"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/scheduler"
	db "github.com/podscout/podscout/internal/storage"
)

const testToken = "tok-1"

type listCall struct {
	personID int64
	status   string
	limit    int
	offset   int
}

type decisionCall struct {
	matchID  string
	personID int64
	approved bool
}

type taskUpdate struct {
	id     string
	status string
	notes  string
}

type fakeAPIStore struct {
	mu sync.Mutex

	tokens    map[string]int64
	campaigns map[string]*domain.Campaign
	counts    map[string]*db.DiscoveryStatusCounts
	tasks     map[string]*domain.ReviewTask

	listReturn  []domain.ReviewTask
	totalReturn int
	resetReturn int64

	campaignNames map[string]string
	mediaNames    map[string]string
	mediaIDs      map[string]int64
	scores        map[string]int

	matchDecided map[string]bool

	autoEnabled map[string]bool
	listCalls   []listCall
	decisions   []decisionCall
	updates     []taskUpdate

	usage      *db.LLMUsageSummary
	usageSince time.Time
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		tokens:        map[string]int64{testToken: 1},
		campaigns:     map[string]*domain.Campaign{},
		counts:        map[string]*db.DiscoveryStatusCounts{},
		tasks:         map[string]*domain.ReviewTask{},
		campaignNames: map[string]string{},
		mediaNames:    map[string]string{},
		mediaIDs:      map[string]int64{},
		scores:        map[string]int{},
		matchDecided:  map[string]bool{},
		autoEnabled:   map[string]bool{},
	}
}

func (s *fakeAPIStore) PersonIDByToken(_ context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tokens[token], nil
}

func (s *fakeAPIStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}

	clone := *c

	return &clone, nil
}

func (s *fakeAPIStore) SetAutoDiscoveryEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.autoEnabled[id] = enabled

	return nil
}

func (s *fakeAPIStore) GetDiscoveryStatusCounts(_ context.Context, campaignID string) (*db.DiscoveryStatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counts[campaignID]; ok {
		return c, nil
	}

	return &db.DiscoveryStatusCounts{Enrichment: map[string]int{}, Vetting: map[string]int{}}, nil
}

func (s *fakeAPIStore) ResetRejectedForCampaign(_ context.Context, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.resetReturn, nil
}

func (s *fakeAPIStore) GetReviewTask(_ context.Context, id string) (*domain.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}

	clone := *t

	return &clone, nil
}

func (s *fakeAPIStore) ListReviewTasks(_ context.Context, personID int64, status string, limit, offset int) ([]domain.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls = append(s.listCalls, listCall{personID: personID, status: status, limit: limit, offset: offset})

	return s.listReturn, nil
}

func (s *fakeAPIStore) CountReviewTasks(_ context.Context, _ int64, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totalReturn, nil
}

func (s *fakeAPIStore) UpdateReviewTaskStatus(_ context.Context, id, status, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates = append(s.updates, taskUpdate{id: id, status: status, notes: notes})

	return true, nil
}

func (s *fakeAPIStore) HydrateReviewTasks(_ context.Context, tasks []domain.ReviewTask) ([]db.HydratedReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.HydratedReviewTask, 0, len(tasks))

	for _, t := range tasks {
		out = append(out, db.HydratedReviewTask{
			Task:         t,
			CampaignName: s.campaignNames[t.CampaignID],
			MediaID:      s.mediaIDs[t.RelatedID],
			MediaName:    s.mediaNames[t.RelatedID],
			Score:        s.scores[t.RelatedID],
		})
	}

	return out, nil
}

func (s *fakeAPIStore) SetMatchDecision(_ context.Context, matchID string, personID int64, approved bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions = append(s.decisions, decisionCall{matchID: matchID, personID: personID, approved: approved})

	if s.matchDecided[matchID] {
		return false, nil
	}

	s.matchDecided[matchID] = true

	return true, nil
}

func (s *fakeAPIStore) GetLLMUsageSince(_ context.Context, since time.Time) (*db.LLMUsageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usageSince = since

	if s.usage != nil {
		return s.usage, nil
	}

	return &db.LLMUsageSummary{
		ByProvider: map[string]db.UsageBucket{},
		ByTask:     map[string]db.UsageBucket{},
	}, nil
}

func (s *fakeAPIStore) decisionCalls() []decisionCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]decisionCall{}, s.decisions...)
}

func (s *fakeAPIStore) taskUpdates() []taskUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]taskUpdate{}, s.updates...)
}

func (s *fakeAPIStore) enabledFor(id string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.autoEnabled[id]

	return v, ok
}

type launchCall struct {
	campaignID string
	maxMatches int
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls []launchCall
	err   error
}

func (l *fakeLauncher) RunManual(_ context.Context, campaignID string, maxMatches int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, launchCall{campaignID: campaignID, maxMatches: maxMatches})

	return l.err
}

func (l *fakeLauncher) launchCalls() []launchCall {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]launchCall{}, l.calls...)
}

type fakeSched struct {
	mu       sync.Mutex
	snapshot scheduler.Snapshot
	paused   bool
	toggles  map[string]bool
	known    map[string]bool
}

func newFakeSched() *fakeSched {
	return &fakeSched{
		toggles: map[string]bool{},
		known:   map[string]bool{},
	}
}

func (f *fakeSched) Status() scheduler.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.snapshot
	snap.Running = !f.paused

	return snap
}

func (f *fakeSched) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.paused = true
}

func (f *fakeSched) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.paused = false
}

func (f *fakeSched) SetTaskEnabled(name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.known[name] {
		return fmt.Errorf("task %q: %w", name, errs.ErrTaskNotFound)
	}

	f.toggles[name] = enabled

	return nil
}

func (f *fakeSched) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.paused
}

func (f *fakeSched) toggleFor(name string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.toggles[name]

	return v, ok
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

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		if cond() {
			return
		}

		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type testEnv struct {
	server   *Server
	store    *fakeAPIStore
	launcher *fakeLauncher
	sched    *fakeSched
	hub      *notify.Hub
	sink     *eventSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.Nop()

	bus := events.NewBus(&logger)
	t.Cleanup(bus.Close)

	sink := &eventSink{}
	bus.Subscribe("test", sink.add)

	hub := notify.NewHub(&logger)
	t.Cleanup(hub.Close)

	cfg := &config.Config{
		APIPort:            0,
		CORSAllowedOrigins: []string{"*"},
		TaskTimeout:        25 * time.Minute,
	}

	store := newFakeAPIStore()
	launcher := &fakeLauncher{}
	sched := newFakeSched()

	return &testEnv{
		server:   NewServer(cfg, store, launcher, sched, hub, bus, &logger),
		store:    store,
		launcher: launcher,
		sched:    sched,
		hub:      hub,
		sink:     sink,
	}
}

// do runs one request through the full router, middleware included.
func (e *testEnv) do(t *testing.T, method, target, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)

	return rec
}

func ownedCampaign(id string, personID int64) *domain.Campaign {
	return &domain.Campaign{
		ID:               id,
		PersonID:         personID,
		Name:             "B2B SaaS outreach",
		Keywords:         []string{"saas growth", "b2b sales"},
		IdealDescription: "Podcasts interviewing SaaS founders about growth",
	}
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, "body: %s", rec.Body.String())
}
