package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podscout/podscout/internal/core/domain"
	"github.com/podscout/podscout/internal/events"
)

type fakeCampaignStore struct {
	campaigns map[string]*domain.Campaign
}

func (s *fakeCampaignStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}

	clone := *c

	return &clone, nil
}

func TestFrameForMapsClientVisibleEvents(t *testing.T) {
	cases := []struct {
		name     string
		ev       events.Event
		priority string
		title    string
	}{
		{
			name: "match created",
			ev: events.Event{
				Type:       events.MatchCreated,
				EntityType: "match_suggestion",
				EntityID:   "m-1",
				Data:       map[string]any{"campaign_id": "c-1", "vetting_score": 82},
			},
			priority: PriorityHigh,
			title:    "New podcast match",
		},
		{
			name: "matches ready",
			ev: events.Event{
				Type:       events.MatchesReady,
				EntityType: "campaign",
				EntityID:   "c-1",
				Data:       map[string]any{"matches_created": 4},
			},
			priority: PriorityNormal,
			title:    "Discovery run finished",
		},
		{
			name: "limit reached",
			ev: events.Event{
				Type:       events.LimitReached,
				EntityType: "campaign",
				EntityID:   "c-1",
			},
			priority: PriorityHigh,
			title:    "Weekly match limit reached",
		},
		{
			name: "campaign error",
			ev: events.Event{
				Type:       events.CampaignError,
				EntityType: "campaign",
				EntityID:   "c-1",
				Data:       map[string]any{"error": "podscan down"},
			},
			priority: PriorityUrgent,
			title:    "Discovery run failed",
		},
		{
			name: "match approved",
			ev: events.Event{
				Type:       events.MatchApproved,
				EntityType: "match_suggestion",
				EntityID:   "m-1",
				Data:       map[string]any{"campaign_id": "c-1"},
			},
			priority: PriorityLow,
			title:    "Match approved",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, ok := frameFor(tc.ev)
			require.True(t, ok)

			assert.Equal(t, string(tc.ev.Type), frame.Type)
			assert.Equal(t, tc.priority, frame.Priority)
			assert.Equal(t, tc.title, frame.Title)
			assert.Equal(t, "c-1", frame.CampaignID)
			assert.NotEmpty(t, frame.ID)
			assert.NotEmpty(t, frame.Message)
			assert.False(t, frame.Timestamp.IsZero())
		})
	}
}

func TestFrameForIncludesErrorDetail(t *testing.T) {
	frame, ok := frameFor(events.Event{
		Type:       events.CampaignError,
		EntityType: "campaign",
		EntityID:   "c-1",
		Data:       map[string]any{"error": "podscan down"},
	})
	require.True(t, ok)
	assert.Contains(t, frame.Message, "podscan down")
}

func TestFrameForRejectsPipelineInternalEvents(t *testing.T) {
	for _, typ := range []events.Type{events.MediaDiscovered, events.EnrichmentCompleted, events.EpisodeTranscribed, events.VettingCompleted} {
		_, ok := frameFor(events.Event{Type: typ, EntityType: "discovery", EntityID: "d-1"})
		assert.False(t, ok, "%s must not reach clients", typ)
	}
}

func TestEventCampaignIDPrecedence(t *testing.T) {
	fromEntity := eventCampaignID(events.Event{EntityType: "campaign", EntityID: "c-9"})
	assert.Equal(t, "c-9", fromEntity)

	fromData := eventCampaignID(events.Event{
		EntityType: "discovery",
		EntityID:   "d-1",
		Data:       map[string]any{"campaign_id": "c-3"},
	})
	assert.Equal(t, "c-3", fromData)

	missing := eventCampaignID(events.Event{EntityType: "discovery", EntityID: "d-1"})
	assert.Empty(t, missing)
}

func TestNotifierRoutesEventToOwnerSocket(t *testing.T) {
	logger := zerolog.Nop()

	hub := testHub(t)

	store := &fakeCampaignStore{campaigns: map[string]*domain.Campaign{
		"c-1": {ID: "c-1", PersonID: 9},
	}}

	bus := events.NewBus(&logger)
	t.Cleanup(bus.Close)

	NewNotifier(store, hub, &logger).Subscribe(bus)

	owner := dialSession(t, hub, 9, "c-1")
	stranger := dialSession(t, hub, 12, "")

	bus.Publish(events.Event{
		Type:       events.MatchCreated,
		EntityType: "match_suggestion",
		EntityID:   "m-1",
		Data:       map[string]any{"campaign_id": "c-1", "vetting_score": 82},
		Source:     "match",
	})

	frame := readFrame(t, owner)
	assert.Equal(t, "match.created", frame.Type)
	assert.Equal(t, "c-1", frame.CampaignID)
	assert.Equal(t, PriorityHigh, frame.Priority)

	assertNoFrame(t, stranger)
}

func TestNotifierDropsEventForUnknownCampaign(t *testing.T) {
	logger := zerolog.Nop()

	hub := testHub(t)
	store := &fakeCampaignStore{campaigns: map[string]*domain.Campaign{}}

	bus := events.NewBus(&logger)
	t.Cleanup(bus.Close)

	NewNotifier(store, hub, &logger).Subscribe(bus)

	client := dialSession(t, hub, 9, "")

	bus.Publish(events.Event{
		Type:       events.MatchCreated,
		EntityType: "match_suggestion",
		EntityID:   "m-1",
		Data:       map[string]any{"campaign_id": "ghost"},
		Source:     "match",
	})

	time.Sleep(50 * time.Millisecond)
	assertNoFrame(t, client)
}
