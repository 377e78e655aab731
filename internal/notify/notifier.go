package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	"github.com/podscout/podscout/internal/events"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// resolveTimeout bounds the campaign lookup per event; the handler runs
// on the bus subscriber goroutine and must not wedge it.
const resolveTimeout = 5 * time.Second

// Notification is one frame pushed to a client socket.
type Notification struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Priority   string         `json:"priority"`
}

// Repository resolves which person a campaign belongs to.
type Repository interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
}

// Notifier subscribes to the client-visible event subset and turns
// each event into a notification frame routed to the owner's sockets.
type Notifier struct {
	db     Repository
	hub    *Hub
	logger *zerolog.Logger
}

func NewNotifier(database Repository, hub *Hub, logger *zerolog.Logger) *Notifier {
	l := logger.With().Str("component", "notify").Logger()

	return &Notifier{
		db:     database,
		hub:    hub,
		logger: &l,
	}
}

// Subscribe attaches the notifier to the bus for the client-visible
// event types.
func (n *Notifier) Subscribe(bus *events.Bus) {
	bus.Subscribe("notifier", n.handle,
		events.MatchCreated,
		events.MatchApproved,
		events.MatchRejected,
		events.MatchesReady,
		events.LimitReached,
		events.CampaignError,
	)
}

func (n *Notifier) handle(ev events.Event) {
	frame, ok := frameFor(ev)
	if !ok {
		return
	}

	if frame.CampaignID == "" {
		n.logger.Debug().Str("event_type", string(ev.Type)).Msg("event without campaign id, dropped")

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	campaign, err := n.db.GetCampaign(ctx, frame.CampaignID)
	if err != nil || campaign == nil {
		n.logger.Warn().Err(err).Str("campaign_id", frame.CampaignID).Msg("resolve campaign owner failed")

		return
	}

	n.hub.Broadcast(campaign.PersonID, frame)
}

// frameFor maps a bus event to its notification frame. Events outside
// the client-visible vocabulary return ok=false.
func frameFor(ev events.Event) (*Notification, bool) {
	frame := &Notification{
		ID:         uuid.NewString(),
		Type:       string(ev.Type),
		Data:       ev.Data,
		Timestamp:  ev.Timestamp,
		CampaignID: eventCampaignID(ev),
		Priority:   PriorityNormal,
	}

	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}

	switch ev.Type {
	case events.MatchCreated:
		frame.Title = "New podcast match"
		frame.Priority = PriorityHigh

		if score, ok := ev.Data["vetting_score"]; ok {
			frame.Message = fmt.Sprintf("A new match scored %v is ready for your review.", score)
		} else {
			frame.Message = "A new match is ready for your review."
		}

	case events.MatchApproved:
		frame.Title = "Match approved"
		frame.Message = "A match suggestion was approved."
		frame.Priority = PriorityLow

	case events.MatchRejected:
		frame.Title = "Match rejected"
		frame.Message = "A match suggestion was rejected."
		frame.Priority = PriorityLow

	case events.MatchesReady:
		frame.Title = "Discovery run finished"
		frame.Message = fmt.Sprintf("%v new matches are ready for your review.", countOrZero(ev.Data, "matches_created"))

	case events.LimitReached:
		frame.Title = "Weekly match limit reached"
		frame.Message = "Automated discovery is paused until your weekly allowance resets."
		frame.Priority = PriorityHigh

	case events.CampaignError:
		frame.Title = "Discovery run failed"
		frame.Priority = PriorityUrgent

		if msg, ok := ev.Data["error"].(string); ok && msg != "" {
			frame.Message = "The last discovery run failed: " + msg
		} else {
			frame.Message = "The last discovery run failed. It will be retried automatically."
		}

	default:
		return nil, false
	}

	return frame, true
}

// eventCampaignID digs the campaign id out of an event: campaign
// entities carry it as the entity id, everything else in data.
func eventCampaignID(ev events.Event) string {
	if ev.EntityType == "campaign" {
		return ev.EntityID
	}

	if id, ok := ev.Data["campaign_id"].(string); ok {
		return id
	}

	return ""
}

func countOrZero(data map[string]any, key string) any {
	if v, ok := data[key]; ok {
		return v
	}

	return 0
}
