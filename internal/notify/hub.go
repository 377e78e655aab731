// Package notify fans pipeline events out to clients: a WebSocket hub
// for in-app notification frames and an optional Telegram sink for
// operator alerts. Delivery is best-effort everywhere. A dead socket
// gets dropped rather than retried; reconnecting is the client's job.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/observability"
)

const (
	// writeWait bounds one frame write; a client slower than this is
	// treated as gone.
	writeWait = 10 * time.Second

	// readWait is the idle cutoff. Clients keep the session alive with
	// application-level ping messages.
	readWait = 90 * time.Second

	maxInboundBytes = 1 << 10
)

// Inbound message types accepted from clients.
const (
	inboundPing      = "ping"
	inboundSubscribe = "subscribe_campaign"
)

type inboundMessage struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id,omitempty"`
}

type pongMessage struct {
	Type string `json:"type"`
}

// session is one connected socket. campaignID narrows which frames the
// session receives; empty means every campaign the person owns.
type session struct {
	conn     *websocket.Conn
	personID int64

	mu         sync.Mutex
	campaignID string
}

func (s *session) campaign() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.campaignID
}

func (s *session) setCampaign(id string) {
	s.mu.Lock()
	s.campaignID = id
	s.mu.Unlock()
}

// write sends one JSON payload under the write deadline. The lock
// serializes broadcast frames against pong replies.
func (s *session) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return s.conn.WriteJSON(v)
}

// Hub tracks connected notification sessions grouped by person and
// campaign.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}
	closed   bool

	logger *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	l := logger.With().Str("component", "notify.hub").Logger()

	return &Hub{
		sessions: map[*session]struct{}{},
		logger:   &l,
	}
}

// Register adopts an upgraded connection and starts its read loop. The
// read loop owns the connection's lifetime: it answers pings, applies
// campaign re-subscriptions, and unregisters the session when the
// socket dies.
func (h *Hub) Register(conn *websocket.Conn, personID int64, campaignID string) {
	s := &session{
		conn:       conn,
		personID:   personID,
		campaignID: campaignID,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()

		_ = conn.Close()

		return
	}

	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	observability.WSConnections.Inc()

	h.logger.Debug().
		Int64("person_id", personID).
		Str("campaign_id", campaignID).
		Msg("notification socket connected")

	go h.readLoop(s)
}

func (h *Hub) readLoop(s *session) {
	defer h.drop(s)

	s.conn.SetReadLimit(maxInboundBytes)

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			return
		}

		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case inboundPing:
			if err := s.write(pongMessage{Type: "pong"}); err != nil {
				return
			}

		case inboundSubscribe:
			s.setCampaign(msg.CampaignID)
		}
	}
}

// Broadcast delivers one frame to every session of the person whose
// campaign filter admits it. Failed writes drop the session on the
// spot; within one session, frames arrive in call order.
func (h *Hub) Broadcast(personID int64, n *Notification) {
	h.mu.RLock()
	targets := make([]*session, 0, 2)

	for s := range h.sessions {
		if s.personID != personID {
			continue
		}

		if filter := s.campaign(); filter != "" && n.CampaignID != "" && filter != n.CampaignID {
			continue
		}

		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.write(n); err != nil {
			observability.NotificationsSent.WithLabelValues(n.Type, "error").Inc()

			h.logger.Debug().Err(err).Int64("person_id", personID).Msg("notification write failed, dropping socket")
			h.drop(s)

			continue
		}

		observability.NotificationsSent.WithLabelValues(n.Type, "sent").Inc()
	}
}

// Sessions reports how many sockets are connected.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions)
}

// Close drops every session. New registrations after Close are
// rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))

	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.drop(s)
	}
}

func (h *Hub) drop(s *session) {
	h.mu.Lock()
	_, present := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()

	if !present {
		return
	}

	observability.WSConnections.Dec()

	_ = s.conn.Close()
}
