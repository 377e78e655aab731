// Package events is the in-process publish/subscribe bus connecting
// the pipeline stages to the notifier. Each subscriber consumes its
// own FIFO queue on its own goroutine, so one slow or panicking
// handler never blocks the pipeline or its peers, and a subscriber
// sees events in publish order.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/observability"
)

// Type identifies an event kind on the bus.
type Type string

// Event types.
const (
	MediaDiscovered     Type = "media.discovered"
	EnrichmentCompleted Type = "enrichment.completed"
	EpisodeTranscribed  Type = "episode.transcribed"
	VettingCompleted    Type = "vetting.completed"
	MatchCreated        Type = "match.created"
	MatchApproved       Type = "match.approved"
	MatchRejected       Type = "match.rejected"
	CampaignPaused      Type = "campaign.paused"
	CampaignError       Type = "campaign.error"
	MatchesReady        Type = "client.matches.ready"
	LimitReached        Type = "client.limit.reached"
)

// Event is one fact published on the bus. Publishers fire it only
// after the owning transaction commits, so subscribers reading the
// store observe the committed state.
type Event struct {
	Type       Type           `json:"type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
}

// Handler consumes one event. It runs on the subscriber's goroutine.
type Handler func(ev Event)

const (
	historySize     = 1000
	subscriberQueue = 256
)

type subscriber struct {
	name    string
	types   map[Type]bool // nil means all types
	queue   chan Event
	handler Handler
}

func (s *subscriber) wants(t Type) bool {
	return s.types == nil || s.types[t]
}

// Bus fans events out to subscribers and keeps a rolling history for
// debugging.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	history     []Event
	historyPos  int
	closed      bool
	wg          sync.WaitGroup
	logger      zerolog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zerolog.Logger) *Bus {
	return &Bus{
		history: make([]Event, 0, historySize),
		logger:  logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler under a name. With no types listed the
// handler receives every event. Each subscriber gets its own queue and
// goroutine; a full queue drops new events rather than blocking
// publishers.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) {
	sub := &subscriber{
		name:    name,
		queue:   make(chan Event, subscriberQueue),
		handler: handler,
	}

	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		b.logger.Warn().Str("subscriber", name).Msg("subscribe after close ignored")

		return
	}

	b.subscribers = append(b.subscribers, sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.consume(sub)
}

func (b *Bus) consume(sub *subscriber) {
	defer b.wg.Done()

	for ev := range sub.queue {
		b.dispatch(sub, ev)
	}
}

// dispatch runs one handler with panic isolation.
func (b *Bus) dispatch(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("subscriber", sub.name).
				Str("event_type", string(ev.Type)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	sub.handler(ev)
}

// Publish records the event in history and enqueues it for every
// interested subscriber. A zero timestamp is stamped with now.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	observability.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return
	}

	b.remember(ev)

	subs := make([]*subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.wants(ev.Type) {
			continue
		}

		select {
		case sub.queue <- ev:
		default:
			observability.EventsDropped.WithLabelValues(sub.name).Inc()

			b.logger.Warn().
				Str("subscriber", sub.name).
				Str("event_type", string(ev.Type)).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// remember appends to the fixed-size ring. Caller holds the lock.
func (b *Bus) remember(ev Event) {
	if len(b.history) < historySize {
		b.history = append(b.history, ev)

		return
	}

	b.history[b.historyPos] = ev
	b.historyPos = (b.historyPos + 1) % historySize
}

// Recent returns up to n most recent events, newest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.history)
	if n > total {
		n = total
	}

	out := make([]Event, 0, n)

	for i := 0; i < n; i++ {
		// Newest element sits just behind the ring position.
		idx := (b.historyPos + total - 1 - i) % total
		out = append(out, b.history[idx])
	}

	return out
}

// Close stops accepting events and waits for queued ones to drain.
func (b *Bus) Close() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return
	}

	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.queue)
	}

	b.mu.Unlock()
	b.wg.Wait()
}
