// Package circuit implements the breaker guarding outbound provider
// calls. A breaker opens after a run of consecutive failures, stays
// open for a cooldown, then admits a single probe whose outcome
// decides whether the breaker closes again.
package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the breaker's position in the trip cycle.
type State int

const (
	// Closed admits all traffic.
	Closed State = iota
	// Open rejects traffic until the cooldown elapses.
	Open
	// HalfOpen admits one probe and rejects everything else.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings tune one breaker. Zero values fall back to the defaults.
type Settings struct {
	// Trip is the consecutive failure count that opens the breaker.
	Trip int
	// Cooldown is how long the breaker rejects traffic once open.
	Cooldown time.Duration
}

const (
	defaultTrip     = 5
	defaultCooldown = time.Minute
)

// Breaker tracks consecutive failures for one downstream dependency.
// Allow admits a request and Observe reports its outcome; every
// admitted request must be observed or a half-open probe slot leaks.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration
	logger   *zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New builds a breaker named after the dependency it guards.
func New(name string, s Settings, logger *zerolog.Logger) *Breaker {
	if s.Trip <= 0 {
		s.Trip = defaultTrip
	}

	if s.Cooldown <= 0 {
		s.Cooldown = defaultCooldown
	}

	return &Breaker{
		name:     name,
		trip:     s.Trip,
		cooldown: s.Cooldown,
		logger:   logger,
	}
}

// Allow reports whether a request may proceed. Once the cooldown has
// elapsed an open breaker admits exactly one probe; further requests
// are rejected until that probe's outcome is observed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}

		b.state = HalfOpen
		b.probing = true

		return true
	case HalfOpen:
		if b.probing {
			return false
		}

		b.probing = true

		return true
	}

	return false
}

// Observe records the outcome of an admitted request and reports
// whether this observation opened the breaker.
func (b *Breaker) Observe(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != Closed && b.logger != nil {
			b.logger.Info().Str("breaker", b.name).Msg("circuit closed after successful probe")
		}

		b.state = Closed
		b.failures = 0
		b.probing = false

		return false
	}

	b.failures++
	b.probing = false

	if b.state == HalfOpen || b.failures >= b.trip {
		wasOpen := b.state == Open
		b.open()

		return !wasOpen
	}

	return false
}

// State reports the current state without admitting anything.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// open transitions to Open. Callers hold the mutex.
func (b *Breaker) open() {
	b.state = Open
	b.openedAt = time.Now()

	if b.logger != nil {
		b.logger.Warn().
			Str("breaker", b.name).
			Int("consecutive_failures", b.failures).
			Dur("cooldown", b.cooldown).
			Msg("circuit opened")
	}
}
