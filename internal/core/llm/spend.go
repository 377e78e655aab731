package llm

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Spend alert levels.
const (
	SpendWarning   = "warning"
	SpendExhausted = "exhausted"
)

// warnFraction is the share of the daily cap that triggers the early
// warning.
const warnFraction = 0.8

const spendDayFormat = "2006-01-02"

// SpendAlert reports a crossed threshold on the daily token cap.
type SpendAlert struct {
	Level    string
	Tokens   int64
	Limit    int64
	Fraction float64
	At       time.Time
}

// SpendTracker counts completion tokens against a daily cap and fires
// the alert hook once per level per UTC day. A zero cap disables
// alerting but keeps counting, so status stays useful without one.
type SpendTracker struct {
	mu      sync.Mutex
	logger  *zerolog.Logger
	onAlert func(SpendAlert)

	day       string
	tokens    int64
	limit     int64
	warned    bool
	exhausted bool
}

func NewSpendTracker(limit int64, logger *zerolog.Logger) *SpendTracker {
	return &SpendTracker{
		limit:  limit,
		day:    time.Now().UTC().Format(spendDayFormat),
		logger: logger,
	}
}

// OnAlert installs the hook called when a threshold is crossed. The
// hook runs on its own goroutine so a slow sink never stalls
// completions.
func (s *SpendTracker) OnAlert(fn func(SpendAlert)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onAlert = fn
}

// SetLimit replaces the daily cap.
func (s *SpendTracker) SetLimit(limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limit = limit
}

// Seed primes today's count from the persisted ledger so a restart
// does not reset the cap. Thresholds the seed already crosses were
// alerted on before the restart, so they are marked fired.
func (s *SpendTracker) Seed(tokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roll()

	if tokens <= s.tokens {
		return
	}

	s.tokens = tokens

	if s.limit <= 0 {
		return
	}

	fraction := float64(s.tokens) / float64(s.limit)
	s.warned = fraction >= warnFraction
	s.exhausted = fraction >= 1
}

// Record adds tokens to today's count.
func (s *SpendTracker) Record(tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roll()

	s.tokens += int64(tokens)

	if s.limit <= 0 || s.onAlert == nil {
		return
	}

	fraction := float64(s.tokens) / float64(s.limit)

	switch {
	case !s.exhausted && fraction >= 1:
		s.exhausted = true
		s.fire(SpendExhausted, fraction)
	case !s.warned && fraction >= warnFraction:
		s.warned = true
		s.fire(SpendWarning, fraction)
	}
}

// Status reports today's count, the cap and the used fraction.
func (s *SpendTracker) Status() (tokens, limit int64, fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roll()

	if s.limit > 0 {
		fraction = float64(s.tokens) / float64(s.limit)
	}

	return s.tokens, s.limit, fraction
}

// roll resets the counter on the first touch of a new UTC day. Callers
// hold the mutex.
func (s *SpendTracker) roll() {
	today := time.Now().UTC().Format(spendDayFormat)
	if s.day == today {
		return
	}

	s.day = today
	s.tokens = 0
	s.warned = false
	s.exhausted = false
}

// fire logs and dispatches one alert. Callers hold the mutex.
func (s *SpendTracker) fire(level string, fraction float64) {
	alert := SpendAlert{
		Level:    level,
		Tokens:   s.tokens,
		Limit:    s.limit,
		Fraction: fraction,
		At:       time.Now().UTC(),
	}

	s.logger.Warn().
		Str("level", level).
		Int64("tokens", alert.Tokens).
		Int64("limit", alert.Limit).
		Float64("fraction", fraction).
		Msg("daily LLM token cap threshold crossed")

	go s.onAlert(alert)
}
