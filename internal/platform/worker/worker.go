// Package worker provides the loop primitives the scheduler and the
// stage consumers are built from: a periodic Loop runner, context-aware
// waits, wall-clock timeouts and weekly due-time math.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	logFieldLoop = "loop"

	// defaultWeeklyGracePeriod keeps a weekly task from firing twice
	// inside one scheduled hour: six days means "not already this week".
	defaultWeeklyGracePeriod = 6 * 24 * time.Hour
)

// Loop is a named periodic job. The zero value is unusable; Every and
// Tick must be set.
type Loop struct {
	// Name tags the loop's log lines.
	Name string

	// Every is the tick interval.
	Every time.Duration

	// Tick runs on every interval.
	Tick func(ctx context.Context)

	// Immediate fires Tick once before the first interval elapses.
	Immediate bool

	// Logger is optional. Nil logs nowhere.
	Logger *zerolog.Logger
}

// Run drives Tick until the context dies and returns the wrapped
// context error, never nil.
func (l Loop) Run(ctx context.Context) error {
	log := l.log()
	log.Info().Str(logFieldLoop, l.Name).Dur("every", l.Every).Msg("loop running")

	defer log.Info().Str(logFieldLoop, l.Name).Msg("loop stopped")

	if l.Immediate {
		l.Tick(ctx)
	}

	ticker := time.NewTicker(l.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("loop %s: %w", l.Name, ctx.Err())
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Wait blocks until the duration elapses or the context is canceled.
// Returns a wrapped context error when interrupted. Uses an explicit
// timer so long poll intervals release their timer on cancellation.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// RunWithTimeout runs fn under a wall-clock cap derived from the parent
// context.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(timeoutCtx)
}

// ShouldRunWeekly reports whether a weekly task scheduled for the given
// day and hour is due at now. The grace period suppresses a second fire
// inside the same scheduled hour; zero means the six-day default.
func ShouldRunWeekly(now time.Time, day time.Weekday, hour int, lastRun time.Time, gracePeriod time.Duration) bool {
	if now.Weekday() != day {
		return false
	}

	if now.Hour() != hour {
		return false
	}

	if gracePeriod == 0 {
		gracePeriod = defaultWeeklyGracePeriod
	}

	return lastRun.IsZero() || now.Sub(lastRun) > gracePeriod
}

func (l Loop) log() *zerolog.Logger {
	if l.Logger != nil {
		return l.Logger
	}

	nop := zerolog.Nop()

	return &nop
}
