package sources

import (
	"context"
	"math/rand"
	"time"

	apperrors "github.com/podscout/podscout/internal/core/errors"
)

const (
	defaultMaxAttempts   = 5
	defaultBaseDelay     = 2 * time.Second
	defaultRateLimitBase = 15 * time.Second
	defaultMaxDelay      = 2 * time.Minute
)

// RetryPolicy drives backoff for adapter calls. Rate-limit responses
// use a larger base because directory providers meter in windows, not
// per request.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	RateLimitBase time.Duration
	MaxDelay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   defaultMaxAttempts,
		BaseDelay:     defaultBaseDelay,
		RateLimitBase: defaultRateLimitBase,
		MaxDelay:      defaultMaxDelay,
	}
}

// Delay returns the backoff before retry number attempt (0-based),
// exponential with full jitter.
func (p RetryPolicy) Delay(attempt int, rateLimited bool) time.Duration {
	base := p.BaseDelay
	if rateLimited {
		base = p.RateLimitBase
	}

	delay := base << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	half := delay / 2

	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Retry runs fn until it succeeds, exhausts attempts, or hits a
// non-retryable error. Context cancellation interrupts the backoff
// sleep.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt-1, apperrors.Is(lastErr, apperrors.ErrRateLimited))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()

				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !apperrors.Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
