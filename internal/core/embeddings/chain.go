package embeddings

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/circuit"
	"github.com/podscout/podscout/internal/platform/observability"
)

// Chain errors.
var (
	ErrNoProviders = errors.New("no embedding providers available")
	ErrAllFailed   = errors.New("all embedding providers failed")
)

// link pairs a provider with the breaker guarding it.
type link struct {
	provider Provider
	breaker  *circuit.Breaker
}

// Chain tries providers in the order given until one returns a vector,
// fitting the result to the target dimension.
type Chain struct {
	links  []link
	dims   int
	logger *zerolog.Logger
}

// NewChain wraps each provider with its own circuit breaker. Order is
// preference order; the first ready provider with a closed breaker
// serves the request.
func NewChain(dims int, s circuit.Settings, logger *zerolog.Logger, providers ...Provider) *Chain {
	links := make([]link, 0, len(providers))

	for _, p := range providers {
		links = append(links, link{
			provider: p,
			breaker:  circuit.New("embeddings/"+p.Name(), s, logger),
		})

		setAvailability(p.Name(), p.Ready())

		logger.Info().Str("provider", p.Name()).Msg("registered embedding provider")
	}

	return &Chain{links: links, dims: dims, logger: logger}
}

// Embed returns the text's vector at the chain's dimension.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for _, l := range c.links {
		name := l.provider.Name()

		if !l.provider.Ready() {
			continue
		}

		if !l.breaker.Allow() {
			c.logger.Debug().
				Str("provider", name).
				Stringer("state", l.breaker.State()).
				Msg("embedding provider skipped")
			setAvailability(name, false)

			continue
		}

		start := time.Now()
		vec, err := l.provider.Embed(ctx, text)
		l.breaker.Observe(err)
		c.observe(name, time.Since(start), err == nil)

		if err != nil {
			lastErr = err

			c.logger.Warn().Err(err).Str("provider", name).Msg("embedding provider failed")

			continue
		}

		setAvailability(name, true)
		observability.EmbeddingTokens.WithLabelValues(name).Add(float64(estimateTokens(text)))

		return Fit(vec, c.dims), nil
	}

	if lastErr != nil {
		return nil, errors.Join(ErrAllFailed, lastErr)
	}

	return nil, ErrNoProviders
}

func (c *Chain) observe(name string, elapsed time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}

	observability.EmbeddingRequests.WithLabelValues(name, status).Inc()
	observability.EmbeddingLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

func setAvailability(name string, ready bool) {
	value := 0.0
	if ready {
		value = 1.0
	}

	observability.EmbeddingProviderAvailable.WithLabelValues(name).Set(value)
}
