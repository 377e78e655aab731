// Package embeddings turns campaign briefs and episode summaries into
// the 1536-dimension vectors the matcher compares through pgvector.
// OpenAI text-embedding-3-small is the only real backend; a
// deterministic mock fills in when no key is configured so development
// and tests work offline.
package embeddings

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/circuit"
)

// DefaultDimensions matches the vector(1536) columns in the schema.
const DefaultDimensions = 1536

// mockAPIKey forces the mock backend even when set.
const mockAPIKey = "mock"

// Client is the embedding surface the enrichment and match stages
// consume. Vectors always come back at the configured dimension.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider is one embedding backend.
type Provider interface {
	Name() string
	Ready() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the settings for building the provider chain.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int
	RateLimit  int
	Breaker    circuit.Settings
}

// NewClient builds the provider chain from configuration. Without a
// real key the mock backend serves instead, so every downstream write
// still gets a vector.
func NewClient(cfg Config, logger *zerolog.Logger) Client {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}

	var providers []Provider

	if cfg.APIKey != "" && cfg.APIKey != mockAPIKey {
		providers = append(providers, NewOpenAI(cfg.APIKey, cfg.Model, dims, cfg.RateLimit))
	} else {
		logger.Warn().Msg("no embedding provider configured, using mock provider")
		providers = append(providers, NewMock(dims))
	}

	return NewChain(dims, cfg.Breaker, logger, providers...)
}
