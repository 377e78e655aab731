// Package llm routes podcast-specific completion work across chat
// providers with per-task model chains, circuit breakers, token
// accounting and a daily spend cap. Every operation requests structured
// JSON and rejects responses that do not parse into the expected
// schema, so callers never see free text where the pipeline needs
// fields.
package llm

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	"github.com/podscout/podscout/internal/platform/circuit"
	"github.com/podscout/podscout/internal/platform/config"
)

// Client is the completion surface the pipeline stages consume.
type Client interface {
	MapKeywordToGenres(ctx context.Context, keyword string, genres []GenreOption) ([]string, error)
	AnalyzeEpisode(ctx context.Context, in EpisodeInput) (*EpisodeAnalysis, error)
	DescribeMedia(ctx context.Context, in MediaInput) (string, error)
	GenerateChecklist(ctx context.Context, in ChecklistInput) ([]domain.ChecklistItem, error)
	ScoreChecklist(ctx context.Context, in ScoringInput) (*ScoringResult, error)
	// OnSpendAlert registers a hook invoked when daily token spend
	// crosses a cap threshold.
	OnSpendAlert(fn func(SpendAlert))
}

// New assembles the provider registry from configuration. Providers
// without credentials are not registered; the deterministic mock is
// always last in line so development setups keep working offline.
func New(cfg *config.Config, store UsageLedger, logger *zerolog.Logger) Client {
	registry := NewRegistry(DefaultTaskConfig(), newUsageRecorder(store, logger), logger)
	registry.SetTimeout(cfg.LLMTimeout)

	// Zero values fall back to the breaker's own defaults.
	cs := circuit.Settings{
		Trip:     cfg.LLMCircuitThreshold,
		Cooldown: cfg.LLMCircuitTimeout,
	}

	if cfg.LLMAPIKey != "" && cfg.LLMAPIKey != llmAPIKeyMock {
		registry.Register(newOpenAIProvider(cfg, logger), cs)
	} else {
		logger.Warn().Msg("LLM_API_KEY not configured, openai provider disabled")
	}

	if cfg.OpenRouterAPIKey != "" {
		registry.Register(newOpenRouterProvider(cfg, logger), cs)
	}

	registry.Register(newMockProvider(), cs)

	if cfg.LLMDailyTokenBudget > 0 {
		registry.SetSpendLimit(cfg.LLMDailyTokenBudget)
		seedSpend(registry, store, logger)
	}

	return registry
}

// seedSpend carries today's persisted token count into the tracker so
// a restart cannot reset the daily cap.
func seedSpend(registry *Registry, store UsageLedger, logger *zerolog.Logger) {
	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), spendSeedTimeout)
	defer cancel()

	used, err := store.TokensUsedToday(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not seed daily spend from usage ledger")

		return
	}

	if used > 0 {
		registry.SeedSpend(used)
		logger.Info().Int64("tokens", used).Msg("seeded daily spend from usage ledger")
	}
}
