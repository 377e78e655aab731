package llm

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/observability"
)

// UsageLedger is the persisted day-grained token ledger. Writes land
// per request; the read seeds the spend tracker at boot.
type UsageLedger interface {
	AddLLMUsage(ctx context.Context, provider, model, task string, promptTokens, completionTokens int, costUSD float64) error
	TokensUsedToday(ctx context.Context) (int64, error)
}

// usageRecorder fans one usage event out to Prometheus and, when a
// store is configured, to the database. Persistence is fire-and-forget
// so a slow ledger write never stalls a completion.
type usageRecorder struct {
	store  UsageLedger
	logger *zerolog.Logger
}

func newUsageRecorder(store UsageLedger, logger *zerolog.Logger) *usageRecorder {
	return &usageRecorder{store: store, logger: logger}
}

func (u *usageRecorder) record(provider ProviderName, model string, task TaskType, promptTokens, completionTokens int, success bool) {
	status := metricStatusSuccess
	if !success {
		status = metricStatusError
	}

	observability.LLMRequests.WithLabelValues(string(provider), model, string(task), status).Inc()

	if !success {
		return
	}

	if promptTokens > 0 {
		observability.LLMTokensPrompt.WithLabelValues(string(provider), model, string(task)).Add(float64(promptTokens))
	}

	if completionTokens > 0 {
		observability.LLMTokensCompletion.WithLabelValues(string(provider), model, string(task)).Add(float64(completionTokens))
	}

	cost := estimateCost(provider, model, promptTokens, completionTokens)
	if cost > 0 {
		observability.LLMEstimatedCost.WithLabelValues(string(provider), model, string(task)).Add(cost * usdToMillicents)
	}

	u.persist(provider, model, task, promptTokens, completionTokens, cost)
}

func (u *usageRecorder) persist(provider ProviderName, model string, task TaskType, promptTokens, completionTokens int, cost float64) {
	if u.store == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageStorageTimeout)
		defer cancel()

		if err := u.store.AddLLMUsage(ctx, string(provider), model, string(task), promptTokens, completionTokens, cost); err != nil {
			u.logger.Warn().Err(err).
				Str(logKeyProvider, string(provider)).
				Str(logKeyTask, string(task)).
				Msg("failed to persist llm usage")
		}
	}()
}
