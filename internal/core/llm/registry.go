package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/circuit"
	"github.com/podscout/podscout/internal/platform/observability"
)

// Registry errors.
var (
	ErrNoProvidersAvailable = errors.New("no completion providers available")
	ErrAllProvidersFailed   = errors.New("every completion provider failed")
)

// Registry routes completions across providers with per-task chains and
// circuit-breaker guarded fallback. All domain operations funnel
// through complete, so routing, accounting and spend tracking live in
// one place.
type Registry struct {
	mu         sync.RWMutex
	providers  map[ProviderName]Provider
	order      []ProviderName // priority order, highest first
	breakers   map[ProviderName]*circuit.Breaker
	taskConfig *TaskConfig
	usage      *usageRecorder
	spend      *SpendTracker
	timeout    time.Duration
	logger     *zerolog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(taskCfg *TaskConfig, usage *usageRecorder, logger *zerolog.Logger) *Registry {
	return &Registry{
		providers:  make(map[ProviderName]Provider),
		order:      make([]ProviderName, 0),
		breakers:   make(map[ProviderName]*circuit.Breaker),
		taskConfig: taskCfg,
		usage:      usage,
		spend:      NewSpendTracker(0, logger), // 0 means no cap
		logger:     logger,
	}
}

// SetTimeout bounds every single provider attempt. Zero disables the
// per-attempt deadline and leaves only the caller's context.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timeout = d
}

// Register adds a provider with its own circuit breaker.
func (r *Registry) Register(p Provider, cs circuit.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	r.providers[name] = p
	r.breakers[name] = circuit.New("llm/"+string(name), cs, r.logger)
	r.order = insertByPriority(r.order, name, r.providers)

	available := metricValueUnavailable
	if p.IsAvailable() {
		available = metricValueAvailable
	}

	observability.LLMProviderAvailable.WithLabelValues(string(name)).Set(available)

	r.logger.Info().
		Str(logKeyProvider, string(name)).
		Int("priority", p.Priority()).
		Msg("completion provider registered")
}

// insertByPriority keeps order sorted highest priority first.
// Registration order breaks ties.
func insertByPriority(order []ProviderName, name ProviderName, providers map[ProviderName]Provider) []ProviderName {
	order = append(order, name)

	sort.SliceStable(order, func(i, j int) bool {
		return providers[order[i]].Priority() > providers[order[j]].Priority()
	})

	return order
}

// complete runs one completion through the task's provider chain,
// falling over to the next provider on failure.
func (r *Registry) complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	chain := r.chainFor(req.Task)
	if len(chain) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	var lastErr error

	var previousProvider ProviderName

	isFirstProvider := true

	for _, pm := range chain {
		result, attempted, err := r.tryProvider(ctx, pm, req)
		if err != nil {
			lastErr = err

			if isFirstProvider {
				previousProvider = pm.Provider
			}

			isFirstProvider = false

			continue
		}

		if !attempted {
			continue
		}

		if !isFirstProvider && previousProvider != "" {
			observability.LLMFallbacks.WithLabelValues(
				string(previousProvider),
				string(pm.Provider),
				string(req.Task),
			).Inc()

			r.logger.Info().
				Str(logKeyProvider, string(pm.Provider)).
				Str("from_provider", string(previousProvider)).
				Str(logKeyTask, string(req.Task)).
				Msg("used fallback LLM provider")
		}

		return result, nil
	}

	if lastErr != nil {
		return nil, errors.Join(ErrAllProvidersFailed, lastErr)
	}

	return nil, ErrNoProvidersAvailable
}

// chainFor returns the task's configured chain followed by any
// registered providers the chain does not mention.
func (r *Registry) chainFor(task TaskType) []ProviderModel {
	r.mu.RLock()
	order := r.order
	r.mu.RUnlock()

	chain := r.taskConfig.ChainFor(task)

	seen := make(map[ProviderName]bool, len(chain))

	providerModels := make([]ProviderModel, 0, len(chain)+len(order))

	for _, pm := range chain {
		providerModels = append(providerModels, pm)
		seen[pm.Provider] = true
	}

	for _, name := range order {
		if !seen[name] {
			providerModels = append(providerModels, ProviderModel{Provider: name})
			seen[name] = true
		}
	}

	return providerModels
}

// tryProvider attempts one provider. The bool reports whether an
// attempt was actually made; skips (unregistered, unavailable, circuit
// open) return false with no error so the chain moves on quietly.
func (r *Registry) tryProvider(ctx context.Context, pm ProviderModel, req CompletionRequest) (*CompletionResult, bool, error) {
	r.mu.RLock()
	p, exists := r.providers[pm.Provider]
	timeout := r.timeout
	r.mu.RUnlock()

	if !exists || !p.IsAvailable() {
		return nil, false, nil
	}

	br := r.breaker(pm.Provider)
	if !br.Allow() {
		observability.LLMCircuitBreakerState.WithLabelValues(string(pm.Provider)).Set(metricValueCBOpen)
		observability.LLMProviderAvailable.WithLabelValues(string(pm.Provider)).Set(metricValueUnavailable)

		r.logger.Debug().
			Str(logKeyProvider, string(pm.Provider)).
			Str(logKeyTask, string(req.Task)).
			Msg(logMsgCircuitBreakerOpen)

		return nil, false, nil
	}

	attempt := req
	if attempt.Model == "" {
		attempt.Model = pm.Model
	}

	callCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.Complete(callCtx, attempt)
	duration := time.Since(start)

	label := attempt.Model
	if label == "" {
		label = metricModelDefault
	}

	observability.LLMRequestLatency.WithLabelValues(
		string(pm.Provider),
		label,
		string(req.Task),
	).Observe(duration.Seconds())

	if err != nil {
		if br.Observe(err) {
			observability.LLMCircuitBreakerOpens.WithLabelValues(string(pm.Provider)).Inc()
			observability.LLMCircuitBreakerState.WithLabelValues(string(pm.Provider)).Set(metricValueCBOpen)
			observability.LLMProviderAvailable.WithLabelValues(string(pm.Provider)).Set(metricValueUnavailable)
		}

		r.usage.record(pm.Provider, label, req.Task, 0, 0, false)

		r.logger.Warn().
			Err(err).
			Str(logKeyProvider, string(pm.Provider)).
			Str(logKeyModel, label).
			Str(logKeyTask, string(req.Task)).
			Float64("duration_seconds", duration.Seconds()).
			Msg(logMsgProviderFailed)

		return nil, false, err
	}

	br.Observe(nil)

	observability.LLMCircuitBreakerState.WithLabelValues(string(pm.Provider)).Set(metricValueCBClosed)
	observability.LLMProviderAvailable.WithLabelValues(string(pm.Provider)).Set(metricValueAvailable)

	if result.Model != "" {
		label = result.Model
	}

	r.usage.record(pm.Provider, label, req.Task, result.PromptTokens, result.CompletionTokens, true)
	r.spend.Record(result.PromptTokens + result.CompletionTokens)

	return result, true, nil
}

func (r *Registry) breaker(name ProviderName) *circuit.Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.breakers[name]
}

// GetProviderStatuses reports health of all registered providers in
// priority order.
func (r *Registry) GetProviderStatuses() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(r.order))

	for _, name := range r.order {
		p := r.providers[name]

		statuses = append(statuses, ProviderStatus{
			Name:        name,
			Available:   p.IsAvailable(),
			CircuitOpen: r.breakers[name].State() != circuit.Closed,
			Priority:    p.Priority(),
		})
	}

	return statuses
}

// SetSpendLimit replaces the daily token cap.
func (r *Registry) SetSpendLimit(limit int64) {
	r.spend.SetLimit(limit)
}

// SeedSpend primes the spend tracker from persisted usage.
func (r *Registry) SeedSpend(tokens int64) {
	r.spend.Seed(tokens)
}

// SpendStatus reports today's token count against the cap.
func (r *Registry) SpendStatus() (tokens, limit int64, fraction float64) {
	return r.spend.Status()
}

// OnSpendAlert installs the ops hook fired when the daily token cap
// thresholds are crossed.
func (r *Registry) OnSpendAlert(fn func(SpendAlert)) {
	r.spend.OnAlert(fn)
}

// Ensure Registry implements Client interface.
var _ Client = (*Registry)(nil)
