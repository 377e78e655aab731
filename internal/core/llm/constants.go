package llm

import "time"

// Models used by the default task chains.
const (
	ModelGPT4o     = "gpt-4o"
	ModelGPT4oMini = "gpt-4o-mini"

	defaultOpenRouterModel = "mistralai/mistral-small-3.1-24b-instruct"
)

// Error message templates.
const (
	errRateLimiter          = "rate limiter: %w"
	errOpenAIChatCompletion = "openai chat completion: %w"
	errOpenRouterCompletion = "openrouter completion: %w"
	errParseResponse        = "parse %s response: %w"
)

// Log keys and messages.
const (
	logKeyProvider = "provider"
	logKeyModel    = "model"
	logKeyTask     = "task"

	logMsgCircuitBreakerOpen = "skipping provider, circuit breaker open"
	logMsgProviderFailed     = "llm provider failed, trying next"
	logMsgTruncated          = "llm output truncated by max_tokens limit"
)

// Metric label values.
const (
	metricStatusSuccess = "success"
	metricStatusError   = "error"

	// Model label used when a provider ran with its configured default.
	metricModelDefault = "default"
)

// Gauge values for availability and circuit state.
const (
	metricValueAvailable   = 1.0
	metricValueUnavailable = 0.0
	metricValueCBOpen      = 1.0
	metricValueCBClosed    = 0.0
)

// 1 USD = 100,000 millicents; the cost counter uses millicents so tiny
// per-request costs do not vanish in float rounding.
const usdToMillicents = 100000.0

const (
	llmAPIKeyMock = "mock"

	// usageStorageTimeout bounds the fire-and-forget usage persist.
	usageStorageTimeout = 5 * time.Second

	// spendSeedTimeout bounds the boot-time ledger read that primes the
	// spend tracker.
	spendSeedTimeout = 5 * time.Second

	defaultMaxTokens = 2048
	openaiRateBurst  = 5
)
