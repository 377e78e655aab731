package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline stage counters. Stage is one of discovery, enrichment,
	// vetting, match; status is completed or failed.
	StageProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_stage_processed_total",
		Help: "The total number of pipeline items processed per stage",
	}, []string{"stage", "status"})

	DiscoveriesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_discoveries_created_total",
		Help: "Total number of discovery rows created",
	}, []string{"source"})

	MatchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_matches_created_total",
		Help: "Total number of match suggestions created",
	}, []string{"auto"})

	QuotaRefusals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_quota_refusals_total",
		Help: "Total number of operations refused by plan quotas",
	}, []string{"kind"})

	VettingBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podscout_vetting_backlog",
		Help: "Number of discoveries currently eligible for vetting",
	})

	EnrichmentBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podscout_enrichment_backlog",
		Help: "Number of discoveries waiting for enrichment",
	})

	TranscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_transcriptions_total",
		Help: "Total number of episode transcription attempts",
	}, []string{"status"})

	// Source adapter metrics.
	AdapterRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_adapter_requests_total",
		Help: "Total number of source adapter requests",
	}, []string{"provider", "status"})

	AdapterLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podscout_adapter_latency_seconds",
		Help:    "Latency of source adapter requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	AdapterRateLimits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_adapter_rate_limits_total",
		Help: "Total number of rate-limit responses from source adapters",
	}, []string{"provider"})

	// Scheduler metrics.
	SchedulerTaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_scheduler_task_runs_total",
		Help: "Total number of scheduler task executions",
	}, []string{"task", "status"})

	SchedulerTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podscout_scheduler_task_duration_seconds",
		Help:    "Duration of scheduler task executions",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1500},
	}, []string{"task"})

	// Auto-discovery controller metrics.
	AutoDiscoveryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_autodiscovery_runs_total",
		Help: "Total number of auto-discovery campaign runs by outcome",
	}, []string{"outcome"})

	AutoDiscoveryRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podscout_autodiscovery_recoveries_total",
		Help: "Total number of stale auto-discovery runs reset to pending",
	})

	// Health checker metrics.
	HealthRepairsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_health_repairs_found_total",
		Help: "Total number of inconsistencies found by the health checker",
	}, []string{"pass"})

	HealthRepairsFixed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_health_repairs_fixed_total",
		Help: "Total number of inconsistencies repaired by the health checker",
	}, []string{"pass"})

	// Event bus and notifier metrics.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_events_published_total",
		Help: "Total number of events published on the bus",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_events_dropped_total",
		Help: "Total number of events dropped by slow subscribers",
	}, []string{"subscriber"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podscout_ws_connections",
		Help: "Current number of connected notification sockets",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_notifications_sent_total",
		Help: "Total number of notification frames sent",
	}, []string{"type", "status"})

	// HTTP API metrics.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podscout_http_request_duration_seconds",
		Help:    "Duration of API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// LLM token usage metrics.
	LLMTokensPrompt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_llm_tokens_prompt_total",
		Help: "Total number of prompt tokens used",
	}, []string{"provider", "model", "task"})

	LLMTokensCompletion = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_llm_tokens_completion_total",
		Help: "Total number of completion tokens used",
	}, []string{"provider", "model", "task"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_llm_requests_total",
		Help: "Total number of LLM requests",
	}, []string{"provider", "model", "task", "status"})

	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_llm_fallbacks_total",
		Help: "Total number of LLM fallback events",
	}, []string{"from_provider", "to_provider", "task"})

	LLMCircuitBreakerOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_llm_circuit_breaker_opens_total",
		Help: "Total number of times the LLM circuit breaker opened",
	}, []string{"provider"})

	LLMCircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "podscout_llm_circuit_breaker_state",
		Help: "Current state of the LLM circuit breaker (0=closed, 1=open)",
	}, []string{"provider"})

	LLMRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podscout_llm_request_latency_seconds",
		Help:    "Latency of LLM requests by provider and task",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"provider", "model", "task"})

	LLMEstimatedCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_llm_estimated_cost_millicents_total",
		Help: "Estimated LLM cost in millicents (0.001 cents)",
	}, []string{"provider", "model", "task"})

	LLMProviderAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "podscout_llm_provider_available",
		Help: "Whether the LLM provider is currently available (0=no, 1=yes)",
	}, []string{"provider"})

	// Embedding metrics. The model is fixed per deployment, so provider
	// granularity is enough.
	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_embedding_requests_total",
		Help: "Total number of embedding requests",
	}, []string{"provider", "status"})

	EmbeddingTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podscout_embedding_tokens_total",
		Help: "Total number of tokens processed for embeddings",
	}, []string{"provider"})

	EmbeddingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podscout_embedding_latency_seconds",
		Help:    "Latency of embedding requests by provider",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	EmbeddingProviderAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "podscout_embedding_provider_available",
		Help: "Whether the embedding provider is currently available (0=no, 1=yes)",
	}, []string{"provider"})
)
