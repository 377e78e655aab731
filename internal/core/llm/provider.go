package llm

import "context"

// ProviderName identifies an LLM provider.
type ProviderName string

// Provider names.
const (
	ProviderOpenAI     ProviderName = "openai"
	ProviderOpenRouter ProviderName = "openrouter"
	ProviderMock       ProviderName = "mock"
)

// Provider priorities, higher is preferred.
const (
	PriorityPrimary  = 100
	PriorityFallback = 50
	PriorityMock     = 0
)

// CompletionRequest is a single chat completion. Task selects the
// provider chain and labels token accounting; Model overrides the
// chain's model when set.
type CompletionRequest struct {
	Task      TaskType
	System    string
	Prompt    string
	Model     string
	MaxTokens int
	JSONMode  bool
}

// CompletionResult carries the raw completion text plus token usage as
// reported by the provider. Model is the model that actually served the
// request, for accounting.
type CompletionResult struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider is a chat completion backend. Domain operations are built
// once on top of Complete, so a backend only implements transport.
type Provider interface {
	Name() ProviderName
	IsAvailable() bool
	Priority() int
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// ProviderStatus reports health of a registered provider.
type ProviderStatus struct {
	Name        ProviderName `json:"name"`
	Available   bool         `json:"available"`
	CircuitOpen bool         `json:"circuit_open"`
	Priority    int          `json:"priority"`
}
