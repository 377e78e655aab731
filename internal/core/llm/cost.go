package llm

import "strings"

// Cost per 1M tokens in USD. Approximate; update as pricing changes.
// Reference: https://openai.com/pricing, https://openrouter.ai/models
const (
	costGPT4OPromptPer1M     = 2.50
	costGPT4OCompletionPer1M = 10.00
	costGPT4OMiniPrompt      = 0.15
	costGPT4OMiniComplete    = 0.60

	// OpenRouter varies by model; these cover the small open-weight
	// models the fallback chain actually uses.
	costOpenRouterDefaultPrompt   = 0.10
	costOpenRouterDefaultComplete = 0.30

	tokensPerMillion = 1000000.0
)

// estimateCost converts token counts into an approximate USD cost for
// the usage ledger and the cost metric.
func estimateCost(provider ProviderName, model string, promptTokens, completionTokens int) float64 {
	promptRate, completionRate := costRates(provider, model)

	promptUSD := float64(promptTokens) * promptRate / tokensPerMillion
	completionUSD := float64(completionTokens) * completionRate / tokensPerMillion

	return promptUSD + completionUSD
}

func costRates(provider ProviderName, model string) (promptRate, completionRate float64) {
	switch provider {
	case ProviderOpenAI:
		return openAICostRates(strings.ToLower(model))
	case ProviderOpenRouter:
		return costOpenRouterDefaultPrompt, costOpenRouterDefaultComplete
	case ProviderMock:
		return 0, 0
	default:
		return costGPT4OMiniPrompt, costGPT4OMiniComplete
	}
}

func openAICostRates(model string) (float64, float64) {
	switch {
	case strings.Contains(model, ModelGPT4oMini):
		return costGPT4OMiniPrompt, costGPT4OMiniComplete
	case strings.Contains(model, "gpt-4"):
		return costGPT4OPromptPer1M, costGPT4OCompletionPer1M
	default:
		return costGPT4OMiniPrompt, costGPT4OMiniComplete
	}
}
