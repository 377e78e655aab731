package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/platform/config"
)

// ErrOpenAIEmptyResponse indicates the API returned no usable choice.
var ErrOpenAIEmptyResponse = errors.New("empty response from OpenAI")

// openAIProvider is the primary completion backend.
type openAIProvider struct {
	client       *openai.Client
	defaultModel string
	rateLimiter  *rate.Limiter
	logger       *zerolog.Logger
}

func newOpenAIProvider(cfg *config.Config, logger *zerolog.Logger) *openAIProvider {
	rateLimit := cfg.RateLimitRPS
	if rateLimit == 0 {
		rateLimit = 1
	}

	model := cfg.LLMModel
	if model == "" {
		model = ModelGPT4oMini
	}

	return &openAIProvider{
		client:       openai.NewClient(cfg.LLMAPIKey),
		defaultModel: model,
		rateLimiter:  rate.NewLimiter(rate.Limit(float64(rateLimit)), openaiRateBurst),
		logger:       logger,
	}
}

// Name returns the provider identifier.
func (p *openAIProvider) Name() ProviderName {
	return ProviderOpenAI
}

// IsAvailable returns true; the provider is only registered when a key
// is configured.
func (p *openAIProvider) IsAvailable() bool {
	return true
}

// Priority returns the provider priority.
func (p *openAIProvider) Priority() int {
	return PriorityPrimary
}

// Complete implements Provider.
func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
	}

	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf(errOpenAIChatCompletion, classifyOpenAIError(err))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrOpenAIEmptyResponse
	}

	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		p.logger.Warn().
			Str(logKeyModel, model).
			Str(logKeyTask, string(req.Task)).
			Msg(logMsgTruncated)
	}

	return &CompletionResult{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classifyOpenAIError tags API failures with the error taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		// Network and deadline errors are worth retrying.
		return fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	}

	switch {
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", apperrors.ErrRateLimited, err)
	case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", apperrors.ErrAuth, err)
	case apiErr.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrPermanent, err)
	}
}

// Ensure openAIProvider implements Provider interface.
var _ Provider = (*openAIProvider)(nil)
