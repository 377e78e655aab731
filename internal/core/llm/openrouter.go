package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/platform/config"
)

const (
	openRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

	openRouterRateBurst      = 5
	openRouterDefaultTimeout = 60 * time.Second

	// openRouterMaxResponseBytes caps how much of a reply body gets
	// buffered. Completions are a few KB; anything near the cap is a
	// misbehaving gateway.
	openRouterMaxResponseBytes = 1 << 20
)

// ErrOpenRouterEmptyResponse indicates the API returned no usable choice.
var ErrOpenRouterEmptyResponse = errors.New("empty response from OpenRouter")

// ErrOpenRouterAPIFailure tags non-200 replies from the API.
var ErrOpenRouterAPIFailure = errors.New("openrouter API error")

// openRouterProvider talks to OpenRouter's OpenAI-compatible chat API
// over raw HTTP. It is the fallback tier for every task chain.
type openRouterProvider struct {
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// Wire types for the OpenAI-compatible chat endpoint.
type openRouterChatRequest struct {
	Model          string                  `json:"model"`
	Messages       []openRouterChatMessage `json:"messages"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterFormat       `json:"response_format,omitempty"`
}

type openRouterChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterFormat struct {
	Type string `json:"type"`
}

type openRouterChoice struct {
	Index        int                   `json:"index"`
	Message      openRouterChatMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type openRouterUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openRouterChatResponse struct {
	ID      string             `json:"id"`
	Choices []openRouterChoice `json:"choices"`
	Usage   openRouterUsage    `json:"usage"`
}

type openRouterErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func newOpenRouterProvider(cfg *config.Config, logger *zerolog.Logger) *openRouterProvider {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}

	return &openRouterProvider{
		apiKey:  cfg.OpenRouterAPIKey,
		model:   cfg.OpenRouterModel,
		http:    &http.Client{Timeout: openRouterDefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(float64(rps)), openRouterRateBurst),
		logger:  logger,
	}
}

// Name returns the provider identifier.
func (p *openRouterProvider) Name() ProviderName {
	return ProviderOpenRouter
}

// IsAvailable returns true if the provider is configured.
func (p *openRouterProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Priority returns the provider priority.
func (p *openRouterProvider) Priority() int {
	return PriorityFallback
}

// Complete implements Provider.
func (p *openRouterProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	if model == "" {
		model = defaultOpenRouterModel
	}

	body := openRouterChatRequest{
		Model:     model,
		Messages:  chatMessages(req),
		MaxTokens: req.MaxTokens,
	}

	if body.MaxTokens == 0 {
		body.MaxTokens = defaultMaxTokens
	}

	if req.JSONMode {
		body.ResponseFormat = &openRouterFormat{Type: "json_object"}
	}

	resp, err := p.call(ctx, body)
	if err != nil {
		return nil, fmt.Errorf(errOpenRouterCompletion, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrOpenRouterEmptyResponse
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		p.logger.Warn().
			Str(logKeyModel, model).
			Str(logKeyTask, string(req.Task)).
			Msg(logMsgTruncated)
	}

	return &CompletionResult{
		Text:             choice.Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func chatMessages(req CompletionRequest) []openRouterChatMessage {
	msgs := make([]openRouterChatMessage, 0, 2)

	if req.System != "" {
		msgs = append(msgs, openRouterChatMessage{Role: "system", Content: req.System})
	}

	return append(msgs, openRouterChatMessage{Role: "user", Content: req.Prompt})
}

func (p *openRouterProvider) call(ctx context.Context, chatReq openRouterChatRequest) (*openRouterChatResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(chatReq); err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openRouterEndpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "podscout")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, openRouterMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, openRouterAPIError(raw, resp.StatusCode)
	}

	var parsed openRouterChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &parsed, nil
}

// openRouterAPIError wraps a non-200 reply with the error taxonomy so
// the registry and retry loops can tell transient from permanent.
func openRouterAPIError(body []byte, statusCode int) error {
	kind := classifyOpenRouterStatus(statusCode)

	var errResp openRouterErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return fmt.Errorf("%w: %w: status %d: %s", ErrOpenRouterAPIFailure, kind, statusCode, errResp.Error.Message)
	}

	return fmt.Errorf("%w: %w: status %d", ErrOpenRouterAPIFailure, kind, statusCode)
}

func classifyOpenRouterStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return apperrors.ErrAuth
	case statusCode >= http.StatusInternalServerError:
		return apperrors.ErrTransient
	default:
		return apperrors.ErrPermanent
	}
}

// Ensure openRouterProvider implements Provider interface.
var _ Provider = (*openRouterProvider)(nil)
