package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Embedding models. The small variant is the default; the large one is
// accepted for setups that want richer vectors reduced server-side.
const (
	ModelTextEmbedding3Small = "text-embedding-3-small"
	ModelTextEmbedding3Large = "text-embedding-3-large"

	// Native output size of text-embedding-3-large.
	largeNativeDims = 3072

	openaiBurst = 5
)

// ErrEmptyResponse reports an embedding response with no data.
var ErrEmptyResponse = errors.New("embedding response contained no data")

// OpenAI embeds text through the OpenAI embeddings API behind a
// client-side rate limit.
type OpenAI struct {
	client  *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
	ready   bool
}

// NewOpenAI builds the provider. Zero rps defaults to one request per
// second.
func NewOpenAI(apiKey, model string, dims, rps int) *OpenAI {
	if model == "" {
		model = ModelTextEmbedding3Small
	}

	if dims <= 0 {
		dims = DefaultDimensions
	}

	if rps <= 0 {
		rps = 1
	}

	return &OpenAI{
		client:  openai.NewClient(apiKey),
		model:   model,
		dims:    dims,
		limiter: rate.NewLimiter(rate.Limit(rps), openaiBurst),
		ready:   apiKey != "" && apiKey != mockAPIKey,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Ready() bool { return o.ready }

// Embed requests one embedding. The large model reduces dimensions
// server-side; everything else is fitted by the chain.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	}

	if o.model == ModelTextEmbedding3Large && o.dims < largeNativeDims {
		req.Dimensions = o.dims
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}

	return resp.Data[0].Embedding, nil
}
