package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI embedding models.
const (
	ModelOpenAI3Small = "text-embedding-3-small"
	ModelOpenAI3Large = "text-embedding-3-large"
)

const (
	openAIMaxBatch     = 2048
	openAIDefaultModel = ModelOpenAI3Small
)

// OpenAI implements [Embedder] with the OpenAI embeddings API. Any
// OpenAI-compatible endpoint works through WithBaseURL.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

var _ BatchEmbedder = (*OpenAI)(nil)

// NewOpenAI returns an OpenAI embedder. The key is required. A zero
// dimension leaves the model default in place.
func NewOpenAI(apiKey string, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	cfg := config{
		model:      openAIDefaultModel,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAI{client: &client, model: cfg.model, dim: cfg.dim}, nil
}

// Embed returns the embedding for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts, splitting batches above 2048.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	result := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		end := min(i+openAIMaxBatch, len(texts))
		vecs, err := o.callAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		copy(result[i:], vecs)
	}
	return result, nil
}

// Model returns the OpenAI model identifier.
func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.dim > 0 {
		params.Dimensions = openai.Int(int64(o.dim))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitError{}
		}
		return nil, fmt.Errorf("openai: %w: %w", ErrProvider, err)
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("openai: %w: unexpected embedding index %d for batch size %d", ErrProvider, idx, len(texts))
		}
		vecs[idx] = float64sToFloat32s(item.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("openai: %w: missing embedding for index %d", ErrProvider, i)
		}
	}
	return vecs, nil
}
