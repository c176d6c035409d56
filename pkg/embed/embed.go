// Package embed provides text embedding providers for vecdb.
//
// An Embedder converts text into a dense float32 vector. Implementations:
//
//   - [Hash]   deterministic feature hashing, offline, for development and tests
//   - [Cohere] the Cohere v1 embed API (embed-english-v3.0)
//   - [OpenAI] the OpenAI embeddings API, or any compatible endpoint
//
// [RateLimited] wraps any of them with a token bucket. Provider failures
// wrap [ErrProvider].
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Embedder converts text into dense float32 vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by providers that embed many texts per call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Common errors.
var (
	// ErrEmptyInput is returned when the input text is empty.
	ErrEmptyInput = errors.New("embed: empty input")

	// ErrProvider wraps every failure of a remote provider.
	ErrProvider = errors.New("embed: provider failure")

	// ErrMissingAPIKey is returned when a remote provider has no key.
	ErrMissingAPIKey = errors.New("embed: api key is not set")

	// ErrUnknownProvider is returned by New for an unsupported name.
	ErrUnknownProvider = errors.New("embed: unknown provider")
)

// RateLimitError reports an HTTP 429 from a provider.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("embed: rate limited, retry after %s", e.RetryAfter)
}

// Is lets RateLimitError match ErrProvider.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrProvider
}

// config holds shared configuration for embedder implementations.
type config struct {
	model      string
	dim        int
	baseURL    string
	httpClient *http.Client
}

// Option configures an embedder.
type Option func(*config)

// WithModel sets the embedding model name.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDimension sets the output dimensionality where the model supports it.
func WithDimension(dim int) Option {
	return func(c *config) { c.dim = dim }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderCohere = "cohere"
	ProviderOpenAI = "openai"
)

// New builds a provider by name. dim is used by Hash and passed to OpenAI;
// Cohere ignores it.
func New(provider, apiKey string, opts ...Option) (Embedder, error) {
	switch strings.ToLower(provider) {
	case "", ProviderHash:
		var cfg config
		for _, o := range opts {
			o(&cfg)
		}
		return NewHash(cfg.dim), nil
	case ProviderCohere:
		return NewCohere(apiKey, opts...)
	case ProviderOpenAI:
		return NewOpenAI(apiKey, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
