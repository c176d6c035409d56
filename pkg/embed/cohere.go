package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cohere defaults.
const (
	CohereDefaultURL   = "https://api.cohere.ai/v1/embed"
	CohereDefaultModel = "embed-english-v3.0"

	cohereInputType = "search_document"
	cohereMaxBatch  = 96
)

// Cohere implements [Embedder] against the Cohere v1 embed endpoint.
type Cohere struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

var _ BatchEmbedder = (*Cohere)(nil)

// NewCohere returns a Cohere embedder. The key is required.
func NewCohere(apiKey string, opts ...Option) (*Cohere, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("cohere: %w", ErrMissingAPIKey)
	}
	cfg := config{
		model:      CohereDefaultModel,
		baseURL:    CohereDefaultURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Cohere{apiKey: apiKey, url: cfg.baseURL, model: cfg.model, client: cfg.httpClient}, nil
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed returns the first embedding of a single-text request.
func (c *Cohere) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := c.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most 96 texts.
func (c *Cohere) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += cohereMaxBatch {
		end := min(i+cohereMaxBatch, len(texts))
		vecs, err := c.call(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Model returns the Cohere model identifier.
func (c *Cohere) Model() string { return c.model }

func (c *Cohere) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(cohereRequest{Model: c.model, Texts: texts, InputType: cohereInputType})
	if err != nil {
		return nil, fmt.Errorf("cohere: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cohere: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere: %w: %w", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cohere: %w: status %d: %s", ErrProvider, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("cohere: %w: decode response: %w", ErrProvider, err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("cohere: %w: got %d embeddings for %d texts", ErrProvider, len(out.Embeddings), len(texts))
	}
	vecs := make([][]float32, len(out.Embeddings))
	for i, e := range out.Embeddings {
		if len(e) == 0 {
			return nil, fmt.Errorf("cohere: %w: empty embedding at %d", ErrProvider, i)
		}
		vecs[i] = float64sToFloat32s(e)
	}
	return vecs, nil
}

// retryAfter parses a Retry-After header given in seconds. Missing or
// malformed values yield zero.
func retryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
