package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is used when NewHash is given a non-positive size.
const DefaultHashDimension = 256

// Hash embeds text by hashing lower-cased word tokens and character
// trigrams into a fixed number of signed buckets, then L2-normalizing.
// Texts that share words land close together. No network is involved.
type Hash struct {
	dim int
}

var _ BatchEmbedder = (*Hash)(nil)

// NewHash returns a Hash embedder producing dim-dimensional vectors.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &Hash{dim: dim}
}

// Embed returns the embedding for text.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h.add(vec, "w:"+w, 1)
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Punctuation-only input still gets a stable, non-zero vector.
		h.add(vec, "raw:"+text, 1)
		norm = 1
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension returns the vector size.
func (h *Hash) Dimension() int { return h.dim }

func (h *Hash) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := sum % uint64(len(vec))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}
