package core

import (
	"context"
	"time"

	"github.com/liliang-cn/vecdb/pkg/index"
	"github.com/liliang-cn/vecdb/pkg/snapshot"
)

// Embedder turns text into a vector. pkg/embed provides implementations.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunk is a piece of text with its embedding. Chunks are immutable values:
// an update replaces the record under the same id.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"embedding"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Document groups chunks of one source text.
type Document struct {
	ID        string         `json:"id"`
	LibraryID string         `json:"library_id"`
	Title     string         `json:"title"`
	ChunkIDs  []string       `json:"chunk_ids"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Library is a detached view of a library.
type Library struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	IndexType  index.Type     `json:"index_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Dimension  int            `json:"dimension"`
	Documents  []Document     `json:"documents"`
	ChunkCount int            `json:"chunk_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// LibraryInput creates or updates a library. IndexType falls back to the
// metadata key "index_type" and then to the store default.
type LibraryInput struct {
	Name      string         `json:"name"`
	IndexType string         `json:"index_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DocumentInput creates or updates a document. Chunks are only honoured on
// creation.
type DocumentInput struct {
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Chunks   []ChunkInput   `json:"chunks,omitempty"`
}

// ChunkInput creates or replaces a chunk. When Embedding is empty the text is
// embedded with the configured Embedder.
type ChunkInput struct {
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// QueryRequest is a k-nearest-neighbour query against one library.
type QueryRequest struct {
	LibraryID string       `json:"library_id"`
	Text      string       `json:"query_text,omitempty"`
	Vector    []float32    `json:"vector,omitempty"`
	K         int          `json:"k,omitempty"`
	Metric    index.Metric `json:"distance_metric,omitempty"`
}

// QueryResult is one ranked chunk.
type QueryResult struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Score      float64        `json:"score"`
	Text       string         `json:"chunk_content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// LibraryStats summarizes a library and its index.
type LibraryStats struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	IndexType     index.Type             `json:"index_type"`
	Dimension     int                    `json:"dimension"`
	DocumentCount int                    `json:"document_count"`
	ChunkCount    int                    `json:"chunk_count"`
	IndexedCount  int                    `json:"indexed_count"`
	Index         map[string]interface{} `json:"index,omitempty"`
}

// DefaultK is used when a query leaves K unset.
const DefaultK = 5

// Config represents the configuration for the store
type Config struct {
	DefaultIndex     index.Type           // Index variant for libraries that name none (default flat)
	Cluster          index.ClusterOptions // Defaults for cluster libraries
	Embedder         Embedder             // Used when inputs carry no embedding
	Snapshotter      snapshot.Snapshotter // Nil runs without durability
	EmbedConcurrency int                  // Parallel embeds in AddChunks (default 4)
	Logger           Logger               // Nil discards logs
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultIndex:     index.TypeFlat,
		Cluster:          index.DefaultClusterOptions(),
		EmbedConcurrency: 4,
		Logger:           NopLogger(),
	}
}
