// Package snapshot persists library, document and chunk records so a store
// can be reloaded after a restart. Index state is never persisted; callers
// rebuild their indexes from the chunk records on load.
//
// Four backends are provided:
//
//   - Memory: keeps an encoded copy in process, for tests.
//   - File:   one JSON document, optionally zstd-compressed (".zst" suffix).
//   - SQLite: libraries, documents and chunks tables (modernc.org/sqlite).
//   - Badger: one msgpack value per library key (badger/v4).
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("snapshot: unknown backend")

// Snapshot is a whole-store export.
type Snapshot struct {
	Version   int             `json:"version" msgpack:"version"`
	SavedAt   time.Time       `json:"saved_at" msgpack:"saved_at"`
	Libraries []LibraryRecord `json:"libraries" msgpack:"libraries"`
}

// LibraryRecord is one library with everything it owns. Chunks are kept in
// chunk-map insertion order so index rebuilds are reproducible. Centroids
// and Probe are the cluster options fixed at creation; zero means unknown.
type LibraryRecord struct {
	ID        string           `json:"id" msgpack:"id"`
	Name      string           `json:"name" msgpack:"name"`
	IndexType string           `json:"index_type" msgpack:"index_type"`
	Centroids int              `json:"centroids,omitempty" msgpack:"centroids,omitempty"`
	Probe     int              `json:"probe,omitempty" msgpack:"probe,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" msgpack:"updated_at"`
	Documents []DocumentRecord `json:"documents" msgpack:"documents"`
	Chunks    []ChunkRecord    `json:"chunks" msgpack:"chunks"`
}

// DocumentRecord is one document. ChunkIDs reference LibraryRecord.Chunks.
type DocumentRecord struct {
	ID        string         `json:"id" msgpack:"id"`
	Title     string         `json:"title" msgpack:"title"`
	ChunkIDs  []string       `json:"chunk_ids" msgpack:"chunk_ids"`
	Metadata  map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" msgpack:"updated_at"`
}

// ChunkRecord is one chunk with its embedding.
type ChunkRecord struct {
	ID         string         `json:"id" msgpack:"id"`
	DocumentID string         `json:"document_id" msgpack:"document_id"`
	Text       string         `json:"text" msgpack:"text"`
	Embedding  []float32      `json:"embedding" msgpack:"embedding"`
	Metadata   map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at" msgpack:"created_at"`
}

// Snapshotter saves and loads whole-store snapshots.
type Snapshotter interface {
	// Save replaces the persisted state with snap.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns the persisted state, or an empty snapshot if nothing has
	// been saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open constructs a backend by name. "none" and "" return (nil, nil): the
// store then runs without durability.
func Open(backend, path string) (Snapshotter, error) {
	switch strings.ToLower(backend) {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return NewFile(path)
	case BackendSQLite:
		return NewSQLite(path)
	case BackendBadger:
		return NewBadger(BadgerOptions{Dir: path})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// empty returns a snapshot with no libraries.
func empty() *Snapshot {
	return &Snapshot{Version: FormatVersion, Libraries: []LibraryRecord{}}
}
