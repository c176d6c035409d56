package core

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/vecdb/pkg/index"
)

// Store holds every library in memory behind a single mutex. Each mutation
// runs in one critical section: it changes the chunk map and document list,
// drives the library index and writes a snapshot. If the index or the
// snapshot fails, the library is restored and its index rebuilt.
type Store struct {
	mu        sync.Mutex
	config    Config
	logger    Logger
	libraries map[string]*library
	order     []string
	closed    bool
}

// NewStore creates an empty store. Call Open to load persisted state.
func NewStore(config Config) (*Store, error) {
	if config.DefaultIndex == "" {
		config.DefaultIndex = index.TypeFlat
	}
	t, err := index.ParseType(string(config.DefaultIndex))
	if err != nil {
		return nil, wrapError("init", err)
	}
	config.DefaultIndex = t

	if config.Cluster.Centroids < 0 || config.Cluster.Probe < 0 {
		return nil, wrapError("init", invalidInput("cluster centroids and probe must be non-negative"))
	}
	def := index.DefaultClusterOptions()
	if config.Cluster.Centroids == 0 {
		config.Cluster.Centroids = def.Centroids
	}
	if config.Cluster.Probe == 0 {
		config.Cluster.Probe = def.Probe
	}
	if config.EmbedConcurrency <= 0 {
		config.EmbedConcurrency = 4
	}
	if config.Logger == nil {
		config.Logger = NopLogger()
	}

	return &Store{
		config:    config,
		logger:    config.Logger,
		libraries: make(map[string]*library),
	}, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// libraryLocked returns the library or ErrNotFound.
func (s *Store) libraryLocked(id string) (*library, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	l, ok := s.libraries[id]
	if !ok {
		return nil, notFound("library", id)
	}
	return l, nil
}

// requireLibrary checks that id exists without holding the lock afterwards.
// It lets callers fail fast before paying for an embedding call.
func (s *Store) requireLibrary(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.libraryLocked(id)
	return err
}

// mutateLocked applies fn to l and snapshots the store. On failure it
// restores l to its state before fn ran.
func (s *Store) mutateLocked(ctx context.Context, op string, l *library, fn func() error) error {
	undo := l.checkpoint()
	if err := fn(); err != nil {
		s.rollbackLocked(op, l, undo, err)
		return err
	}
	if err := s.snapshotLocked(ctx); err != nil {
		s.rollbackLocked(op, l, undo, err)
		return err
	}
	return nil
}

// rollbackLocked applies undo and rebuilds the index from the restored chunks.
func (s *Store) rollbackLocked(op string, l *library, undo func(), cause error) {
	undo()
	if err := l.indexer.RebuildIndex(l.chunks); err != nil {
		s.logger.Error("rollback rebuild failed", "op", op, "library", l.id, "error", err)
		return
	}
	s.logger.Warn("mutation rolled back", "op", op, "library", l.id, "error", cause)
}

// snapshotLocked persists the whole store when a Snapshotter is configured.
func (s *Store) snapshotLocked(ctx context.Context) error {
	if s.config.Snapshotter == nil {
		return nil
	}
	start := time.Now()
	snap := s.exportLocked()
	if err := s.config.Snapshotter.Save(ctx, snap); err != nil {
		s.logger.Error("snapshot failed", "error", err)
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved", "libraries", len(snap.Libraries), "took", time.Since(start))
	return nil
}

// embedText calls the configured embedder and maps failures to
// ErrProviderFailure.
func (s *Store) embedText(ctx context.Context, text string) ([]float32, error) {
	if s.config.Embedder == nil {
		return nil, invalidInput("no embedder configured and no embedding supplied")
	}
	vec, err := s.config.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrProviderFailure)
	}
	return vec, nil
}

// resolveEmbeddings returns one vector per input, embedding texts that carry
// no vector. Embeds run concurrently, bounded by EmbedConcurrency.
func (s *Store) resolveEmbeddings(ctx context.Context, inputs []ChunkInput) ([][]float32, error) {
	for i, in := range inputs {
		if strings.TrimSpace(in.Text) == "" {
			return nil, invalidInput("chunk %d: text is required", i)
		}
	}

	out := make([][]float32, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.EmbedConcurrency)

	for i, in := range inputs {
		if len(in.Embedding) > 0 {
			out[i] = cloneVector(in.Embedding)
			continue
		}
		g.Go(func() error {
			vec, err := s.embedText(gctx, in.Text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func now() time.Time {
	return time.Now().UTC()
}
