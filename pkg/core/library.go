package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/vecdb/internal/encoding"
	"github.com/liliang-cn/vecdb/pkg/index"
)

// Metadata keys with meaning to the store.
const (
	MetaIndexType = "index_type"
	MetaCentroids = "centroids"
	MetaProbe     = "probe"
)

// library is the mutable in-store form of a Library.
type library struct {
	id        string
	name      string
	indexType index.Type
	cluster   index.ClusterOptions
	metadata  map[string]any
	dimension int
	createdAt time.Time
	updatedAt time.Time

	docs     map[string]*Document
	docOrder []string
	chunks   *ChunkMap
	indexer  *Indexer
}

func newLibrary(id, name string, t index.Type, cluster index.ClusterOptions, metadata map[string]any) (*library, error) {
	ix, err := NewIndexerFor(t, index.Options{Cluster: cluster})
	if err != nil {
		return nil, err
	}
	ts := now()
	return &library{
		id:        id,
		name:      name,
		indexType: t,
		cluster:   cluster,
		metadata:  metadata,
		createdAt: ts,
		updatedAt: ts,
		docs:      make(map[string]*Document),
		chunks:    NewChunkMap(),
		indexer:   ix,
	}, nil
}

// checkpoint captures the mutable state of l and returns a closure that
// restores it. The index is not captured; callers rebuild it after undo.
func (l *library) checkpoint() func() {
	name := l.name
	metadata := l.metadata
	dimension := l.dimension
	updatedAt := l.updatedAt
	docOrder := slices.Clone(l.docOrder)
	docs := make(map[string]*Document, len(l.docs))
	for id, d := range l.docs {
		docs[id] = cloneDocument(d)
	}
	chunks := l.chunks.Clone()

	return func() {
		l.name = name
		l.metadata = metadata
		l.dimension = dimension
		l.updatedAt = updatedAt
		l.docOrder = docOrder
		l.docs = docs
		l.chunks = chunks
	}
}

// acceptDimension checks vecs against the library dimension, or against the
// first vector when the library holds no chunks yet.
func (l *library) acceptDimension(vecs ...[]float32) error {
	return checkVectors(l.dimension, vecs...)
}

// checkVectors rejects empty or non-finite vectors and any vector whose
// length differs from dim. A zero dim is taken from the first vector.
func checkVectors(dim int, vecs ...[]float32) error {
	for _, v := range vecs {
		if len(v) == 0 {
			return invalidInput("embedding is empty")
		}
		if err := encoding.ValidateVector(v); err != nil {
			return invalidInput("embedding contains NaN or Inf")
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return &index.DimensionError{Expected: dim, Actual: len(v)}
		}
	}
	return nil
}

// syncDimension updates the dimension after chunks were added or removed.
func (l *library) syncDimension() {
	if l.chunks.Len() == 0 {
		l.dimension = 0
		return
	}
	if l.dimension == 0 {
		first, _ := l.chunks.Get(l.chunks.IDs()[0])
		l.dimension = len(first.Embedding)
	}
}

func (l *library) document(id string) (*Document, error) {
	d, ok := l.docs[id]
	if !ok {
		return nil, notFound("document", id)
	}
	return d, nil
}

// view returns a detached copy of l.
func (l *library) view() *Library {
	out := &Library{
		ID:         l.id,
		Name:       l.name,
		IndexType:  l.indexType,
		Metadata:   cloneMetadata(l.metadata),
		Dimension:  l.dimension,
		Documents:  make([]Document, 0, len(l.docOrder)),
		ChunkCount: l.chunks.Len(),
		CreatedAt:  l.createdAt,
		UpdatedAt:  l.updatedAt,
	}
	for _, id := range l.docOrder {
		out.Documents = append(out.Documents, *cloneDocument(l.docs[id]))
	}
	return out
}

func cloneDocument(d *Document) *Document {
	c := *d
	c.ChunkIDs = slices.Clone(d.ChunkIDs)
	if c.ChunkIDs == nil {
		c.ChunkIDs = []string{}
	}
	c.Metadata = cloneMetadata(d.Metadata)
	return &c
}

// resolveIndexType picks the selector from the explicit field, then the
// metadata key, then the store default.
func (s *Store) resolveIndexType(in LibraryInput) (index.Type, error) {
	sel := in.IndexType
	if sel == "" {
		if v, ok := in.Metadata[MetaIndexType].(string); ok {
			sel = v
		}
	}
	if sel == "" {
		return s.config.DefaultIndex, nil
	}
	return index.ParseType(sel)
}

// resolveClusterOptions overlays metadata centroids/probe on the defaults.
func (s *Store) resolveClusterOptions(metadata map[string]any) (index.ClusterOptions, error) {
	opts := s.config.Cluster
	for key, dst := range map[string]*int{MetaCentroids: &opts.Centroids, MetaProbe: &opts.Probe} {
		raw, ok := metadata[key]
		if !ok {
			continue
		}
		n, err := metadataInt(raw)
		if err != nil || n < 1 {
			return opts, invalidInput("metadata %s must be a positive integer, got %v", key, raw)
		}
		*dst = n
	}
	return opts, nil
}

func metadataInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// CreateLibrary creates an empty library with the selected index variant.
func (s *Store) CreateLibrary(ctx context.Context, in LibraryInput) (*Library, error) {
	const op = "create_library"
	if strings.TrimSpace(in.Name) == "" {
		return nil, wrapError(op, invalidInput("library name is required"))
	}
	t, err := s.resolveIndexType(in)
	if err != nil {
		return nil, wrapError(op, err)
	}
	cluster, err := s.resolveClusterOptions(in.Metadata)
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wrapError(op, ErrStoreClosed)
	}

	l, err := newLibrary(uuid.NewString(), in.Name, t, cluster, cloneMetadata(in.Metadata))
	if err != nil {
		return nil, wrapError(op, err)
	}
	s.libraries[l.id] = l
	s.order = append(s.order, l.id)

	if err := s.snapshotLocked(ctx); err != nil {
		delete(s.libraries, l.id)
		s.order = s.order[:len(s.order)-1]
		s.logger.Warn("library creation rolled back", "library", l.id, "error", err)
		return nil, wrapError(op, err)
	}

	s.logger.Info("library created", "library", l.id, "name", l.name, "index", l.indexType)
	return l.view(), nil
}

// GetLibrary returns a detached copy of the library.
func (s *Store) GetLibrary(ctx context.Context, id string) (*Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(id)
	if err != nil {
		return nil, wrapError("get_library", err)
	}
	return l.view(), nil
}

// ListLibraries returns every library in creation order.
func (s *Store) ListLibraries(ctx context.Context) ([]Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wrapError("list_libraries", ErrStoreClosed)
	}
	out := make([]Library, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.libraries[id].view())
	}
	return out, nil
}

// UpdateLibrary replaces name and metadata and rebuilds the index. The index
// variant and cluster options are fixed at creation; naming different ones
// is an error.
func (s *Store) UpdateLibrary(ctx context.Context, id string, in LibraryInput) (*Library, error) {
	const op = "update_library"
	if strings.TrimSpace(in.Name) == "" {
		return nil, wrapError(op, invalidInput("library name is required"))
	}
	cluster, err := s.resolveClusterOptions(in.Metadata)
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(id)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if in.IndexType != "" || in.Metadata[MetaIndexType] != nil {
		t, err := s.resolveIndexType(in)
		if err != nil {
			return nil, wrapError(op, err)
		}
		if t != l.indexType {
			return nil, wrapError(op, invalidInput("index type is fixed at %q", l.indexType))
		}
	}
	if _, ok := in.Metadata[MetaCentroids]; ok && cluster.Centroids != l.cluster.Centroids {
		return nil, wrapError(op, invalidInput("centroids is fixed at %d", l.cluster.Centroids))
	}
	if _, ok := in.Metadata[MetaProbe]; ok && cluster.Probe != l.cluster.Probe {
		return nil, wrapError(op, invalidInput("probe is fixed at %d", l.cluster.Probe))
	}

	err = s.mutateLocked(ctx, op, l, func() error {
		l.name = in.Name
		l.metadata = cloneMetadata(in.Metadata)
		l.updatedAt = now()
		return l.indexer.RebuildIndex(l.chunks)
	})
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.logger.Info("library updated", "library", l.id)
	return l.view(), nil
}

// DeleteLibrary removes the library with its documents, chunks and index.
func (s *Store) DeleteLibrary(ctx context.Context, id string) error {
	const op = "delete_library"

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(id)
	if err != nil {
		return wrapError(op, err)
	}
	pos := slices.Index(s.order, id)
	delete(s.libraries, id)
	s.order = slices.Delete(s.order, pos, pos+1)

	if err := s.snapshotLocked(ctx); err != nil {
		s.libraries[id] = l
		s.order = slices.Insert(s.order, pos, id)
		s.logger.Warn("library deletion rolled back", "library", id, "error", err)
		return wrapError(op, err)
	}

	s.logger.Info("library deleted", "library", id)
	return nil
}

// LibraryStats reports counts and index statistics for a library.
func (s *Store) LibraryStats(ctx context.Context, id string) (*LibraryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(id)
	if err != nil {
		return nil, wrapError("library_stats", err)
	}
	return &LibraryStats{
		ID:            l.id,
		Name:          l.name,
		IndexType:     l.indexType,
		Dimension:     l.dimension,
		DocumentCount: len(l.docOrder),
		ChunkCount:    l.chunks.Len(),
		IndexedCount:  l.indexer.Len(),
		Index:         l.indexer.Stats(),
	}, nil
}
