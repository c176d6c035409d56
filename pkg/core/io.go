package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/liliang-cn/vecdb/pkg/index"
	"github.com/liliang-cn/vecdb/pkg/snapshot"
)

// DumpFormat represents the format for data export
type DumpFormat string

const (
	// DumpFormatJSON writes one snapshot document
	DumpFormatJSON DumpFormat = "json"
	// DumpFormatJSONL writes one chunk record per line
	DumpFormatJSONL DumpFormat = "jsonl"
)

// exportLocked converts every library into a snapshot record. Chunks keep
// chunk-map order.
func (s *Store) exportLocked() *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Version:   snapshot.FormatVersion,
		SavedAt:   now(),
		Libraries: make([]snapshot.LibraryRecord, 0, len(s.order)),
	}
	for _, id := range s.order {
		snap.Libraries = append(snap.Libraries, s.libraries[id].record())
	}
	return snap
}

func (l *library) record() snapshot.LibraryRecord {
	rec := snapshot.LibraryRecord{
		ID:        l.id,
		Name:      l.name,
		IndexType: string(l.indexType),
		Centroids: l.cluster.Centroids,
		Probe:     l.cluster.Probe,
		Metadata:  cloneMetadata(l.metadata),
		CreatedAt: l.createdAt,
		UpdatedAt: l.updatedAt,
		Documents: make([]snapshot.DocumentRecord, 0, len(l.docOrder)),
		Chunks:    make([]snapshot.ChunkRecord, 0, l.chunks.Len()),
	}
	for _, id := range l.docOrder {
		d := l.docs[id]
		rec.Documents = append(rec.Documents, snapshot.DocumentRecord{
			ID:        d.ID,
			Title:     d.Title,
			ChunkIDs:  slices.Clone(d.ChunkIDs),
			Metadata:  cloneMetadata(d.Metadata),
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	for _, c := range l.chunks.Chunks() {
		rec.Chunks = append(rec.Chunks, snapshot.ChunkRecord{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Text:       c.Text,
			Embedding:  cloneVector(c.Embedding),
			Metadata:   cloneMetadata(c.Metadata),
			CreatedAt:  c.CreatedAt,
		})
	}
	return rec
}

// libraryFromRecord rebuilds a library and its index from a snapshot record.
func (s *Store) libraryFromRecord(rec snapshot.LibraryRecord) (*library, error) {
	t, err := index.ParseType(rec.IndexType)
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", rec.ID, err)
	}
	// Records written before cluster options were stored fall back to the
	// metadata overrides.
	cluster := index.ClusterOptions{Centroids: rec.Centroids, Probe: rec.Probe}
	if cluster.Centroids < 1 || cluster.Probe < 1 {
		if cluster, err = s.resolveClusterOptions(rec.Metadata); err != nil {
			return nil, fmt.Errorf("library %s: %w", rec.ID, err)
		}
	}
	l, err := newLibrary(rec.ID, rec.Name, t, cluster, cloneMetadata(rec.Metadata))
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", rec.ID, err)
	}
	l.createdAt = rec.CreatedAt
	l.updatedAt = rec.UpdatedAt

	for _, c := range rec.Chunks {
		if err := l.acceptDimension(c.Embedding); err != nil {
			return nil, fmt.Errorf("library %s chunk %s: %w", rec.ID, c.ID, err)
		}
		l.chunks.Put(Chunk{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Text:       c.Text,
			Embedding:  cloneVector(c.Embedding),
			Metadata:   cloneMetadata(c.Metadata),
			CreatedAt:  c.CreatedAt,
		})
		l.syncDimension()
	}
	for _, d := range rec.Documents {
		for _, cid := range d.ChunkIDs {
			if _, ok := l.chunks.Get(cid); !ok {
				return nil, fmt.Errorf("library %s document %s: unknown chunk %s", rec.ID, d.ID, cid)
			}
		}
		ids := slices.Clone(d.ChunkIDs)
		if ids == nil {
			ids = []string{}
		}
		l.docs[d.ID] = &Document{
			ID:        d.ID,
			LibraryID: rec.ID,
			Title:     d.Title,
			ChunkIDs:  ids,
			Metadata:  cloneMetadata(d.Metadata),
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		}
		l.docOrder = append(l.docOrder, d.ID)
	}

	if err := l.indexer.RebuildIndex(l.chunks); err != nil {
		return nil, fmt.Errorf("library %s: rebuild index: %w", rec.ID, err)
	}
	return l, nil
}

// restoreLocked replaces the store contents with snap. Nothing changes if any
// library fails to load.
func (s *Store) restoreLocked(snap *snapshot.Snapshot) error {
	libs := make(map[string]*library, len(snap.Libraries))
	order := make([]string, 0, len(snap.Libraries))
	for _, rec := range snap.Libraries {
		if _, dup := libs[rec.ID]; dup {
			return fmt.Errorf("duplicate library %s", rec.ID)
		}
		l, err := s.libraryFromRecord(rec)
		if err != nil {
			return err
		}
		libs[l.id] = l
		order = append(order, l.id)
		s.logger.Debug("library index rebuilt", "library", l.id, "index", l.indexType, "chunks", l.chunks.Len())
	}
	s.libraries = libs
	s.order = order
	return nil
}

// Export writes the store contents to w. JSON writes the whole snapshot,
// JSONL writes one chunk record per line tagged with its library.
func (s *Store) Export(ctx context.Context, w io.Writer, format DumpFormat) error {
	const op = "export"

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wrapError(op, ErrStoreClosed)
	}
	snap := s.exportLocked()
	s.mu.Unlock()

	switch format {
	case "", DumpFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return wrapError(op, fmt.Errorf("failed to encode snapshot: %w", err))
		}
	case DumpFormatJSONL:
		enc := json.NewEncoder(w)
		for _, lib := range snap.Libraries {
			for _, c := range lib.Chunks {
				if err := ctx.Err(); err != nil {
					return wrapError(op, err)
				}
				line := struct {
					LibraryID string `json:"library_id"`
					snapshot.ChunkRecord
				}{lib.ID, c}
				if err := enc.Encode(line); err != nil {
					return wrapError(op, fmt.Errorf("failed to encode chunk %s: %w", c.ID, err))
				}
			}
		}
	default:
		return wrapError(op, invalidInput("unsupported dump format %q", format))
	}
	return nil
}

// Import replaces the store contents with a JSON snapshot read from r and
// persists the result.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	const op = "import"

	var snap snapshot.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return wrapError(op, invalidInput("decode snapshot: %v", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError(op, ErrStoreClosed)
	}
	prevLibs, prevOrder := s.libraries, s.order
	if err := s.restoreLocked(&snap); err != nil {
		return wrapError(op, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if err := s.snapshotLocked(ctx); err != nil {
		s.libraries, s.order = prevLibs, prevOrder
		return wrapError(op, err)
	}
	s.logger.Info("snapshot imported", "libraries", len(s.order))
	return nil
}
