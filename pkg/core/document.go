package core

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// CreateDocument adds a document, and any chunks it carries, to a library.
// Chunk texts are embedded before the store lock is taken.
func (s *Store) CreateDocument(ctx context.Context, libraryID string, in DocumentInput) (*Document, error) {
	const op = "create_document"
	if strings.TrimSpace(in.Title) == "" {
		return nil, wrapError(op, invalidInput("document title is required"))
	}
	if err := s.requireLibrary(libraryID); err != nil {
		return nil, wrapError(op, err)
	}
	vecs, err := s.resolveEmbeddings(ctx, in.Chunks)
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if err := l.acceptDimension(vecs...); err != nil {
		return nil, wrapError(op, err)
	}

	ts := now()
	doc := &Document{
		ID:        uuid.NewString(),
		LibraryID: l.id,
		Title:     in.Title,
		ChunkIDs:  []string{},
		Metadata:  cloneMetadata(in.Metadata),
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	err = s.mutateLocked(ctx, op, l, func() error {
		l.docs[doc.ID] = doc
		l.docOrder = append(l.docOrder, doc.ID)
		return l.addChunksLocked(doc, in.Chunks, vecs)
	})
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.logger.Debug("document created", "library", l.id, "document", doc.ID, "chunks", len(in.Chunks))
	return cloneDocument(doc), nil
}

// GetDocument returns a detached copy of a document.
func (s *Store) GetDocument(ctx context.Context, libraryID, documentID string) (*Document, error) {
	const op = "get_document"

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	d, err := l.document(documentID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return cloneDocument(d), nil
}

// ListDocuments returns the documents of a library in creation order.
func (s *Store) ListDocuments(ctx context.Context, libraryID string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, wrapError("list_documents", err)
	}
	out := make([]Document, 0, len(l.docOrder))
	for _, id := range l.docOrder {
		out = append(out, *cloneDocument(l.docs[id]))
	}
	return out, nil
}

// UpdateDocument replaces title and metadata. The chunk list is managed
// through the chunk operations and in.Chunks is ignored.
func (s *Store) UpdateDocument(ctx context.Context, libraryID, documentID string, in DocumentInput) (*Document, error) {
	const op = "update_document"
	if strings.TrimSpace(in.Title) == "" {
		return nil, wrapError(op, invalidInput("document title is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if _, err := l.document(documentID); err != nil {
		return nil, wrapError(op, err)
	}

	var updated *Document
	err = s.mutateLocked(ctx, op, l, func() error {
		d := cloneDocument(l.docs[documentID])
		d.Title = in.Title
		d.Metadata = cloneMetadata(in.Metadata)
		d.UpdatedAt = now()
		l.docs[documentID] = d
		updated = d
		return nil
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	return cloneDocument(updated), nil
}

// DeleteDocument removes a document and all of its chunks, then rebuilds the
// library index.
func (s *Store) DeleteDocument(ctx context.Context, libraryID, documentID string) error {
	const op = "delete_document"

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return wrapError(op, err)
	}
	d, err := l.document(documentID)
	if err != nil {
		return wrapError(op, err)
	}

	err = s.mutateLocked(ctx, op, l, func() error {
		for _, cid := range d.ChunkIDs {
			l.chunks.Delete(cid)
		}
		delete(l.docs, documentID)
		if i := slices.Index(l.docOrder, documentID); i >= 0 {
			l.docOrder = slices.Delete(l.docOrder, i, i+1)
		}
		l.syncDimension()
		l.updatedAt = now()
		return l.indexer.RebuildIndex(l.chunks)
	})
	if err != nil {
		return wrapError(op, err)
	}

	s.logger.Debug("document deleted", "library", l.id, "document", documentID, "chunks", len(d.ChunkIDs))
	return nil
}
