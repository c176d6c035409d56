package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/liliang-cn/vecdb/internal/encoding"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite stores snapshots in three tables. Each Save replaces their contents
// inside one transaction; a position column preserves record order.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path. ":memory:" is accepted.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("snapshot: sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.createTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS snapshot_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		saved_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS libraries (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		index_type TEXT NOT NULL,
		centroids INTEGER NOT NULL DEFAULT 0,
		probe INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT NOT NULL,
		library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		chunk_ids TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (library_id, id)
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (library_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_position ON documents(library_id, position);
	CREATE INDEX IF NOT EXISTS idx_chunks_position ON chunks(library_id, position);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("snapshot: create tables: %w", err)
	}
	return s.migrate(ctx)
}

// migrate adds the cluster option columns to databases created without them.
func (s *SQLite) migrate(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(libraries)`)
	if err != nil {
		return fmt.Errorf("snapshot: inspect libraries: %w", err)
	}
	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("snapshot: inspect libraries: %w", err)
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("snapshot: inspect libraries: %w", err)
	}
	rows.Close()

	for _, col := range []string{"centroids", "probe"} {
		if have[col] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "ALTER TABLE libraries ADD COLUMN "+col+" INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("snapshot: add column %s: %w", col, err)
		}
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"chunks", "documents", "libraries"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("snapshot: clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, version, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, saved_at = excluded.saved_at`,
		snap.Version, formatTime(snap.SavedAt)); err != nil {
		return fmt.Errorf("snapshot: write meta: %w", err)
	}

	libStmt, err := tx.PrepareContext(ctx, `INSERT INTO libraries
		(id, position, name, index_type, centroids, probe, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot: prepare libraries: %w", err)
	}
	defer libStmt.Close()
	docStmt, err := tx.PrepareContext(ctx, `INSERT INTO documents
		(id, library_id, position, title, chunk_ids, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot: prepare documents: %w", err)
	}
	defer docStmt.Close()
	chunkStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, library_id, position, document_id, text, embedding, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot: prepare chunks: %w", err)
	}
	defer chunkStmt.Close()

	for li, lib := range snap.Libraries {
		meta, err := encoding.EncodeMetadata(lib.Metadata)
		if err != nil {
			return fmt.Errorf("snapshot: library %s: %w", lib.ID, err)
		}
		if _, err := libStmt.ExecContext(ctx, lib.ID, li, lib.Name, lib.IndexType, lib.Centroids, lib.Probe, meta,
			formatTime(lib.CreatedAt), formatTime(lib.UpdatedAt)); err != nil {
			return fmt.Errorf("snapshot: insert library %s: %w", lib.ID, err)
		}

		for di, doc := range lib.Documents {
			meta, err := encoding.EncodeMetadata(doc.Metadata)
			if err != nil {
				return fmt.Errorf("snapshot: document %s: %w", doc.ID, err)
			}
			ids, err := encoding.EncodeStrings(doc.ChunkIDs)
			if err != nil {
				return fmt.Errorf("snapshot: document %s: %w", doc.ID, err)
			}
			if _, err := docStmt.ExecContext(ctx, doc.ID, lib.ID, di, doc.Title, ids, meta,
				formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt)); err != nil {
				return fmt.Errorf("snapshot: insert document %s: %w", doc.ID, err)
			}
		}

		for ci, c := range lib.Chunks {
			blob, err := encoding.EncodeVector(c.Embedding)
			if err != nil {
				return fmt.Errorf("snapshot: chunk %s: %w", c.ID, err)
			}
			meta, err := encoding.EncodeMetadata(c.Metadata)
			if err != nil {
				return fmt.Errorf("snapshot: chunk %s: %w", c.ID, err)
			}
			if _, err := chunkStmt.ExecContext(ctx, c.ID, lib.ID, ci, c.DocumentID, c.Text, blob, meta,
				formatTime(c.CreatedAt)); err != nil {
				return fmt.Errorf("snapshot: insert chunk %s: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context) (*Snapshot, error) {
	snap := empty()

	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT version, saved_at FROM snapshot_meta WHERE id = 1`).
		Scan(&snap.Version, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read meta: %w", err)
	}
	snap.SavedAt = parseTime(savedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, index_type, centroids, probe, metadata, created_at, updated_at
		FROM libraries ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: query libraries: %w", err)
	}
	for rows.Next() {
		var (
			lib                  LibraryRecord
			meta                 sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.IndexType, &lib.Centroids, &lib.Probe, &meta, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("snapshot: scan library: %w", err)
		}
		if lib.Metadata, err = encoding.DecodeMetadata(meta.String); err != nil {
			rows.Close()
			return nil, fmt.Errorf("snapshot: library %s: %w", lib.ID, err)
		}
		lib.CreatedAt, lib.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
		lib.Documents = []DocumentRecord{}
		lib.Chunks = []ChunkRecord{}
		snap.Libraries = append(snap.Libraries, lib)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("snapshot: iterate libraries: %w", err)
	}
	rows.Close()

	for i := range snap.Libraries {
		lib := &snap.Libraries[i]
		if lib.Documents, err = s.loadDocuments(ctx, lib.ID); err != nil {
			return nil, err
		}
		if lib.Chunks, err = s.loadChunks(ctx, lib.ID); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *SQLite) loadDocuments(ctx context.Context, libraryID string) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, chunk_ids, metadata, created_at, updated_at
		FROM documents WHERE library_id = ? ORDER BY position`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: query documents: %w", err)
	}
	defer rows.Close()

	docs := []DocumentRecord{}
	for rows.Next() {
		var (
			doc                  DocumentRecord
			ids                  string
			meta                 sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &ids, &meta, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("snapshot: scan document: %w", err)
		}
		if doc.ChunkIDs, err = encoding.DecodeStrings(ids); err != nil {
			return nil, fmt.Errorf("snapshot: document %s: %w", doc.ID, err)
		}
		if doc.Metadata, err = encoding.DecodeMetadata(meta.String); err != nil {
			return nil, fmt.Errorf("snapshot: document %s: %w", doc.ID, err)
		}
		doc.CreatedAt, doc.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLite) loadChunks(ctx context.Context, libraryID string) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, text, embedding, metadata, created_at
		FROM chunks WHERE library_id = ? ORDER BY position`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []ChunkRecord{}
	for rows.Next() {
		var (
			c         ChunkRecord
			blob      []byte
			meta      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &blob, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("snapshot: scan chunk: %w", err)
		}
		if c.Embedding, err = encoding.DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("snapshot: chunk %s: %w", c.ID, err)
		}
		if c.Metadata, err = encoding.DecodeMetadata(meta.String); err != nil {
			return nil, fmt.Errorf("snapshot: chunk %s: %w", c.ID, err)
		}
		c.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
