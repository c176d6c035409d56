// Package core implements the library store of vecdb.
//
// A Store holds libraries. Each library owns documents, an insertion-ordered
// map of chunks, and one index variant (flat, tree or cluster) wrapped by an
// Indexer. Every mutation changes the chunk map, document list and index in a
// single critical section and then writes a snapshot through the configured
// snapshot.Snapshotter; if either step fails the library is restored.
//
// # Key Components
//
//   - Store: libraries, documents and chunks, with Query and SearchVector.
//   - Indexer: binds a chunk map to an index.Index.
//   - ChunkMap: insertion-ordered chunk storage used for rebuilds.
//   - Logger: pluggable structured logging, with a log/slog adapter.
//
// Errors are returned as *StoreError and match the package sentinels with
// errors.Is.
package core
