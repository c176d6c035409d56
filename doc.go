// Package vecdb is a small library-oriented vector database.
//
// Data is organised as libraries of documents of text chunks. Every chunk
// carries an embedding, either supplied by the caller or computed by the
// configured provider, and each library keeps one nearest-neighbour index
// (flat, tree or cluster) over its chunks. State is held in memory and
// written through to a snapshot backend after every mutation.
//
// # Quick Start
//
//	cfg := vecdb.DefaultConfig()
//	cfg.Snapshot.Path = "data/vecdb.json"
//
//	db, err := vecdb.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	lib, _ := db.CreateLibrary(ctx, core.LibraryInput{Name: "notes", IndexType: "tree"})
//	doc, _ := db.CreateDocument(ctx, lib.ID, core.DocumentInput{
//	    Title:  "fruit",
//	    Chunks: []core.ChunkInput{{Text: "bananas are yellow"}},
//	})
//	results, _ := db.Query(ctx, core.QueryRequest{LibraryID: lib.ID, Text: "yellow fruit", K: 3})
//
// # Snapshots
//
// The snapshot backend is chosen with Config.Snapshot.Backend:
//
//   - none: in-memory only
//   - file: a JSON file, zstd-compressed when the path ends in .zst
//   - sqlite: a SQLite database (modernc.org/sqlite, no cgo)
//   - badger: a Badger key-value directory
//
// Indexes are never persisted; Open rebuilds them from the loaded chunks.
//
// # HTTP
//
// DB.Handler serves the library, document, chunk and query routes of
// package api, and DB.ListenAndServe runs them until the context ends.
package vecdb
