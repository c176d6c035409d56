package core

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/vecdb/pkg/index"
	"github.com/liliang-cn/vecdb/pkg/snapshot"
)

// stubEmbedder derives a deterministic vector from the text runes.
type stubEmbedder struct {
	dim   int
	fail  map[string]bool
	calls atomic.Int64
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.fail[text] {
		return nil, errors.New("upstream returned 503")
	}
	v := make([]float32, e.dim)
	for i, r := range text {
		v[i%e.dim] += float32(r%17) / 17
	}
	v[0]++
	return v, nil
}

// flakySnapshotter fails every Save while fail is set.
type flakySnapshotter struct {
	*snapshot.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakySnapshotter) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakySnapshotter) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Memory.Save(ctx, snap)
}

func newTestStore(t *testing.T, opts ...func(*Config)) (*Store, *flakySnapshotter) {
	t.Helper()
	snap := &flakySnapshotter{Memory: snapshot.NewMemory()}
	cfg := DefaultConfig()
	cfg.Embedder = &stubEmbedder{dim: 4}
	cfg.Snapshotter = snap
	for _, o := range opts {
		o(&cfg)
	}
	s, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s, snap
}

// requireConsistent checks that the index and chunk map hold the same ids and
// that every chunk is listed by exactly one document.
func requireConsistent(t *testing.T, s *Store, libraryID string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.libraries[libraryID]
	require.True(t, ok)
	require.ElementsMatch(t, l.chunks.IDs(), l.indexer.IDs())

	owners := make(map[string]int)
	for _, d := range l.docs {
		for _, cid := range d.ChunkIDs {
			_, ok := l.chunks.Get(cid)
			require.True(t, ok, "document %s lists missing chunk %s", d.ID, cid)
			owners[cid]++
		}
	}
	require.Len(t, owners, l.chunks.Len())
	for cid, n := range owners {
		require.Equal(t, 1, n, "chunk %s listed %d times", cid, n)
	}
}

func indexTypes() []index.Type {
	return []index.Type{index.TypeFlat, index.TypeTree, index.TypeCluster}
}

func TestLibraryLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "books", Metadata: map[string]any{"owner": "lee"}})
	require.NoError(t, err)
	assert.NotEmpty(t, lib.ID)
	assert.Equal(t, index.TypeFlat, lib.IndexType)

	got, err := s.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "books", got.Name)
	assert.Equal(t, "lee", got.Metadata["owner"])

	// Reads are detached copies.
	got.Metadata["owner"] = "someone else"
	again, err := s.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "lee", again.Metadata["owner"])

	updated, err := s.UpdateLibrary(ctx, lib.ID, LibraryInput{Name: "papers"})
	require.NoError(t, err)
	assert.Equal(t, "papers", updated.Name)
	assert.Nil(t, updated.Metadata)

	_, err = s.UpdateLibrary(ctx, lib.ID, LibraryInput{Name: "papers", IndexType: "tree"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	second, err := s.CreateLibrary(ctx, LibraryInput{Name: "second", IndexType: "kdtree"})
	require.NoError(t, err)
	assert.Equal(t, index.TypeTree, second.IndexType)

	libs, err := s.ListLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 2)
	assert.Equal(t, lib.ID, libs[0].ID)
	assert.Equal(t, second.ID, libs[1].ID)

	require.NoError(t, s.DeleteLibrary(ctx, lib.ID))
	_, err = s.GetLibrary(ctx, lib.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteLibrary(ctx, lib.ID), ErrNotFound)

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get_library", se.Op)
}

func TestCreateLibraryValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.CreateLibrary(ctx, LibraryInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.CreateLibrary(ctx, LibraryInput{Name: "x", IndexType: "hnsw"})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = s.CreateLibrary(ctx, LibraryInput{Name: "x", Metadata: map[string]any{MetaIndexType: "lsh"}})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = s.CreateLibrary(ctx, LibraryInput{Name: "x", IndexType: "cluster", Metadata: map[string]any{MetaProbe: 0}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "x", Metadata: map[string]any{
		MetaIndexType: "clustered", MetaCentroids: float64(3), MetaProbe: "1",
	}})
	require.NoError(t, err)
	stats, err := s.LibraryStats(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, index.TypeCluster, stats.IndexType)
	assert.Equal(t, 3, stats.Index["max_groups"])
	assert.Equal(t, 1, stats.Index["probe"])
}

func TestExampleScenario(t *testing.T) {
	for _, typ := range indexTypes() {
		t.Run(string(typ), func(t *testing.T) {
			ctx := context.Background()
			s, _ := newTestStore(t)

			lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "demo", IndexType: string(typ)})
			require.NoError(t, err)
			doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "notes"})
			require.NoError(t, err)

			inputs := []ChunkInput{
				{Text: "banana fruit salad", Embedding: []float32{1, 0, 0}},
				{Text: "apple", Embedding: []float32{0.9, 0.1, 0}},
				{Text: "mathematics", Embedding: []float32{0, 0, 1}},
			}
			chunks, err := s.AddChunks(ctx, lib.ID, doc.ID, inputs)
			require.NoError(t, err)
			require.Len(t, chunks, 3)
			inserted := map[string]bool{}
			for _, c := range chunks {
				inserted[c.ID] = true
			}

			query := QueryRequest{LibraryID: lib.ID, Vector: []float32{1, 0.05, 0}, K: 2, Metric: index.MetricEuclidean}
			results, err := s.Query(ctx, query)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.LessOrEqual(t, results[0].Score, results[1].Score)
			for _, r := range results {
				assert.True(t, inserted[r.ChunkID])
				assert.Equal(t, doc.ID, r.DocumentID)
			}

			top := results[0].ChunkID
			require.NoError(t, s.DeleteChunk(ctx, lib.ID, doc.ID, top))
			requireConsistent(t, s, lib.ID)

			results, err = s.Query(ctx, query)
			require.NoError(t, err)
			require.Len(t, results, 2)
			for _, r := range results {
				assert.NotEqual(t, top, r.ChunkID)
			}
		})
	}
}

func TestConsistencyUnderRandomOperations(t *testing.T) {
	for _, typ := range indexTypes() {
		t.Run(string(typ), func(t *testing.T) {
			ctx := context.Background()
			s, _ := newTestStore(t)
			rng := rand.New(rand.NewSource(42))

			lib, err := s.CreateLibrary(ctx, LibraryInput{
				Name: "random", IndexType: string(typ), Metadata: map[string]any{MetaCentroids: 3},
			})
			require.NoError(t, err)

			var docs []string
			randomVec := func() []float32 {
				v := make([]float32, 6)
				for i := range v {
					v[i] = rng.Float32()*2 - 1
				}
				return v
			}

			for step := 0; step < 150; step++ {
				switch op := rng.Intn(10); {
				case op < 2 || len(docs) == 0:
					d, err := s.CreateDocument(ctx, lib.ID, DocumentInput{
						Title:  "doc",
						Chunks: []ChunkInput{{Text: "seed", Embedding: randomVec()}},
					})
					require.NoError(t, err)
					docs = append(docs, d.ID)
				case op < 6:
					_, err := s.AddChunk(ctx, lib.ID, docs[rng.Intn(len(docs))], ChunkInput{Text: "t", Embedding: randomVec()})
					require.NoError(t, err)
				case op < 8:
					docID := docs[rng.Intn(len(docs))]
					cs, err := s.ListChunks(ctx, lib.ID, docID)
					require.NoError(t, err)
					if len(cs) > 0 {
						c := cs[rng.Intn(len(cs))]
						if rng.Intn(2) == 0 {
							require.NoError(t, s.DeleteChunk(ctx, lib.ID, docID, c.ID))
						} else {
							_, err := s.UpdateChunk(ctx, lib.ID, docID, c.ID, ChunkInput{Text: "u", Embedding: randomVec()})
							require.NoError(t, err)
						}
					}
				default:
					i := rng.Intn(len(docs))
					require.NoError(t, s.DeleteDocument(ctx, lib.ID, docs[i]))
					docs = append(docs[:i], docs[i+1:]...)
				}
				requireConsistent(t, s, lib.ID)
			}
		})
	}
}

func TestDeleteDocumentCascade(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib", IndexType: "tree"})
	require.NoError(t, err)
	keep, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "keep", Chunks: []ChunkInput{{Text: "alpha"}, {Text: "beta"}}})
	require.NoError(t, err)
	drop, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "drop", Chunks: []ChunkInput{{Text: "gamma"}, {Text: "delta"}}})
	require.NoError(t, err)
	require.Len(t, drop.ChunkIDs, 2)

	require.NoError(t, s.DeleteDocument(ctx, lib.ID, drop.ID))
	requireConsistent(t, s, lib.ID)

	_, err = s.GetDocument(ctx, lib.ID, drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, cid := range drop.ChunkIDs {
		_, err := s.GetChunk(ctx, lib.ID, drop.ID, cid)
		assert.ErrorIs(t, err, ErrNotFound)
	}

	results, err := s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "gamma", K: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, keep.ChunkIDs, r.ChunkID)
	}

	require.NoError(t, s.DeleteLibrary(ctx, lib.ID))
	_, err = s.ListDocuments(ctx, lib.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "alpha"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDimensionRules(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "dims"})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d"})
	require.NoError(t, err)

	c, err := s.AddChunk(ctx, lib.ID, doc.ID, ChunkInput{Text: "a", Embedding: []float32{1, 2, 3}})
	require.NoError(t, err)

	_, err = s.AddChunk(ctx, lib.ID, doc.ID, ChunkInput{Text: "b", Embedding: []float32{1, 2}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	var de *index.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Expected)
	assert.Equal(t, 2, de.Actual)

	_, err = s.AddChunks(ctx, lib.ID, doc.ID, []ChunkInput{
		{Text: "c", Embedding: []float32{1, 1, 1}},
		{Text: "d", Embedding: []float32{1, 1, 1, 1}},
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Query(ctx, QueryRequest{LibraryID: lib.ID, Vector: []float32{1, 2}})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	cs, err := s.ListChunks(ctx, lib.ID, doc.ID)
	require.NoError(t, err)
	assert.Len(t, cs, 1)

	// Removing the last chunk frees the dimension.
	require.NoError(t, s.DeleteChunk(ctx, lib.ID, doc.ID, c.ID))
	got, err := s.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Dimension)

	_, err = s.AddChunk(ctx, lib.ID, doc.ID, ChunkInput{Text: "e", Embedding: []float32{1, 2}})
	require.NoError(t, err)
	requireConsistent(t, s, lib.ID)
}

func TestProviderFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{dim: 4, fail: map[string]bool{"broken": true}}
	s, snap := newTestStore(t, func(c *Config) { c.Embedder = emb })

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib"})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d"})
	require.NoError(t, err)
	saves := snap.Saves()

	_, err = s.AddChunks(ctx, lib.ID, doc.ID, []ChunkInput{{Text: "fine"}, {Text: "broken"}, {Text: "also fine"}})
	require.ErrorIs(t, err, ErrProviderFailure)

	_, err = s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d2", Chunks: []ChunkInput{{Text: "broken"}}})
	require.ErrorIs(t, err, ErrProviderFailure)

	_, err = s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "broken"})
	require.ErrorIs(t, err, ErrProviderFailure)

	docs, err := s.ListDocuments(ctx, lib.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].ChunkIDs)
	assert.Equal(t, saves, snap.Saves())
	requireConsistent(t, s, lib.ID)
}

func TestNoEmbedderRequiresEmbeddings(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, func(c *Config) { c.Embedder = nil })

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib"})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d"})
	require.NoError(t, err)

	_, err = s.AddChunk(ctx, lib.ID, doc.ID, ChunkInput{Text: "no vector"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.AddChunk(ctx, lib.ID, doc.ID, ChunkInput{Text: "vector", Embedding: []float32{1, 0}})
	assert.NoError(t, err)
}

func TestSnapshotFailureRollsBack(t *testing.T) {
	for _, typ := range indexTypes() {
		t.Run(string(typ), func(t *testing.T) {
			ctx := context.Background()
			s, snap := newTestStore(t)

			lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib", IndexType: string(typ)})
			require.NoError(t, err)
			doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d", Chunks: []ChunkInput{{Text: "one"}, {Text: "two"}}})
			require.NoError(t, err)
			before, err := s.GetLibrary(ctx, lib.ID)
			require.NoError(t, err)
			query := QueryRequest{LibraryID: lib.ID, Text: "one", K: 5}
			wantResults, err := s.Query(ctx, query)
			require.NoError(t, err)

			snap.setFail(true)

			_, err = s.AddChunk(ctx, lib.ID, doc.ID, ChunkInput{Text: "three"})
			assert.Error(t, err)
			assert.Error(t, s.DeleteChunk(ctx, lib.ID, doc.ID, doc.ChunkIDs[0]))
			_, err = s.UpdateChunk(ctx, lib.ID, doc.ID, doc.ChunkIDs[1], ChunkInput{Text: "changed"})
			assert.Error(t, err)
			assert.Error(t, s.DeleteDocument(ctx, lib.ID, doc.ID))
			_, err = s.UpdateDocument(ctx, lib.ID, doc.ID, DocumentInput{Title: "renamed"})
			assert.Error(t, err)
			_, err = s.UpdateLibrary(ctx, lib.ID, LibraryInput{Name: "renamed"})
			assert.Error(t, err)
			assert.Error(t, s.DeleteLibrary(ctx, lib.ID))
			_, err = s.CreateLibrary(ctx, LibraryInput{Name: "never"})
			assert.Error(t, err)

			snap.setFail(false)

			after, err := s.GetLibrary(ctx, lib.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			libs, err := s.ListLibraries(ctx)
			require.NoError(t, err)
			assert.Len(t, libs, 1)

			gotResults, err := s.Query(ctx, query)
			require.NoError(t, err)
			assert.Equal(t, wantResults, gotResults)
			requireConsistent(t, s, lib.ID)
		})
	}
}

func TestOpenRestoresFromSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := snapshot.NewMemory()
	emb := &stubEmbedder{dim: 8}

	first, err := NewStore(Config{Embedder: emb, Snapshotter: mem})
	require.NoError(t, err)
	require.NoError(t, first.Open(ctx))

	libIDs := map[index.Type]string{}
	for _, typ := range indexTypes() {
		lib, err := first.CreateLibrary(ctx, LibraryInput{Name: string(typ), IndexType: string(typ), Metadata: map[string]any{MetaCentroids: 2}})
		require.NoError(t, err)
		libIDs[typ] = lib.ID
		var inputs []ChunkInput
		for _, w := range strings.Fields("the quick brown fox jumps over the lazy dog again and again") {
			inputs = append(inputs, ChunkInput{Text: w, Metadata: map[string]any{"word": w}})
		}
		_, err = first.CreateDocument(ctx, lib.ID, DocumentInput{Title: "words", Chunks: inputs})
		require.NoError(t, err)
	}

	want := map[index.Type][]QueryResult{}
	for typ, id := range libIDs {
		res, err := first.Query(ctx, QueryRequest{LibraryID: id, Text: "fox", K: 4, Metric: index.MetricCosineDistance})
		require.NoError(t, err)
		want[typ] = res
	}
	require.NoError(t, first.Close())

	second, err := NewStore(Config{Embedder: emb, Snapshotter: mem})
	require.NoError(t, err)
	require.NoError(t, second.Open(ctx))
	defer second.Close()

	libs, err := second.ListLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 3)
	for typ, id := range libIDs {
		requireConsistent(t, second, id)
		res, err := second.Query(ctx, QueryRequest{LibraryID: id, Text: "fox", K: 4, Metric: index.MetricCosineDistance})
		require.NoError(t, err)
		assert.Equal(t, want[typ], res, "results differ after reload for %s", typ)
	}
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  QueryRequest
		want error
	}{
		{"missing library id", QueryRequest{Text: "x"}, ErrInvalidInput},
		{"unknown library", QueryRequest{LibraryID: "nope", Text: "x"}, ErrNotFound},
		{"negative k", QueryRequest{LibraryID: lib.ID, Text: "x", K: -1}, ErrInvalidInput},
		{"unknown metric", QueryRequest{LibraryID: lib.ID, Text: "x", Metric: "manhattan"}, ErrInvalidInput},
		{"no text or vector", QueryRequest{LibraryID: lib.ID}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Query(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	results, err := s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "empty library"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryDefaultsToFiveResults(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib"})
	require.NoError(t, err)
	var inputs []ChunkInput
	for _, w := range strings.Fields("a bb ccc dddd eeeee ffffff ggggggg") {
		inputs = append(inputs, ChunkInput{Text: w})
	}
	_, err = s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d", Chunks: inputs})
	require.NoError(t, err)

	results, err := s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "ccc"})
	require.NoError(t, err)
	require.Len(t, results, DefaultK)
	assert.Equal(t, "ccc", results[0].Text)
	assert.Zero(t, results[0].Score)

	vecResults, err := s.SearchVector(ctx, lib.ID, []float32{1, 0, 0, 0}, 2, index.MetricEuclidean)
	require.NoError(t, err)
	assert.Len(t, vecResults, 2)
}

func TestAddChunksKeepsInputOrder(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{dim: 4}
	s, _ := newTestStore(t, func(c *Config) {
		c.Embedder = emb
		c.EmbedConcurrency = 3
	})

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib", IndexType: "cluster"})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d"})
	require.NoError(t, err)

	var inputs []ChunkInput
	for i := 0; i < 25; i++ {
		inputs = append(inputs, ChunkInput{Text: strings.Repeat("x", i+1)})
	}
	inputs[3].Embedding = []float32{9, 9, 9, 9}

	chunks, err := s.AddChunks(ctx, lib.ID, doc.ID, inputs)
	require.NoError(t, err)
	require.Len(t, chunks, len(inputs))
	for i, c := range chunks {
		assert.Equal(t, inputs[i].Text, c.Text)
	}
	assert.Equal(t, []float32{9, 9, 9, 9}, chunks[3].Embedding)
	assert.EqualValues(t, len(inputs)-1, emb.calls.Load())

	listed, err := s.ListChunks(ctx, lib.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, chunks, listed)
	requireConsistent(t, s, lib.ID)
}

func TestUpdateOperations(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib", IndexType: "tree"})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "draft", Chunks: []ChunkInput{{Text: "old text"}}})
	require.NoError(t, err)
	cid := doc.ChunkIDs[0]

	before, err := s.GetChunk(ctx, lib.ID, doc.ID, cid)
	require.NoError(t, err)

	updated, err := s.UpdateChunk(ctx, lib.ID, doc.ID, cid, ChunkInput{Text: "new text", Metadata: map[string]any{"v": 2}})
	require.NoError(t, err)
	assert.Equal(t, cid, updated.ID)
	assert.Equal(t, before.CreatedAt, updated.CreatedAt)
	assert.NotEqual(t, before.Embedding, updated.Embedding)

	results, err := s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "new text", K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new text", results[0].Text)
	assert.Zero(t, results[0].Score)
	requireConsistent(t, s, lib.ID)

	renamed, err := s.UpdateDocument(ctx, lib.ID, doc.ID, DocumentInput{Title: "final", Metadata: map[string]any{"status": "done"}})
	require.NoError(t, err)
	assert.Equal(t, "final", renamed.Title)
	assert.Equal(t, []string{cid}, renamed.ChunkIDs)

	_, err = s.UpdateChunk(ctx, lib.ID, doc.ID, "missing", ChunkInput{Text: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateDocument(ctx, lib.ID, doc.ID, DocumentInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	other, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "other"})
	require.NoError(t, err)
	_, err = s.GetChunk(ctx, lib.ID, other.ID, cid)
	assert.ErrorIs(t, err, ErrNotFound, "chunks are only visible through their own document")
}

func TestUpdateLibraryMetadataSurvivesReload(t *testing.T) {
	ctx := context.Background()
	mem := snapshot.NewMemory()
	emb := &stubEmbedder{dim: 4}

	first, err := NewStore(Config{Embedder: emb, Snapshotter: mem})
	require.NoError(t, err)
	require.NoError(t, first.Open(ctx))

	lib, err := first.CreateLibrary(ctx, LibraryInput{Name: "clustered", IndexType: "cluster", Metadata: map[string]any{MetaCentroids: 2, MetaProbe: 1}})
	require.NoError(t, err)
	_, err = first.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d", Chunks: []ChunkInput{{Text: "alpha"}, {Text: "beta"}, {Text: "gamma"}}})
	require.NoError(t, err)

	for _, meta := range []map[string]any{
		{MetaProbe: -1},
		{MetaProbe: 0},
		{MetaCentroids: "many"},
		{MetaCentroids: 2.5},
		{MetaCentroids: 5},
		{MetaProbe: 2},
	} {
		_, err := first.UpdateLibrary(ctx, lib.ID, LibraryInput{Name: "clustered", Metadata: meta})
		assert.ErrorIs(t, err, ErrInvalidInput, "metadata %v", meta)
	}

	// Restating the current values is allowed and so is dropping them.
	_, err = first.UpdateLibrary(ctx, lib.ID, LibraryInput{Name: "clustered", Metadata: map[string]any{MetaCentroids: 2, "owner": "kim"}})
	require.NoError(t, err)
	_, err = first.UpdateLibrary(ctx, lib.ID, LibraryInput{Name: "renamed", Metadata: map[string]any{"owner": "lee"}})
	require.NoError(t, err)

	before, err := first.LibraryStats(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, before.Index["max_groups"])
	assert.Equal(t, 1, before.Index["probe"])
	require.NoError(t, first.Close())

	second, err := NewStore(Config{Embedder: emb, Snapshotter: mem})
	require.NoError(t, err)
	require.NoError(t, second.Open(ctx))
	defer second.Close()

	got, err := second.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, map[string]any{"owner": "lee"}, got.Metadata)

	after, err := second.LibraryStats(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Index, after.Index)
	requireConsistent(t, second, lib.ID)
}

func TestUpdateChunkRejectsInvalidEmbedding(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib", IndexType: "flat"})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "only", Chunks: []ChunkInput{{Text: "one", Embedding: []float32{1, 0, 0}}}})
	require.NoError(t, err)
	cid := doc.ChunkIDs[0]

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for name, vec := range map[string][]float32{
		"nan":  {nan, 0, 0},
		"inf":  {0, inf, 0},
		"-inf": {0, 0, -inf},
	} {
		_, err := s.UpdateChunk(ctx, lib.ID, doc.ID, cid, ChunkInput{Text: "two", Embedding: vec})
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}

	got, err := s.GetChunk(ctx, lib.ID, doc.ID, cid)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Text)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	requireConsistent(t, s, lib.ID)

	// The only chunk may still change dimension.
	updated, err := s.UpdateChunk(ctx, lib.ID, doc.ID, cid, ChunkInput{Text: "two", Embedding: []float32{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, updated.Embedding)
	stats, err := s.LibraryStats(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Dimension)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib", IndexType: "cluster"})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := s.AddChunk(ctx, lib.ID, doc.ID, ChunkInput{Text: strings.Repeat("z", w+i+1)}); err != nil {
					t.Error(err)
					return
				}
				if _, err := s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "zz", K: 3}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats, err := s.LibraryStats(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 160, stats.ChunkCount)
	assert.Equal(t, 160, stats.IndexedCount)
	requireConsistent(t, s, lib.ID)
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib"})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetLibrary(ctx, lib.ID)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.CreateLibrary(ctx, LibraryInput{Name: "x"})
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Query(ctx, QueryRequest{LibraryID: lib.ID, Text: "x"})
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Open(ctx), ErrStoreClosed)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, LibraryInput{Name: "lib", IndexType: "tree"})
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, lib.ID, DocumentInput{Title: "d", Chunks: []ChunkInput{{Text: "one"}, {Text: "two"}, {Text: "three"}}})
	require.NoError(t, err)

	var lines bytes.Buffer
	require.NoError(t, s.Export(ctx, &lines, DumpFormatJSONL))
	assert.Equal(t, 3, strings.Count(lines.String(), "\n"))
	assert.Contains(t, lines.String(), `"library_id":"`+lib.ID+`"`)

	var dump bytes.Buffer
	require.NoError(t, s.Export(ctx, &dump, DumpFormatJSON))

	other, _ := newTestStore(t)
	require.NoError(t, other.Import(ctx, &dump))
	got, err := other.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ChunkCount)
	assert.Equal(t, index.TypeTree, got.IndexType)
	requireConsistent(t, other, lib.ID)

	assert.ErrorIs(t, other.Import(ctx, strings.NewReader("{")), ErrInvalidInput)
	assert.ErrorIs(t, s.Export(ctx, &dump, "xml"), ErrInvalidInput)
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(Config{DefaultIndex: "annoy"})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	s, err := NewStore(Config{DefaultIndex: "kdtree"})
	require.NoError(t, err)
	assert.Equal(t, index.TypeTree, s.Config().DefaultIndex)
	assert.Equal(t, index.DefaultCentroids, s.Config().Cluster.Centroids)
}
