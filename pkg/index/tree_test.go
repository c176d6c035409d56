package index

import (
	"errors"
	"math/rand"
	"testing"
)

func TestTreeIndexMatchesFlat(t *testing.T) {
	for _, dim := range []int{2, 3, 8, 32} {
		rng := rand.New(rand.NewSource(int64(dim)))
		data := generateTestVectors(rng, 300, dim)

		tree := NewTreeIndex()
		flat := NewFlatIndex()
		for _, e := range data {
			if err := tree.AddVector(e.ID, e.Vector); err != nil {
				t.Fatalf("tree insert failed: %v", err)
			}
			_ = flat.AddVector(e.ID, e.Vector)
		}

		for q := 0; q < 25; q++ {
			query := randomVector(rng, dim)
			for _, k := range []int{1, 5, 17} {
				want, err := flat.Search(query, k, MetricEuclidean)
				if err != nil {
					t.Fatalf("flat search failed: %v", err)
				}
				got, err := tree.Search(query, k, MetricEuclidean)
				if err != nil {
					t.Fatalf("tree search failed: %v", err)
				}

				if len(got) != len(want) {
					t.Fatalf("dim=%d k=%d: expected %d results, got %d", dim, k, len(want), len(got))
				}
				wantSet := idSet(want)
				for _, r := range got {
					if !wantSet[r.ID] {
						t.Errorf("dim=%d k=%d: tree returned %s which flat did not", dim, k, r.ID)
					}
				}
				for i := 1; i < len(got); i++ {
					if got[i].Distance < got[i-1].Distance {
						t.Errorf("dim=%d k=%d: results not ascending", dim, k)
					}
				}
			}
		}
	}
}

func TestTreeIndexDuplicateIDIsNoop(t *testing.T) {
	tree := NewTreeIndex()
	_ = tree.AddVector("a", []float32{1, 1})
	_ = tree.AddVector("a", []float32{9, 9})

	if tree.Len() != 1 {
		t.Fatalf("expected 1 node, got %d", tree.Len())
	}

	results, _ := tree.Search([]float32{1, 1}, 1, MetricEuclidean)
	if results[0].Distance != 0 {
		t.Errorf("repeat insert must not replace the stored vector, distance = %v", results[0].Distance)
	}
}

func TestTreeIndexSameVectorDifferentIDs(t *testing.T) {
	tree := NewTreeIndex()
	for _, id := range []string{"a", "b", "c"} {
		_ = tree.AddVector(id, []float32{1, 2})
	}
	results, err := tree.Search([]float32{1, 2}, 3, MetricEuclidean)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("vectors are not deduplicated, expected 3 results, got %d", len(results))
	}
}

func TestTreeIndexDimensionMismatch(t *testing.T) {
	tree := NewTreeIndex()
	if err := tree.AddVector("a", []float32{1, 2, 3}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if tree.Dimension() != 3 {
		t.Fatalf("expected dimension 3, got %d", tree.Dimension())
	}

	err := tree.AddVector("b", []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if tree.Len() != 1 {
		t.Errorf("rejected insert must not change the tree, got %d nodes", tree.Len())
	}

	if _, err := tree.Search([]float32{1}, 1, MetricEuclidean); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch for short query, got %v", err)
	}

	if err := NewTreeIndex().AddVector("empty", nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected empty vector to be rejected, got %v", err)
	}
}

func TestTreeIndexRemove(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	data := generateTestVectors(rng, 50, 4)
	tree := NewTreeIndex()
	for _, e := range data {
		_ = tree.AddVector(e.ID, e.Vector)
	}

	removed := data[10]
	if err := tree.RemoveVector(removed.ID); err != nil {
		t.Fatalf("RemoveVector failed: %v", err)
	}
	if err := tree.RemoveVector("missing"); err != nil {
		t.Fatalf("removing an absent id should be a no-op, got %v", err)
	}
	if tree.Len() != 49 {
		t.Fatalf("expected 49 nodes, got %d", tree.Len())
	}

	results, _ := tree.Search(removed.Vector, 49, MetricEuclidean)
	for _, r := range results {
		if r.ID == removed.ID {
			t.Fatalf("removed id %s still returned", removed.ID)
		}
	}
}

func TestTreeIndexRebuildKeepsTreeOnError(t *testing.T) {
	tree := NewTreeIndex()
	_ = tree.AddVector("keep", []float32{1, 2})

	err := tree.Rebuild([]Entry{
		{ID: "a", Vector: []float32{1, 2, 3}},
		{ID: "b", Vector: []float32{1, 2}},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	ids := tree.IDs()
	if len(ids) != 1 || ids[0] != "keep" {
		t.Errorf("failed rebuild must keep the previous tree, got %v", ids)
	}
}

func TestTreeIndexRebuildResetsDimension(t *testing.T) {
	tree := NewTreeIndex()
	_ = tree.AddVector("a", []float32{1, 2})

	if err := tree.Rebuild([]Entry{{ID: "b", Vector: []float32{1, 2, 3, 4}}}); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if tree.Dimension() != 4 {
		t.Errorf("expected dimension 4 after rebuild, got %d", tree.Dimension())
	}

	if err := tree.Rebuild(nil); err != nil {
		t.Fatalf("empty Rebuild failed: %v", err)
	}
	if tree.Dimension() != 0 || tree.Len() != 0 {
		t.Errorf("empty rebuild should reset the tree, dim=%d len=%d", tree.Dimension(), tree.Len())
	}
}

func TestTreeIndexSplitsOnDepthAxis(t *testing.T) {
	tree := NewTreeIndex()
	// root splits on x, its children on y
	_ = tree.AddVector("root", []float32{5, 5})
	_ = tree.AddVector("left", []float32{1, 5})
	_ = tree.AddVector("right", []float32{5, 9})
	_ = tree.AddVector("left-low", []float32{0, 1})

	if tree.Height() != 3 {
		t.Errorf("expected height 3, got %d", tree.Height())
	}
	if tree.nodes[tree.root].left != 1 || tree.nodes[tree.root].right != 2 {
		t.Errorf("unexpected root children: %+v", tree.nodes[tree.root])
	}
	if tree.nodes[1].left != 3 {
		t.Errorf("expected left-low under left.left, got %+v", tree.nodes[1])
	}
}
