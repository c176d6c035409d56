package index

import (
	"math"
	"sync"
)

// noChild marks an empty child slot in the node arena.
const noChild = -1

// treeNode is one arena slot. Children are addressed by arena index.
type treeNode struct {
	id    string
	point []float32
	depth int
	left  int
	right int
}

// TreeIndex is a binary space-partitioning tree (k-d tree) over the
// dimensionality observed on the first insert. Inserts never rebalance, so
// adversarial insertion orders degrade search to O(n).
//
// Nodes live in an arena in insertion order. Incremental removal is not
// supported by the structure itself; RemoveVector replays the arena without
// the removed id.
type TreeIndex struct {
	mu    sync.RWMutex
	nodes []treeNode
	root  int
	dim   int
	ids   map[string]int
}

var _ Index = (*TreeIndex)(nil)

// NewTreeIndex creates an empty tree
func NewTreeIndex() *TreeIndex {
	return &TreeIndex{
		root: noChild,
		ids:  make(map[string]int),
	}
}

// AddVector inserts vector under id. Inserting an id that is already in the
// tree is a no-op: ids are unique, vectors are not.
func (t *TreeIndex) AddVector(id string, vector []float32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(id, vector)
}

func (t *TreeIndex) insert(id string, vector []float32) error {
	if _, exists := t.ids[id]; exists {
		return nil
	}
	if len(vector) == 0 || (t.dim != 0 && len(vector) != t.dim) {
		return &DimensionError{Expected: t.dim, Actual: len(vector)}
	}
	if t.dim == 0 {
		t.dim = len(vector)
	}

	slot := len(t.nodes)
	node := treeNode{id: id, point: cloneVector(vector), left: noChild, right: noChild}

	if t.root == noChild {
		t.nodes = append(t.nodes, node)
		t.root = slot
		t.ids[id] = slot
		return nil
	}

	cur := t.root
	for {
		n := &t.nodes[cur]
		axis := n.depth % t.dim
		if vector[axis] < n.point[axis] {
			if n.left == noChild {
				n.left = slot
				break
			}
			cur = n.left
		} else {
			if n.right == noChild {
				n.right = slot
				break
			}
			cur = n.right
		}
	}

	node.depth = t.nodes[cur].depth + 1
	t.nodes = append(t.nodes, node)
	t.ids[id] = slot
	return nil
}

// RemoveVector rebuilds the tree from its insertion sequence without id.
func (t *TreeIndex) RemoveVector(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.ids[id]; !exists {
		return nil
	}

	entries := make([]Entry, 0, len(t.nodes)-1)
	for _, n := range t.nodes {
		if n.id != id {
			entries = append(entries, Entry{ID: n.id, Vector: n.point})
		}
	}
	return t.rebuild(entries)
}

// Rebuild discards the tree and inserts entries in order. On error the
// previous tree is kept.
func (t *TreeIndex) Rebuild(entries []Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rebuild(entries)
}

func (t *TreeIndex) rebuild(entries []Entry) error {
	fresh := &TreeIndex{
		root:  noChild,
		nodes: make([]treeNode, 0, len(entries)),
		ids:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if err := fresh.insert(e.ID, e.Vector); err != nil {
			return err
		}
	}

	t.nodes = fresh.nodes
	t.root = fresh.root
	t.dim = fresh.dim
	t.ids = fresh.ids
	return nil
}

// Search returns the k nearest ids. The pruning rule is exact for Euclidean
// distance; under other metrics the result is a heuristic.
func (t *TreeIndex) Search(query []float32, k int, metric Metric) ([]Result, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	dist, err := metric.Func()
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == noChild {
		return []Result{}, nil
	}
	if len(query) != t.dim {
		return nil, &DimensionError{Expected: t.dim, Actual: len(query)}
	}

	s := treeSearch{tree: t, query: query, k: k, dist: dist, best: make([]Result, 0, k+1)}
	if err := s.visit(t.root); err != nil {
		return nil, err
	}

	sortResults(s.best)
	return s.best, nil
}

// treeSearch holds the state of one recursive nearest-k walk.
type treeSearch struct {
	tree  *TreeIndex
	query []float32
	k     int
	dist  DistanceFunc
	best  []Result // ascending by distance, at most k long
}

func (s *treeSearch) visit(slot int) error {
	if slot == noChild {
		return nil
	}
	n := &s.tree.nodes[slot]

	d, err := s.dist(s.query, n.point)
	if err != nil {
		return err
	}
	s.offer(Result{ID: n.id, Distance: d})

	axis := n.depth % s.tree.dim
	near, far := n.right, n.left
	if s.query[axis] < n.point[axis] {
		near, far = n.left, n.right
	}

	if err := s.visit(near); err != nil {
		return err
	}

	gap := math.Abs(float64(s.query[axis]) - float64(n.point[axis]))
	if len(s.best) < s.k || gap < s.best[len(s.best)-1].Distance {
		return s.visit(far)
	}
	return nil
}

// offer inserts r if the list is short or r beats the current k-th best.
func (s *treeSearch) offer(r Result) {
	if len(s.best) == s.k {
		if r.Distance >= s.best[s.k-1].Distance {
			return
		}
		s.best = s.best[:s.k-1]
	}

	i := len(s.best)
	for i > 0 && s.best[i-1].Distance > r.Distance {
		i--
	}
	s.best = append(s.best, Result{})
	copy(s.best[i+1:], s.best[i:])
	s.best[i] = r
}

// Len returns the number of nodes
func (t *TreeIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// IDs returns the stored ids in insertion order
func (t *TreeIndex) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, len(t.nodes))
	for i, n := range t.nodes {
		ids[i] = n.id
	}
	return ids
}

// Dimension returns the dimensionality fixed by the first insert, or 0.
func (t *TreeIndex) Dimension() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dim
}

// Height returns the number of levels on the longest root-to-leaf path.
func (t *TreeIndex) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	height := 0
	for _, n := range t.nodes {
		if n.depth+1 > height {
			height = n.depth + 1
		}
	}
	return height
}

// Type reports TypeTree
func (t *TreeIndex) Type() Type { return TypeTree }

// Stats returns statistics about the tree
func (t *TreeIndex) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":      string(TypeTree),
		"size":      t.Len(),
		"dimension": t.Dimension(),
		"height":    t.Height(),
	}
}
