package index

import (
	"math"
	"sort"
	"sync"
)

// Cluster defaults
const (
	DefaultCentroids = 8
	DefaultProbe     = 2
)

// ClusterOptions configures a ClusterIndex.
type ClusterOptions struct {
	Centroids int // maximum number of partitions (default: 8)
	Probe     int // partitions scanned per search before fallback (default: 2)
}

// DefaultClusterOptions returns the default cluster configuration
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{
		Centroids: DefaultCentroids,
		Probe:     DefaultProbe,
	}
}

func (o *ClusterOptions) setDefaults() {
	if o.Centroids <= 0 {
		o.Centroids = DefaultCentroids
	}
	if o.Probe <= 0 {
		o.Probe = DefaultProbe
	}
}

// partition is one centroid and the vectors assigned to it
type partition struct {
	centroid []float32
	members  map[string][]float32
}

// ClusterIndex is an IVF-style index with a fixed seeding policy: the first
// Centroids insertions each open a partition whose centroid is the inserted
// vector itself, and every later insertion joins the partition with the
// nearest centroid by Euclidean distance. Centroids are never refined or
// moved.
//
// Seeding depends on insertion order, so Rebuild must be fed entries in a
// stable order to reproduce the same partitions.
type ClusterIndex struct {
	mu         sync.RWMutex
	opts       ClusterOptions
	partitions []partition
}

var _ Index = (*ClusterIndex)(nil)

// NewClusterIndex creates an empty cluster index
func NewClusterIndex(opts ClusterOptions) *ClusterIndex {
	opts.setDefaults()
	return &ClusterIndex{opts: opts}
}

// Options returns the effective configuration
func (c *ClusterIndex) Options() ClusterOptions {
	return c.opts
}

// AddVector places vector in a partition. An id that is already stored is
// removed from its old partition first. While fewer than Centroids
// partitions exist, a re-added id seeds a new partition and its old
// partition keeps its centroid with no members; Rebuild starts clean.
func (c *ClusterIndex) AddVector(id string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(id, vector)
}

func (c *ClusterIndex) add(id string, vector []float32) error {
	if len(c.partitions) < c.opts.Centroids {
		c.remove(id)
		c.partitions = append(c.partitions, partition{
			centroid: cloneVector(vector),
			members:  map[string][]float32{id: cloneVector(vector)},
		})
		return nil
	}

	nearest, err := c.nearestCentroid(vector)
	if err != nil {
		return err
	}
	c.remove(id)
	c.partitions[nearest].members[id] = cloneVector(vector)
	return nil
}

// nearestCentroid returns the partition whose centroid is closest to vector.
func (c *ClusterIndex) nearestCentroid(vector []float32) (int, error) {
	minDist := math.MaxFloat64
	minIdx := 0

	for i, p := range c.partitions {
		dist, err := Euclidean(vector, p.centroid)
		if err != nil {
			return 0, err
		}
		if dist < minDist {
			minDist = dist
			minIdx = i
		}
	}
	return minIdx, nil
}

// RemoveVector deletes id from the first partition holding it
func (c *ClusterIndex) RemoveVector(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(id)
	return nil
}

func (c *ClusterIndex) remove(id string) bool {
	for _, p := range c.partitions {
		if _, ok := p.members[id]; ok {
			delete(p.members, id)
			return true
		}
	}
	return false
}

// Rebuild clears every partition and re-inserts entries in order. On error
// the previous partitions are kept.
func (c *ClusterIndex) Rebuild(entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := &ClusterIndex{opts: c.opts}
	for _, e := range entries {
		if err := fresh.add(e.ID, e.Vector); err != nil {
			return err
		}
	}
	c.partitions = fresh.partitions
	return nil
}

// Search probes the default number of partitions
func (c *ClusterIndex) Search(query []float32, k int, metric Metric) ([]Result, error) {
	return c.SearchProbe(query, k, metric, c.opts.Probe)
}

// SearchProbe scans the probe partitions whose centroids are nearest to the
// query. If they hold fewer than k vectors in total, the remaining
// partitions are scanned as well, so the result always has
// min(k, Len()) entries.
func (c *ClusterIndex) SearchProbe(query []float32, k int, metric Metric, probe int) ([]Result, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if probe < 1 {
		probe = 1
	}
	dist, err := metric.Func()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.partitions) == 0 {
		return []Result{}, nil
	}

	type ranked struct {
		idx  int
		dist float64
	}
	order := make([]ranked, len(c.partitions))
	for i, p := range c.partitions {
		d, err := dist(query, p.centroid)
		if err != nil {
			return nil, err
		}
		order[i] = ranked{idx: i, dist: d}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].dist < order[j].dist
	})

	probe = min(probe, len(order))
	candidates := make([]Result, 0)
	collect := func(p partition) error {
		for id, vec := range p.members {
			d, err := dist(query, vec)
			if err != nil {
				return err
			}
			candidates = append(candidates, Result{ID: id, Distance: d})
		}
		return nil
	}

	for _, r := range order[:probe] {
		if err := collect(c.partitions[r.idx]); err != nil {
			return nil, err
		}
	}

	if len(candidates) < k {
		for _, r := range order[probe:] {
			if err := collect(c.partitions[r.idx]); err != nil {
				return nil, err
			}
		}
	}

	sortResults(candidates)
	return truncate(candidates, k), nil
}

// Len returns the number of stored vectors across all partitions
func (c *ClusterIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, p := range c.partitions {
		n += len(p.members)
	}
	return n
}

// IDs returns the stored ids across all partitions
func (c *ClusterIndex) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for _, p := range c.partitions {
		for id := range p.members {
			ids = append(ids, id)
		}
	}
	return ids
}

// Centroids returns copies of the partition centroids in creation order
func (c *ClusterIndex) Centroids() [][]float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([][]float32, len(c.partitions))
	for i, p := range c.partitions {
		out[i] = cloneVector(p.centroid)
	}
	return out
}

// Type reports TypeCluster
func (c *ClusterIndex) Type() Type { return TypeCluster }

// Stats returns index statistics
func (c *ClusterIndex) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := map[string]interface{}{
		"type":       string(TypeCluster),
		"centroids":  len(c.partitions),
		"max_groups": c.opts.Centroids,
		"probe":      c.opts.Probe,
	}

	// Cluster size distribution
	if len(c.partitions) > 0 {
		minSize, maxSize := len(c.partitions[0].members), len(c.partitions[0].members)
		totalSize := 0
		for _, p := range c.partitions {
			size := len(p.members)
			minSize = min(minSize, size)
			maxSize = max(maxSize, size)
			totalSize += size
		}

		stats["size"] = totalSize
		stats["min_cluster_size"] = minSize
		stats["max_cluster_size"] = maxSize
		stats["avg_cluster_size"] = float64(totalSize) / float64(len(c.partitions))
	}

	return stats
}
