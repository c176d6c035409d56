package index

import (
	"fmt"
	"strings"
)

// Type selects an index variant.
type Type string

const (
	// TypeFlat scans every stored vector.
	TypeFlat Type = "flat"
	// TypeTree partitions space with a k-d tree.
	TypeTree Type = "tree"
	// TypeCluster groups vectors around fixed centroids.
	TypeCluster Type = "cluster"
)

// ParseType resolves a selector. The empty string selects TypeFlat, and the
// older names linear, kdtree and clustered are accepted as aliases.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flat", "linear":
		return TypeFlat, nil
	case "tree", "kdtree", "kd-tree":
		return TypeTree, nil
	case "cluster", "clustered", "ivf":
		return TypeCluster, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// Options carries variant-specific settings for New.
type Options struct {
	Cluster ClusterOptions
}

// New constructs an empty index of the given type.
func New(t Type, opts Options) (Index, error) {
	switch t {
	case "", TypeFlat:
		return NewFlatIndex(), nil
	case TypeTree:
		return NewTreeIndex(), nil
	case TypeCluster:
		return NewClusterIndex(opts.Cluster), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, string(t))
	}
}
