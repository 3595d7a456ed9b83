// Package octree provides a bounded point octree answering radius queries.
//
// The tree partitions a cube recursively into eight octants down to a fixed
// maximum depth. Nodes live in a flat arena and reference their eight children
// by the index of the first one, so a whole tree is a single slice that can be
// dropped and rebuilt every simulation step.
package octree

import (
	"errors"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/geometry"
)

// DefaultMaxDepth is the subdivision depth used when none is configured.
const DefaultMaxDepth = 3

// ErrNonFinite is returned by Insert for positions with NaN or infinite components.
var ErrNonFinite = errors.New("octree: position is not finite")

const leaf = -1

type entry[T any] struct {
	pos   geometry.Vector3
	value T
}

type node[T any] struct {
	center   geometry.Vector3
	halfSize float64
	depth    int
	// index of the first of 8 contiguous children in the arena, or leaf
	children int
	items    []entry[T]
	// lo/hi start as the node cube and grow to cover points inserted outside the root
	lo, hi geometry.Vector3
	count  int
}

// NodeInfo describes one node of the tree for debug visualization.
type NodeInfo struct {
	Center geometry.Vector3
	Size   float64 // full edge length of the cube
	Depth  int
	Items  int // items stored directly in the node, always 0 for internal nodes
}

// Tree is an arena-backed octree over values of type T.
// It is not safe for concurrent mutation; concurrent Search calls on a tree
// that is no longer being inserted into are safe.
// The tree does not detect duplicates: inserting the same value twice stores it twice.
type Tree[T any] struct {
	nodes    []node[T]
	maxDepth int
	size     int
}

// New creates an empty tree whose root cube is centered at center with the given
// half edge length. A negative maxDepth is treated as 0 (a single leaf).
func New[T any](center geometry.Vector3, halfSize float64, maxDepth int) *Tree[T] {
	if maxDepth < 0 {
		maxDepth = 0
	}
	t := &Tree[T]{
		nodes:    make([]node[T], 0, 1+8*maxDepth),
		maxDepth: maxDepth,
	}
	t.nodes = append(t.nodes, newNode[T](center, halfSize, 0))
	return t
}

func newNode[T any](center geometry.Vector3, halfSize float64, depth int) node[T] {
	h := geometry.Splat(halfSize)
	return node[T]{
		center:   center,
		halfSize: halfSize,
		depth:    depth,
		children: leaf,
		lo:       center.Sub(h),
		hi:       center.Add(h),
	}
}

// MaxDepth returns the subdivision limit of the tree.
func (t *Tree[T]) MaxDepth() int {
	return t.maxDepth
}

// Len returns the number of inserted values.
func (t *Tree[T]) Len() int {
	return t.size
}

// Insert descends from the root to a leaf and appends value there.
// Internal nodes are subdivided lazily the first time a value passes through them.
// A coordinate lying exactly on a splitting plane goes to the positive side.
func (t *Tree[T]) Insert(pos geometry.Vector3, value T) error {
	if !pos.IsFinite() {
		return ErrNonFinite
	}

	i := 0
	for {
		n := &t.nodes[i]
		n.count++
		n.cover(pos)

		if n.children == leaf && n.depth < t.maxDepth {
			t.subdivide(i)
			// the arena may have been reallocated
			n = &t.nodes[i]
		}

		if n.children == leaf {
			n.items = append(n.items, entry[T]{pos: pos, value: value})
			t.size++
			return nil
		}
		i = n.children + octant(n.center, pos)
	}
}

// subdivide appends the 8 children of node i to the arena.
// Child k is offset by +quarter on the x axis when bit 0 of k is set,
// on y for bit 1 and on z for bit 2, and by -quarter otherwise.
func (t *Tree[T]) subdivide(i int) {
	parent := t.nodes[i]
	q := parent.halfSize / 2
	first := len(t.nodes)

	for k := 0; k < 8; k++ {
		offset := geometry.Vector3{
			X: axisSign(k, 0) * q,
			Y: axisSign(k, 1) * q,
			Z: axisSign(k, 2) * q,
		}
		t.nodes = append(t.nodes, newNode[T](parent.center.Add(offset), q, parent.depth+1))
	}
	t.nodes[i].children = first
}

func axisSign(k, bit int) float64 {
	if k&(1<<bit) != 0 {
		return 1
	}
	return -1
}

// octant selects the child index from the sign triple of pos relative to center.
func octant(center, pos geometry.Vector3) int {
	d := pos.Sub(center)
	k := 0
	if d.X >= 0 {
		k |= 1
	}
	if d.Y >= 0 {
		k |= 2
	}
	if d.Z >= 0 {
		k |= 4
	}
	return k
}

func (n *node[T]) cover(p geometry.Vector3) {
	n.lo = geometry.Vector3{X: min(n.lo.X, p.X), Y: min(n.lo.Y, p.Y), Z: min(n.lo.Z, p.Z)}
	n.hi = geometry.Vector3{X: max(n.hi.X, p.X), Y: max(n.hi.Y, p.Y), Z: max(n.hi.Z, p.Z)}
}

// distSqToBox returns the squared distance from p to the node box, 0 when p is inside.
func (n *node[T]) distSqToBox(p geometry.Vector3) float64 {
	dx := axisGap(p.X, n.lo.X, n.hi.X)
	dy := axisGap(p.Y, n.lo.Y, n.hi.Y)
	dz := axisGap(p.Z, n.lo.Z, n.hi.Z)
	return dx*dx + dy*dy + dz*dz
}

func axisGap(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}

// Search returns every value whose position lies within radius of center.
func (t *Tree[T]) Search(center geometry.Vector3, radius float64) []T {
	return t.SearchInto(nil, center, radius)
}

// SearchInto appends every value within radius of center to dst and returns it.
// Reuse dst across calls to avoid allocations.
func (t *Tree[T]) SearchInto(dst []T, center geometry.Vector3, radius float64) []T {
	if radius < 0 || t.size == 0 {
		return dst
	}
	return t.search(dst, 0, center, radius*radius)
}

func (t *Tree[T]) search(dst []T, i int, center geometry.Vector3, radiusSq float64) []T {
	n := &t.nodes[i]
	if n.count == 0 || n.distSqToBox(center) > radiusSq {
		return dst
	}

	if n.children == leaf {
		for _, e := range n.items {
			if e.pos.DistanceSquaredTo(center) <= radiusSq {
				dst = append(dst, e.value)
			}
		}
		return dst
	}

	for k := 0; k < 8; k++ {
		dst = t.search(dst, n.children+k, center, radiusSq)
	}
	return dst
}

// Walk calls fn for every stored value in arena order until fn returns false.
func (t *Tree[T]) Walk(fn func(pos geometry.Vector3, value T) bool) {
	for i := range t.nodes {
		for _, e := range t.nodes[i].items {
			if !fn(e.pos, e.value) {
				return
			}
		}
	}
}

// Nodes enumerates every node of the tree, root first.
// It is meant for debug overlays only.
func (t *Tree[T]) Nodes() []NodeInfo {
	out := make([]NodeInfo, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = NodeInfo{
			Center: n.center,
			Size:   n.halfSize * 2,
			Depth:  n.depth,
			Items:  len(n.items),
		}
	}
	return out
}
