package cluster

import (
	"context"
	"sync"
)

// rebuildCheckEvery is how many inserts a rebuild performs between checks
// of its context.
const rebuildCheckEvery = 1024

// Index is the quad-tree shared between rebuilds and cluster passes. Writers
// hold the lock exclusively, every range query holds it for reading.
type Index struct {
	mu         sync.RWMutex
	tree       *QuadTree
	bucketSize int

	// writes made while a rebuild is building aside, replayed onto the new
	// tree before it is swapped in
	rebuilding int
	pending    []indexWrite
}

// indexWrite is an Insert, or a Clear when clear is set.
type indexWrite struct {
	clear bool
	point Point
}

func NewIndex(bucketSize int) (*Index, error) {
	if bucketSize <= 0 {
		return nil, ErrInvalidBucketCapacity
	}
	return &Index{tree: NewQuadTree(bucketSize), bucketSize: bucketSize}, nil
}

// Insert adds a single point. It returns false when the point lies outside
// the world and was dropped.
func (ix *Index) Insert(p Point) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.rebuilding > 0 {
		ix.pending = append(ix.pending, indexWrite{point: p})
	}
	return ix.tree.Insert(p)
}

// Clear empties the index.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.rebuilding > 0 {
		ix.pending = append(ix.pending, indexWrite{clear: true})
	}
	ix.tree.Clear()
}

// Rebuild replaces the whole content of the index with points. The new tree
// is built aside and swapped in under the write lock, so readers see either
// the old or the new content and never a half-built tree. When ctx is
// cancelled mid-way the index is left untouched and ctx.Err() is returned.
// Points outside the world are skipped and counted in dropped.
//
// Inserts and clears arriving while the tree is built are applied to the
// current tree and replayed onto the new one before the swap, so they land
// as if they had waited for the rebuild to finish.
func (ix *Index) Rebuild(ctx context.Context, points []Point) (dropped int, err error) {
	ix.mu.Lock()
	ix.rebuilding++
	from := len(ix.pending)
	ix.mu.Unlock()

	defer func() {
		ix.mu.Lock()
		ix.rebuilding--
		if ix.rebuilding == 0 {
			ix.pending = nil
		}
		ix.mu.Unlock()
	}()

	tree := NewQuadTree(ix.bucketSize)
	for i, p := range points {
		if i%rebuildCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if !tree.Insert(p) {
			dropped++
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ix.mu.Lock()
	for _, w := range ix.pending[from:] {
		if w.clear {
			tree.Clear()
		} else {
			tree.Insert(w.point)
		}
	}
	ix.tree = tree
	ix.mu.Unlock()
	return dropped, nil
}

// Query returns the points inside r.
func (ix *Index) Query(r Rect) []Point {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.QueryRange(r)
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// NodeCount returns the number of quad-tree nodes, leaves included.
func (ix *Index) NodeCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.tree.Nodes)
}
