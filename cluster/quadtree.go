package cluster

// maxDepth bounds subdivision. Halving the world 32 times leaves quadrants
// about a centimetre wide, so deeper nodes would only hold duplicate coordinates; a
// node at this depth keeps accepting points past its bucket capacity.
const maxDepth = 32

// QuadNode is one quadrant of the tree. Children holds the index of the NW
// child in QuadTree.Nodes, with NE, SW and SE stored right after it, or -1
// while the node is still a leaf. Points stored before the node subdivided
// stay here for good; only overflow descends.
type QuadNode struct {
	Bounds   Rect
	Points   []Point
	Children int32
	Depth    uint8
}

// QuadTree is a bucketed point quad-tree over the whole world. All nodes live
// in a single slice, like the kd-tree it replaced.
type QuadTree struct {
	Nodes      []QuadNode
	BucketSize int
	size       int
}

func NewQuadTree(bucketSize int) *QuadTree {
	t := &QuadTree{BucketSize: bucketSize}
	t.Clear()
	return t
}

func newQuadNode(bounds Rect, depth uint8) QuadNode {
	return QuadNode{Bounds: bounds, Children: -1, Depth: depth}
}

// Clear drops every node and starts over from an empty world root.
func (t *QuadTree) Clear() {
	t.Nodes = []QuadNode{newQuadNode(World(), 0)}
	t.size = 0
}

// Len returns the number of stored points.
func (t *QuadTree) Len() int {
	return t.size
}

// Insert stores p and reports whether some node accepted it. Points outside
// the world rectangle (NaN included) are rejected.
func (t *QuadTree) Insert(p Point) bool {
	idx := int32(0)
	for {
		node := &t.Nodes[idx]
		if !node.Bounds.Contains(p.Latitude, p.Longitude) {
			return false
		}

		if len(node.Points) < t.BucketSize || node.Depth >= maxDepth {
			if node.Points == nil {
				node.Points = make([]Point, 0, t.BucketSize)
			}
			node.Points = append(node.Points, p)
			t.size++
			return true
		}

		if node.Children < 0 {
			t.subdivide(idx)
			// subdivide may have grown the slice
			node = &t.Nodes[idx]
		}

		next := int32(-1)
		for i := int32(0); i < 4; i++ {
			child := node.Children + i
			if t.Nodes[child].Bounds.Contains(p.Latitude, p.Longitude) {
				next = child
				break
			}
		}
		if next < 0 {
			return false
		}
		idx = next
	}
}

// subdivide appends the four quadrants of node idx in NW, NE, SW, SE order.
func (t *QuadTree) subdivide(idx int32) {
	b := t.Nodes[idx].Bounds
	depth := t.Nodes[idx].Depth + 1
	midLat, midLon := b.Center()

	first := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes,
		newQuadNode(Rect{North: b.North, West: b.West, South: midLat, East: midLon}, depth),
		newQuadNode(Rect{North: b.North, West: midLon, South: midLat, East: b.East}, depth),
		newQuadNode(Rect{North: midLat, West: b.West, South: b.South, East: midLon}, depth),
		newQuadNode(Rect{North: midLat, West: midLon, South: b.South, East: b.East}, depth),
	)
	t.Nodes[idx].Children = first
}

// QueryRange returns every point inside r.
func (t *QuadTree) QueryRange(r Rect) []Point {
	var result []Point
	t.queryNode(0, r, &result)
	return result
}

func (t *QuadTree) queryNode(idx int32, r Rect, result *[]Point) {
	node := &t.Nodes[idx]
	if !node.Bounds.Intersects(r) {
		return
	}

	for _, p := range node.Points {
		if r.Contains(p.Latitude, p.Longitude) {
			*result = append(*result, p)
		}
	}

	if node.Children < 0 {
		return
	}
	for i := int32(0); i < 4; i++ {
		t.queryNode(node.Children+i, r, result)
	}
}
