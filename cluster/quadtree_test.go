package cluster

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
)

func pointIDs(points []Point) []string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	sort.Strings(ids)
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQuadTreeWorldQueryReturnsEverything(t *testing.T) {
	for _, bucket := range []int{1, 4, 64} {
		tree := NewQuadTree(bucket)
		points := GenerateTestPoints(2000, World(), 42)
		for _, p := range points {
			if !tree.Insert(p) {
				t.Fatalf("bucket %d: failed to insert %s at (%f,%f)", bucket, p.ID, p.Latitude, p.Longitude)
			}
		}

		got := pointIDs(tree.QueryRange(World()))
		if !equalIDs(got, pointIDs(points)) {
			t.Errorf("bucket %d: world query returned %d points, want %d", bucket, len(got), len(points))
		}
		if tree.Len() != len(points) {
			t.Errorf("bucket %d: Len() = %d, want %d", bucket, tree.Len(), len(points))
		}
	}
}

func TestQuadTreeWorldCorners(t *testing.T) {
	tree := NewQuadTree(1)
	corners := []Point{
		{ID: "nw", Latitude: 90, Longitude: -180},
		{ID: "ne", Latitude: 90, Longitude: 180},
		{ID: "sw", Latitude: -90, Longitude: -180},
		{ID: "se", Latitude: -90, Longitude: 180},
		{ID: "center", Latitude: 0, Longitude: 0},
	}
	for _, p := range corners {
		if !tree.Insert(p) {
			t.Errorf("Expected corner %s to be accepted", p.ID)
		}
	}
	if got := len(tree.QueryRange(World())); got != len(corners) {
		t.Errorf("Expected %d points, got %d", len(corners), got)
	}
}

func TestQuadTreeSubsetProperty(t *testing.T) {
	tree := NewQuadTree(4)
	for _, p := range GenerateTestPoints(5000, World(), 7) {
		tree.Insert(p)
	}

	pairs := []struct{ inner, outer Rect }{
		{Rect{North: 10, West: -10, South: -10, East: 10}, Rect{North: 20, West: -20, South: -20, East: 20}},
		{Rect{North: 45, West: 0, South: 0, East: 90}, Rect{North: 90, West: 0, South: 0, East: 180}},
		{Rect{North: 0, West: -180, South: -90, East: 0}, World()},
	}

	for _, pair := range pairs {
		outer := make(map[string]struct{})
		for _, p := range tree.QueryRange(pair.outer) {
			outer[p.ID] = struct{}{}
		}
		for _, p := range tree.QueryRange(pair.inner) {
			if _, ok := outer[p.ID]; !ok {
				t.Errorf("Point %s in %+v but not in enclosing %+v", p.ID, pair.inner, pair.outer)
			}
		}
	}
}

func TestQuadTreeClearAndReinsert(t *testing.T) {
	tree := NewQuadTree(4)
	points := GenerateTestPoints(500, World(), 3)
	for _, p := range points {
		tree.Insert(p)
	}
	query := Rect{North: 30, West: -60, South: -30, East: 60}
	before := pointIDs(tree.QueryRange(query))

	tree.Clear()
	if tree.Len() != 0 || len(tree.QueryRange(World())) != 0 {
		t.Fatal("Expected cleared tree to be empty")
	}

	for _, p := range points {
		tree.Insert(p)
	}
	if after := pointIDs(tree.QueryRange(query)); !equalIDs(before, after) {
		t.Errorf("Expected identical results after clear and re-insert, got %d vs %d points", len(after), len(before))
	}
}

func TestQuadTreeIdenticalCoordinates(t *testing.T) {
	tree := NewQuadTree(4)
	for i := 0; i < 5; i++ {
		tree.Insert(Point{ID: string(rune('a' + i)), Latitude: 0, Longitude: 0})
	}

	if got := len(tree.QueryRange(World())); got != 5 {
		t.Errorf("Expected 5 points at (0,0), got %d", got)
	}
	if len(tree.Nodes) == 1 {
		t.Error("Expected the fifth point to force a subdivision")
	}
}

func TestQuadTreeManyIdenticalCoordinatesStopAtMaxDepth(t *testing.T) {
	tree := NewQuadTree(1)
	for i := 0; i < 200; i++ {
		tree.Insert(Point{Latitude: 12.5, Longitude: 42.25})
	}
	if got := len(tree.QueryRange(World())); got != 200 {
		t.Errorf("Expected 200 points, got %d", got)
	}
	for _, n := range tree.Nodes {
		if n.Depth > maxDepth {
			t.Fatalf("Node depth %d exceeds max depth %d", n.Depth, maxDepth)
		}
	}
}

func TestQuadTreeParentPointsStayPut(t *testing.T) {
	tree := NewQuadTree(4)
	first := []Point{
		{ID: "1", Latitude: 45, Longitude: -90},
		{ID: "2", Latitude: 45, Longitude: 90},
		{ID: "3", Latitude: -45, Longitude: -90},
		{ID: "4", Latitude: -45, Longitude: 90},
	}
	for _, p := range first {
		tree.Insert(p)
	}
	tree.Insert(Point{ID: "5", Latitude: 10, Longitude: 10})

	if got := len(tree.Nodes[0].Points); got != 4 {
		t.Errorf("Expected root to keep its 4 points after subdividing, got %d", got)
	}
	ne := tree.Nodes[tree.Nodes[0].Children+1]
	if len(ne.Points) != 1 || ne.Points[0].ID != "5" {
		t.Errorf("Expected overflow point in the NE quadrant, got %+v", ne.Points)
	}
}

func TestQuadTreeRejectsOutOfDomain(t *testing.T) {
	tree := NewQuadTree(4)
	bad := []Point{
		{Latitude: 91, Longitude: 0},
		{Latitude: 0, Longitude: 181},
		{Latitude: math.NaN(), Longitude: 0},
		{Latitude: 0, Longitude: math.Inf(-1)},
	}
	for _, p := range bad {
		if tree.Insert(p) {
			t.Errorf("Expected (%f,%f) to be rejected", p.Latitude, p.Longitude)
		}
	}
	if tree.Len() != 0 {
		t.Errorf("Expected empty tree, got %d points", tree.Len())
	}
}

func TestNewIndexRejectsBadCapacity(t *testing.T) {
	if _, err := NewIndex(0); !errors.Is(err, ErrInvalidBucketCapacity) {
		t.Errorf("Expected ErrInvalidBucketCapacity, got %v", err)
	}
}

func TestIndexRebuildDropsOutOfDomain(t *testing.T) {
	ix, err := NewIndex(4)
	if err != nil {
		t.Fatal(err)
	}

	points := []Point{
		{ID: "ok1", Latitude: 1, Longitude: 1},
		{ID: "bad", Latitude: 100, Longitude: 1},
		{ID: "ok2", Latitude: -1, Longitude: -1},
	}
	dropped, err := ix.Rebuild(context.Background(), points)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("Expected 1 dropped point, got %d", dropped)
	}
	if ix.Len() != 2 {
		t.Errorf("Expected 2 indexed points, got %d", ix.Len())
	}
}

func TestIndexCancelledRebuildKeepsPreviousContent(t *testing.T) {
	ix, _ := NewIndex(4)
	if _, err := ix.Rebuild(context.Background(), GenerateTestPoints(100, World(), 1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ix.Rebuild(ctx, GenerateTestPoints(5000, World(), 2)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if ix.Len() != 100 {
		t.Errorf("Expected previous 100 points to survive, got %d", ix.Len())
	}
}

func TestIndexInsertAndClear(t *testing.T) {
	ix, _ := NewIndex(2)
	ix.Insert(Point{ID: "a", Latitude: 1, Longitude: 1})
	if ix.Insert(Point{ID: "b", Latitude: 1, Longitude: 200}) {
		t.Error("Expected out-of-domain insert to report false")
	}
	if got := ix.Query(World()); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("Unexpected query result %+v", got)
	}

	ix.Clear()
	if ix.Len() != 0 || ix.NodeCount() != 1 {
		t.Errorf("Expected an empty single-node index, got %d points and %d nodes", ix.Len(), ix.NodeCount())
	}
}

// hookContext runs hook the first time the rebuild checks for cancellation,
// which is after the rebuild has registered and before the swap.
type hookContext struct {
	context.Context
	once sync.Once
	hook func()
}

func (c *hookContext) Err() error {
	c.once.Do(c.hook)
	return c.Context.Err()
}

func TestIndexInsertDuringRebuildSurvivesSwap(t *testing.T) {
	ix, _ := NewIndex(4)
	ctx := &hookContext{Context: context.Background(), hook: func() {
		if !ix.Insert(Point{ID: "late", Latitude: 5, Longitude: 5}) {
			t.Error("Expected the concurrent insert to succeed")
		}
	}}

	if _, err := ix.Rebuild(ctx, GenerateTestPoints(10, World(), 3)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if ix.Len() != 11 {
		t.Errorf("Expected 10 rebuilt points plus the late insert, got %d", ix.Len())
	}
	found := false
	for _, p := range ix.Query(World()) {
		if p.ID == "late" {
			found = true
		}
	}
	if !found {
		t.Error("Insert made during the rebuild was lost by the swap")
	}

	// nothing is replayed by the next rebuild
	if _, err := ix.Rebuild(context.Background(), GenerateTestPoints(10, World(), 3)); err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 10 {
		t.Errorf("Expected 10 points after a quiet rebuild, got %d", ix.Len())
	}
}

func TestIndexClearDuringRebuildIsReplayedInOrder(t *testing.T) {
	ix, _ := NewIndex(4)
	ctx := &hookContext{Context: context.Background(), hook: func() {
		ix.Insert(Point{ID: "x", Latitude: 1, Longitude: 1})
		ix.Clear()
		ix.Insert(Point{ID: "y", Latitude: 2, Longitude: 2})
	}}

	if _, err := ix.Rebuild(ctx, GenerateTestPoints(10, World(), 4)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	got := ix.Query(World())
	if len(got) != 1 || got[0].ID != "y" {
		t.Errorf("Expected only y after insert, clear, insert, got %v", pointIDs(got))
	}
}

func TestIndexInsertDuringCancelledRebuildIsKept(t *testing.T) {
	ix, _ := NewIndex(4)
	parent, cancel := context.WithCancel(context.Background())
	ctx := &hookContext{Context: parent, hook: func() {
		ix.Insert(Point{ID: "kept", Latitude: 1, Longitude: 1})
		cancel()
	}}

	if _, err := ix.Rebuild(ctx, GenerateTestPoints(10, World(), 5)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	got := ix.Query(World())
	if len(got) != 1 || got[0].ID != "kept" {
		t.Errorf("Expected the insert to stay in the current tree, got %v", pointIDs(got))
	}
}
