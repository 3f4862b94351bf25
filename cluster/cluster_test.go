package cluster

import (
	"errors"
	"math"
	"testing"
)

func TestRectContainsEdges(t *testing.T) {
	r := Rect{North: 10, West: -10, South: -10, East: 10}

	testCases := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"center", 0, 0, true},
		{"north edge", 10, 0, true},
		{"west edge", 0, -10, true},
		{"south edge", -10, 0, false},
		{"east edge", 0, 10, false},
		{"outside", 20, 0, false},
		{"nan latitude", math.NaN(), 0, false},
		{"nan longitude", 0, math.NaN(), false},
	}

	for _, tc := range testCases {
		if got := r.Contains(tc.lat, tc.lon); got != tc.want {
			t.Errorf("%s: Contains(%f,%f) = %v, want %v", tc.name, tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestRectContainsWorldEdges(t *testing.T) {
	w := World()
	corners := [][2]float64{{90, -180}, {90, 180}, {-90, -180}, {-90, 180}}
	for _, c := range corners {
		if !w.Contains(c[0], c[1]) {
			t.Errorf("Expected world to contain corner (%f,%f)", c[0], c[1])
		}
	}
	if w.Contains(90.0001, 0) || w.Contains(0, -180.0001) {
		t.Error("Expected coordinates beyond the world to be rejected")
	}
}

func TestRectIntersects(t *testing.T) {
	a := Rect{North: 10, West: 0, South: 0, East: 10}

	if !a.Intersects(Rect{North: 20, West: 10, South: 10, East: 20}) {
		t.Error("Expected rectangles touching at a corner to intersect")
	}
	if a.Intersects(Rect{North: 20, West: 11, South: 11, East: 20}) {
		t.Error("Expected disjoint rectangles not to intersect")
	}
	if !a.Intersects(World()) {
		t.Error("Expected every rectangle to intersect the world")
	}
}

func TestClusterContainsIsClosed(t *testing.T) {
	c := Cluster{Bounds: Rect{North: 10, West: 0, South: 0, East: 10}}
	for _, p := range [][2]float64{{0, 0}, {10, 10}, {0, 10}, {10, 0}} {
		if !c.Contains(p[0], p[1]) {
			t.Errorf("Expected closed bounds to contain (%f,%f)", p[0], p[1])
		}
	}
}

func TestClusterKeyUsesCentroidOnly(t *testing.T) {
	a := Cluster{Latitude: 1.5, Longitude: 2.5, Points: []Point{{ID: "a"}}}
	b := Cluster{Latitude: 1.5, Longitude: 2.5, Points: []Point{{ID: "b"}, {ID: "c"}}}
	if a.Key() != b.Key() {
		t.Error("Expected clusters with equal centroids to share a key")
	}

	c := Cluster{Latitude: 1.5, Longitude: math.Nextafter(2.5, 3)}
	if a.Key() == c.Key() {
		t.Error("Expected the smallest centroid difference to change the key")
	}
}

func TestOptionsValidate(t *testing.T) {
	testCases := []struct {
		name string
		opts Options
		want error
	}{
		{"defaults", DefaultOptions(), nil},
		{"zero workers", Options{BucketCapacity: 4, MinClusterSize: 1}, nil},
		{"zero bucket", Options{BucketCapacity: 0, MinClusterSize: 1}, ErrInvalidBucketCapacity},
		{"negative bucket", Options{BucketCapacity: -1, MinClusterSize: 1}, ErrInvalidBucketCapacity},
		{"zero min size", Options{BucketCapacity: 4, MinClusterSize: 0}, ErrInvalidMinClusterSize},
		{"negative max tiles", Options{BucketCapacity: 4, MinClusterSize: 1, MaxTiles: -1}, ErrInvalidMaxTiles},
	}

	for _, tc := range testCases {
		if err := tc.opts.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: Validate() = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	clusters := []Cluster{
		{Points: []Point{
			{ID: "1", Metadata: map[string]interface{}{"value": 10.0, "category": "A"}},
			{ID: "2", Metadata: map[string]interface{}{"value": 30.0, "category": "B"}},
		}},
		{Points: []Point{
			{ID: "3", Metadata: map[string]interface{}{"value": 20.0, "category": "A", "type": "store"}},
		}},
	}

	summary := Summarize(clusters)

	if summary.TotalPoints != 3 {
		t.Errorf("Expected 3 total points, got %d", summary.TotalPoints)
	}
	if summary.NumClusters != 1 || summary.NumSinglePoints != 1 {
		t.Errorf("Expected 1 cluster and 1 single point, got %d and %d", summary.NumClusters, summary.NumSinglePoints)
	}

	stats := summary.MetricsSummary["value"]
	if stats.Min != 10 || stats.Max != 30 || stats.Sum != 60 || stats.Average != 20 {
		t.Errorf("Unexpected value stats: %+v", stats)
	}

	distribution, ok := summary.MetadataSummary["category"].(map[string]float64)
	if !ok {
		t.Fatalf("Expected category distribution, got %T", summary.MetadataSummary["category"])
	}
	if math.Abs(distribution["A"]-200.0/3) > 1e-9 {
		t.Errorf("Expected category A at 66.67%%, got %f", distribution["A"])
	}
	if summary.MetadataSummary["type"] != "store" {
		t.Errorf("Expected most common type 'store', got %v", summary.MetadataSummary["type"])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalPoints != 0 || summary.MetricsSummary == nil || summary.MetadataSummary == nil {
		t.Errorf("Expected an empty summary with initialized maps, got %+v", summary)
	}
}

func TestGenerateTestPointsStaysInBounds(t *testing.T) {
	bounds := Rect{North: 49, West: -125, South: 25, East: -65}
	points := GenerateTestPoints(1000, bounds, 42)

	if len(points) != 1000 {
		t.Fatalf("Expected 1000 points, got %d", len(points))
	}
	for _, p := range points {
		if p.Latitude < bounds.South || p.Latitude > bounds.North ||
			p.Longitude < bounds.West || p.Longitude > bounds.East {
			t.Fatalf("Point %s out of bounds: (%f,%f)", p.ID, p.Latitude, p.Longitude)
		}
	}

	again := GenerateTestPoints(1000, bounds, 42)
	if again[500].Latitude != points[500].Latitude {
		t.Error("Expected the same seed to produce the same points")
	}
}
