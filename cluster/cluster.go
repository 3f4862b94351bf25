package cluster

import (
	"errors"
	"math"
	"runtime"
)

// World edges. The quad-tree root always covers exactly this rectangle.
const (
	WorldNorth = 90.0
	WorldWest  = -180.0
	WorldSouth = -90.0
	WorldEast  = 180.0
)

const (
	DefaultBucketCapacity = 4
	DefaultMinClusterSize = 1
	// DefaultMaxTiles admits the whole world up to zoom 7.
	DefaultMaxTiles = 1 << 16
)

var (
	ErrInvalidBucketCapacity = errors.New("bucket capacity must be a positive integer")
	ErrInvalidMinClusterSize = errors.New("min cluster size must be a positive integer")
	ErrInvalidMaxTiles       = errors.New("max tiles must not be negative")
	ErrTooManyTiles          = errors.New("viewport spans too many tiles")
)

// Point is a single clustered item. Everything except the coordinates is
// carried through the index and the clusters untouched.
type Point struct {
	ID        string
	Latitude  float64
	Longitude float64
	Title     string
	Snippet   string
	Metadata  map[string]interface{}
}

// Rect is a closed-north, closed-west region of the world. It never wraps
// around the antimeridian; callers split wrapping viewports in two.
type Rect struct {
	North, West, South, East float64
}

// World returns the rectangle covering every valid coordinate.
func World() Rect {
	return Rect{North: WorldNorth, West: WorldWest, South: WorldSouth, East: WorldEast}
}

// Contains reports whether the coordinate lies in r. The south and east
// edges are exclusive unless they are the world's own edges, so a point on
// the shared border of two adjacent tiles or quadrants belongs to exactly one.
func (r Rect) Contains(lat, lon float64) bool {
	return lat <= r.North && lon >= r.West &&
		(lat > r.South || (lat == r.South && r.South == WorldSouth)) &&
		(lon < r.East || (lon == r.East && r.East == WorldEast))
}

// Intersects is a plain axis-aligned overlap test with closed edges.
func (r Rect) Intersects(o Rect) bool {
	return !(r.West > o.East || r.East < o.West || r.South > o.North || r.North < o.South)
}

// Center returns the midpoint of both axes.
func (r Rect) Center() (lat, lon float64) {
	return r.North - (r.North-r.South)/2, r.East - (r.East-r.West)/2
}

// Cluster is an aggregate of the points found in one tile.
type Cluster struct {
	Latitude  float64
	Longitude float64
	Points    []Point
	Bounds    Rect
}

// Key identifies a cluster for reconciliation. Two clusters are the same
// cluster when their centroids are bit-for-bit equal, regardless of members.
type Key struct {
	lat, lon uint64
}

func (c Cluster) Key() Key {
	return Key{lat: math.Float64bits(c.Latitude), lon: math.Float64bits(c.Longitude)}
}

// Contains tests the coordinate against the cluster's tile with every edge
// closed. Used to find the cluster a marker animates from or into.
func (c Cluster) Contains(lat, lon float64) bool {
	return lon >= c.Bounds.West && lon <= c.Bounds.East &&
		lat <= c.Bounds.North && lat >= c.Bounds.South
}

// Count returns the number of member points.
func (c Cluster) Count() int {
	return len(c.Points)
}

// IsSingle reports whether the cluster stands for one item only.
func (c Cluster) IsSingle() bool {
	return len(c.Points) == 1
}

// newCluster averages the member coordinates into the centroid.
func newCluster(points []Point, bounds Rect) Cluster {
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Latitude
		sumLon += p.Longitude
	}
	n := float64(len(points))
	return Cluster{
		Latitude:  sumLat / n,
		Longitude: sumLon / n,
		Points:    points,
		Bounds:    bounds,
	}
}

// Options configures an index and the engine clustering it.
type Options struct {
	BucketCapacity int `yaml:"bucket_capacity"`
	MinClusterSize int `yaml:"min_cluster_size"`
	Workers        int `yaml:"workers"`
	// MaxTiles bounds the tiles one pass may visit. Zero means
	// DefaultMaxTiles.
	MaxTiles int `yaml:"max_tiles"`
}

// DefaultOptions mirrors the values the map client ships with.
func DefaultOptions() Options {
	return Options{
		BucketCapacity: DefaultBucketCapacity,
		MinClusterSize: DefaultMinClusterSize,
		Workers:        runtime.NumCPU(),
		MaxTiles:       DefaultMaxTiles,
	}
}

// Validate rejects misconfiguration instead of clamping it. A zero Workers
// value is not an error, it falls back to the number of CPUs; a zero MaxTiles
// falls back to DefaultMaxTiles.
func (o Options) Validate() error {
	if o.BucketCapacity <= 0 {
		return ErrInvalidBucketCapacity
	}
	if o.MinClusterSize <= 0 {
		return ErrInvalidMinClusterSize
	}
	if o.MaxTiles < 0 {
		return ErrInvalidMaxTiles
	}
	return nil
}
