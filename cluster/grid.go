package cluster

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

// MaxZoom caps the zoom level so the tile count fits comfortably in an int64.
const MaxZoom = 30

// Engine partitions the visible part of the world into zoom dependent tiles
// and turns the points of every tile into clusters.
type Engine struct {
	index          *Index
	minClusterSize atomic.Int64
	workers        int
	maxTiles       int64
}

// NewEngine validates opts and returns an engine reading from index.
func NewEngine(index *Index, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	maxTiles := int64(opts.MaxTiles)
	if maxTiles == 0 {
		maxTiles = DefaultMaxTiles
	}
	e := &Engine{index: index, workers: workers, maxTiles: maxTiles}
	e.minClusterSize.Store(int64(opts.MinClusterSize))
	return e, nil
}

// SetMinClusterSize changes the threshold for the next pass.
func (e *Engine) SetMinClusterSize(n int) error {
	if n <= 0 {
		return ErrInvalidMinClusterSize
	}
	e.minClusterSize.Store(int64(n))
	return nil
}

func (e *Engine) MinClusterSize() int {
	return int(e.minClusterSize.Load())
}

// MaxTiles returns the tile budget of a single pass.
func (e *Engine) MaxTiles() int64 {
	return e.maxTiles
}

// TileCount returns the number of tiles along each axis at zoom.
func TileCount(zoom float64) int64 {
	return int64(math.Floor(math.Pow(2, clampZoom(zoom)) * 2))
}

func clampZoom(zoom float64) float64 {
	if math.IsNaN(zoom) || zoom < 0 {
		return 0
	}
	if zoom > MaxZoom {
		return MaxZoom
	}
	return zoom
}

// Tiles lists the tile rectangles covering viewport at zoom, in the order the
// engine visits them.
func Tiles(viewport Rect, zoom float64) []Rect {
	var tiles []Rect
	forEachTile(viewport, zoom, func(r Rect) bool {
		tiles = append(tiles, r)
		return true
	})
	return tiles
}

// CountTiles returns how many tiles a pass over viewport at zoom visits,
// without walking them.
func CountTiles(viewport Rect, zoom float64) int64 {
	if math.IsNaN(viewport.North) || math.IsNaN(viewport.South) ||
		math.IsNaN(viewport.West) || math.IsNaN(viewport.East) {
		return 0
	}

	tileCount := TileCount(zoom)
	stepLat := 180.0 / float64(tileCount)
	stepLon := 360.0 / float64(tileCount)

	startY, endY, ok := tileSpan((WorldNorth-viewport.North)/stepLat, (WorldNorth-viewport.South)/stepLat, tileCount)
	if !ok {
		return 0
	}
	rows := endY - startY + 1

	column := func(west, east float64) (int64, int64, bool) {
		return tileSpan((west-WorldWest)/stepLon, (east-WorldWest)/stepLon, tileCount)
	}
	var cols int64
	if viewport.West > viewport.East {
		a1, b1, ok1 := column(viewport.West, WorldEast)
		a2, b2, ok2 := column(WorldWest, viewport.East)
		if ok1 {
			cols += b1 - a1 + 1
		}
		if ok2 {
			cols += b2 - a2 + 1
		}
		// columns in both halves are visited once
		if ok1 && ok2 {
			if overlap := min(b1, b2) - max(a1, a2) + 1; overlap > 0 {
				cols -= overlap
			}
		}
	} else if a, b, ok := column(viewport.West, viewport.East); ok {
		cols = b - a + 1
	}
	return rows * cols
}

// forEachTile walks the tiles intersecting viewport, column by column. A
// viewport whose west edge is east of its east edge crosses the antimeridian
// and is walked as [west, 180] followed by [-180, east]; columns already
// visited by the first half are skipped in the second. Iteration stops when
// fn returns false.
func forEachTile(viewport Rect, zoom float64, fn func(Rect) bool) {
	if math.IsNaN(viewport.North) || math.IsNaN(viewport.South) ||
		math.IsNaN(viewport.West) || math.IsNaN(viewport.East) {
		return
	}

	tileCount := TileCount(zoom)
	stepLat := 180.0 / float64(tileCount)
	stepLon := 360.0 / float64(tileCount)

	if viewport.West > viewport.East {
		seen := make(map[int64]struct{})
		if !walkTiles(viewport.North, viewport.South, viewport.West, WorldEast, tileCount, stepLat, stepLon, seen, fn) {
			return
		}
		walkTiles(viewport.North, viewport.South, WorldWest, viewport.East, tileCount, stepLat, stepLon, seen, fn)
		return
	}
	walkTiles(viewport.North, viewport.South, viewport.West, viewport.East, tileCount, stepLat, stepLon, nil, fn)
}

func walkTiles(north, south, west, east float64, tileCount int64, stepLat, stepLon float64,
	seen map[int64]struct{}, fn func(Rect) bool) bool {
	startX, endX, okX := tileSpan((west-WorldWest)/stepLon, (east-WorldWest)/stepLon, tileCount)
	startY, endY, okY := tileSpan((WorldNorth-north)/stepLat, (WorldNorth-south)/stepLat, tileCount)
	if !okX || !okY {
		return true
	}

	for tileX := startX; tileX <= endX; tileX++ {
		if seen != nil {
			if _, ok := seen[tileX]; ok {
				continue
			}
			seen[tileX] = struct{}{}
		}
		for tileY := startY; tileY <= endY; tileY++ {
			if !fn(tileRect(tileX, tileY, tileCount, stepLat, stepLon)) {
				return false
			}
		}
	}
	return true
}

// tileRect computes the bounds of tile (x, y). Each edge is derived from the
// tile index rather than from the opposite edge, so neighbours share the
// exact same border value, and the last row and column end on the world edge
// even when the step is not exactly representable.
func tileRect(x, y, tileCount int64, stepLat, stepLon float64) Rect {
	r := Rect{
		North: WorldNorth - float64(y)*stepLat,
		West:  WorldWest + float64(x)*stepLon,
		South: WorldNorth - float64(y+1)*stepLat,
		East:  WorldWest + float64(x+1)*stepLon,
	}
	if y == tileCount-1 {
		r.South = WorldSouth
	}
	if x == tileCount-1 {
		r.East = WorldEast
	}
	return r
}

// tileSpan turns shifted coordinates into an inclusive tile index range. The
// end grows by one tile to cover partial tiles on the viewport edge, then
// both ends are clipped to the world grid.
func tileSpan(from, to float64, tileCount int64) (start, end int64, ok bool) {
	lo := math.Floor(from)
	hi := math.Floor(to) + 1
	last := float64(tileCount - 1)
	if lo < 0 {
		lo = 0
	}
	if hi > last {
		hi = last
	}
	if lo > hi {
		return 0, 0, false
	}
	return int64(lo), int64(hi), true
}

// Clusters computes the clusters visible in viewport at zoom. Tiles are
// queried by a pool of workers, each query holding the index read lock, and
// the result keeps the tile visiting order. A cancelled ctx aborts the pass
// and nothing is returned. A pass spanning more tiles than the budget fails
// with ErrTooManyTiles before any query runs.
func (e *Engine) Clusters(ctx context.Context, viewport Rect, zoom float64) ([]Cluster, error) {
	if n := CountTiles(viewport, zoom); n > e.maxTiles {
		return nil, fmt.Errorf("%w: %d tiles, at most %d", ErrTooManyTiles, n, e.maxTiles)
	}

	type job struct {
		seq    int
		bounds Rect
	}

	minSize := e.MinClusterSize()
	jobs := make(chan job)
	byTile := make(map[int][]Cluster)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				clusters := clusterTile(e.index.Query(j.bounds), j.bounds, minSize)
				if len(clusters) == 0 {
					continue
				}
				mu.Lock()
				byTile[j.seq] = clusters
				mu.Unlock()
			}
		}()
	}

	seq := 0
	forEachTile(viewport, zoom, func(r Rect) bool {
		select {
		case jobs <- job{seq: seq, bounds: r}:
			seq++
			return true
		case <-ctx.Done():
			return false
		}
	})
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	order := make([]int, 0, len(byTile))
	for s := range byTile {
		order = append(order, s)
	}
	sort.Ints(order)

	var result []Cluster
	for _, s := range order {
		result = append(result, byTile[s]...)
	}
	return result, nil
}

// clusterTile aggregates the points of one tile. With fewer points than
// minSize every point becomes its own cluster, still bound to the tile.
func clusterTile(points []Point, bounds Rect, minSize int) []Cluster {
	if len(points) == 0 {
		return nil
	}
	if len(points) >= minSize {
		return []Cluster{newCluster(points, bounds)}
	}

	clusters := make([]Cluster, len(points))
	for i, p := range points {
		clusters[i] = Cluster{
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Points:    []Point{p},
			Bounds:    bounds,
		}
	}
	return clusters
}
