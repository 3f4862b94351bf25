package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"web/clustermanager/cluster"
)

var (
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to file")
	heapprofile = flag.String("heapprofile", "", "write heap profile to file")
	numPoints   = flag.Int("points", 100000, "number of points to generate")
	zoomLevel   = flag.Float64("zoom", 4, "zoom level to profile")
	bucket      = flag.Int("bucket", cluster.DefaultBucketCapacity, "quad-tree bucket capacity")
	workers     = flag.Int("workers", runtime.NumCPU(), "tile workers")
	maxTiles    = flag.Int("maxtiles", 1<<22, "tiles one pass may span")
	testall     = flag.Bool("testall", false, "test all configurations")
)

// usBounds is the area profiled points are scattered over.
var usBounds = cluster.Rect{North: 49, West: -125, South: 25, East: -65}

type result struct {
	rebuild  time.Duration
	clusters time.Duration
	count    int
	nodes    int
	allocMB  float64
	gcRuns   uint32
}

func profile(points []cluster.Point, zoom float64, opts cluster.Options) (result, error) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	index, err := cluster.NewIndex(opts.BucketCapacity)
	if err != nil {
		return result{}, err
	}
	engine, err := cluster.NewEngine(index, opts)
	if err != nil {
		return result{}, err
	}

	ctx := context.Background()
	start := time.Now()
	if _, err := index.Rebuild(ctx, points); err != nil {
		return result{}, err
	}
	rebuild := time.Since(start)

	start = time.Now()
	clusters, err := engine.Clusters(ctx, usBounds, zoom)
	if err != nil {
		return result{}, err
	}
	elapsed := time.Since(start)

	runtime.ReadMemStats(&after)
	return result{
		rebuild:  rebuild,
		clusters: elapsed,
		count:    len(clusters),
		nodes:    index.NodeCount(),
		allocMB:  float64(after.TotalAlloc-before.TotalAlloc) / 1024 / 1024,
		gcRuns:   after.NumGC - before.NumGC,
	}, nil
}

func options() cluster.Options {
	opts := cluster.DefaultOptions()
	opts.BucketCapacity = *bucket
	opts.Workers = *workers
	opts.MaxTiles = *maxTiles
	return opts
}

func runSingleProfile(numPoints int, zoom float64) error {
	fmt.Printf("Profiling with %d points at zoom level %.1f\n", numPoints, zoom)

	points := cluster.GenerateTestPoints(numPoints, usBounds, 42)
	r, err := profile(points, zoom, options())
	if err != nil {
		return err
	}

	fmt.Printf("Index rebuilt in %v (%d nodes)\n", r.rebuild, r.nodes)
	fmt.Printf("Clustering completed in %v (%d clusters)\n", r.clusters, r.count)
	fmt.Printf("Memory allocated: %.2f MB\n", r.allocMB)
	return nil
}

func runProfileBattery() error {
	pointCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []float64{2, 5, 8, 12}
	opts := options()

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	fmt.Printf("%-10s | %-6s | %-15s | %-15s | %-10s | %-11s | %-7s\n",
		"Points", "Zoom", "Rebuild", "Clusters", "Count", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "-------------------------------------------------------------------------------------")

	for _, n := range pointCounts {
		points := cluster.GenerateTestPoints(n, usBounds, 42)
		for _, zoom := range zoomLevels {
			r, err := profile(points, zoom, opts)
			if err != nil {
				return err
			}
			fmt.Printf("%-10d | %-6.1f | %-15s | %-15s | %-10d | %-11.2f | %-7d\n",
				n, zoom, r.rebuild, r.clusters, r.count, r.allocMB, r.gcRuns)
		}
		fmt.Printf("%s\n", "-------------------------------------------------------------------------------------")
	}
	return nil
}

func writeProfile(path, name string) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create %s profile: %v\n", name, err)
		return
	}
	defer f.Close()

	runtime.GC()
	p := pprof.Lookup(name)
	if p == nil {
		fmt.Fprintf(os.Stderr, "Could not find %s profile\n", name)
		return
	}
	if err := p.WriteTo(f, 0); err != nil {
		fmt.Fprintf(os.Stderr, "Could not write %s profile: %v\n", name, err)
	}
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	var err error
	if *testall {
		err = runProfileBattery()
	} else {
		err = runSingleProfile(*numPoints, *zoomLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Profile failed: %v\n", err)
	}

	if *memprofile != "" {
		writeProfile(*memprofile, "allocs")
	}
	if *heapprofile != "" {
		writeProfile(*heapprofile, "heap")
	}
}
