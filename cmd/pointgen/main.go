// Command pointgen writes a random point set for the server to load.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"web/clustermanager/cluster"
)

var (
	numPoints = flag.Int("n", 100000, "number of points to generate")
	seed      = flag.Int64("seed", 0, "random seed, 0 for time based")
	out       = flag.String("out", "data/points/points.zst", "output file")
	format    = flag.String("format", "", "zstd, mmap or geojson; inferred from -out when empty")
	north     = flag.Float64("north", 90, "northern bound")
	west      = flag.Float64("west", -180, "western bound")
	south     = flag.Float64("south", -90, "southern bound")
	east      = flag.Float64("east", 180, "eastern bound")
)

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func inferFormat(path string) string {
	switch filepath.Ext(path) {
	case ".mmap":
		return "mmap"
	case ".geojson", ".json":
		return "geojson"
	}
	return "zstd"
}

func write(path, format string, points []cluster.Point) error {
	switch format {
	case "zstd":
		return cluster.SavePoints(path, points)
	case "mmap":
		return cluster.SavePointsMMap(path, points)
	case "geojson":
		data, err := cluster.PointsToGeoJSON(points).MarshalJSON()
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}
	return fmt.Errorf("unknown format %q", format)
}

func main() {
	flag.Parse()

	if *numPoints <= 0 {
		fmt.Fprintln(os.Stderr, "-n must be positive")
		os.Exit(2)
	}
	f := *format
	if f == "" {
		f = inferFormat(*out)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	bounds := cluster.Rect{North: *north, West: *west, South: *south, East: *east}
	start := time.Now()
	points := cluster.GenerateTestPoints(*numPoints, bounds, *seed)
	if err := write(*out, f, points); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing points: %v\n", err)
		os.Exit(1)
	}

	if info, err := os.Stat(*out); err == nil {
		fmt.Printf("Wrote %d points to %s in %v (file size: %s)\n",
			len(points), *out, time.Since(start), formatFileSize(info.Size()))
	}
}
