package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"web/clustermanager/cluster"
)

// LoadFile reads a point file, picking the format from the extension:
// .geojson and .json are GeoJSON FeatureCollections, .mmap is the
// memory-mapped layout and anything else the zstd stream.
func LoadFile(path string) ([]cluster.Point, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return cluster.PointsFromGeoJSON(data)
	case ".mmap":
		return cluster.LoadPointsMMap(path)
	default:
		return cluster.LoadPoints(path)
	}
}
