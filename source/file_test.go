package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermanager/cluster"
)

func TestLoadFileByExtension(t *testing.T) {
	points := cluster.GenerateTestPoints(25, cluster.World(), 9)
	dir := t.TempDir()

	zst := filepath.Join(dir, "points.zst")
	require.NoError(t, cluster.SavePoints(zst, points))
	mm := filepath.Join(dir, "points.mmap")
	require.NoError(t, cluster.SavePointsMMap(mm, points))

	for _, path := range []string{zst, mm} {
		got, err := LoadFile(path)
		require.NoError(t, err, path)
		require.Len(t, got, len(points), path)
		assert.Equal(t, points[3].ID, got[3].ID, path)
		assert.Equal(t, points[3].Latitude, got[3].Latitude, path)
	}
}

func TestLoadFileGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "id": "x", "geometry": {"type": "Point", "coordinates": [2.35, 48.85]}, "properties": {"title": "Paris"}}
		]
	}`), 0o644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
	assert.Equal(t, "Paris", got[0].Title)
	assert.Equal(t, 48.85, got[0].Latitude)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.zst"))
	assert.Error(t, err)
}
