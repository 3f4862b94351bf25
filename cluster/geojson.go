package cluster

import (
	"fmt"

	geojson "github.com/paulmach/go.geojson"
)

// ToGeoJSON converts clusters to a FeatureCollection of points. Single-item
// clusters carry the item's identity so a client can render it as a marker.
func ToGeoJSON(clusters []Cluster) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range clusters {
		fc.AddFeature(clusterFeature(c))
	}
	return fc
}

// MarkersToGeoJSON is ToGeoJSON for displayed markers, adding the marker id.
func MarkersToGeoJSON(markers []MarkerBinding) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		f := clusterFeature(m.Cluster)
		f.ID = uint64(m.Marker)
		f.SetProperty("marker_id", uint64(m.Marker))
		fc.AddFeature(f)
	}
	return fc
}

func clusterFeature(c Cluster) *geojson.Feature {
	f := geojson.NewPointFeature([]float64{c.Longitude, c.Latitude})
	f.SetProperty("cluster", c.Count() > 1)
	f.SetProperty("point_count", c.Count())
	f.SetProperty("bounds", []float64{c.Bounds.West, c.Bounds.South, c.Bounds.East, c.Bounds.North})

	if c.IsSingle() {
		p := c.Points[0]
		f.SetProperty("item_id", p.ID)
		if p.Title != "" {
			f.SetProperty("title", p.Title)
		}
		if p.Snippet != "" {
			f.SetProperty("snippet", p.Snippet)
		}
		for k, v := range p.Metadata {
			if _, taken := f.Properties[k]; !taken {
				f.SetProperty(k, v)
			}
		}
	}
	return f
}

// PointsToGeoJSON writes points as Point features that PointsFromGeoJSON
// reads back.
func PointsToGeoJSON(points []Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewPointFeature([]float64{p.Longitude, p.Latitude})
		f.ID = p.ID
		for k, v := range p.Metadata {
			f.SetProperty(k, v)
		}
		if p.Title != "" {
			f.SetProperty("title", p.Title)
		}
		if p.Snippet != "" {
			f.SetProperty("snippet", p.Snippet)
		}
		fc.AddFeature(f)
	}
	return fc
}

// PointsFromGeoJSON reads the Point features of a FeatureCollection. The id
// comes from the feature id or an "id" property; "title" and "snippet" are
// lifted out of the properties and the rest is kept as metadata. Features
// with other geometries are skipped.
func PointsFromGeoJSON(data []byte) ([]Point, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature collection: %w", err)
	}

	points := make([]Point, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil || !f.Geometry.IsPoint() || len(f.Geometry.Point) < 2 {
			continue
		}

		p := Point{
			Longitude: f.Geometry.Point[0],
			Latitude:  f.Geometry.Point[1],
		}

		metadata := make(map[string]interface{}, len(f.Properties))
		for k, v := range f.Properties {
			switch k {
			case "id":
				p.ID = fmt.Sprint(v)
			case "title":
				p.Title = fmt.Sprint(v)
			case "snippet":
				p.Snippet = fmt.Sprint(v)
			default:
				metadata[k] = v
			}
		}
		if f.ID != nil {
			p.ID = fmt.Sprint(f.ID)
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("feature-%d", i)
		}
		if len(metadata) > 0 {
			p.Metadata = metadata
		}
		points = append(points, p)
	}
	return points, nil
}
