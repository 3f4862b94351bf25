package api

import (
	"web/clustermanager/cluster"
)

type pointRequest struct {
	ID        string                 `json:"id"`
	Latitude  *float64               `json:"latitude"`
	Longitude *float64               `json:"longitude"`
	Title     string                 `json:"title"`
	Snippet   string                 `json:"snippet"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (p pointRequest) point() (cluster.Point, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return cluster.Point{}, false
	}
	return cluster.Point{
		ID:        p.ID,
		Latitude:  *p.Latitude,
		Longitude: *p.Longitude,
		Title:     p.Title,
		Snippet:   p.Snippet,
		Metadata:  p.Metadata,
	}, true
}

// markerJSON describes a marker to create or remove. From is the centroid the
// marker animates from when added, or into when removed, as [lat, lon].
type markerJSON struct {
	Marker    uint64      `json:"marker"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Count     int         `json:"count"`
	Bounds    [4]float64  `json:"bounds"`
	ItemID    string      `json:"itemId,omitempty"`
	From      *[2]float64 `json:"from,omitempty"`
}

type decisionResponse struct {
	Type      string       `json:"type"`
	Added     []markerJSON `json:"added"`
	Removed   []markerJSON `json:"removed"`
	Unchanged []uint64     `json:"unchanged"`
}

func newMarkerJSON(c cluster.Cluster, id cluster.MarkerID, parent *cluster.Cluster) markerJSON {
	m := markerJSON{
		Marker:    uint64(id),
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		Count:     c.Count(),
		Bounds:    [4]float64{c.Bounds.West, c.Bounds.South, c.Bounds.East, c.Bounds.North},
	}
	if c.IsSingle() {
		m.ItemID = c.Points[0].ID
	}
	if parent != nil {
		m.From = &[2]float64{parent.Latitude, parent.Longitude}
	}
	return m
}

func newDecisionResponse(d cluster.Decision) decisionResponse {
	resp := decisionResponse{
		Type:      "decision",
		Added:     make([]markerJSON, 0, len(d.Added)),
		Removed:   make([]markerJSON, 0, len(d.Removed)),
		Unchanged: make([]uint64, 0, len(d.Unchanged)),
	}
	for _, rm := range d.Removed {
		resp.Removed = append(resp.Removed, newMarkerJSON(rm.Cluster, rm.Marker, rm.Parent))
	}
	for _, add := range d.Added {
		resp.Added = append(resp.Added, newMarkerJSON(add.Cluster, add.Marker, add.Parent))
	}
	for _, b := range d.Unchanged {
		resp.Unchanged = append(resp.Unchanged, uint64(b.Marker))
	}
	return resp
}

// supersededResponse answers a viewport request whose cycle a newer one
// replaced before it rendered.
func supersededResponse() decisionResponse {
	return decisionResponse{
		Type:      "superseded",
		Added:     []markerJSON{},
		Removed:   []markerJSON{},
		Unchanged: []uint64{},
	}
}

// snapshotResponse is the first websocket message: everything on display.
func snapshotResponse(markers []cluster.MarkerBinding) decisionResponse {
	resp := decisionResponse{
		Type:      "snapshot",
		Added:     make([]markerJSON, 0, len(markers)),
		Removed:   []markerJSON{},
		Unchanged: []uint64{},
	}
	for _, b := range markers {
		resp.Added = append(resp.Added, newMarkerJSON(b.Cluster, b.Marker, nil))
	}
	return resp
}
