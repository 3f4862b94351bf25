package cluster

import "sync"

// MarkerID names a marker the renderer has been told to create. Ids are
// handed out in increasing order and never reused.
type MarkerID uint64

// MarkerBinding ties a displayed marker to the cluster it shows.
type MarkerBinding struct {
	Cluster Cluster
	Marker  MarkerID
	Dirty   bool
}

// Addition asks the renderer for a new marker. When Parent is set the marker
// starts on the parent's centroid and moves to its own, otherwise it fades in.
type Addition struct {
	Cluster Cluster
	Marker  MarkerID
	Parent  *Cluster
}

// Removal asks the renderer to drop a marker. When Parent is set the marker
// first moves into the parent's centroid, otherwise it disappears at once.
type Removal struct {
	Cluster Cluster
	Marker  MarkerID
	Parent  *Cluster
}

// Decision is the outcome of one reconciliation pass. Removals are listed
// before additions because that is the order they must be applied in.
type Decision struct {
	Removed   []Removal
	Added     []Addition
	Unchanged []MarkerBinding
}

// Changed reports whether the renderer has anything to do.
func (d Decision) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// FindParentCluster returns the first cluster whose tile contains the
// coordinate, edges included.
func FindParentCluster(clusters []Cluster, lat, lon float64) (Cluster, bool) {
	for _, c := range clusters {
		if c.Contains(lat, lon) {
			return c, true
		}
	}
	return Cluster{}, false
}

// Reconciler keeps the set of displayed markers between cluster passes and
// diffs every new pass against it. Clusters are matched by centroid only.
type Reconciler struct {
	mu       sync.RWMutex
	bindings []*MarkerBinding
	byKey    map[Key]*MarkerBinding
	byMarker map[MarkerID]*MarkerBinding
	lastID   MarkerID
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		byKey:    make(map[Key]*MarkerBinding),
		byMarker: make(map[MarkerID]*MarkerBinding),
	}
}

// Reconcile makes clusters the displayed set and returns what changed. A
// cluster whose centroid repeats one seen earlier in the same pass is the same
// cluster by definition and is folded into the first.
func (r *Reconciler) Reconcile(clusters []Cluster) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bindings {
		b.Dirty = true
	}

	current := make([]Cluster, 0, len(clusters))
	seen := make(map[Key]struct{}, len(clusters))
	var toAdd []Cluster
	for _, c := range clusters {
		k := c.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		current = append(current, c)

		if b, ok := r.byKey[k]; ok {
			b.Dirty = false
			continue
		}
		toAdd = append(toAdd, c)
	}

	var d Decision
	var removed []Cluster
	kept := make([]*MarkerBinding, 0, len(current))
	for _, b := range r.bindings {
		if !b.Dirty {
			kept = append(kept, b)
			d.Unchanged = append(d.Unchanged, *b)
			continue
		}

		rm := Removal{Cluster: b.Cluster, Marker: b.Marker}
		if parent, ok := FindParentCluster(current, b.Cluster.Latitude, b.Cluster.Longitude); ok {
			rm.Parent = &parent
		}
		d.Removed = append(d.Removed, rm)
		removed = append(removed, b.Cluster)
		delete(r.byKey, b.Cluster.Key())
		delete(r.byMarker, b.Marker)
	}

	for _, c := range toAdd {
		r.lastID++
		b := &MarkerBinding{Cluster: c, Marker: r.lastID}
		kept = append(kept, b)
		r.byKey[c.Key()] = b
		r.byMarker[b.Marker] = b

		add := Addition{Cluster: c, Marker: b.Marker}
		if parent, ok := FindParentCluster(removed, c.Latitude, c.Longitude); ok {
			add.Parent = &parent
		}
		d.Added = append(d.Added, add)
	}

	r.bindings = kept
	return d
}

// Markers returns a copy of the displayed markers in creation order.
func (r *Reconciler) Markers() []MarkerBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markers := make([]MarkerBinding, len(r.bindings))
	for i, b := range r.bindings {
		markers[i] = *b
	}
	return markers
}

// Lookup finds the binding of a displayed marker.
func (r *Reconciler) Lookup(id MarkerID) (MarkerBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byMarker[id]
	if !ok {
		return MarkerBinding{}, false
	}
	return *b, true
}

// Clusters returns the clusters currently on display.
func (r *Reconciler) Clusters() []Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clusters := make([]Cluster, len(r.bindings))
	for i, b := range r.bindings {
		clusters[i] = b.Cluster
	}
	return clusters
}
