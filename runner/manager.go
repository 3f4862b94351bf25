package runner

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"web/clustermanager/cluster"
	"web/clustermanager/internal/logger"
	"web/clustermanager/internal/metrics"
)

var (
	ErrClosed        = errors.New("manager is closed")
	ErrNoViewport    = errors.New("a viewport provider is required")
	ErrUnknownMarker = errors.New("unknown marker")
	ErrSuperseded    = errors.New("cycle superseded by a newer one")
)

// Viewport is the visible region of the map and its zoom level. A Bounds
// whose West is greater than its East crosses the antimeridian.
type Viewport struct {
	Bounds cluster.Rect
	Zoom   float64
}

// ViewportProvider is asked for the current viewport once per cluster cycle.
type ViewportProvider interface {
	Viewport() Viewport
}

// RenderSink receives the outcome of every cluster cycle that ran to the end.
// Calls never overlap.
type RenderSink interface {
	Render(cluster.Decision)
}

// RenderFunc adapts a function to RenderSink.
type RenderFunc func(cluster.Decision)

func (f RenderFunc) Render(d cluster.Decision) { f(d) }

// Callbacks receive marker clicks. Markers standing for several items go to
// OnClusterClick, single-item markers to OnItemClick. The returned bool tells
// the caller whether the click was consumed.
type Callbacks interface {
	OnClusterClick(cluster.Cluster) bool
	OnItemClick(cluster.Point) bool
}

type ManagerConfig struct {
	Options   cluster.Options
	Viewport  ViewportProvider
	Sink      RenderSink
	Callbacks Callbacks
	Logger    *slog.Logger
}

// task is a unit of background work occupying one of the manager's slots.
// decision and err are written before done is closed.
type task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	decision cluster.Decision
	err      error
}

// Cycle is a handle on one cluster cycle started by StartCycle.
type Cycle struct {
	t *task
}

// Done is closed once the cycle has rendered, been superseded or failed.
func (c *Cycle) Done() <-chan struct{} {
	return c.t.done
}

// Wait blocks until the cycle ends or ctx is done and returns the decision
// this cycle rendered. A cycle cancelled by a newer one returns
// ErrSuperseded and changed nothing; one cancelled by Close returns
// ErrClosed.
func (c *Cycle) Wait(ctx context.Context) (cluster.Decision, error) {
	select {
	case <-c.t.done:
		return c.t.decision, c.t.err
	case <-ctx.Done():
		return cluster.Decision{}, ctx.Err()
	}
}

// Manager owns an index, the engine clustering it and the displayed marker
// state. Rebuilds and cluster cycles each have a slot: starting new work
// cancels whatever occupies the slot and the new goroutine waits for the old
// one to finish, so at most one of each kind runs at a time and reconciliation
// is never entered concurrently.
type Manager struct {
	index      *cluster.Index
	engine     *cluster.Engine
	reconciler *cluster.Reconciler
	viewport   ViewportProvider
	sink       RenderSink
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	callbacks Callbacks
	rebuild   *task
	cycle     *task
	last      cluster.Decision
	closed    bool
}

// NewManager validates the configuration synchronously; nothing is started
// until the first SetItems or Refresh.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Viewport == nil {
		return nil, ErrNoViewport
	}

	index, err := cluster.NewIndex(cfg.Options.BucketCapacity)
	if err != nil {
		return nil, err
	}
	engine, err := cluster.NewEngine(index, cfg.Options)
	if err != nil {
		return nil, err
	}

	l := cfg.Logger
	if l == nil {
		l = logger.L()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = RenderFunc(func(cluster.Decision) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		index:      index,
		engine:     engine,
		reconciler: cluster.NewReconciler(),
		viewport:   cfg.Viewport,
		sink:       sink,
		callbacks:  cfg.Callbacks,
		logger:     l,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.callbacks = cb
	m.mu.Unlock()
}

// start installs a new task in slot, cancelling the previous occupant. The
// previous task is returned so the new goroutine can wait for it.
func (m *Manager) start(slot **task) (context.Context, *task, *task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, nil, ErrClosed
	}
	prev := *slot
	ctx, cancel := context.WithCancel(m.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	*slot = t
	m.wg.Add(1)

	if prev != nil {
		prev.cancel()
	}
	return ctx, t, prev, nil
}

// SetItems replaces the whole point set in the background and runs a cluster
// cycle once the index is rebuilt. A rebuild still in flight is cancelled and
// its work discarded.
func (m *Manager) SetItems(points []cluster.Point) error {
	points = slices.Clone(points)

	ctx, t, prev, err := m.start(&m.rebuild)
	if err != nil {
		return err
	}

	go func() {
		defer m.wg.Done()
		defer close(t.done)
		defer t.cancel()
		if prev != nil {
			<-prev.done
		}

		start := time.Now()
		dropped, err := m.index.Rebuild(ctx, points)
		if err != nil {
			metrics.RebuildsTotal.WithLabelValues("cancelled").Inc()
			m.logger.Debug("rebuild_cancelled", "points", len(points))
			return
		}

		metrics.RebuildsTotal.WithLabelValues("ok").Inc()
		metrics.RebuildDurationMs.Observe(metrics.Since(start))
		metrics.PointsIndexed.Add(float64(len(points) - dropped))
		metrics.PointsDropped.Add(float64(dropped))
		m.logger.Info("rebuild_done",
			"points", len(points),
			"dropped", dropped,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if err := m.Refresh(); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("refresh_after_rebuild_error", "err", err)
		}
	}()
	return nil
}

// AddItem inserts one point right away. It does not trigger a cluster cycle.
func (m *Manager) AddItem(p cluster.Point) bool {
	ok := m.index.Insert(p)
	if ok {
		metrics.PointsIndexed.Inc()
	} else {
		metrics.PointsDropped.Inc()
		m.logger.Debug("point_dropped", "id", p.ID, "lat", p.Latitude, "lon", p.Longitude)
	}
	return ok
}

// ClearItems empties the index right away. It does not trigger a cluster
// cycle.
func (m *Manager) ClearItems() {
	m.index.Clear()
}

// SetMinClusterSize changes the threshold used from the next cycle on.
func (m *Manager) SetMinClusterSize(n int) error {
	return m.engine.SetMinClusterSize(n)
}

// Refresh starts a cluster cycle for the current viewport, cancelling the
// cycle in flight. This is what a camera-idle event calls.
func (m *Manager) Refresh() error {
	_, err := m.StartCycle()
	return err
}

// StartCycle is Refresh returning a handle on the started cycle, so the
// caller can collect the decision of its own cycle rather than whichever
// finished last.
func (m *Manager) StartCycle() (*Cycle, error) {
	vp := m.viewport.Viewport()

	ctx, t, prev, err := m.start(&m.cycle)
	if err != nil {
		return nil, err
	}

	go func() {
		defer m.wg.Done()
		defer close(t.done)
		defer t.cancel()
		if prev != nil {
			<-prev.done
		}
		t.decision, t.err = m.runCycle(ctx, vp)
	}()
	return &Cycle{t: t}, nil
}

func (m *Manager) runCycle(ctx context.Context, vp Viewport) (cluster.Decision, error) {
	start := time.Now()
	clusters, err := m.engine.Clusters(ctx, vp.Bounds, vp.Zoom)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
			m.logger.Debug("cycle_cancelled", "zoom", vp.Zoom)
			if m.ctx.Err() != nil {
				return cluster.Decision{}, ErrClosed
			}
			return cluster.Decision{}, ErrSuperseded
		}
		metrics.CyclesTotal.WithLabelValues("rejected").Inc()
		m.logger.Warn("cycle_rejected", "zoom", vp.Zoom, "error", err)
		return cluster.Decision{}, err
	}

	// From here on the cycle completes: reconciliation and rendering go
	// together so the marker state never runs ahead of the renderer.
	d := m.reconciler.Reconcile(clusters)
	m.sink.Render(d)

	m.mu.Lock()
	m.last = d
	m.mu.Unlock()

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.CycleDurationMs.Observe(metrics.Since(start))
	metrics.ClustersPerCycle.Observe(float64(len(clusters)))
	metrics.MarkersChanged.WithLabelValues("added").Add(float64(len(d.Added)))
	metrics.MarkersChanged.WithLabelValues("removed").Add(float64(len(d.Removed)))
	m.logger.Debug("cycle_done",
		"zoom", vp.Zoom,
		"clusters", len(clusters),
		"added", len(d.Added),
		"removed", len(d.Removed),
		"unchanged", len(d.Unchanged),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return d, nil
}

// Click routes a click on a displayed marker to the callbacks and returns
// the clicked binding with whether a callback consumed the click.
func (m *Manager) Click(id cluster.MarkerID) (cluster.MarkerBinding, bool, error) {
	b, ok := m.reconciler.Lookup(id)
	if !ok {
		return cluster.MarkerBinding{}, false, ErrUnknownMarker
	}

	m.mu.Lock()
	cb := m.callbacks
	m.mu.Unlock()
	if cb == nil {
		return b, false, nil
	}

	if b.Cluster.Count() > 1 {
		return b, cb.OnClusterClick(b.Cluster), nil
	}
	return b, cb.OnItemClick(b.Cluster.Points[0]), nil
}

// Wait blocks until no rebuild or cluster cycle is in flight, including the
// cycle a finishing rebuild starts.
func (m *Manager) Wait() {
	for {
		m.mu.Lock()
		r, c := m.rebuild, m.cycle
		m.mu.Unlock()

		if r != nil {
			<-r.done
		}
		if c != nil {
			<-c.done
		}

		m.mu.Lock()
		stable := m.rebuild == r && m.cycle == c
		m.mu.Unlock()
		if stable {
			return
		}
	}
}

// LastDecision returns the outcome of the most recent completed cycle.
func (m *Manager) LastDecision() cluster.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Markers returns the displayed markers in creation order.
func (m *Manager) Markers() []cluster.MarkerBinding {
	return m.reconciler.Markers()
}

// Len returns the number of indexed points.
func (m *Manager) Len() int {
	return m.index.Len()
}

// Close cancels all outstanding work and waits for it. Later calls to
// SetItems or Refresh return ErrClosed; Close itself may be called again.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
