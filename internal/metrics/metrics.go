package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000}

var (
	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clustermanager_rebuilds_total",
		Help: "Index rebuilds by outcome (ok, cancelled)",
	}, []string{"status"})
	RebuildDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clustermanager_rebuild_duration_ms",
		Help:    "Index rebuild duration in milliseconds",
		Buckets: durationBuckets,
	})
	PointsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clustermanager_points_indexed_total",
		Help: "Points accepted by the spatial index",
	})
	PointsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clustermanager_points_dropped_total",
		Help: "Points dropped for lying outside the world rectangle",
	})
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clustermanager_cycles_total",
		Help: "Cluster-and-render cycles by outcome (ok, cancelled)",
	}, []string{"status"})
	CycleDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clustermanager_cycle_duration_ms",
		Help:    "Cluster-and-render cycle duration in milliseconds",
		Buckets: durationBuckets,
	})
	ClustersPerCycle = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clustermanager_clusters_per_cycle",
		Help:    "Clusters produced by one cycle",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	MarkersChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clustermanager_markers_changed_total",
		Help: "Markers added or removed by reconciliation",
	}, []string{"change"})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clustermanager_sessions_active",
		Help: "Live clustering sessions",
	})
	SessionsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clustermanager_sessions_evicted_total",
		Help: "Sessions closed by the registry (lru, idle)",
	}, []string{"reason"})
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clustermanager_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	RequestDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clustermanager_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"route"})
)

// Since returns the milliseconds elapsed since start, for the histograms above.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// Middleware counts requests per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDurationMs.WithLabelValues(route).Observe(Since(start))
	}
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
