// Package api exposes cluster sessions over HTTP and websockets.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"web/clustermanager/cluster"
	"web/clustermanager/internal/logger"
	"web/clustermanager/internal/metrics"
	"web/clustermanager/runner"
)

const maxGeneratedPoints = 1_000_000

type Config struct {
	Registry *runner.Registry
	Logger   *slog.Logger
	APIBase  string
	// DefaultPoints seed every new session.
	DefaultPoints []cluster.Point
	// MaxTiles caps the tiles one viewport may span; zero means
	// cluster.DefaultMaxTiles.
	MaxTiles int
}

type Server struct {
	registry *runner.Registry
	logger   *slog.Logger
	apiBase  string
	defaults []cluster.Point
	maxTiles int64
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	l := cfg.Logger
	if l == nil {
		l = logger.L()
	}
	base := cfg.APIBase
	if base == "" {
		base = "/api"
	}
	if cfg.MaxTiles < 0 {
		return nil, cluster.ErrInvalidMaxTiles
	}
	maxTiles := int64(cfg.MaxTiles)
	if maxTiles == 0 {
		maxTiles = cluster.DefaultMaxTiles
	}
	return &Server{
		registry: cfg.Registry,
		logger:   l,
		apiBase:  base,
		defaults: cfg.DefaultPoints,
		maxTiles: maxTiles,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// CORS is open on every route, so the stream is too.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.AccessMiddleware(s.logger), metrics.Middleware(), cors())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group(s.apiBase)
	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.DELETE("/sessions/:id", s.deleteSession)

	sess := api.Group("/sessions/:id", s.requireSession)
	sess.PUT("/points", s.setPoints)
	sess.DELETE("/points", s.clearPoints)
	sess.POST("/points/item", s.addPoint)
	sess.POST("/points/generate", s.generatePoints)
	sess.PUT("/min-cluster-size", s.setMinClusterSize)
	sess.POST("/viewport", s.setViewport)
	sess.GET("/clusters", s.clusters)
	sess.GET("/summary", s.summary)
	sess.POST("/markers/:marker/click", s.click)
	sess.GET("/ws", s.stream)
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.registry.Len()})
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.List()})
}

func (s *Server) createSession(c *gin.Context) {
	sess, err := s.registry.Create()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	sess.Manager.SetCallbacks(zoomOnCluster{})

	if len(s.defaults) > 0 {
		if err := sess.Manager.SetItems(s.defaults); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load default points"})
			return
		}
	}

	s.logger.Info("session_created", "session", sess.ID, "points", len(s.defaults))
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID, "created": sess.Created})
}

func (s *Server) deleteSession(c *gin.Context) {
	if !s.registry.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

// requireSession resolves :id and stores the session for the handlers below.
func (s *Server) requireSession(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.Set("session", sess)
	c.Next()
}

func session(c *gin.Context) *runner.Session {
	return c.MustGet("session").(*runner.Session)
}

// managerError maps a manager error to a response.
func managerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, runner.ErrClosed):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, cluster.ErrInvalidMinClusterSize), errors.Is(err, cluster.ErrTooManyTiles):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// decodePoints accepts either a GeoJSON FeatureCollection or a JSON array of
// points.
func decodePoints(data []byte) ([]cluster.Point, error) {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &head) == nil && head.Type == "FeatureCollection" {
		return cluster.PointsFromGeoJSON(data)
	}

	var reqs []pointRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("invalid points: %w", err)
	}
	points := make([]cluster.Point, 0, len(reqs))
	for i, req := range reqs {
		p, ok := req.point()
		if !ok {
			return nil, fmt.Errorf("point %d is missing coordinates", i)
		}
		if p.ID == "" {
			p.ID = strconv.Itoa(i)
		}
		points = append(points, p)
	}
	return points, nil
}

func (s *Server) setPoints(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	points, err := decodePoints(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := session(c).Manager.SetItems(points); err != nil {
		managerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Points accepted", "numPoints": len(points)})
}

func (s *Server) clearPoints(c *gin.Context) {
	session(c).Manager.ClearItems()
	c.JSON(http.StatusOK, gin.H{"message": "Points cleared"})
}

func (s *Server) addPoint(c *gin.Context) {
	var req pointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	p, ok := req.point()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Point is missing coordinates"})
		return
	}

	m := session(c).Manager
	added := m.AddItem(p)
	c.JSON(http.StatusOK, gin.H{"added": added, "numPoints": m.Len()})
}

func (s *Server) generatePoints(c *gin.Context) {
	var req struct {
		NumPoints int   `json:"numPoints" binding:"required,min=1"`
		Seed      int64 `json:"seed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.NumPoints > maxGeneratedPoints {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("numPoints must be at most %d", maxGeneratedPoints)})
		return
	}

	points := cluster.GenerateTestPoints(req.NumPoints, cluster.World(), req.Seed)
	if err := session(c).Manager.SetItems(points); err != nil {
		managerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Points generated", "numPoints": len(points)})
}

func (s *Server) setMinClusterSize(c *gin.Context) {
	var req struct {
		MinClusterSize int `json:"minClusterSize"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := session(c).Manager.SetMinClusterSize(req.MinClusterSize); err != nil {
		managerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minClusterSize": req.MinClusterSize})
}

func parseFloatParam(c *gin.Context, name string) (float64, error) {
	v, err := strconv.ParseFloat(c.Query(name), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("Invalid %s parameter", name)
	}
	return v, nil
}

// getViewportFromQuery reads north, west, south, east and zoom.
func (s *Server) getViewportFromQuery(c *gin.Context) (runner.Viewport, error) {
	var vals [5]float64
	for i, name := range []string{"north", "west", "south", "east", "zoom"} {
		v, err := parseFloatParam(c, name)
		if err != nil {
			return runner.Viewport{}, err
		}
		vals[i] = v
	}
	vp := runner.Viewport{
		Bounds: cluster.Rect{North: vals[0], West: vals[1], South: vals[2], East: vals[3]},
		Zoom:   vals[4],
	}
	return vp, s.validateViewport(vp)
}

// validateViewport rejects bounds off the map and viewports spanning more
// tiles than the budget. West may exceed east when the viewport straddles
// the antimeridian.
func (s *Server) validateViewport(vp runner.Viewport) error {
	b := vp.Bounds
	switch {
	case b.North > 90 || b.South < -90:
		return errors.New("latitude must be within [-90, 90]")
	case b.South > b.North:
		return errors.New("south must not exceed north")
	case b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180:
		return errors.New("longitude must be within [-180, 180]")
	case vp.Zoom < 0:
		return errors.New("zoom must not be negative")
	}
	if n := cluster.CountTiles(b, vp.Zoom); n > s.maxTiles {
		return fmt.Errorf("viewport spans %d tiles, at most %d", n, s.maxTiles)
	}
	return nil
}

// setViewport answers with the decision of the cycle this request started.
// When a newer viewport supersedes it first the response says so and carries
// no changes; the newer request reports them instead.
func (s *Server) setViewport(c *gin.Context) {
	vp, err := s.getViewportFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := session(c)
	sess.Viewport.Set(vp)
	cycle, err := sess.Manager.StartCycle()
	if err != nil {
		managerError(c, err)
		return
	}

	d, err := cycle.Wait(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newDecisionResponse(d))
	case errors.Is(err, runner.ErrSuperseded):
		c.JSON(http.StatusOK, supersededResponse())
	case c.Request.Context().Err() != nil:
		s.logger.Debug("viewport_abandoned", "session", sess.ID)
	default:
		managerError(c, err)
	}
}

func (s *Server) clusters(c *gin.Context) {
	c.JSON(http.StatusOK, cluster.MarkersToGeoJSON(session(c).Manager.Markers()))
}

func (s *Server) summary(c *gin.Context) {
	markers := session(c).Manager.Markers()
	clusters := make([]cluster.Cluster, len(markers))
	for i, b := range markers {
		clusters[i] = b.Cluster
	}
	c.JSON(http.StatusOK, cluster.Summarize(clusters))
}

func (s *Server) click(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("marker"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid marker parameter"})
		return
	}

	b, handled, err := session(c).Manager.Click(cluster.MarkerID(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Marker not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"handled": handled,
		"marker":  newMarkerJSON(b.Cluster, b.Marker, nil),
	})
}

// zoomOnCluster handles cluster clicks by letting the client zoom into the
// cluster bounds; item clicks fall through to the client's info window.
type zoomOnCluster struct{}

func (zoomOnCluster) OnClusterClick(cluster.Cluster) bool { return true }

func (zoomOnCluster) OnItemClick(cluster.Point) bool { return false }
