package runner

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"web/clustermanager/cluster"
	"web/clustermanager/internal/logger"
	"web/clustermanager/internal/metrics"
)

var ErrRegistryClosed = errors.New("registry is closed")

// Session is one client's clustering state: a manager, the viewport the
// client last reported and the feed its renders go to.
type Session struct {
	ID       string
	Manager  *Manager
	Viewport *ViewportHolder
	Feed     *Feed
	Created  time.Time
}

func (s *Session) close() {
	s.Manager.Close()
	s.Feed.Close()
}

type SessionInfo struct {
	ID           string    `json:"id"`
	NumPoints    int       `json:"numPoints"`
	NumMarkers   int       `json:"numMarkers"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"lastAccessed"`
}

type RegistryConfig struct {
	Options         cluster.Options
	MaxSessions     int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// Registry keeps the live sessions. When full, creating a session evicts the
// least recently used one; sessions idle for longer than IdleTimeout are
// closed by a background sweep.
type Registry struct {
	sessions     map[string]*Session
	lastAccessed map[string]time.Time
	sessionLock  sync.RWMutex
	maxSessions  int
	idleTimeout  time.Duration
	opts         cluster.Options
	logger       *slog.Logger
	closed       bool

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewRegistry validates the cluster options up front, so a bad configuration
// fails here rather than on the first session.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSessions <= 0 {
		return nil, errors.New("max sessions must be a positive integer")
	}

	l := cfg.Logger
	if l == nil {
		l = logger.L()
	}

	r := &Registry{
		sessions:     make(map[string]*Session),
		lastAccessed: make(map[string]time.Time),
		maxSessions:  cfg.MaxSessions,
		idleTimeout:  cfg.IdleTimeout,
		opts:         cfg.Options,
		logger:       l,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		now:          time.Now,
	}

	if cfg.CleanupInterval > 0 && cfg.IdleTimeout > 0 {
		go r.cleanupInactiveSessions(cfg.CleanupInterval)
	} else {
		close(r.done)
	}
	return r, nil
}

// Create opens a new session with its own manager.
func (r *Registry) Create() (*Session, error) {
	holder := NewViewportHolder()
	feed := NewFeed()
	m, err := NewManager(ManagerConfig{
		Options:  r.opts,
		Viewport: holder,
		Sink:     feed,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:       uuid.New().String(),
		Manager:  m,
		Viewport: holder,
		Feed:     feed,
		Created:  r.now(),
	}

	r.sessionLock.Lock()
	if r.closed {
		r.sessionLock.Unlock()
		s.close()
		return nil, ErrRegistryClosed
	}

	var evicted *Session
	if len(r.sessions) >= r.maxSessions {
		evicted = r.removeLocked(r.oldestLocked())
	}
	r.sessions[s.ID] = s
	r.lastAccessed[s.ID] = s.Created
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.sessionLock.Unlock()

	if evicted != nil {
		evicted.close()
		metrics.SessionsEvicted.WithLabelValues("lru").Inc()
		r.logger.Info("session_evicted", "id", evicted.ID, "reason", "lru")
	}
	r.logger.Info("session_created", "id", s.ID)
	return s, nil
}

// Get returns a session and marks it as used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.sessionLock.Lock()
	defer r.sessionLock.Unlock()

	s, ok := r.sessions[id]
	if ok {
		r.lastAccessed[id] = r.now()
	}
	return s, ok
}

// Delete closes and forgets a session.
func (r *Registry) Delete(id string) bool {
	r.sessionLock.Lock()
	s := r.removeLocked(id)
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.sessionLock.Unlock()

	if s == nil {
		return false
	}
	s.close()
	r.logger.Info("session_deleted", "id", id)
	return true
}

func (r *Registry) Len() int {
	r.sessionLock.RLock()
	defer r.sessionLock.RUnlock()
	return len(r.sessions)
}

// List describes the live sessions, oldest first.
func (r *Registry) List() []SessionInfo {
	r.sessionLock.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		infos = append(infos, SessionInfo{ID: id, Created: s.Created, LastAccessed: r.lastAccessed[id]})
		sessions = append(sessions, s)
	}
	r.sessionLock.RUnlock()

	for i, s := range sessions {
		infos[i].NumPoints = s.Manager.Len()
		infos[i].NumMarkers = len(s.Manager.Markers())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Created.Before(infos[j].Created) })
	return infos
}

func (r *Registry) oldestLocked() string {
	var oldestID string
	var oldestTime time.Time
	first := true

	for id, accessTime := range r.lastAccessed {
		if first || accessTime.Before(oldestTime) {
			oldestID = id
			oldestTime = accessTime
			first = false
		}
	}
	return oldestID
}

func (r *Registry) removeLocked(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	delete(r.lastAccessed, id)
	return s
}

func (r *Registry) cleanupInactiveSessions(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stop:
			return
		}
	}
}

// evictIdle closes every session not used for longer than the idle timeout.
func (r *Registry) evictIdle() int {
	r.sessionLock.Lock()
	now := r.now()
	var toRemove []*Session
	for id, lastAccess := range r.lastAccessed {
		if now.Sub(lastAccess) > r.idleTimeout {
			toRemove = append(toRemove, r.sessions[id])
		}
	}
	for _, s := range toRemove {
		r.removeLocked(s.ID)
	}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.sessionLock.Unlock()

	for _, s := range toRemove {
		s.close()
		metrics.SessionsEvicted.WithLabelValues("idle").Inc()
		r.logger.Info("session_evicted", "id", s.ID, "reason", "idle")
	}
	return len(toRemove)
}

// Close stops the idle sweep and closes every session.
func (r *Registry) Close() {
	r.sessionLock.Lock()
	if r.closed {
		r.sessionLock.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		r.removeLocked(id)
	}
	metrics.SessionsActive.Set(0)
	r.sessionLock.Unlock()

	close(r.stop)
	<-r.done
	for _, s := range sessions {
		s.close()
	}
}
