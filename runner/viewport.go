package runner

import (
	"sync"

	"web/clustermanager/cluster"
)

// ViewportHolder is a ViewportProvider whose value is pushed by the client,
// e.g. on every camera-idle request.
type ViewportHolder struct {
	mu sync.RWMutex
	vp Viewport
}

// NewViewportHolder starts out showing the whole world at zoom 0.
func NewViewportHolder() *ViewportHolder {
	return &ViewportHolder{vp: Viewport{Bounds: cluster.World()}}
}

func (h *ViewportHolder) Set(vp Viewport) {
	h.mu.Lock()
	h.vp = vp
	h.mu.Unlock()
}

func (h *ViewportHolder) Viewport() Viewport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.vp
}
