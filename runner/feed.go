package runner

import (
	"sync"

	"web/clustermanager/cluster"
)

const feedBuffer = 16

// Feed is a RenderSink fanning decisions out to subscribers. A subscriber
// that falls feedBuffer decisions behind is dropped and its channel closed;
// it has to resync from the full marker set.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan cluster.Decision
	nextID int
	closed bool
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan cluster.Decision)}
}

// Subscribe returns a channel of decisions and a function ending the
// subscription. On a closed feed the channel is already closed.
func (f *Feed) Subscribe() (<-chan cluster.Decision, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan cluster.Decision, feedBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	return ch, func() { f.unsubscribe(id) }
}

func (f *Feed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

func (f *Feed) Render(d cluster.Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subs {
		select {
		case ch <- d:
		default:
			close(ch)
			delete(f.subs, id)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}
