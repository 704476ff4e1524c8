// Package stream fans proximity readings out to remote watchers over gRPC.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 16

// Hub implements proximity.Listener. Each subscriber gets its own buffered
// channel; a subscriber that falls behind loses readings rather than
// stalling the monitor.
type Hub struct {
	buffer int

	mu      sync.RWMutex
	subs    map[string]chan proximity.Reading
	last    proximity.Reading
	hasLast bool
	closed  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub returns a hub with the given per-subscriber buffer (DefaultBuffer
// if buffer <= 0).
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[string]chan proximity.Reading)}
}

// Subscribe registers a new watcher. The latest reading, if any, is queued
// immediately so late joiners see the current distance.
func (h *Hub) Subscribe() (string, <-chan proximity.Reading) {
	id := uuid.NewString()
	ch := make(chan proximity.Reading, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	if h.hasLast {
		ch <- h.last
	}
	h.subs[id] = ch
	monitoring.Logf("stream: watcher %s connected (total: %d)", id, len(h.subs))
	return id, ch
}

// Unsubscribe removes a watcher and closes its channel. Unknown ids are
// ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
	monitoring.Logf("stream: watcher %s disconnected (remaining: %d)", id, len(h.subs))
}

// OnReading publishes r to every watcher without blocking.
func (h *Hub) OnReading(r proximity.Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last, h.hasLast = r, true
	h.published.Add(1)
	for _, ch := range h.subs {
		select {
		case ch <- r:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close disconnects every watcher. Later subscriptions receive a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// HubStats is a point-in-time view of the hub counters.
type HubStats struct {
	Watchers  int    `json:"watchers"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return HubStats{Watchers: n, Published: h.published.Load(), Dropped: h.dropped.Load()}
}
