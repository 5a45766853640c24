// Package events fans checkout operation events out to observers, with
// a bounded replay buffer so a late-attaching inspector still sees
// recent activity.
package events

import (
	"log/slog"
	"sync"

	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
)

const bufferSize = 100

// Hub implements checkout.EventSink. Publish never blocks: slow
// subscribers drop events rather than stalling checkout operations.
type Hub struct {
	mu     sync.RWMutex
	ring   []checkout.Event
	next   int
	full   bool
	subs   map[int]chan checkout.Event
	nextID int
	logger *slog.Logger
}

// NewHub creates a hub with an empty replay buffer.
func NewHub() *Hub {
	return &Hub{
		ring:   make([]checkout.Event, bufferSize),
		subs:   make(map[int]chan checkout.Event),
		logger: slog.Default().With("component", "events"),
	}
}

// Publish implements checkout.EventSink.
func (h *Hub) Publish(ev checkout.Event) {
	h.mu.Lock()
	h.ring[h.next] = ev
	h.next = (h.next + 1) % bufferSize
	if h.next == 0 {
		h.full = true
	}
	subs := make([]chan checkout.Event, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("subscriber lagging, event dropped",
				"op", ev.Op, "session_id", ev.SessionID)
		}
	}
}

// Recent returns buffered events, oldest first.
func (h *Hub) Recent() []checkout.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]checkout.Event, h.next)
		copy(out, h.ring[:h.next])
		return out
	}
	out := make([]checkout.Event, 0, bufferSize)
	out = append(out, h.ring[h.next:]...)
	out = append(out, h.ring[:h.next]...)
	return out
}

// Subscribe registers a live event channel. The returned cancel
// function unregisters and closes it.
func (h *Hub) Subscribe() (<-chan checkout.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan checkout.Event, 16)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}
