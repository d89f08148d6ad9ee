// Package events fans order lifecycle events out to live subscribers such as
// the admin Server-Sent Events stream.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderCreated Type = "order.created"
	OrderPaid    Type = "order.paid"
	OrderFailed  Type = "order.failed"
)

type Event struct {
	Type    Type      `json:"type"`
	OrderID string    `json:"orderId"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// Subscription receives events on C until it is unregistered, its context
// ends, or it falls behind and is dropped. C is closed in every case.
type Subscription struct {
	ID string
	C  <-chan Event

	ch   chan Event
	done chan struct{}
}

// Hub is an explicit registry of subscribers. Create one per process and pass
// it to whoever publishes or subscribes.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[string]*Subscription), buffer: buffer}
}

// Register adds a subscriber that is removed automatically when ctx ends.
func (h *Hub) Register(ctx context.Context) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		close(sub.done)
		return sub
	}
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.Unregister(sub)
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Unregister removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub.ID)
}

// Broadcast delivers e to every subscriber without blocking. A subscriber
// whose buffer is full is dropped.
func (h *Hub) Broadcast(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			h.remove(id)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unregisters every subscriber. Later registrations get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.subs {
		h.remove(id)
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(id string) {
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
		close(sub.done)
	}
}
