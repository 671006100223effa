package notify

import (
	"context"
	"sync"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.Notifier = (*Hub)(nil)

const hubBuffer = 16

// Hub broadcasts notifications to live subscribers such as SSE streams.
// A subscriber that falls behind loses its oldest pending notification; Notify never blocks.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan domainauth.Notification]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan domainauth.Notification]struct{})}
}

// Subscribe returns a channel of notifications and a function that ends the subscription.
func (h *Hub) Subscribe() (<-chan domainauth.Notification, func()) {
	ch := make(chan domainauth.Notification, hubBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *Hub) Notify(_ context.Context, n domainauth.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
			// Drop the oldest to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
