// Package authbus fans auth-state events out to subscribed handlers.
// Auth backends embed a Bus to implement ports.AuthBackend.OnAuthStateChange.
package authbus

import (
	"sync"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

// Bus is a synchronous, in-process event fan-out. It is safe for concurrent use.
// Handlers are invoked outside the bus lock, in subscription order.
type Bus struct {
	mu       sync.Mutex
	next     int
	handlers map[int]ports.AuthHandler
	order    []int
	taps     []func(domainauth.Event)
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[int]ports.AuthHandler)}
}

// Subscribe registers h and returns an idempotent unsubscribe function.
func (b *Bus) Subscribe(h ports.AuthHandler) func() {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Tap registers an observer of locally published events only.
// Relays use it to forward events without seeing the ones they deliver.
func (b *Bus) Tap(fn func(domainauth.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

// Publish delivers ev to all handlers and taps.
func (b *Bus) Publish(ev domainauth.Event) {
	handlers, taps := b.snapshot()
	for _, h := range handlers {
		h(ev)
	}
	for _, tap := range taps {
		tap(ev)
	}
}

// Deliver hands ev to handlers without notifying taps.
func (b *Bus) Deliver(ev domainauth.Event) {
	handlers, _ := b.snapshot()
	for _, h := range handlers {
		h(ev)
	}
}

// Len reports the number of subscribed handlers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func (b *Bus) snapshot() ([]ports.AuthHandler, []func(domainauth.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := make([]ports.AuthHandler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	return handlers, append([]func(domainauth.Event){}, b.taps...)
}
