// Package clock adapts clockwork clocks to ports.Clock: the wall clock for
// production and a manually advanced clock for deterministic tests.
package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/driptech/admin-session/internal/ports"
)

var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)

var wall = clockwork.NewRealClock()

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return wall.Now() }

func (Real) AfterFunc(d time.Duration, f func()) ports.Timer { return wall.AfterFunc(d, f) }

// Fake is a clockwork fake clock that only moves when Advance is called.
// Timer callbacks run on the goroutine calling Advance, one at a time, in
// deadline order, with the clock set to each timer's deadline.
type Fake struct {
	fc *clockwork.FakeClock

	mu      sync.Mutex
	seq     int
	pending []*fakeTimer
}

type fakeTimer struct {
	clock *Fake
	inner clockwork.Timer
	when  time.Time
	seq   int
	fn    func()
	fired chan struct{}
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{fc: clockwork.NewFakeClockAt(start)}
}

func (c *Fake) Now() time.Time { return c.fc.Now() }

func (c *Fake) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, when: c.fc.Now().Add(d), seq: c.seq, fn: f, fired: make(chan struct{})}
	// clockwork only signals expiry; Advance runs fn so callbacks never overlap.
	t.inner = c.fc.AfterFunc(d, func() { close(t.fired) })
	c.pending = append(c.pending, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due,
// including timers scheduled by callbacks along the way.
func (c *Fake) Advance(d time.Duration) {
	target := c.fc.Now().Add(d)
	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		if step := t.when.Sub(c.fc.Now()); step > 0 {
			c.fc.Advance(step)
		}
		<-t.fired
		t.fn()
	}
	if rest := target.Sub(c.fc.Now()); rest > 0 {
		c.fc.Advance(rest)
	}
}

// Pending returns the number of live timers.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// nextDue pops the earliest live timer due at or before target.
func (c *Fake) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	sort.SliceStable(c.pending, func(i, j int) bool {
		if c.pending[i].when.Equal(c.pending[j].when) {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].when.Before(c.pending[j].when)
	})
	t := c.pending[0]
	if t.when.After(target) {
		return nil
	}
	c.pending = c.pending[1:]
	return t
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.pending {
		if other == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			t.inner.Stop()
			return true
		}
	}
	return false
}
