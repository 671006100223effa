package session

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/driptech/admin-session/internal/ports"
)

// timerSet owns every timer the controller creates. cancelAll bumps gen so a
// callback that raced with Stop can recognise itself as stale.
type timerSet struct {
	gen        uint64
	preWarning ports.Timer
	ticker     ports.Timer
	deadline   ports.Timer
}

func (t *timerSet) cancelAll() {
	for _, tm := range []ports.Timer{t.preWarning, t.ticker, t.deadline} {
		if tm != nil {
			tm.Stop()
		}
	}
	t.preWarning, t.ticker, t.deadline = nil, nil, nil
	t.gen++
}

func (t *timerSet) live() int {
	n := 0
	for _, tm := range []ports.Timer{t.preWarning, t.ticker, t.deadline} {
		if tm != nil {
			n++
		}
	}
	return n
}

// activityGate throttles user activity: nothing is accepted during the grace
// period after attach, then at most one event per throttle window.
type activityGate struct {
	throttle time.Duration
	grace    time.Duration

	attached   bool
	graceUntil time.Time
	last       time.Time
	limiter    *rate.Limiter
}

func newActivityGate(throttle, grace time.Duration) activityGate {
	return activityGate{throttle: throttle, grace: grace}
}

func (g *activityGate) attach(now time.Time) {
	g.attached = true
	g.graceUntil = now.Add(g.grace)
	g.touch(now)
}

func (g *activityGate) detach() {
	g.attached = false
	g.limiter = nil
}

// touch records activity at now and restarts the throttle window.
func (g *activityGate) touch(now time.Time) {
	limit := rate.Inf
	if g.throttle > 0 {
		limit = rate.Every(g.throttle)
	}
	g.limiter = rate.NewLimiter(limit, 1)
	g.limiter.AllowN(now, 1)
	g.last = now
}

func (g *activityGate) allow(now time.Time) bool {
	if !g.attached || g.limiter == nil || now.Before(g.graceUntil) {
		return false
	}
	if !g.limiter.AllowN(now, 1) {
		return false
	}
	g.last = now
	return true
}
