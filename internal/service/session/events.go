package session

import (
	"context"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/domain/lifecycle"
	"github.com/driptech/admin-session/internal/observability/metrics"
)

// handleEvent is the backend's OnAuthStateChange handler. It may run on any
// goroutine, including synchronously inside a backend call.
func (c *Controller) handleEvent(ev domainauth.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	c.logger.DebugContext(ctx, "auth event", "kind", ev.Kind)
	metrics.EmitSession(c.metrics, metrics.SessionMetric{
		Event: metrics.EventBackend, Result: metrics.ResultSuccess, Detail: string(ev.Kind),
	})

	switch ev.Kind {
	case domainauth.EventSignedIn, domainauth.EventUserUpdated:
		c.mu.Lock()
		epoch, pending, closed := c.machine.Epoch, c.machine.PendingLogins > 0, c.closed
		c.mu.Unlock()
		if closed || (ev.Kind == domainauth.EventSignedIn && pending) {
			// The in-flight Login resolves its own principal.
			return
		}

		kind := lifecycle.InputSignedIn
		if ev.Kind == domainauth.EventUserUpdated {
			kind = lifecycle.InputUserUpdated
		}
		p := c.resolvePrincipal(ctx, ev.Session)
		res, ok := c.applyAt(ctx, epoch, lifecycle.Input{Kind: kind, Principal: p})
		if ok && res.Applied && !res.Machine.Phase.Active() {
			c.logger.WarnContext(ctx, "backend principal lacks admin role; signed out", "kind", ev.Kind)
		}
	case domainauth.EventSignedOut:
		c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputSignedOut})
	case domainauth.EventTokenRefreshed:
		c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputTokenRefreshed})
	default:
		// INITIAL_SESSION: Start restores the session itself.
	}
}

// applyAt applies in only if no operation advanced the epoch since it was captured.
func (c *Controller) applyAt(ctx context.Context, epoch uint64, in lifecycle.Input) (lifecycle.Result, bool) {
	c.mu.Lock()
	if c.machine.Epoch != epoch {
		m := c.machine
		c.mu.Unlock()
		return lifecycle.Result{Machine: m}, false
	}
	res, deferred := c.step(in)
	c.mu.Unlock()

	c.run(ctx, deferred)
	return res, true
}
