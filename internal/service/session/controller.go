// Package session hosts the admin SessionLifecycleController: it restores the
// persisted session, tracks idle time, runs the warning countdown and forces
// logout, driving the pure lifecycle machine with real timers and backend calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/driptech/admin-session/internal/adapters/clock"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/domain/lifecycle"
	apperrors "github.com/driptech/admin-session/internal/errors"
	"github.com/driptech/admin-session/internal/observability/metrics"
	"github.com/driptech/admin-session/internal/observability/statsd"
	"github.com/driptech/admin-session/internal/ports"
)

// callbackTimeout bounds backend calls made from timer callbacks and backend events.
const callbackTimeout = 10 * time.Second

// Timings are the idle-tracking durations.
type Timings struct {
	IdleTimeout      time.Duration
	WarningWindow    time.Duration
	ActivityThrottle time.Duration
	ActivityGrace    time.Duration
	RoleLookup       time.Duration
}

// DefaultTimings returns a 30 minute idle timeout with a 5 minute warning.
func DefaultTimings() Timings {
	return Timings{
		IdleTimeout:      30 * time.Minute,
		WarningWindow:    5 * time.Minute,
		ActivityThrottle: 60 * time.Second,
		ActivityGrace:    5 * time.Second,
		RoleLookup:       5 * time.Second,
	}
}

// PreWarning is the inactivity after which the warning countdown starts.
func (t Timings) PreWarning() time.Duration { return t.IdleTimeout - t.WarningWindow }

// WarningSeconds is the countdown start value.
func (t Timings) WarningSeconds() int { return int(t.WarningWindow / time.Second) }

func (t Timings) validate() error {
	var errs []error
	if t.WarningWindow < time.Second || t.WarningWindow%time.Second != 0 {
		errs = append(errs, fmt.Errorf("warning window %s must be a whole number of seconds", t.WarningWindow))
	}
	if t.IdleTimeout <= t.WarningWindow {
		errs = append(errs, fmt.Errorf("idle timeout %s must exceed warning window %s", t.IdleTimeout, t.WarningWindow))
	}
	if t.ActivityThrottle < 0 || t.ActivityGrace < 0 {
		errs = append(errs, errors.New("activity throttle and grace must not be negative"))
	}
	return errors.Join(errs...)
}

// Options groups dependencies for Controller.
type Options struct {
	Backend  ports.AuthBackend
	Roles    ports.RoleResolver
	Notifier ports.Notifier
	Clock    ports.Clock
	Timings  Timings
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

var _ ports.SessionController = (*Controller)(nil)

// Controller is the single per-process owner of the admin session state.
// All methods are safe for concurrent use.
type Controller struct {
	backend  ports.AuthBackend
	roles    ports.RoleResolver
	notifier ports.Notifier
	clock    ports.Clock
	timings  Timings
	logger   *slog.Logger
	metrics  statsd.Sink

	refreshes singleflight.Group

	mu          sync.Mutex
	machine     lifecycle.Machine
	timers      timerSet
	activity    activityGate
	idleAt      time.Time
	subs        map[int]chan domainauth.State
	nextSub     int
	unsubscribe func()
	closed      bool
}

// NewController validates opts and returns a controller in the bootstrapping state.
// Call Start to restore the session.
func NewController(opts Options) (*Controller, error) {
	if opts.Backend == nil {
		return nil, errors.New("session controller: auth backend is required")
	}
	if opts.Roles == nil {
		return nil, errors.New("session controller: role resolver is required")
	}
	t := opts.Timings
	if t == (Timings{}) {
		t = DefaultTimings()
	}
	if t.RoleLookup <= 0 {
		t.RoleLookup = DefaultTimings().RoleLookup
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("session controller: %w", err)
	}

	c := &Controller{
		backend:  opts.Backend,
		roles:    opts.Roles,
		notifier: opts.Notifier,
		clock:    opts.Clock,
		timings:  t,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		machine:  lifecycle.New(),
		activity: newActivityGate(t.ActivityThrottle, t.ActivityGrace),
		subs:     make(map[int]chan domainauth.State),
	}
	if c.notifier == nil {
		c.notifier = ports.NotifierFunc(nil)
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "session")
	return c, nil
}

// Timings returns the effective idle-tracking durations.
func (c *Controller) Timings() Timings { return c.timings }

// Start subscribes to backend auth events and bootstraps from any persisted
// session. It returns once bootstrap has settled.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.unsubscribe == nil {
		c.unsubscribe = c.backend.OnAuthStateChange(c.handleEvent)
	}
	c.mu.Unlock()

	c.bootstrap(ctx)
}

// Close cancels every timer, unsubscribes from the backend and closes all
// state subscriptions. In-flight operations complete but their results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.step(lifecycle.Input{Kind: lifecycle.InputTeardown})
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Controller) bootstrap(ctx context.Context) {
	started := c.clock.Now()
	epoch := c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputBootstrapStarted}).Machine.Epoch
	at := func(kind lifecycle.InputKind, p *domainauth.Principal) lifecycle.Input {
		return lifecycle.Input{Kind: kind, Principal: p, Epoch: epoch}
	}
	emit := func(result string, err error) {
		metrics.EmitSession(c.metrics, metrics.SessionMetric{
			Event: metrics.EventBootstrap, Result: result, Duration: c.clock.Now().Sub(started), Err: err,
		})
	}

	sess, err := c.backend.CurrentSession(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "load persisted session failed; starting signed out", "error", err)
		c.apply(ctx, at(lifecycle.InputNoSession, nil))
		emit(metrics.ResultError, err)
		return
	}
	if sess == nil {
		c.apply(ctx, at(lifecycle.InputNoSession, nil))
		emit(metrics.ResultNoop, nil)
		return
	}

	if !sess.Valid(c.clock.Now()) {
		c.logger.InfoContext(ctx, "persisted session expired; refreshing", "user_id", sess.UserID)
		refreshed, rerr := c.backend.RefreshSession(ctx)
		if rerr == nil && refreshed == nil {
			rerr = apperrors.Expired("No session returned by refresh.")
		}
		if rerr != nil {
			c.logger.WarnContext(ctx, "bootstrap refresh failed", "user_id", sess.UserID, "error", rerr)
			c.apply(ctx, at(lifecycle.InputSessionExpired, nil))
			emit(metrics.ResultError, rerr)
			return
		}
		p := c.resolvePrincipal(ctx, refreshed)
		if p == nil {
			c.apply(ctx, at(lifecycle.InputSessionExpired, nil))
			emit(metrics.ResultDenied, nil)
			return
		}
		c.apply(ctx, at(lifecycle.InputSessionResolved, p))
		emit(metrics.ResultSuccess, nil)
		return
	}

	if p := c.resolvePrincipal(ctx, sess); p != nil {
		c.apply(ctx, at(lifecycle.InputSessionResolved, p))
		emit(metrics.ResultSuccess, nil)
		return
	}
	c.apply(ctx, at(lifecycle.InputSessionDenied, nil))
	emit(metrics.ResultDenied, nil)
}

// Login signs in with email and password. It returns true only when the
// principal holds a privileged role and the attempt was not superseded by a logout.
func (c *Controller) Login(ctx context.Context, email, password string) bool {
	started := c.clock.Now()
	epoch := c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputLoginStarted}).Machine.LoginEpoch
	emit := func(result string, err error) {
		metrics.EmitSession(c.metrics, metrics.SessionMetric{
			Event: metrics.EventLogin, Result: result, Duration: c.clock.Now().Sub(started), Err: err,
		})
	}

	email = strings.TrimSpace(email)
	var (
		sess *domainauth.Session
		err  error
	)
	if email == "" || password == "" {
		err = apperrors.Validation("Email and password are required.")
	} else {
		sess, err = c.backend.SignInWithPassword(ctx, email, password)
		if err == nil && sess == nil {
			err = apperrors.New(apperrors.ErrCodeInternal, "Sign-in returned no session.")
		}
	}
	if err != nil {
		c.logger.WarnContext(ctx, "login failed", "email", email, "error", err)
		c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputLoginFailed, Message: apperrors.UserMessage(err), Epoch: epoch})
		emit(metrics.ResultError, err)
		return false
	}

	p := c.resolvePrincipal(ctx, sess)
	if p == nil {
		c.logger.WarnContext(ctx, "login denied: no privileged role", "user_id", sess.UserID)
		c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputLoginDenied, Epoch: epoch})
		emit(metrics.ResultDenied, nil)
		return false
	}

	res := c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputLoginSucceeded, Principal: p, Epoch: epoch})
	if !res.Applied {
		c.logger.InfoContext(ctx, "login result discarded; a logout won", "user_id", p.ID)
		emit(metrics.ResultStale, nil)
		return false
	}
	c.logger.InfoContext(ctx, "admin signed in", "user_id", p.ID, "role", p.Role)
	emit(metrics.ResultSuccess, nil)
	return res.Machine.Phase.Active()
}

// Logout clears local state and signs out of the backend. It is idempotent and
// never leaves the session looking authenticated, even when sign-out fails.
func (c *Controller) Logout(ctx context.Context) {
	res := c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputLogout})
	c.logger.InfoContext(ctx, "logout", "epoch", res.Machine.Epoch)
	metrics.EmitSession(c.metrics, metrics.SessionMetric{Event: metrics.EventLogout, Result: metrics.ResultSuccess})
}

// RefreshSession exchanges the refresh token for a new session. Concurrent
// callers share one backend call. Failure leaves the session expired; a
// non-privileged refreshed principal only fails the call.
func (c *Controller) RefreshSession(ctx context.Context) bool {
	v, _, _ := c.refreshes.Do("refresh", func() (any, error) {
		return c.refresh(ctx), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (c *Controller) refresh(ctx context.Context) bool {
	started := c.clock.Now()
	epoch := c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputRefreshStarted}).Machine.Epoch
	emit := func(result string, err error) {
		metrics.EmitSession(c.metrics, metrics.SessionMetric{
			Event: metrics.EventRefresh, Result: result, Duration: c.clock.Now().Sub(started), Err: err,
		})
	}

	sess, err := c.backend.RefreshSession(ctx)
	if err == nil && sess == nil {
		err = apperrors.Expired("No session returned by refresh.")
	}
	if err != nil {
		c.logger.WarnContext(ctx, "session refresh failed", "error", err)
		c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputRefreshFailed, Epoch: epoch})
		emit(metrics.ResultError, err)
		return false
	}

	p := c.resolvePrincipal(ctx, sess)
	if p == nil {
		c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputRefreshDenied, Epoch: epoch})
		emit(metrics.ResultDenied, nil)
		return false
	}
	res := c.apply(ctx, lifecycle.Input{Kind: lifecycle.InputRefreshSucceeded, Principal: p, Epoch: epoch})
	if !res.Applied {
		emit(metrics.ResultStale, nil)
		return false
	}
	emit(metrics.ResultSuccess, nil)
	return res.Machine.Phase.Active()
}

// ResetIdleTimer reschedules the pre-warning timer from now. It is a no-op
// unless the session is authenticated and no warning is showing.
func (c *Controller) ResetIdleTimer() {
	c.apply(context.Background(), lifecycle.Input{Kind: lifecycle.InputActivity})
}

// ExtendSession dismisses an active idle warning and restarts idle tracking
// from now. It reports whether a warning was dismissed.
func (c *Controller) ExtendSession() bool {
	c.mu.Lock()
	res, deferred := c.step(lifecycle.Input{Kind: lifecycle.InputExtend})
	if res.Applied {
		c.activity.touch(c.clock.Now())
	}
	c.mu.Unlock()

	ctx := context.Background()
	c.run(ctx, deferred)
	if res.Applied {
		c.logger.InfoContext(ctx, "session extended")
		metrics.EmitSession(c.metrics, metrics.SessionMetric{Event: metrics.EventExtend, Result: metrics.ResultSuccess})
	}
	return res.Applied
}

// RecordActivity reports a user interaction of the given kind (pointerdown,
// keypress, scroll...). It resets the idle timer at most once per throttle
// window and reports whether it did.
func (c *Controller) RecordActivity(kind string) bool {
	c.mu.Lock()
	ok := c.machine.Phase == lifecycle.PhaseAuthenticated && c.activity.allow(c.clock.Now())
	var (
		res      lifecycle.Result
		deferred []lifecycle.Effect
	)
	if ok {
		res, deferred = c.step(lifecycle.Input{Kind: lifecycle.InputActivity})
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.run(context.Background(), deferred)
	metrics.EmitSession(c.metrics, metrics.SessionMetric{
		Event: metrics.EventActivity, Result: metrics.ResultSuccess, Detail: kind,
	})
	return res.Applied
}

// State returns the current observable session state.
func (c *Controller) State() domainauth.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Snapshot()
}

// IdleDeadline returns when the idle warning will start. ok is false unless
// the session is authenticated with no warning showing.
func (c *Controller) IdleDeadline() (deadline time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Phase != lifecycle.PhaseAuthenticated {
		return time.Time{}, false
	}
	return c.idleAt, true
}

// LastActivity returns the last accepted activity timestamp.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activity.last
}

// Subscribe returns a channel carrying the latest state; the current state is
// delivered immediately. Slow readers only see the newest value.
func (c *Controller) Subscribe() (<-chan domainauth.State, func()) {
	ch := make(chan domainauth.State, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.machine.Snapshot()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// resolvePrincipal returns the role-resolved principal for sess, or nil when
// the user holds no privileged role. Lookup errors count as not privileged.
func (c *Controller) resolvePrincipal(ctx context.Context, sess *domainauth.Session) *domainauth.Principal {
	if sess == nil || sess.UserID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timings.RoleLookup)
	defer cancel()

	roles, err := c.roles.Roles(ctx, sess.UserID)
	if err != nil {
		c.logger.WarnContext(ctx, "role lookup failed", "user_id", sess.UserID, "error", err)
		return nil
	}
	role, ok := domainauth.HighestRole(roles)
	if !ok {
		return nil
	}
	p := sess.Principal(role)
	return &p
}

// apply feeds in to the machine under the lock, then performs backend and
// notification effects outside it.
func (c *Controller) apply(ctx context.Context, in lifecycle.Input) lifecycle.Result {
	c.mu.Lock()
	res, deferred := c.step(in)
	c.mu.Unlock()

	c.run(ctx, deferred)
	return res
}

// step runs one transition and performs its timer and activity effects.
// The caller holds c.mu. Sign-out and notify effects are returned for run.
func (c *Controller) step(in lifecycle.Input) (lifecycle.Result, []lifecycle.Effect) {
	if c.closed {
		return lifecycle.Result{Machine: c.machine}, nil
	}

	prev := c.machine.Snapshot()
	res := lifecycle.Transition(c.machine, in)
	c.machine = res.Machine

	now := c.clock.Now()
	var deferred []lifecycle.Effect
	for _, eff := range res.Effects {
		switch eff.Kind {
		case lifecycle.EffectCancelTimers:
			c.timers.cancelAll()
			c.idleAt = time.Time{}
		case lifecycle.EffectArmIdle:
			c.armIdle(now)
		case lifecycle.EffectStartCountdown:
			c.startCountdown()
		case lifecycle.EffectAttachActivity:
			c.activity.attach(now)
		case lifecycle.EffectDetachActivity:
			c.activity.detach()
		case lifecycle.EffectSignOut, lifecycle.EffectNotify:
			deferred = append(deferred, eff)
		}
	}

	if next := c.machine.Snapshot(); !sameState(prev, next) {
		c.publish(next)
	}
	return res, deferred
}

func (c *Controller) run(ctx context.Context, effects []lifecycle.Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case lifecycle.EffectSignOut:
			c.signOut(ctx, eff.Silent)
		case lifecycle.EffectNotify:
			c.notify(ctx, eff.Notification)
		}
	}
}

func (c *Controller) signOut(ctx context.Context, silent bool) {
	err := c.backend.SignOut(ctx)
	if err == nil {
		return
	}
	c.logger.WarnContext(ctx, "backend sign-out failed; local session already cleared", "silent", silent, "error", err)
	if silent {
		return
	}
	c.notify(ctx, domainauth.Notification{
		Kind:    domainauth.NotifyLogoutFailed,
		Level:   domainauth.LevelWarning,
		Title:   "Sign-out Incomplete",
		Message: apperrors.UserMessage(err),
	})
}

func (c *Controller) notify(ctx context.Context, n domainauth.Notification) {
	if n.At.IsZero() {
		n.At = c.clock.Now()
	}
	c.notifier.Notify(ctx, n)
}

func (c *Controller) armIdle(now time.Time) {
	c.timers.cancelAll()
	gen := c.timers.gen
	d := c.timings.PreWarning()
	c.idleAt = now.Add(d)
	c.timers.preWarning = c.clock.AfterFunc(d, func() {
		c.fire(gen, lifecycle.Input{Kind: lifecycle.InputWarningDue, Seconds: c.timings.WarningSeconds()})
	})
}

func (c *Controller) startCountdown() {
	c.timers.cancelAll()
	c.idleAt = time.Time{}
	gen := c.timers.gen
	c.timers.ticker = c.clock.AfterFunc(time.Second, func() {
		c.fire(gen, lifecycle.Input{Kind: lifecycle.InputTick})
	})
	c.timers.deadline = c.clock.AfterFunc(c.timings.WarningWindow, func() {
		c.fire(gen, lifecycle.Input{Kind: lifecycle.InputDeadline})
	})
}

// fire handles a timer callback. Callbacks from a cancelled generation are dropped.
func (c *Controller) fire(gen uint64, in lifecycle.Input) {
	c.mu.Lock()
	if c.closed || gen != c.timers.gen {
		c.mu.Unlock()
		return
	}
	prevPhase := c.machine.Phase
	res, deferred := c.step(in)
	if in.Kind == lifecycle.InputTick && res.Machine.Phase == lifecycle.PhaseIdleWarning && gen == c.timers.gen {
		c.timers.ticker = c.clock.AfterFunc(time.Second, func() {
			c.fire(gen, lifecycle.Input{Kind: lifecycle.InputTick})
		})
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	switch {
	case in.Kind == lifecycle.InputWarningDue && res.Applied:
		c.logger.InfoContext(ctx, "idle warning started", "seconds", res.Machine.Remaining)
		metrics.EmitSession(c.metrics, metrics.SessionMetric{Event: metrics.EventWarning, Result: metrics.ResultSuccess})
	case prevPhase == lifecycle.PhaseIdleWarning && res.Machine.Phase == lifecycle.PhaseUnauthenticated:
		detail := "countdown"
		if in.Kind == lifecycle.InputDeadline {
			detail = "deadline"
		}
		c.logger.InfoContext(ctx, "signed out due to inactivity", "trigger", detail)
		metrics.EmitSession(c.metrics, metrics.SessionMetric{
			Event: metrics.EventForcedLogout, Result: metrics.ResultSuccess, Detail: detail,
		})
	}
	c.run(ctx, deferred)
}

func (c *Controller) publish(st domainauth.State) {
	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

func sameState(a, b domainauth.State) bool {
	pa, pb := a.Principal, b.Principal
	a.Principal, b.Principal = nil, nil
	if a != b {
		return false
	}
	if pa == nil || pb == nil {
		return pa == pb
	}
	return *pa == *pb
}
