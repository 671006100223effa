// Package lifecycle holds the pure admin-session state machine.
//
// Transition never touches clocks, networks or goroutines. It returns the next
// Machine plus the Effects the caller must perform (timers, sign-out calls,
// notifications). internal/service/session interprets those effects.
package lifecycle

import (
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

// Phase is the coarse lifecycle position of the admin session.
type Phase int

const (
	PhaseBootstrapping Phase = iota
	PhaseUnauthenticated
	PhaseAuthenticated
	PhaseIdleWarning
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseIdleWarning:
		return "idle_warning"
	case PhaseExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Active reports whether the phase holds a live privileged principal.
func (p Phase) Active() bool {
	return p == PhaseAuthenticated || p == PhaseIdleWarning
}

// Machine is the complete controller state.
// Epoch advances whenever a newer operation supersedes in-flight bootstrap or
// refresh work. LoginEpoch advances only when in-flight logins must be
// abandoned: logout, a backend sign-out of the live session, or teardown.
// PendingLogins counts sign-ins whose outcome has not been reported yet.
type Machine struct {
	Phase         Phase
	Principal     *domainauth.Principal
	Loading       bool
	Remaining     int
	Epoch         uint64
	LoginEpoch    uint64
	PendingLogins int
}

// New returns the initial bootstrapping machine.
func New() Machine {
	return Machine{Phase: PhaseBootstrapping, Loading: true}
}

// Snapshot renders the observable state. The result always satisfies
// domainauth.State.Check.
func (m Machine) Snapshot() domainauth.State {
	st := domainauth.State{
		IsLoading: m.Loading,
		IsExpired: m.Phase == PhaseExpired,
	}
	if m.Phase.Active() && m.Principal != nil && m.Principal.Role.Privileged() {
		p := *m.Principal
		st.Principal = &p
		st.IsAuthenticated = true
		if m.Phase == PhaseIdleWarning {
			st.IdleWarningActive = true
			st.SecondsUntilForcedLogout = max(m.Remaining, 0)
		}
	}
	return st
}

// InputKind enumerates everything that can drive the machine.
type InputKind int

const (
	InputBootstrapStarted InputKind = iota
	InputNoSession
	InputSessionResolved
	InputSessionDenied
	InputSessionExpired
	InputLoginStarted
	InputLoginSucceeded
	InputLoginDenied
	InputLoginFailed
	InputLogout
	InputRefreshStarted
	InputRefreshSucceeded
	InputRefreshDenied
	InputRefreshFailed
	InputWarningDue
	InputTick
	InputDeadline
	InputExtend
	InputActivity
	InputSignedIn
	InputSignedOut
	InputTokenRefreshed
	InputUserUpdated
	InputTeardown
)

// Input is a single event fed to Transition.
//
// Epoch is only consulted for async results; it must carry the epoch captured
// when the operation started: Machine.Epoch for bootstrap and refresh,
// Machine.LoginEpoch for login outcomes.
// Seconds is the warning window length for InputWarningDue.
type Input struct {
	Kind      InputKind
	Principal *domainauth.Principal
	Message   string
	Seconds   int
	Epoch     uint64
}

// EffectKind enumerates side effects requested by Transition.
type EffectKind int

const (
	// EffectCancelTimers stops every live timer.
	EffectCancelTimers EffectKind = iota
	// EffectArmIdle cancels all timers and schedules the pre-warning timer from now.
	EffectArmIdle
	// EffectStartCountdown cancels all timers and starts the 1s ticker plus fallback deadline.
	EffectStartCountdown
	// EffectSignOut calls the backend sign-out. Silent failures are only logged.
	EffectSignOut
	// EffectNotify sends Notification to the sink.
	EffectNotify
	// EffectAttachActivity starts accepting throttled activity after the grace period.
	EffectAttachActivity
	// EffectDetachActivity stops accepting activity.
	EffectDetachActivity
)

// Effect is a side effect the interpreter must perform, in order.
type Effect struct {
	Kind         EffectKind
	Silent       bool
	Notification domainauth.Notification
}

// Result is the outcome of one transition.
// Applied is false when the input was stale or meaningless in the current phase.
type Result struct {
	Machine Machine
	Effects []Effect
	Applied bool
}

// Transition computes the next machine for in. It is pure.
func Transition(m Machine, in Input) Result {
	switch in.Kind {
	case InputBootstrapStarted:
		m.Epoch++
		m.Phase = PhaseBootstrapping
		m.Loading = true
		return applied(m)
	case InputNoSession, InputSessionResolved, InputSessionDenied, InputSessionExpired:
		return bootstrapResult(m, in)
	case InputLoginStarted:
		// A login does not cancel bootstrap or refresh; only its success does.
		m.PendingLogins++
		return applied(m)
	case InputLoginSucceeded, InputLoginDenied, InputLoginFailed:
		return loginResult(m, in)
	case InputLogout:
		return logout(m)
	case InputRefreshStarted:
		m.Epoch++
		m.Loading = true
		return applied(m)
	case InputRefreshSucceeded, InputRefreshDenied, InputRefreshFailed:
		return refreshResult(m, in)
	case InputWarningDue, InputTick, InputDeadline, InputExtend, InputActivity:
		return timing(m, in)
	case InputSignedIn, InputSignedOut, InputTokenRefreshed, InputUserUpdated:
		return backendEvent(m, in)
	case InputTeardown:
		m.Epoch++
		m.LoginEpoch++
		m.Loading = false
		m.PendingLogins = 0
		return applied(m, Effect{Kind: EffectCancelTimers}, Effect{Kind: EffectDetachActivity})
	default:
		return ignored(m)
	}
}

func bootstrapResult(m Machine, in Input) Result {
	if in.Epoch != m.Epoch {
		return ignored(m)
	}
	if m.Phase != PhaseBootstrapping {
		// A backend event already settled the phase; only the loading flag is ours.
		m.Loading = false
		return ignored(m)
	}
	m.Loading = false
	switch in.Kind {
	case InputSessionResolved:
		if !privileged(in.Principal) {
			return deny(m, "Your account does not have admin access.")
		}
		return authenticate(m, in.Principal)
	case InputSessionDenied:
		return deny(m, "Your account does not have admin access.")
	case InputSessionExpired:
		m.Phase = PhaseExpired
		m.Principal = nil
		return applied(m,
			Effect{Kind: EffectCancelTimers},
			notify(domainauth.NotifySessionExpired, domainauth.LevelWarning,
				"Session Expired", "Your session has expired. Refresh or log in again."),
		)
	default:
		m.Phase = PhaseUnauthenticated
		m.Principal = nil
		return applied(m)
	}
}

func loginResult(m Machine, in Input) Result {
	if m.PendingLogins > 0 {
		m.PendingLogins--
	}
	if in.Epoch != m.LoginEpoch {
		if in.Kind == InputLoginSucceeded && m.PendingLogins == 0 && !m.Phase.Active() {
			// The backend signed in after a logout won; do not leave that session behind.
			return Result{Machine: m, Effects: []Effect{{Kind: EffectSignOut, Silent: true}}}
		}
		return ignored(m)
	}
	switch in.Kind {
	case InputLoginSucceeded:
		if !privileged(in.Principal) {
			return deny(m, "You do not have permission to access the admin area.")
		}
		// Supersedes any bootstrap or refresh still in flight.
		m.Epoch++
		m.Loading = false
		return authenticate(m, in.Principal)
	case InputLoginDenied:
		return deny(m, "You do not have permission to access the admin area.")
	default:
		msg := in.Message
		if msg == "" {
			msg = "Login failed."
		}
		return applied(m, notify(domainauth.NotifyLoginFailed, domainauth.LevelError, "Login Failed", msg))
	}
}

func logout(m Machine) Result {
	wasActive := m.Phase.Active()
	m.Epoch++
	m.LoginEpoch++
	m.Phase = PhaseUnauthenticated
	m.Principal = nil
	m.Loading = false
	m.Remaining = 0
	effects := []Effect{{Kind: EffectCancelTimers}, {Kind: EffectDetachActivity}}
	if !wasActive {
		// Repeat logouts still retry the backend but never notify again.
		return applied(m, append(effects, Effect{Kind: EffectSignOut, Silent: true})...)
	}
	effects = append(effects, notify(domainauth.NotifySignedOut, domainauth.LevelInfo,
		"Signed Out", "You have been signed out."))
	return applied(m, append(effects, Effect{Kind: EffectSignOut})...)
}

func refreshResult(m Machine, in Input) Result {
	if in.Epoch != m.Epoch {
		return ignored(m)
	}
	m.Loading = false
	switch in.Kind {
	case InputRefreshSucceeded:
		if !privileged(in.Principal) {
			return Result{Machine: m}
		}
		return authenticate(m, in.Principal)
	case InputRefreshDenied:
		// Refresh is often automatic; a role failure only fails the operation.
		return Result{Machine: m}
	default:
		m.Phase = PhaseExpired
		m.Principal = nil
		m.Remaining = 0
		return applied(m,
			Effect{Kind: EffectCancelTimers},
			Effect{Kind: EffectDetachActivity},
			notify(domainauth.NotifyRefreshFailed, domainauth.LevelWarning,
				"Session Expired", "Could not refresh your session. Please log in again."),
		)
	}
}

func timing(m Machine, in Input) Result {
	switch in.Kind {
	case InputWarningDue:
		if m.Phase != PhaseAuthenticated {
			return ignored(m)
		}
		m.Phase = PhaseIdleWarning
		m.Remaining = in.Seconds
		return applied(m, Effect{Kind: EffectStartCountdown})
	case InputTick:
		if m.Phase != PhaseIdleWarning {
			return ignored(m)
		}
		m.Remaining--
		if m.Remaining > 0 {
			return applied(m)
		}
		return forceLogout(m)
	case InputDeadline:
		if m.Phase != PhaseIdleWarning {
			return ignored(m)
		}
		return forceLogout(m)
	case InputExtend:
		if m.Phase != PhaseIdleWarning {
			return ignored(m)
		}
		m.Phase = PhaseAuthenticated
		m.Remaining = 0
		return applied(m,
			Effect{Kind: EffectArmIdle},
			notify(domainauth.NotifySessionExtended, domainauth.LevelInfo,
				"Session Extended", "Your session has been extended."),
		)
	default:
		// Activity during the warning does not dismiss it; only Extend does.
		if m.Phase != PhaseAuthenticated {
			return ignored(m)
		}
		return applied(m, Effect{Kind: EffectArmIdle})
	}
}

func forceLogout(m Machine) Result {
	m.Epoch++
	m.Phase = PhaseUnauthenticated
	m.Principal = nil
	m.Remaining = 0
	m.Loading = false
	return applied(m,
		Effect{Kind: EffectCancelTimers},
		Effect{Kind: EffectDetachActivity},
		notify(domainauth.NotifySessionExpired, domainauth.LevelWarning,
			"Session Expired", "You have been signed out due to inactivity."),
		Effect{Kind: EffectSignOut, Silent: true},
	)
}

func backendEvent(m Machine, in Input) Result {
	switch in.Kind {
	case InputSignedIn:
		if m.PendingLogins > 0 {
			// The in-flight Login owns this sign-in and reports its own outcome.
			return ignored(m)
		}
		if !privileged(in.Principal) {
			return deny(m, "You do not have permission to access the admin area.")
		}
		if m.Phase == PhaseBootstrapping {
			m.Loading = false
		}
		return authenticate(m, in.Principal)
	case InputUserUpdated:
		if !m.Phase.Active() {
			return ignored(m)
		}
		if !privileged(in.Principal) {
			return deny(m, "Your admin access has been revoked.")
		}
		p := *in.Principal
		m.Principal = &p
		return applied(m)
	case InputSignedOut:
		if !m.Phase.Active() {
			return ignored(m)
		}
		m.Epoch++
		m.LoginEpoch++
		m.Phase = PhaseUnauthenticated
		m.Principal = nil
		m.Remaining = 0
		m.Loading = false
		return applied(m,
			Effect{Kind: EffectCancelTimers},
			Effect{Kind: EffectDetachActivity},
			notify(domainauth.NotifySignedOut, domainauth.LevelInfo, "Signed Out", "You have been signed out."),
		)
	default:
		// A refreshed token is not user activity: the idle deadline stays put.
		return ignored(m)
	}
}

func authenticate(m Machine, p *domainauth.Principal) Result {
	cp := *p
	m.Phase = PhaseAuthenticated
	m.Principal = &cp
	m.Remaining = 0
	return applied(m, Effect{Kind: EffectArmIdle}, Effect{Kind: EffectAttachActivity})
}

func deny(m Machine, msg string) Result {
	wasActive := m.Phase.Active()
	if wasActive || m.Phase == PhaseBootstrapping {
		m.Phase = PhaseUnauthenticated
	}
	if wasActive {
		// Supersedes any in-flight refresh, so the loading flag is ours to clear.
		m.Epoch++
		m.Loading = false
	}
	m.Principal = nil
	m.Remaining = 0
	return applied(m,
		Effect{Kind: EffectCancelTimers},
		Effect{Kind: EffectDetachActivity},
		Effect{Kind: EffectSignOut, Silent: true},
		notify(domainauth.NotifyAccessDenied, domainauth.LevelError, "Access Denied", msg),
	)
}

func privileged(p *domainauth.Principal) bool {
	return p != nil && p.ID != "" && p.Role.Privileged()
}

func notify(kind domainauth.NotificationKind, level domainauth.Level, title, msg string) Effect {
	return Effect{
		Kind:         EffectNotify,
		Notification: domainauth.Notification{Kind: kind, Level: level, Title: title, Message: msg},
	}
}

func applied(m Machine, effects ...Effect) Result {
	return Result{Machine: m, Effects: effects, Applied: true}
}

func ignored(m Machine) Result {
	return Result{Machine: m}
}
