package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"time"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

// AuthHandler receives auth-state transitions from an AuthBackend.
type AuthHandler func(ev domainauth.Event)

// AuthBackend is the hosted auth capability the session controller drives.
type AuthBackend interface {
	// CurrentSession returns the persisted session, or nil when none exists.
	CurrentSession(ctx context.Context) (*domainauth.Session, error)

	// SignInWithPassword authenticates credentials and returns the new session.
	SignInWithPassword(ctx context.Context, email, password string) (*domainauth.Session, error)

	// SignOut ends the backend session. It is safe to call without a session.
	SignOut(ctx context.Context) error

	// RefreshSession exchanges the refresh token for a new session.
	RefreshSession(ctx context.Context) (*domainauth.Session, error)

	// OnAuthStateChange registers h and returns a function that unregisters it.
	OnAuthStateChange(h AuthHandler) (unsubscribe func())
}

// RoleResolver returns the privileged roles held by a user.
// An empty result means the user is not privileged.
type RoleResolver interface {
	Roles(ctx context.Context, userID string) ([]domainauth.Role, error)
}

// Notifier is a fire-and-forget sink for user-visible messages.
type Notifier interface {
	Notify(ctx context.Context, n domainauth.Notification)
}

// NotifierFunc adapts a function to the Notifier interface (useful for tests).
type NotifierFunc func(ctx context.Context, n domainauth.Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n domainauth.Notification) {
	if f != nil {
		f(ctx, n)
	}
}

// SessionStore persists the backend session between process restarts.
type SessionStore interface {
	// Load returns the stored session or nil when none exists.
	Load(ctx context.Context) (*domainauth.Session, error)
	Save(ctx context.Context, sess domainauth.Session) error
	Clear(ctx context.Context) error
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// Clock supplies time and one-shot timers so the controller can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}
