package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/driptech/admin-session/internal/adapters/authbus"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	apperrors "github.com/driptech/admin-session/internal/errors"
	"github.com/driptech/admin-session/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthBackend  = (*FakeBackend)(nil)
	_ ports.RoleResolver = (*StaticResolver)(nil)
	_ ports.Notifier     = (*RecordingNotifier)(nil)
)

// FakeBackend is an in-memory auth backend. Users maps email to password;
// the user ID is the part of the email before '@'. Func fields override the
// default behaviour per method.
type FakeBackend struct {
	CurrentSessionFunc func(ctx context.Context) (*domainauth.Session, error)
	SignInFunc         func(ctx context.Context, email, password string) (*domainauth.Session, error)
	SignOutFunc        func(ctx context.Context) error
	RefreshFunc        func(ctx context.Context) (*domainauth.Session, error)

	Users    map[string]string
	TokenTTL time.Duration
	Now      func() time.Time

	bus *authbus.Bus

	mu      sync.Mutex
	session *domainauth.Session
	calls   map[string]int
}

// NewFakeBackend creates a FakeBackend with one user, ed@driptech.example / "pw".
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Users:    map[string]string{"ed@driptech.example": "pw"},
		TokenTTL: time.Hour,
		Now:      time.Now,
		bus:      authbus.New(),
		calls:    make(map[string]int),
	}
}

// SetSession replaces the stored session without emitting events.
func (f *FakeBackend) SetSession(s *domainauth.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s == nil {
		f.session = nil
		return
	}
	cp := *s
	f.session = &cp
}

// Session returns a copy of the stored session.
func (f *FakeBackend) Session() *domainauth.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	cp := *f.session
	return &cp
}

// Calls reports how often method was invoked.
func (f *FakeBackend) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Emit publishes ev to subscribers as if another tab caused it.
func (f *FakeBackend) Emit(ev domainauth.Event) { f.bus.Publish(ev) }

// Subscribers returns the number of live OnAuthStateChange handlers.
func (f *FakeBackend) Subscribers() int { return f.bus.Len() }

// SessionFor builds a valid session for email.
func (f *FakeBackend) SessionFor(email string) *domainauth.Session {
	id, _, _ := strings.Cut(email, "@")
	return &domainauth.Session{
		UserID:       id,
		Email:        email,
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    f.Now().Add(f.TokenTTL),
	}
}

func (f *FakeBackend) count(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

func (f *FakeBackend) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	f.count("CurrentSession")
	if f.CurrentSessionFunc != nil {
		return f.CurrentSessionFunc(ctx)
	}
	return f.Session(), nil
}

func (f *FakeBackend) SignInWithPassword(ctx context.Context, email, password string) (*domainauth.Session, error) {
	f.count("SignInWithPassword")
	var (
		sess *domainauth.Session
		err  error
	)
	if f.SignInFunc != nil {
		sess, err = f.SignInFunc(ctx, email, password)
	} else if want, ok := f.Users[email]; !ok || want != password {
		err = apperrors.InvalidCredentials("Invalid login credentials.")
	} else {
		sess = f.SessionFor(email)
	}
	if err != nil {
		return nil, err
	}
	f.SetSession(sess)
	f.bus.Publish(domainauth.Event{Kind: domainauth.EventSignedIn, Session: f.Session()})
	return f.Session(), nil
}

func (f *FakeBackend) SignOut(ctx context.Context) error {
	f.count("SignOut")
	if f.SignOutFunc != nil {
		if err := f.SignOutFunc(ctx); err != nil {
			return err
		}
	}
	had := f.Session() != nil
	f.SetSession(nil)
	if had {
		f.bus.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
	}
	return nil
}

func (f *FakeBackend) RefreshSession(ctx context.Context) (*domainauth.Session, error) {
	f.count("RefreshSession")
	if f.RefreshFunc != nil {
		return f.RefreshFunc(ctx)
	}
	cur := f.Session()
	if cur == nil || cur.RefreshToken == "" {
		return nil, apperrors.Expired("Refresh token not found.")
	}
	cur.AccessToken += "+"
	cur.ExpiresAt = f.Now().Add(f.TokenTTL)
	f.SetSession(cur)
	f.bus.Publish(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: f.Session()})
	return f.Session(), nil
}

func (f *FakeBackend) OnAuthStateChange(h ports.AuthHandler) func() {
	return f.bus.Subscribe(h)
}

// StaticResolver resolves roles from a fixed map. Err, when set, is returned for every lookup.
type StaticResolver struct {
	mu     sync.Mutex
	ByUser map[string][]domainauth.Role
	Err    error
}

// NewStaticResolver creates a resolver granting each user ID the given role list.
func NewStaticResolver(roles map[string][]domainauth.Role) *StaticResolver {
	if roles == nil {
		roles = map[string][]domainauth.Role{}
	}
	return &StaticResolver{ByUser: roles}
}

// SetErr makes every later lookup fail with err (nil restores lookups).
func (r *StaticResolver) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

// Set replaces the roles of userID.
func (r *StaticResolver) Set(userID string, roles ...domainauth.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ByUser[userID] = roles
}

func (r *StaticResolver) Roles(_ context.Context, userID string) ([]domainauth.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]domainauth.Role(nil), r.ByUser[userID]...), nil
}
