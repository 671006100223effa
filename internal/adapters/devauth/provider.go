package devauth

// Package devauth provides a single-account, config-driven AuthBackend for local development.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/driptech/admin-session/internal/adapters/authbus"
	"github.com/driptech/admin-session/internal/adapters/tokens"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	apperrors "github.com/driptech/admin-session/internal/errors"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.AuthBackend = (*Backend)(nil)

const invalidCredentialsMsg = "Invalid email or password."

// Config controls the dev account.
// UserID, Email and PasswordHash are required; DisplayName may be empty.
type Config struct {
	UserID       string
	Email        string
	DisplayName  string
	PasswordHash string
	TokenTTL     time.Duration // default 1h when zero
}

// Backend implements ports.AuthBackend against one locally configured account.
// Access tokens are HS256 JWTs; refresh tokens are random and rotated on use.
type Backend struct {
	cfg    Config
	minter *tokens.Minter
	store  ports.SessionStore
	bus    *authbus.Bus
	now    func() time.Time
	logger *slog.Logger

	// mu serializes read-modify-write cycles on the store.
	mu sync.Mutex
}

// Options carries the Backend collaborators.
type Options struct {
	Minter *tokens.Minter
	Store  ports.SessionStore
	Bus    *authbus.Bus     // a fresh bus when nil
	Now    func() time.Time // time.Now when nil
	Logger *slog.Logger
}

// NewBackend constructs a dev auth backend.
func NewBackend(cfg Config, opts Options) (*Backend, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	if cfg.PasswordHash == "" {
		return nil, errors.New("dev auth: PasswordHash is required (see hash-password)")
	}
	if opts.Minter == nil || opts.Store == nil {
		return nil, errors.New("dev auth: Minter and Store are required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if opts.Bus == nil {
		opts.Bus = authbus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Backend{
		cfg:    cfg,
		minter: opts.Minter,
		store:  opts.Store,
		bus:    opts.Bus,
		now:    opts.Now,
		logger: opts.Logger.With("component", "devauth"),
	}, nil
}

// HashPassword returns a bcrypt hash suitable for DEV_AUTH_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Bus exposes the event bus so a relay can tap it.
func (b *Backend) Bus() *authbus.Bus { return b.bus }

func (b *Backend) OnAuthStateChange(h ports.AuthHandler) func() {
	return b.bus.Subscribe(h)
}

func (b *Backend) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := b.store.Load(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not read the saved session.")
	}
	return sess, nil
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*domainauth.Session, error) {
	if !strings.EqualFold(strings.TrimSpace(email), b.cfg.Email) {
		return nil, apperrors.InvalidCredentials(invalidCredentialsMsg)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(b.cfg.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			b.logger.WarnContext(ctx, "dev password hash unusable", "error", err)
		}
		return nil, apperrors.InvalidCredentials(invalidCredentialsMsg)
	}

	b.mu.Lock()
	sess, err := b.issue(ctx)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b.bus.Publish(domainauth.Event{Kind: domainauth.EventSignedIn, Session: copySession(sess)})
	return sess, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	prev, err := b.store.Load(ctx)
	if err == nil {
		err = b.store.Clear(ctx)
	}
	b.mu.Unlock()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not clear the saved session.")
	}
	if prev != nil {
		b.bus.Publish(domainauth.Event{Kind: domainauth.EventSignedOut, Session: prev})
	}
	return nil
}

func (b *Backend) RefreshSession(ctx context.Context) (*domainauth.Session, error) {
	b.mu.Lock()
	prev, err := b.store.Load(ctx)
	if err != nil {
		b.mu.Unlock()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not read the saved session.")
	}
	if prev == nil || prev.RefreshToken == "" || prev.UserID != b.cfg.UserID {
		b.mu.Unlock()
		return nil, apperrors.Expired("Your session has expired. Please sign in again.")
	}
	sess, err := b.issue(ctx)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b.bus.Publish(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: copySession(sess)})
	return sess, nil
}

// UpdateDisplayName changes the account's display name and emits USER_UPDATED
// when a session is active.
func (b *Backend) UpdateDisplayName(ctx context.Context, name string) error {
	b.mu.Lock()
	b.cfg.DisplayName = strings.TrimSpace(name)
	sess, err := b.store.Load(ctx)
	if err == nil && sess != nil {
		sess.DisplayName = b.cfg.DisplayName
		err = b.store.Save(ctx, *sess)
	}
	b.mu.Unlock()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not update the profile.")
	}
	if sess != nil {
		b.bus.Publish(domainauth.Event{Kind: domainauth.EventUserUpdated, Session: sess})
	}
	return nil
}

// issue mints a token pair and persists the session. Caller holds b.mu.
func (b *Backend) issue(ctx context.Context) (*domainauth.Session, error) {
	access, exp, err := b.minter.Mint(b.cfg.UserID, b.cfg.Email, b.cfg.DisplayName, b.cfg.TokenTTL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Could not issue a session.")
	}
	refresh, err := randomString(43)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Could not issue a session.")
	}
	sess := &domainauth.Session{
		UserID:       b.cfg.UserID,
		Email:        b.cfg.Email,
		DisplayName:  b.cfg.DisplayName,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
	}
	if err := b.store.Save(ctx, *sess); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not save the session. Please try again.")
	}
	return sess, nil
}

func copySession(s *domainauth.Session) *domainauth.Session {
	cp := *s
	return &cp
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
