package devauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/driptech/admin-session/internal/adapters/memory"
	"github.com/driptech/admin-session/internal/adapters/tokens"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	apperrors "github.com/driptech/admin-session/internal/errors"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type failingStore struct {
	*memory.SessionStore
	saveErr error
}

func (f failingStore) Save(ctx context.Context, s domainauth.Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.SessionStore.Save(ctx, s)
}

func newTestBackend(t *testing.T) (*Backend, *[]domainauth.Event) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	now := func() time.Time { return t0 }
	minter, err := tokens.NewMinter("secret", "driptech-dev", now)
	require.NoError(t, err)

	b, err := NewBackend(Config{
		UserID:       "dev-admin",
		Email:        "admin@driptech.local",
		DisplayName:  "DripTech Admin",
		PasswordHash: string(hash),
		TokenTTL:     time.Hour,
	}, Options{Minter: minter, Store: memory.NewSessionStore(), Now: now})
	require.NoError(t, err)

	var events []domainauth.Event
	b.OnAuthStateChange(func(ev domainauth.Event) { events = append(events, ev) })
	return b, &events
}

func kinds(events []domainauth.Event) []domainauth.EventKind {
	out := make([]domainauth.EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestNewBackend_Validation(t *testing.T) {
	minter, err := tokens.NewMinter("secret", "dev", nil)
	require.NoError(t, err)
	opts := Options{Minter: minter, Store: memory.NewSessionStore()}

	_, err = NewBackend(Config{Email: "a@b", PasswordHash: "x"}, opts)
	assert.ErrorContains(t, err, "UserID")
	_, err = NewBackend(Config{UserID: "u", PasswordHash: "x"}, opts)
	assert.ErrorContains(t, err, "Email")
	_, err = NewBackend(Config{UserID: "u", Email: "a@b"}, opts)
	assert.ErrorContains(t, err, "PasswordHash")
	_, err = NewBackend(Config{UserID: "u", Email: "a@b", PasswordHash: "x"}, Options{})
	assert.ErrorContains(t, err, "Minter")
}

func TestSignIn_Success(t *testing.T) {
	b, events := newTestBackend(t)
	ctx := context.Background()

	sess, err := b.SignInWithPassword(ctx, " Admin@DripTech.local ", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "dev-admin", sess.UserID)
	assert.Equal(t, "DripTech Admin", sess.DisplayName)
	assert.Equal(t, t0.Add(time.Hour), sess.ExpiresAt)
	assert.Len(t, sess.RefreshToken, 43)
	assert.True(t, sess.Valid(t0))

	exp, err := tokens.ExpiryFromJWT(sess.AccessToken)
	require.NoError(t, err)
	assert.True(t, exp.Equal(sess.ExpiresAt))

	stored, err := b.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, stored.AccessToken)
	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedIn}, kinds(*events))
}

func TestSignIn_Rejections(t *testing.T) {
	b, events := newTestBackend(t)

	_, err := b.SignInWithPassword(context.Background(), "admin@driptech.local", "wrong")
	assert.True(t, apperrors.IsInvalidCredentials(err))
	_, err = b.SignInWithPassword(context.Background(), "other@driptech.local", "hunter2")
	assert.True(t, apperrors.IsInvalidCredentials(err))
	assert.Equal(t, invalidCredentialsMsg, apperrors.UserMessage(err))
	assert.Empty(t, *events)
}

func TestSignIn_StoreFailureIsTransient(t *testing.T) {
	b, events := newTestBackend(t)
	b.store = failingStore{SessionStore: memory.NewSessionStore(), saveErr: errors.New("disk full")}

	_, err := b.SignInWithPassword(context.Background(), "admin@driptech.local", "hunter2")
	assert.True(t, apperrors.IsTransient(err))
	assert.Empty(t, *events)
}

func TestRefresh_RotatesTokens(t *testing.T) {
	b, events := newTestBackend(t)
	ctx := context.Background()

	first, err := b.SignInWithPassword(ctx, "admin@driptech.local", "hunter2")
	require.NoError(t, err)
	second, err := b.RefreshSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t,
		[]domainauth.EventKind{domainauth.EventSignedIn, domainauth.EventTokenRefreshed},
		kinds(*events))
}

func TestRefresh_WithoutSessionExpires(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.RefreshSession(context.Background())
	assert.True(t, apperrors.IsExpired(err))
}

func TestSignOut(t *testing.T) {
	b, events := newTestBackend(t)
	ctx := context.Background()

	// No session: no event.
	require.NoError(t, b.SignOut(ctx))
	assert.Empty(t, *events)

	_, err := b.SignInWithPassword(ctx, "admin@driptech.local", "hunter2")
	require.NoError(t, err)
	require.NoError(t, b.SignOut(ctx))

	sess, err := b.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t,
		[]domainauth.EventKind{domainauth.EventSignedIn, domainauth.EventSignedOut},
		kinds(*events))
}

func TestUpdateDisplayName(t *testing.T) {
	b, events := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.UpdateDisplayName(ctx, "Before Login"))
	assert.Empty(t, *events)

	_, err := b.SignInWithPassword(ctx, "admin@driptech.local", "hunter2")
	require.NoError(t, err)
	require.NoError(t, b.UpdateDisplayName(ctx, " Ops Lead "))

	require.Len(t, *events, 2)
	last := (*events)[1]
	assert.Equal(t, domainauth.EventUserUpdated, last.Kind)
	assert.Equal(t, "Ops Lead", last.Session.DisplayName)
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("hunter2")))

	_, err = HashPassword("")
	assert.Error(t, err)
}
