package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	apperrors "github.com/driptech/admin-session/internal/errors"
)

func TestFakeBackend_SignInPublishesAndStores(t *testing.T) {
	ctx := context.Background()
	f := NewFakeBackend()

	var events []domainauth.EventKind
	unsubscribe := f.OnAuthStateChange(func(ev domainauth.Event) { events = append(events, ev.Kind) })
	defer unsubscribe()

	_, err := f.SignInWithPassword(ctx, "ed@driptech.example", "wrong")
	assert.True(t, apperrors.IsInvalidCredentials(err))

	sess, err := f.SignInWithPassword(ctx, "ed@driptech.example", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ed", sess.UserID)

	_, err = f.RefreshSession(ctx)
	require.NoError(t, err)
	require.NoError(t, f.SignOut(ctx))
	require.NoError(t, f.SignOut(ctx))

	_, err = f.RefreshSession(ctx)
	assert.True(t, apperrors.IsExpired(err))

	assert.Equal(t, []domainauth.EventKind{
		domainauth.EventSignedIn, domainauth.EventTokenRefreshed, domainauth.EventSignedOut,
	}, events)
	assert.Equal(t, 2, f.Calls("SignOut"))
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(nil)
	r.Set("u1", domainauth.RoleEditor)

	roles, err := r.Roles(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleEditor}, roles)

	r.SetErr(assert.AnError)
	_, err = r.Roles(context.Background(), "u1")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRecordingNotifier(t *testing.T) {
	var n RecordingNotifier
	n.Notify(context.Background(), domainauth.Notification{Kind: domainauth.NotifySignedOut})
	n.Notify(context.Background(), domainauth.Notification{Kind: domainauth.NotifySignedOut})
	assert.Equal(t, 2, n.Count(domainauth.NotifySignedOut))
	n.Reset()
	assert.Empty(t, n.All())
}
