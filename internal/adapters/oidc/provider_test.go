package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driptech/admin-session/internal/adapters/memory"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	apperrors "github.com/driptech/admin-session/internal/errors"
)

const testClientID = "driptech-admin"

// fakeIdP is a minimal OIDC provider: discovery, password and refresh grants, revocation.
type fakeIdP struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu          sync.Mutex
	unavailable bool
	omitIDToken bool
	subject     string
	refreshes   int
	revoked     []string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	idp := &fakeIdP{t: t, key: key, subject: "u-42"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                 idp.srv.URL,
			"authorization_endpoint": idp.srv.URL + "/authorize",
			"token_endpoint":         idp.srv.URL + "/token",
			"userinfo_endpoint":      idp.srv.URL + "/userinfo",
			"jwks_uri":               idp.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/token", idp.token)
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		idp.mu.Lock()
		idp.revoked = append(idp.revoked, r.PostForm.Get("token"))
		down := idp.unavailable
		idp.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (idp *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(idp.t, r.ParseForm())
	idp.mu.Lock()
	defer idp.mu.Unlock()

	if idp.unavailable {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "password":
		if r.PostForm.Get("username") != "ed@driptech.example" || r.PostForm.Get("password") != "pw" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, idp.tokenResponse("r1", true))
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != "r1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		idp.refreshes++
		writeJSON(w, http.StatusOK, idp.tokenResponse("r1", !idp.omitIDToken))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (idp *fakeIdP) tokenResponse(refresh string, withID bool) map[string]any {
	resp := map[string]any{
		"access_token":  "access-" + refresh,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
	}
	if withID {
		resp["id_token"] = idp.idToken()
	}
	return resp
}

func (idp *fakeIdP) idToken() string {
	now := time.Now()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":           idp.srv.URL,
		"aud":           testClientID,
		"sub":           idp.subject,
		"email":         "ed@driptech.example",
		"name":          "ed",
		"user_metadata": map[string]any{"full_name": "Ed Itor"},
		"iat":           now.Unix(),
		"exp":           now.Add(time.Hour).Unix(),
	}).SignedString(idp.key)
	require.NoError(idp.t, err)
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestProvider(t *testing.T, idp *fakeIdP, mutate func(*ProviderConfig)) (*Provider, *[]domainauth.Event) {
	t.Helper()
	cfg := ProviderConfig{
		ClientID:        testClientID,
		ClientSecret:    "secret",
		Scope:           "openid email offline_access",
		DiscoveryURL:    idp.srv.URL + "/.well-known/openid-configuration",
		DisplayNameExpr: "user_metadata.full_name || name || email",
		HTTPClient:      idp.srv.Client(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewProvider(context.Background(), cfg, Options{Store: memory.NewSessionStore()})
	require.NoError(t, err)
	p.verifier = gooidc.NewVerifier(idp.srv.URL,
		&gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&idp.key.PublicKey}},
		&gooidc.Config{ClientID: testClientID})

	var events []domainauth.Event
	var mu sync.Mutex
	p.OnAuthStateChange(func(ev domainauth.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	return p, &events
}

func TestNewProvider_ValidationErrors(t *testing.T) {
	store := memory.NewSessionStore()
	tests := []struct {
		name string
		cfg  ProviderConfig
		opts Options
		want string
	}{
		{name: "missing client", cfg: ProviderConfig{DiscoveryURL: "http://x"}, opts: Options{Store: store}, want: "client ID"},
		{name: "missing discovery", cfg: ProviderConfig{ClientID: "c"}, opts: Options{Store: store}, want: "discovery URL"},
		{name: "missing store", cfg: ProviderConfig{ClientID: "c", DiscoveryURL: "http://x"}, want: "session store"},
		{
			name: "bad expression",
			cfg:  ProviderConfig{ClientID: "c", DiscoveryURL: "http://x", DisplayNameExpr: "a ||"},
			opts: Options{Store: store},
			want: "display name expression",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.cfg, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewProvider_DiscoversEndpoints(t *testing.T) {
	idp := newFakeIdP(t)
	p, _ := newTestProvider(t, idp, nil)
	assert.Equal(t, idp.srv.URL+"/token", p.config.Endpoint.TokenURL)
	assert.Equal(t, []string{"openid", "email", "offline_access"}, p.config.Scopes)
}

func TestSignIn_Success(t *testing.T) {
	idp := newFakeIdP(t)
	p, events := newTestProvider(t, idp, nil)
	ctx := context.Background()

	sess, err := p.SignInWithPassword(ctx, "ed@driptech.example", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u-42", sess.UserID)
	assert.Equal(t, "ed@driptech.example", sess.Email)
	assert.Equal(t, "Ed Itor", sess.DisplayName)
	assert.Equal(t, "access-r1", sess.AccessToken)
	assert.Equal(t, "r1", sess.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

	stored, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, stored.AccessToken)
	require.Len(t, *events, 1)
	assert.Equal(t, domainauth.EventSignedIn, (*events)[0].Kind)
}

func TestSignIn_ErrorMapping(t *testing.T) {
	idp := newFakeIdP(t)
	p, events := newTestProvider(t, idp, nil)

	_, err := p.SignInWithPassword(context.Background(), "ed@driptech.example", "nope")
	assert.True(t, apperrors.IsInvalidCredentials(err))
	assert.Equal(t, msgInvalidCredentials, apperrors.UserMessage(err))

	idp.mu.Lock()
	idp.unavailable = true
	idp.mu.Unlock()
	_, err = p.SignInWithPassword(context.Background(), "ed@driptech.example", "pw")
	assert.True(t, apperrors.IsTransient(err))
	assert.Empty(t, *events)
}

func TestSignIn_DisplayNameFallsBack(t *testing.T) {
	idp := newFakeIdP(t)
	p, _ := newTestProvider(t, idp, func(c *ProviderConfig) { c.DisplayNameExpr = "nickname" })

	sess, err := p.SignInWithPassword(context.Background(), "ed@driptech.example", "pw")
	require.NoError(t, err)
	assert.Empty(t, sess.DisplayName)
	assert.Equal(t, "ed@driptech.example", sess.Principal(domainauth.RoleEditor).DisplayName)
}

func TestRefresh_KeepsIdentityWithoutIDToken(t *testing.T) {
	idp := newFakeIdP(t)
	p, events := newTestProvider(t, idp, nil)
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "ed@driptech.example", "pw")
	require.NoError(t, err)

	idp.mu.Lock()
	idp.omitIDToken = true
	idp.mu.Unlock()
	sess, err := p.RefreshSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-42", sess.UserID)
	assert.Equal(t, "Ed Itor", sess.DisplayName)
	assert.Equal(t, 1, idp.refreshes)
	require.Len(t, *events, 2)
	assert.Equal(t, domainauth.EventTokenRefreshed, (*events)[1].Kind)
}

func TestRefresh_RejectedTokenExpiresAndClears(t *testing.T) {
	idp := newFakeIdP(t)
	p, _ := newTestProvider(t, idp, nil)
	ctx := context.Background()

	require.NoError(t, p.store.Save(ctx, domainauth.Session{UserID: "u-42", AccessToken: "a", RefreshToken: "stale"}))
	_, err := p.RefreshSession(ctx)
	assert.True(t, apperrors.IsExpired(err))

	sess, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestRefresh_SubjectChangeIsExpired(t *testing.T) {
	idp := newFakeIdP(t)
	p, _ := newTestProvider(t, idp, nil)
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "ed@driptech.example", "pw")
	require.NoError(t, err)
	idp.mu.Lock()
	idp.subject = "someone-else"
	idp.mu.Unlock()

	_, err = p.RefreshSession(ctx)
	assert.True(t, apperrors.IsExpired(err))
}

func TestRefresh_TransientKeepsSession(t *testing.T) {
	idp := newFakeIdP(t)
	p, _ := newTestProvider(t, idp, nil)
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "ed@driptech.example", "pw")
	require.NoError(t, err)
	idp.mu.Lock()
	idp.unavailable = true
	idp.mu.Unlock()

	_, err = p.RefreshSession(ctx)
	assert.True(t, apperrors.IsTransient(err))
	sess, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestRefresh_NoSession(t *testing.T) {
	idp := newFakeIdP(t)
	p, _ := newTestProvider(t, idp, nil)
	_, err := p.RefreshSession(context.Background())
	assert.True(t, apperrors.IsExpired(err))
}

func TestSignOut_RevokesRefreshToken(t *testing.T) {
	idp := newFakeIdP(t)
	p, events := newTestProvider(t, idp, func(c *ProviderConfig) { c.RevocationURL = idp.srv.URL + "/revoke" })
	ctx := context.Background()

	// Without a session nothing is revoked or published.
	require.NoError(t, p.SignOut(ctx))
	assert.Empty(t, idp.revoked)

	_, err := p.SignInWithPassword(ctx, "ed@driptech.example", "pw")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))
	assert.Equal(t, []string{"r1"}, idp.revoked)
	require.Len(t, *events, 2)
	assert.Equal(t, domainauth.EventSignedOut, (*events)[1].Kind)
}

func TestSignOut_RevocationFailureStillClearsLocally(t *testing.T) {
	idp := newFakeIdP(t)
	p, _ := newTestProvider(t, idp, func(c *ProviderConfig) { c.RevocationURL = idp.srv.URL + "/revoke" })
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "ed@driptech.example", "pw")
	require.NoError(t, err)
	idp.mu.Lock()
	idp.unavailable = true
	idp.mu.Unlock()

	err = p.SignOut(ctx)
	assert.True(t, apperrors.IsTransient(err))
	sess, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
}
