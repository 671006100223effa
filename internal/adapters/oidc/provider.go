package oidc

// Package oidc implements ports.AuthBackend against an OIDC provider using the
// resource-owner password grant for sign-in and the refresh_token grant for renewal.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	"github.com/driptech/admin-session/internal/adapters/authbus"
	"github.com/driptech/admin-session/internal/adapters/tokens"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	apperrors "github.com/driptech/admin-session/internal/errors"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.AuthBackend = (*Provider)(nil)

const (
	msgInvalidCredentials = "Invalid email or password."
	msgUnavailable        = "The sign-in service is unavailable. Please try again."
	msgExpired            = "Your session has expired. Please sign in again."
	fallbackTokenTTL      = time.Hour
)

// Provider is an OIDC-backed auth backend.
type Provider struct {
	config          *oauth2.Config
	revocationURL   string
	displayNameExpr string
	httpClient      *http.Client

	// go-oidc provider and verifier
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier

	store  ports.SessionStore
	bus    *authbus.Bus
	now    func() time.Time
	logger *slog.Logger

	// mu serializes token exchanges that rewrite the stored session.
	mu sync.Mutex
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID        string
	ClientSecret    string
	Scope           string
	DiscoveryURL    string
	RevocationURL   string
	DisplayNameExpr string
	HTTPClient      *http.Client // Optional, defaults to a client with a 30s timeout
}

// Options carries the Provider collaborators.
type Options struct {
	Store  ports.SessionStore
	Bus    *authbus.Bus     // a fresh bus when nil
	Now    func() time.Time // time.Now when nil
	Logger *slog.Logger
}

// NewProvider discovers the issuer and returns a ready backend.
func NewProvider(ctx context.Context, config ProviderConfig, opts Options) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	if config.DisplayNameExpr != "" {
		if _, err := jmespath.Compile(config.DisplayNameExpr); err != nil {
			return nil, fmt.Errorf("invalid display name expression: %w", err)
		}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
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

	// Single discovery fetch for endpoints and keys.
	ctx = gooidc.ClientContext(ctx, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       strings.Fields(config.Scope),
			Endpoint:     op.Endpoint(),
		},
		revocationURL:   config.RevocationURL,
		displayNameExpr: config.DisplayNameExpr,
		httpClient:      httpClient,
		oidcProvider:    op,
		verifier:        op.Verifier(&gooidc.Config{ClientID: config.ClientID, Now: opts.Now}),
		store:           opts.Store,
		bus:             opts.Bus,
		now:             opts.Now,
		logger:          opts.Logger.With("component", "oidc"),
	}, nil
}

// Bus exposes the event bus so a relay can tap it.
func (p *Provider) Bus() *authbus.Bus { return p.bus }

func (p *Provider) OnAuthStateChange(h ports.AuthHandler) func() {
	return p.bus.Subscribe(h)
}

func (p *Provider) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := p.store.Load(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not read the saved session.")
	}
	return sess, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*domainauth.Session, error) {
	p.mu.Lock()
	tok, err := p.config.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		p.mu.Unlock()
		return nil, mapTokenError(err, msgInvalidCredentials, apperrors.ErrCodeInvalidCredentials)
	}
	sess, err := p.sessionFromToken(ctx, tok, nil)
	if err == nil {
		err = p.save(ctx, sess)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "oidc sign-in", "user_id", sess.UserID)
	p.bus.Publish(domainauth.Event{Kind: domainauth.EventSignedIn, Session: copySession(sess)})
	return sess, nil
}

func (p *Provider) RefreshSession(ctx context.Context) (*domainauth.Session, error) {
	p.mu.Lock()
	prev, err := p.store.Load(ctx)
	if err != nil {
		p.mu.Unlock()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not read the saved session.")
	}
	if prev == nil || prev.RefreshToken == "" {
		p.mu.Unlock()
		return nil, apperrors.Expired(msgExpired)
	}

	ts := p.config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: prev.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		mapped := mapTokenError(err, msgExpired, apperrors.ErrCodeExpired)
		if apperrors.IsExpired(mapped) {
			if clearErr := p.store.Clear(ctx); clearErr != nil {
				p.logger.WarnContext(ctx, "clear rejected session", "error", clearErr)
			}
		}
		p.mu.Unlock()
		return nil, mapped
	}
	sess, err := p.sessionFromToken(ctx, tok, prev)
	if err == nil {
		err = p.save(ctx, sess)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.bus.Publish(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: copySession(sess)})
	return sess, nil
}

// SignOut clears the stored session and revokes its refresh token when a
// revocation endpoint is configured. The local session is gone even when
// revocation fails; the returned error reports the incomplete remote sign-out.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	prev, err := p.store.Load(ctx)
	if err == nil {
		err = p.store.Clear(ctx)
	}
	p.mu.Unlock()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not clear the saved session.")
	}
	if prev == nil {
		return nil
	}
	p.bus.Publish(domainauth.Event{Kind: domainauth.EventSignedOut, Session: prev})

	if p.revocationURL == "" || prev.RefreshToken == "" {
		return nil
	}
	if err := p.revoke(ctx, prev.RefreshToken); err != nil {
		p.logger.WarnContext(ctx, "token revocation failed", "user_id", prev.UserID, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeTransient, "Signed out locally, but the sign-in service could not be reached.")
	}
	return nil
}

func (p *Provider) revoke(ctx context.Context, refreshToken string) error {
	form := url.Values{"token": {refreshToken}, "token_type_hint": {"refresh_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.DebugContext(ctx, "close revocation response", "error", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) save(ctx context.Context, sess *domainauth.Session) error {
	if err := p.store.Save(ctx, *sess); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransient, "Could not save the session. Please try again.")
	}
	return nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// sessionFromToken builds a session from a token response. Identity comes from
// the ID token when present, otherwise from prev (refresh responses may omit it).
func (p *Provider) sessionFromToken(ctx context.Context, tok *oauth2.Token, prev *domainauth.Session) (*domainauth.Session, error) {
	sess := &domainauth.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    p.expiry(tok),
	}
	if prev != nil {
		sess.UserID, sess.Email, sess.DisplayName = prev.UserID, prev.Email, prev.DisplayName
		if sess.RefreshToken == "" {
			sess.RefreshToken = prev.RefreshToken
		}
	}

	if rawID, ok := tok.Extra("id_token").(string); ok && rawID != "" {
		f, err := p.identityFromIDToken(ctx, rawID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, msgUnavailable)
		}
		if prev != nil && prev.UserID != "" && f.userID != prev.UserID {
			return nil, apperrors.Expired(msgExpired)
		}
		sess.UserID = f.userID
		sess.Email = firstNonEmpty(f.email, sess.Email)
		sess.DisplayName = firstNonEmpty(f.displayName, sess.DisplayName)
	}

	if sess.UserID == "" || sess.Email == "" {
		p.fillFromUserInfo(ctx, tok, sess)
	}
	if sess.UserID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "The sign-in service returned no user.")
	}
	return sess, nil
}

// expiry prefers the token response's expires_in, then the access token's exp claim.
func (p *Provider) expiry(tok *oauth2.Token) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	if exp, err := tokens.ExpiryFromJWT(tok.AccessToken); err == nil {
		return exp
	}
	return p.now().Add(fallbackTokenTTL)
}

type idFields struct {
	userID      string
	email       string
	displayName string
}

func (p *Provider) identityFromIDToken(ctx context.Context, rawID string) (idFields, error) {
	var f idFields
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return f, fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]any
	if err := idTok.Claims(&claims); err != nil {
		return f, fmt.Errorf("parse id_token claims: %w", err)
	}
	f.userID = idTok.Subject
	f.email, _ = claims["email"].(string)
	f.displayName = p.displayName(claims)
	return f, nil
}

// displayName evaluates the configured JMESPath expression; non-string results are ignored.
func (p *Provider) displayName(claims map[string]any) string {
	if p.displayNameExpr == "" {
		return ""
	}
	v, err := jmespath.Search(p.displayNameExpr, claims)
	if err != nil {
		p.logger.Debug("display name expression failed", "error", err)
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// UserInfo represents the fields read from the OIDC userinfo endpoint.
type UserInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

func (p *Provider) fillFromUserInfo(ctx context.Context, tok *oauth2.Token, sess *domainauth.Session) {
	if tok.AccessToken == "" || p.oidcProvider.UserInfoEndpoint() == "" {
		return
	}
	ui, err := p.oidcProvider.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(tok))
	if err != nil {
		p.logger.WarnContext(ctx, "fetch user info", "error", err)
		return
	}
	var info UserInfo
	if err := ui.Claims(&info); err != nil {
		p.logger.WarnContext(ctx, "decode user info", "error", err)
		return
	}
	sess.UserID = firstNonEmpty(sess.UserID, info.Subject)
	sess.Email = firstNonEmpty(sess.Email, info.Email)
	sess.DisplayName = firstNonEmpty(sess.DisplayName, info.Name)
}

// mapTokenError classifies token endpoint failures. 4xx responses become
// rejectCode with rejectMsg; everything else is transient.
func mapTokenError(err error, rejectMsg string, rejectCode apperrors.ErrorCode) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil &&
		re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		return apperrors.Wrap(err, rejectCode, rejectMsg)
	}
	return apperrors.Wrap(err, apperrors.ErrCodeTransient, msgUnavailable)
}

func copySession(s *domainauth.Session) *domainauth.Session {
	cp := *s
	return &cp
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
