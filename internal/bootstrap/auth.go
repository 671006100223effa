package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driptech/admin-session/config"
	"github.com/driptech/admin-session/internal/adapters/authbus"
	"github.com/driptech/admin-session/internal/adapters/devauth"
	"github.com/driptech/admin-session/internal/adapters/oidc"
	"github.com/driptech/admin-session/internal/adapters/tokens"
	"github.com/driptech/admin-session/internal/ports"
)

const devTokenIssuer = "driptech-dev"

// AuthBackend is an auth backend whose event bus can be bridged to other instances.
type AuthBackend interface {
	ports.AuthBackend
	Bus() *authbus.Bus
}

// AuthConfig contains configuration for the auth backend.
type AuthConfig struct {
	Auth   config.AuthConfig
	Store  ports.SessionStore
	Logger *slog.Logger
}

// BuildAuthBackend creates the backend selected by the configured auth mode.
//
//nolint:ireturn // the backend implementation is chosen by configuration.
func BuildAuthBackend(ctx context.Context, cfg AuthConfig) (AuthBackend, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth backend: session store is required")
	}

	switch cfg.Auth.Mode {
	case config.AuthModeDev:
		return buildDevAuthBackend(ctx, cfg)
	case config.AuthModeOIDC, "":
		return buildOIDCBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("auth backend: unsupported mode %q", cfg.Auth.Mode)
	}
}

func buildDevAuthBackend(ctx context.Context, cfg AuthConfig) (AuthBackend, error) {
	dev := cfg.Auth.DevAuth
	minter, err := tokens.NewMinter(dev.TokenSecret, devTokenIssuer, nil)
	if err != nil {
		return nil, fmt.Errorf("dev auth: %w", err)
	}

	backend, err := devauth.NewBackend(devauth.Config{
		UserID:       dev.UserID,
		Email:        dev.Email,
		DisplayName:  dev.DisplayName,
		PasswordHash: dev.PasswordHash,
		TokenTTL:     dev.TokenTTL,
	}, devauth.Options{
		Minter: minter,
		Store:  cfg.Store,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.WarnContext(ctx, "dev auth backend enabled; do not use in production", "user_id", dev.UserID)
	}
	return backend, nil
}

func buildOIDCBackend(ctx context.Context, cfg AuthConfig) (AuthBackend, error) {
	o := cfg.Auth.OIDC
	provider, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
		ClientID:        o.ClientID,
		ClientSecret:    o.ClientSecret,
		Scope:           o.Scope,
		DiscoveryURL:    o.DiscoveryURL,
		RevocationURL:   o.RevocationURL,
		DisplayNameExpr: o.DisplayNameExpr,
	}, oidc.Options{
		Store:  cfg.Store,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create oidc provider: %w", err)
	}
	return provider, nil
}
