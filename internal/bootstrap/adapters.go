package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driptech/admin-session/config"
	"github.com/driptech/admin-session/internal/adapters/authroles"
	"github.com/driptech/admin-session/internal/adapters/memory"
	redisadapter "github.com/driptech/admin-session/internal/adapters/redis"
	"github.com/driptech/admin-session/internal/adapters/sqlite"
	"github.com/driptech/admin-session/internal/ports"
)

// SessionStoreConfig contains dependencies for the persisted session store.
type SessionStoreConfig struct {
	Session config.SessionConfig
	Infra   *Infrastructure
	Logger  *slog.Logger
}

// BuildSessionStore returns the configured store and a closer for any file it opened.
//
//nolint:ireturn // the store implementation is chosen by configuration.
func BuildSessionStore(ctx context.Context, cfg SessionStoreConfig) (ports.SessionStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Session.Store {
	case config.StoreRedis:
		if cfg.Infra == nil || cfg.Infra.Redis == nil {
			return nil, noop, errors.New("session store: redis client not configured")
		}
		return redisadapter.NewSessionStore(cfg.Infra.Redis, cfg.Session.RedisKey, cfg.Session.PersistTTL), noop, nil

	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.Session.SQLitePath, cfg.Session.PersistTTL)
		if err != nil {
			return nil, noop, fmt.Errorf("session store: %w", err)
		}
		if cfg.Logger != nil {
			cfg.Logger.InfoContext(ctx, "sqlite session store opened", "path", cfg.Session.SQLitePath)
		}
		return store, store.Close, nil

	case config.StoreMemory, "":
		return memory.NewSessionStore(), noop, nil

	default:
		return nil, noop, fmt.Errorf("session store: unsupported mode %q", cfg.Session.Store)
	}
}

// RoleResolverConfig contains dependencies for role resolution.
type RoleResolverConfig struct {
	Auth   config.AuthConfig
	Infra  *Infrastructure
	Logger *slog.Logger
}

// BuildRoleResolver returns the configured role resolver.
//
//nolint:ireturn // the resolver implementation is chosen by configuration.
func BuildRoleResolver(cfg RoleResolverConfig) (ports.RoleResolver, error) {
	switch cfg.Auth.RoleSource {
	case config.RoleSourceStatic:
		resolver := authroles.NewStaticResolver(cfg.Auth.StaticRoles)
		if cfg.Logger != nil {
			cfg.Logger.Info("static role resolver configured", "users", resolver.Users())
		}
		return resolver, nil

	case config.RoleSourcePostgres, "":
		if cfg.Infra == nil || cfg.Infra.DB == nil {
			return nil, errors.New("role resolver: database not configured")
		}
		return authroles.NewPostgresResolver(cfg.Infra.DB), nil

	default:
		return nil, fmt.Errorf("role resolver: unsupported source %q", cfg.Auth.RoleSource)
	}
}
