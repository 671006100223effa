package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driptech/admin-session/config"
	"github.com/driptech/admin-session/internal/adapters/authroles"
	"github.com/driptech/admin-session/internal/adapters/devauth"
	"github.com/driptech/admin-session/internal/adapters/memory"
	redisadapter "github.com/driptech/admin-session/internal/adapters/redis"
	"github.com/driptech/admin-session/internal/adapters/sqlite"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/testutil"
)

func TestBuildSessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory by default", func(t *testing.T) {
		store, closer, err := BuildSessionStore(ctx, SessionStoreConfig{})
		require.NoError(t, err)
		assert.IsType(t, &memory.SessionStore{}, store)
		assert.NoError(t, closer())
	})

	t.Run("sqlite", func(t *testing.T) {
		store, closer, err := BuildSessionStore(ctx, SessionStoreConfig{Session: config.SessionConfig{
			Store:      config.StoreSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "session.db"),
			PersistTTL: time.Hour,
		}})
		require.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, closer()) })
		assert.IsType(t, &sqlite.SessionStore{}, store)

		require.NoError(t, store.Save(ctx, domainauth.Session{UserID: "u-1", AccessToken: "a"}))
		got, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u-1", got.UserID)
	})

	t.Run("redis requires client", func(t *testing.T) {
		_, _, err := BuildSessionStore(ctx, SessionStoreConfig{
			Session: config.SessionConfig{Store: config.StoreRedis},
			Infra:   &Infrastructure{},
		})
		assert.ErrorContains(t, err, "redis client not configured")
	})

	t.Run("redis", func(t *testing.T) {
		client := testutil.SetupTestRedis(t)
		store, _, err := BuildSessionStore(ctx, SessionStoreConfig{
			Session: config.SessionConfig{Store: config.StoreRedis, RedisKey: "test:session", PersistTTL: time.Minute},
			Infra:   &Infrastructure{Redis: client},
		})
		require.NoError(t, err)
		assert.IsType(t, &redisadapter.SessionStore{}, store)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, _, err := BuildSessionStore(ctx, SessionStoreConfig{Session: config.SessionConfig{Store: "etcd"}})
		assert.ErrorContains(t, err, "unsupported mode")
	})
}

func TestBuildRoleResolver(t *testing.T) {
	t.Run("static", func(t *testing.T) {
		resolver, err := BuildRoleResolver(RoleResolverConfig{Auth: config.AuthConfig{
			RoleSource:  config.RoleSourceStatic,
			StaticRoles: map[string]string{"u-1": "admin|editor"},
		}})
		require.NoError(t, err)
		roles, err := resolver.Roles(context.Background(), "u-1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []domainauth.Role{domainauth.RoleAdmin, domainauth.RoleEditor}, roles)
	})

	t.Run("postgres requires database", func(t *testing.T) {
		_, err := BuildRoleResolver(RoleResolverConfig{Auth: config.AuthConfig{RoleSource: config.RoleSourcePostgres}})
		assert.ErrorContains(t, err, "database not configured")
	})

	t.Run("postgres", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		testutil.SeedRoles(t, db, "u-9", domainauth.RoleEditor)

		resolver, err := BuildRoleResolver(RoleResolverConfig{
			Auth:  config.AuthConfig{RoleSource: config.RoleSourcePostgres},
			Infra: &Infrastructure{DB: db},
		})
		require.NoError(t, err)
		assert.IsType(t, &authroles.PostgresResolver{}, resolver)

		roles, err := resolver.Roles(context.Background(), "u-9")
		require.NoError(t, err)
		assert.Equal(t, []domainauth.Role{domainauth.RoleEditor}, roles)
	})
}

func TestBuildAuthBackend(t *testing.T) {
	ctx := context.Background()
	hash, err := devauth.HashPassword("correct horse")
	require.NoError(t, err)

	t.Run("dev", func(t *testing.T) {
		backend, err := BuildAuthBackend(ctx, AuthConfig{
			Auth: config.AuthConfig{
				Mode: config.AuthModeDev,
				DevAuth: config.DevAuthConfig{
					UserID:       "dev-admin",
					Email:        "admin@driptech.local",
					PasswordHash: hash,
					TokenSecret:  "test-secret",
					TokenTTL:     time.Hour,
				},
			},
			Store: memory.NewSessionStore(),
		})
		require.NoError(t, err)
		require.NotNil(t, backend.Bus())

		sess, err := backend.SignInWithPassword(ctx, "ADMIN@driptech.local", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "dev-admin", sess.UserID)
	})

	t.Run("dev without secret", func(t *testing.T) {
		_, err := BuildAuthBackend(ctx, AuthConfig{
			Auth: config.AuthConfig{
				Mode:    config.AuthModeDev,
				DevAuth: config.DevAuthConfig{UserID: "dev-admin", Email: "a@b", PasswordHash: hash},
			},
			Store: memory.NewSessionStore(),
		})
		assert.ErrorContains(t, err, "token secret")
	})

	t.Run("store required", func(t *testing.T) {
		_, err := BuildAuthBackend(ctx, AuthConfig{Auth: config.AuthConfig{Mode: config.AuthModeDev}})
		assert.ErrorContains(t, err, "session store is required")
	})

	t.Run("oidc discovery failure", func(t *testing.T) {
		_, err := BuildAuthBackend(ctx, AuthConfig{
			Auth: config.AuthConfig{
				Mode: config.AuthModeOIDC,
				OIDC: config.OIDCConfig{ClientID: "c", DiscoveryURL: "http://127.0.0.1:1/.well-known/openid-configuration"},
			},
			Store: memory.NewSessionStore(),
		})
		assert.ErrorContains(t, err, "create oidc provider")
	})
}
