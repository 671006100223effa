package config

import (
	"fmt"
	"strings"
	"time"
)

// StoreMode selects where the backend session is persisted between restarts.
type StoreMode string

const (
	StoreMemory StoreMode = "memory"
	StoreRedis  StoreMode = "redis"
	StoreSQLite StoreMode = "sqlite"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreMode.
func (s *StoreMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "memory", "redis", "sqlite":
		*s = StoreMode(v)
		return nil
	default:
		return fmt.Errorf("invalid StoreMode: %q (valid options: memory, redis, sqlite)", v)
	}
}

// SessionConfig controls the admin session lifecycle.
type SessionConfig struct {
	// IdleTimeout is the total inactivity after which the session is force-ended.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"30m"`

	// WarningWindow is the trailing part of IdleTimeout shown as a countdown.
	WarningWindow time.Duration `env:"WARNING_WINDOW" envDefault:"5m"`

	// ActivityThrottle is the minimum spacing between activity-driven idle resets.
	ActivityThrottle time.Duration `env:"ACTIVITY_THROTTLE" envDefault:"60s"`

	// ActivityGrace delays activity tracking after authentication to skip page-load noise.
	ActivityGrace time.Duration `env:"ACTIVITY_GRACE" envDefault:"5s"`

	// Store selects the persisted session store.
	Store StoreMode `env:"STORE" envDefault:"memory"`

	// PersistTTL bounds how long a persisted session (and its refresh token) is kept.
	PersistTTL time.Duration `env:"PERSIST_TTL" envDefault:"168h"`

	// SQLitePath is the database file used when Store=sqlite.
	SQLitePath string `env:"SQLITE_PATH" envDefault:"driptech-session.db"`

	// RedisKey is the key holding the persisted session when Store=redis.
	RedisKey string `env:"REDIS_KEY" envDefault:"driptech:admin:session"`

	// EventRelay broadcasts auth events to other instances over Redis pub/sub.
	EventRelay bool `env:"EVENT_RELAY" envDefault:"false"`

	// EventChannel is the Redis pub/sub channel used by the relay.
	EventChannel string `env:"EVENT_CHANNEL" envDefault:"driptech:admin:auth-events"`
}

const (
	minIdleTimeout   = 10 * time.Second
	minWarningWindow = time.Second
)

// Sanitize keeps the timing values consistent with each other.
func (c *SessionConfig) Sanitize() {
	if c.IdleTimeout < minIdleTimeout {
		c.IdleTimeout = minIdleTimeout
	}
	if c.WarningWindow < minWarningWindow {
		c.WarningWindow = minWarningWindow
	}
	if c.WarningWindow >= c.IdleTimeout {
		c.WarningWindow = c.IdleTimeout / 2
	}
	// The countdown ticks in whole seconds.
	c.WarningWindow = c.WarningWindow.Truncate(time.Second)
	if c.ActivityThrottle < 0 {
		c.ActivityThrottle = 0
	}
	if c.ActivityGrace < 0 {
		c.ActivityGrace = 0
	}
	if c.PersistTTL <= 0 {
		c.PersistTTL = 7 * 24 * time.Hour
	}
	if strings.TrimSpace(c.RedisKey) == "" {
		c.RedisKey = "driptech:admin:session"
	}
	if strings.TrimSpace(c.EventChannel) == "" {
		c.EventChannel = "driptech:admin:auth-events"
	}
}

// PreWarning is the inactivity span before the warning countdown starts.
func (c SessionConfig) PreWarning() time.Duration {
	return c.IdleTimeout - c.WarningWindow
}
