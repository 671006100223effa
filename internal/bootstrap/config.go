package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/driptech/admin-session/config"
)

// InitLogger initializes the structured logger. Dev mode logs text, otherwise JSON.
func InitLogger(level string, isDev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if isDev {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateConfig rejects combinations that cannot produce a working controller.
func ValidateConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	var errs []error
	switch cfg.Auth.Mode {
	case config.AuthModeDev:
		if cfg.Auth.DevAuth.PasswordHash == "" {
			errs = append(errs, errors.New("DEV_AUTH_PASSWORD_HASH is required in dev auth mode"))
		}
	case config.AuthModeOIDC:
		if cfg.Auth.OIDC.DiscoveryURL == "" {
			errs = append(errs, errors.New("OIDC_DISCOVERY_URL is required in oidc auth mode"))
		}
	}
	if cfg.Auth.RoleSource == config.RoleSourceStatic && len(cfg.Auth.StaticRoles) == 0 {
		errs = append(errs, errors.New("AUTH_STATIC_ROLES must name at least one user when AUTH_ROLE_SOURCE=static"))
	}
	if cfg.Session.Store == config.StoreSQLite && strings.TrimSpace(cfg.Session.SQLitePath) == "" {
		errs = append(errs, errors.New("SESSION_SQLITE_PATH is required when SESSION_STORE=sqlite"))
	}
	return errors.Join(errs...)
}

// EnabledComponents lists the backing components a config will wire, for startup logs.
func EnabledComponents(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	out := []string{
		"auth:" + string(cfg.Auth.Mode),
		"roles:" + string(cfg.Auth.RoleSource),
		"store:" + string(cfg.Session.Store),
	}
	if cfg.Session.EventRelay {
		out = append(out, "event-relay")
	}
	if cfg.Observability.Metrics.IsEnabled() {
		out = append(out, "statsd")
	}
	if cfg.Observability.Notifications.Slack.Enabled {
		out = append(out, "slack")
	}
	return out
}
