package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents which auth backend the controller talks to.
type AuthMode string

const (
	// AuthModeOIDC uses an OIDC provider's password and refresh grants.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeDev uses a single locally configured account (for development only).
	AuthModeDev AuthMode = "dev"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "oidc", "dev":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oidc, dev)", v)
	}
}

// RoleSource selects the role resolver implementation.
type RoleSource string

const (
	// RoleSourcePostgres reads the user_roles table.
	RoleSourcePostgres RoleSource = "postgres"
	// RoleSourceStatic uses the AUTH_STATIC_ROLES map.
	RoleSourceStatic RoleSource = "static"
)

// UnmarshalText implements encoding.TextUnmarshaler for RoleSource.
func (r *RoleSource) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "postgres", "static":
		*r = RoleSource(v)
		return nil
	default:
		return fmt.Errorf("invalid RoleSource: %q (valid options: postgres, static)", v)
	}
}

// OIDCConfig contains OIDC provider configuration.
type OIDCConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"driptech-admin"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email offline_access"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	// RevocationURL is called on sign-out when set (RFC 7009).
	RevocationURL string `env:"REVOCATION_URL"`
	// DisplayNameExpr is a JMESPath expression evaluated against ID token claims.
	DisplayNameExpr string `env:"DISPLAY_NAME_EXPR" envDefault:"user_metadata.full_name || name || email"`
}

// DevAuthConfig controls the single development account.
// Used when AUTH_MODE=dev for development and testing.
type DevAuthConfig struct {
	UserID       string `env:"USER_ID"       envDefault:"dev-admin"`
	Email        string `env:"EMAIL"         envDefault:"admin@driptech.local"`
	DisplayName  string `env:"DISPLAY_NAME"  envDefault:"DripTech Admin"`
	PasswordHash string `env:"PASSWORD_HASH"`
	// TokenSecret signs dev access tokens (HS256).
	TokenSecret string        `env:"TOKEN_SECRET" envDefault:"driptech-dev-secret"`
	TokenTTL    time.Duration `env:"TOKEN_TTL"    envDefault:"1h"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which auth backend to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oidc"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"OIDC_"`

	// DevAuth configuration (used when Mode=dev).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// RoleSource selects where privileged roles are read from.
	RoleSource RoleSource `env:"AUTH_ROLE_SOURCE" envDefault:"postgres"`

	// StaticRoles maps user IDs to roles, e.g. "dev-admin:super_admin,u2:editor".
	StaticRoles map[string]string `env:"AUTH_STATIC_ROLES" envSeparator:"," envKeyValSeparator:":"`

	// RoleLookupTimeout bounds a single role resolution.
	RoleLookupTimeout time.Duration `env:"AUTH_ROLE_LOOKUP_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to auth configuration.
func (c *AuthConfig) Sanitize() {
	c.OIDC.DiscoveryURL = strings.TrimSpace(c.OIDC.DiscoveryURL)
	c.OIDC.DisplayNameExpr = strings.TrimSpace(c.OIDC.DisplayNameExpr)
	if c.DevAuth.TokenTTL <= 0 {
		c.DevAuth.TokenTTL = time.Hour
	}
	if c.RoleLookupTimeout <= 0 {
		c.RoleLookupTimeout = 5 * time.Second
	}
}
