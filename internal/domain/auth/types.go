package auth

// Package auth contains domain-level types for admin authentication and the
// observable session state. It is pure and free of framework/adapter concerns.

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role represents a privileged admin role.
// Keep string form for easy persistence in the user_roles table.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleEditor     Role = "editor"
)

// Priority orders privileged roles. Unknown roles have priority 0.
func (r Role) Priority() int {
	switch r {
	case RoleSuperAdmin:
		return 3
	case RoleAdmin:
		return 2
	case RoleEditor:
		return 1
	default:
		return 0
	}
}

// Privileged reports whether r is one of the admin-surface roles.
func (r Role) Privileged() bool { return r.Priority() > 0 }

// ParseRole normalizes s into a Role. Unknown values are returned as-is and
// are not privileged.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// HighestRole returns the highest-priority privileged role in roles.
// The second result is false when roles holds no privileged role.
func HighestRole(roles []Role) (Role, bool) {
	var best Role
	for _, r := range roles {
		if r.Priority() > best.Priority() {
			best = r
		}
	}
	return best, best.Privileged()
}

// Principal is the authenticated, role-resolved actor.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Session is the auth backend's session payload.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the session can still be used at now.
func (s Session) Valid(now time.Time) bool {
	if s.UserID == "" || s.AccessToken == "" {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// Principal builds an unresolved principal from the session payload.
func (s Session) Principal(role Role) Principal {
	name := s.DisplayName
	if name == "" {
		name = s.Email
	}
	return Principal{ID: s.UserID, Email: s.Email, DisplayName: name, Role: role}
}

// EventKind tags an auth-state change delivered by the backend.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Event is a single auth-state transition. Session may be nil.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session *Session  `json:"session,omitempty"`
}

// NotificationKind identifies a user-visible message.
type NotificationKind string

const (
	NotifySessionExpired  NotificationKind = "session_expired"
	NotifyAccessDenied    NotificationKind = "access_denied"
	NotifySessionExtended NotificationKind = "session_extended"
	NotifySignedOut       NotificationKind = "signed_out"
	NotifyLoginFailed     NotificationKind = "login_failed"
	NotifyRefreshFailed   NotificationKind = "refresh_failed"
	NotifyLogoutFailed    NotificationKind = "logout_failed"
)

// Level is the severity a UI should render a notification with.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a fire-and-forget toast request.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Level   Level            `json:"level"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

// State is the externally observable session state that UI consumers render.
type State struct {
	Principal                *Principal `json:"principal,omitempty"`
	IsAuthenticated          bool       `json:"is_authenticated"`
	IsLoading                bool       `json:"is_loading"`
	IsExpired                bool       `json:"is_expired"`
	IdleWarningActive        bool       `json:"idle_warning_active"`
	SecondsUntilForcedLogout int        `json:"seconds_until_forced_logout"`
}

// Countdown renders SecondsUntilForcedLogout, or "" when no warning is shown.
func (s State) Countdown() string {
	if !s.IdleWarningActive {
		return ""
	}
	return FormatCountdown(s.SecondsUntilForcedLogout)
}

// Check verifies the state invariants UI consumers rely on.
func (s State) Check() error {
	var errs []error
	privileged := s.Principal != nil && s.Principal.Role.Privileged()
	if s.IsAuthenticated != privileged {
		errs = append(errs, errors.New("authenticated must equal privileged principal present"))
	}
	if s.IdleWarningActive && !s.IsAuthenticated {
		errs = append(errs, errors.New("idle warning without authentication"))
	}
	if s.IsExpired && s.IsAuthenticated {
		errs = append(errs, errors.New("expired and authenticated at once"))
	}
	if s.SecondsUntilForcedLogout < 0 {
		errs = append(errs, fmt.Errorf("negative countdown %d", s.SecondsUntilForcedLogout))
	}
	return errors.Join(errs...)
}

// FormatCountdown renders seconds as M:SS (minutes unpadded).
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
