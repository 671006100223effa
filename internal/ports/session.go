package ports

import (
	"context"
	"time"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

// SessionController is the inbound port UI-facing transports drive.
// internal/service/session.Controller implements it.
type SessionController interface {
	State() domainauth.State
	Login(ctx context.Context, email, password string) bool
	Logout(ctx context.Context)
	RefreshSession(ctx context.Context) bool
	ExtendSession() bool
	RecordActivity(kind string) bool
	IdleDeadline() (time.Time, bool)
	Subscribe() (<-chan domainauth.State, func())
}
