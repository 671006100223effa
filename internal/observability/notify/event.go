package notify

// Package notify routes session notifications to the places that show them:
// the log, live SSE subscribers, and optional outbound sinks such as Slack.

import (
	"context"
	"time"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

// SecurityNotice is the payload sent to outbound sinks for audit-worthy notifications.
type SecurityNotice struct {
	Kind       domainauth.NotificationKind
	Level      domainauth.Level
	Title      string
	Message    string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming security notices.
type Sink interface {
	SendSecurityNotice(ctx context.Context, notice SecurityNotice) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, notice SecurityNotice) error

// SendSecurityNotice implements the Sink interface.
func (f SinkFunc) SendSecurityNotice(ctx context.Context, notice SecurityNotice) error {
	if f == nil {
		return nil
	}
	return f(ctx, notice)
}

// NoticeFrom converts a notification into a SecurityNotice.
func NoticeFrom(n domainauth.Notification, metadata map[string]string) SecurityNotice {
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	var md map[string]string
	if len(metadata) > 0 {
		md = make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	return SecurityNotice{
		Kind:       n.Kind,
		Level:      n.Level,
		Title:      n.Title,
		Message:    n.Message,
		OccurredAt: at,
		Metadata:   md,
	}
}
