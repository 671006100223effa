package auth

import (
	"context"
	"sync"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

// RecordingNotifier collects notifications for assertions.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []domainauth.Notification
}

func (r *RecordingNotifier) Notify(_ context.Context, n domainauth.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// All returns every notification in send order.
func (r *RecordingNotifier) All() []domainauth.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domainauth.Notification(nil), r.sent...)
}

// Kinds returns the kinds of every notification in send order.
func (r *RecordingNotifier) Kinds() []domainauth.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainauth.NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

// Count returns how many notifications of kind were sent.
func (r *RecordingNotifier) Count(kind domainauth.NotificationKind) int {
	n := 0
	for _, k := range r.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// Reset forgets everything recorded so far.
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
