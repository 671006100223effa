package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

const defaultHeartbeat = 15 * time.Second

// Stream sends the current state, then every state change and notification, as
// server-sent events until the client goes away or the controller closes.
func (h *SessionHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	states, unsubscribe := h.Ctrl.Subscribe()
	defer unsubscribe()

	var notes <-chan domainauth.Notification
	if h.Notifications != nil {
		ch, cancel := h.Notifications.Subscribe()
		defer cancel()
		notes = ch
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) bool {
		if err := writeEvent(w, event, v); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send("state", h.snapshot(h.Ctrl.State())) {
		return
	}
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				_ = send("closed", map[string]bool{"closed": true})
				return
			}
			if !send("state", h.snapshot(st)) {
				return
			}
		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			if !send("notification", n) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				logger.DebugContext(ctx, "sse flush failed", "error", err)
				return
			}
		}
	}
}

// writeEvent frames v as a single SSE event.
func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	_, err = buf.WriteTo(w)
	return err
}
