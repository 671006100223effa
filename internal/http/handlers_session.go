package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

// NotificationSource streams user-visible notifications (see notify.Hub).
type NotificationSource interface {
	Subscribe() (<-chan domainauth.Notification, func())
}

// MetricsSnapshot returns lifecycle counters keyed by metric name and result.
type MetricsSnapshot func() map[string]int64

// SessionHandlers exposes the session controller over JSON and SSE.
type SessionHandlers struct {
	Ctrl          ports.SessionController
	Notifications NotificationSource // optional
	Metrics       MetricsSnapshot    // optional
	Heartbeat     time.Duration
	Logger        *slog.Logger
}

// StateResponse is the JSON view of the session state.
type StateResponse struct {
	domainauth.State
	Countdown    string     `json:"countdown,omitempty"`
	IdleDeadline *time.Time `json:"idle_deadline,omitempty"`
}

type actionResponse struct {
	OK    bool          `json:"ok"`
	State StateResponse `json:"state"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type activityRequest struct {
	Kind string `json:"kind"`
}

func (h *SessionHandlers) snapshot(st domainauth.State) StateResponse {
	resp := StateResponse{State: st, Countdown: st.Countdown()}
	if deadline, ok := h.Ctrl.IdleDeadline(); ok && st.IsAuthenticated {
		d := deadline.UTC()
		resp.IdleDeadline = &d
	}
	return resp
}

func (h *SessionHandlers) respond(w http.ResponseWriter, ok bool, failStatus int) {
	status := http.StatusOK
	if !ok {
		status = failStatus
	}
	WriteJSON(w, status, actionResponse{OK: ok, State: h.snapshot(h.Ctrl.State())})
}

// Get returns the current state.
func (h *SessionHandlers) Get(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.snapshot(h.Ctrl.State()))
}

// Login authenticates with email and password.
func (h *SessionHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: errors.New("email and password are required")})
		return
	}
	h.respond(w, h.Ctrl.Login(r.Context(), req.Email, req.Password), http.StatusUnauthorized)
}

// Logout ends the session. It always succeeds from the caller's point of view.
func (h *SessionHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.Ctrl.Logout(r.Context())
	h.respond(w, true, http.StatusOK)
}

// Refresh renews the backend session.
func (h *SessionHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.Ctrl.RefreshSession(r.Context()), http.StatusUnauthorized)
}

// Extend dismisses the idle warning. 409 when no warning is showing.
func (h *SessionHandlers) Extend(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, h.Ctrl.ExtendSession(), http.StatusConflict)
}

// Activity records a throttled user-activity signal. Always 202; the body says
// whether it reset the idle timer.
func (h *SessionHandlers) Activity(w http.ResponseWriter, r *http.Request) {
	req := activityRequest{Kind: "request"}
	if r.ContentLength != 0 && !DecodeJSON(w, r, &req) {
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": h.Ctrl.RecordActivity(req.Kind)})
}

// MetricsHandler serves in-process lifecycle counters.
func (h *SessionHandlers) MetricsHandler(w http.ResponseWriter, _ *http.Request) {
	if h.Metrics == nil {
		WriteJSON(w, http.StatusOK, map[string]int64{})
		return
	}
	WriteJSON(w, http.StatusOK, h.Metrics())
}
