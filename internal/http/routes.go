package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Sessions *SessionHandlers
	Health   map[string]HealthCheck
	CSRF     CSRFConfig
	Logger   *slog.Logger // Logger for request logs and panics (optional)
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if services.Sessions.Logger == nil {
		services.Sessions.Logger = logger
	}

	mux := http.NewServeMux()
	registerSessionRoutes(mux, services.Sessions)

	health := HealthHandler(services.Health)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	return Chain(mux,
		RequestID(),
		Recover(logger),
		Logging(logger),
		CSRFProtection(services.CSRF),
	)
}

func registerSessionRoutes(mux *http.ServeMux, h *SessionHandlers) {
	mux.HandleFunc("GET /api/session", h.Get)
	mux.HandleFunc("POST /api/session/login", h.Login)
	mux.HandleFunc("POST /api/session/logout", h.Logout)
	mux.HandleFunc("POST /api/session/refresh", h.Refresh)
	mux.HandleFunc("POST /api/session/extend", h.Extend)
	mux.HandleFunc("POST /api/session/activity", h.Activity)
	mux.HandleFunc("GET /api/session/stream", h.Stream)
	mux.HandleFunc("GET /api/session/metrics", h.MetricsHandler)
}
