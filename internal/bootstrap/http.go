package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/driptech/admin-session/config"
	httpx "github.com/driptech/admin-session/internal/http"
	"github.com/driptech/admin-session/internal/ports"
)

// HTTPHandlerConfig contains what the router needs.
type HTTPHandlerConfig struct {
	HTTP          config.HTTPConfig
	Controller    ports.SessionController
	Notifications httpx.NotificationSource
	Metrics       httpx.MetricsSnapshot
	Health        map[string]func(context.Context) error
	Logger        *slog.Logger
}

// BuildHTTPHandler assembles the session API router with middleware.
func BuildHTTPHandler(cfg HTTPHandlerConfig) http.Handler {
	health := make(map[string]httpx.HealthCheck, len(cfg.Health))
	for name, check := range cfg.Health {
		health[name] = httpx.HealthCheck(check)
	}

	return httpx.NewRouter(httpx.RouterServices{
		Sessions: &httpx.SessionHandlers{
			Ctrl:          cfg.Controller,
			Notifications: cfg.Notifications,
			Metrics:       cfg.Metrics,
			Heartbeat:     cfg.HTTP.StreamHeartbeat,
			Logger:        cfg.Logger,
		},
		Health: health,
		CSRF:   httpx.CSRFConfig{Disabled: cfg.HTTP.CSRFDisabled},
		Logger: cfg.Logger,
	})
}

// listenAddr guards against an empty addr to avoid listening on the Go default.
func listenAddr(addr string) string {
	if addr == "" {
		return ":8080"
	}
	return addr
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              listenAddr(addr),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /api/session/stream holds the response open.
		IdleTimeout: 120 * time.Second,
	}
}

// serveHTTP runs server on ln until ctx is cancelled, then shuts it down within timeout.
func serveHTTP(ctx context.Context, server *http.Server, ln net.Listener, timeout time.Duration, logger *slog.Logger) error {
	// Cancelling ctx also ends open event streams so Shutdown can drain.
	server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return <-errCh
}
