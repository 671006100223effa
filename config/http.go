package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// StreamHeartbeat is how often the SSE stream sends a keep-alive comment.
	StreamHeartbeat time.Duration `env:"HTTP_STREAM_HEARTBEAT" envDefault:"15s"`
	// CSRFDisabled turns off the double-submit check (local tooling only).
	CSRFDisabled bool `env:"HTTP_CSRF_DISABLED" envDefault:"false"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
	if h.StreamHeartbeat <= 0 {
		h.StreamHeartbeat = 15 * time.Second
	}
}
