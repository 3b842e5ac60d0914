package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ShutdownTimeout bounds graceful shutdown of open requests.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// AllowedOrigins lists browser origins accepted on the progress websocket.
	// Empty allows same-origin requests only; "*" allows any origin.
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS" envDefault:""`

	// PingInterval is how often progress connections are pinged.
	PingInterval time.Duration `env:"HTTP_PROGRESS_PING_INTERVAL" envDefault:"15s"`

	// ResyncInterval is how often progress connections re-read the stored
	// snapshot to catch updates relayed before the subscription was live.
	ResyncInterval time.Duration `env:"HTTP_PROGRESS_RESYNC_INTERVAL" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if strings.TrimSpace(h.Addr) == "" {
		h.Addr = ":8080"
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
	if h.PingInterval < time.Second {
		h.PingInterval = time.Second
	}
	if h.ResyncInterval < time.Second {
		h.ResyncInterval = time.Second
	}
	origins := h.AllowedOrigins[:0]
	for _, o := range h.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	h.AllowedOrigins = origins
}
