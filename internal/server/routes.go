package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/tunewatch/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics records request latency. Nil disables recording.
	Metrics *metrics.Metrics
	// MetricsHandler serves GET /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /matches", h.ListMatches)
	mux.HandleFunc("POST /pause", h.Pause)
	mux.Handle("GET /metrics", cfg.MetricsHandler)

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, MetricsMiddleware(cfg.Metrics))
	}

	return ChainMiddleware(middlewares...)(mux)
}
