package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// MetricsSkipPaths are request paths not recorded in HTTP metrics.
	MetricsSkipPaths []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:   []string{"*"},
		MetricsSkipPaths: []string{"/metrics", "/health"},
	}
}

// NewRouter creates the ops HTTP router with all routes configured.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /status", h.Status)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /jobs", h.EnqueueJob)
	mux.HandleFunc("GET /runs", h.ListRuns)
	mux.HandleFunc("GET /runs/{id}", h.GetRun)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		MetricsMiddleware(cfg.MetricsSkipPaths),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
