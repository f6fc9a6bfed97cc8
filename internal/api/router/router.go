package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-booking-agent/internal/dialogue"
	"github.com/wolfman30/dental-booking-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-booking-agent/internal/http/middleware"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// HealthCheck probes one dependency for /health.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Dialogue        *dialogue.Handler
	Admin           *handlers.AdminHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
	// RateLimiter guards the patient-facing message endpoints when set.
	RateLimiter  *httpmiddleware.RateLimiter
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", health(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Dialogue != nil {
		r.Route("/v1", func(v1 chi.Router) {
			if cfg.RateLimiter != nil {
				v1.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			v1.Post("/messages", cfg.Dialogue.Message)
			v1.Post("/messages/async", cfg.Dialogue.EnqueueMessage)
			v1.Get("/jobs/{jobID}", cfg.Dialogue.JobStatus)
		})
	}

	if cfg.Admin != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Mount("/", cfg.Admin.Routes())
		})
	}

	return r
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := map[string]string{"status": "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp[name] = err.Error()
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
