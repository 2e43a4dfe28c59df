package api

import (
	"encoding/json"
	"net/http"

	"github.com/yardsight/yardsight/analysis-engine/internal/api/handlers"
	"github.com/yardsight/yardsight/analysis-engine/internal/api/middleware"
	"github.com/yardsight/yardsight/analysis-engine/internal/config"
	"github.com/yardsight/yardsight/analysis-engine/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Handle("/metrics", metrics.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Analyses
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", h.SubmitAnalysis)
			r.Get("/", h.ListAnalyses)
			r.Get("/{jobID}", h.GetAnalysis)
		})

		// Providers
		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.ListProviders)
			r.Post("/{providerID}/enable", h.EnableProvider)
			r.Post("/{providerID}/disable", h.DisableProvider)
		})

		// Provider health & engine status
		r.Get("/health/providers", h.ProviderHealth)
		r.Get("/status", h.EngineStatus)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "yardsight-analysis-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "yardsight-analysis-engine",
		})
	}
}
