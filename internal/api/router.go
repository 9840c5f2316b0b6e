package api

import (
	"encoding/json"
	"net/http"

	"github.com/manatap/triage/internal/api/handlers"
	"github.com/manatap/triage/internal/api/middleware"
	"github.com/manatap/triage/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, auth *middleware.APIKeyAuth) http.Handler {
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/triage", func(r chi.Router) {
			r.Post("/classify", h.Classify)
			r.Post("/plan", h.Plan)
		})
		r.Post("/chat", h.Chat)
		r.Post("/mulligan/advice", h.MulliganAdvice)

		// Model capabilities
		r.Route("/models/capabilities", func(r chi.Router) {
			r.Get("/", h.ListCapabilities)
			r.Get("/{modelId}", h.GetCapability)
		})

		// Operator surface
		r.Route("/admin", func(r chi.Router) {
			r.Route("/runtime-config", func(r chi.Router) {
				r.Get("/", h.GetRuntimeConfig)
				r.Post("/refresh", h.RefreshRuntimeConfig)
				r.Put("/{key}", h.PutRuntimeConfig)
			})
			r.Get("/usage", h.GetUsage)
		})
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "llm-triage",
		})
	}
}
