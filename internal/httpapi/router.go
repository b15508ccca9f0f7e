package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the top-level mux: POST /send, POST /status, and
// GET /health, with logging/recovery middleware and permissive CORS
// since clients are arbitrary server-side integrations, not browsers
// with cookies to protect.
func NewRouter(h *Handlers, health *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "GET"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", health.Handle)
	r.Post("/send", h.Send)
	r.Post("/status", h.Status)

	return r
}
