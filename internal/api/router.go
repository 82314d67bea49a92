package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP handler. CORS is only enabled for local mode,
// where a browser client talks to the backend directly.
func NewRouter(service *BackendService, allowCORS bool) http.Handler {
	r := chi.NewRouter()

	if allowCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// probes hit /health without the version prefix
	r.Get("/health", RestHandler(service.Health))

	r.Route("/api/v1", func(r chi.Router) {
		service.AddRoutes(r)
	})

	return r
}
