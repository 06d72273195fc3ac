package admin

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sipico/checklist-bff/internal/middleware"
)

// NewRouter creates the ops router.
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)

	// Public endpoints (no auth)
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.KeyAuthMiddleware)
		r.Use(middleware.MaxBodySize(4 << 10))

		r.Get("/whoami", h.HandleWhoami)
		r.Get("/loglevel", h.HandleGetLogLevel)
		r.Post("/loglevel", h.HandleSetLogLevel)
		r.Get("/users", h.HandleListPrivilegedUsers)
	})

	return r
}
