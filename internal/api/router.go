package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sipico/checklist-bff/internal/auth"
	"github.com/sipico/checklist-bff/internal/metrics"
	"github.com/sipico/checklist-bff/internal/middleware"
)

const (
	// jsonBodyLimit bounds every non-upload request body.
	jsonBodyLimit = 64 << 10
	// base64Overhead covers base64 expansion plus the JSON envelope.
	base64Overhead = 4 << 10
)

// loggedFields are JSON fields whose values are logged verbatim at debug level.
var loggedFields = []string{
	"fileIds", "ownerKey", "batchId", "itemId", "mime", "fileId",
	"plan", "uid", "type", "action", "targetUid", "role", "allowedOwnerKeys",
	"error", "message", "ok",
}

// NewRouter creates a Chi router with all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.HTTPLogging(h.logger, loggedFields))

	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodySize(jsonBodyLimit))

		if h.SignedURLAuthz {
			r.With(h.requireIdentity()).Post("/signed-urls", h.HandleSignedURLs)
		} else {
			r.Post("/signed-urls", h.HandleSignedURLs)
		}
		r.Get("/drive-file/{id}", h.HandleDriveFile)

		r.Get("/plans", h.HandleListPlans)
		r.Post("/criar-pagamento", h.HandleCreatePayment)
		r.Post("/webhook/mercadopago", h.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.requireIdentity())
			r.Get("/me", h.HandleMe)
			r.Post("/portal/set-access", h.HandleSetAccess)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodySize(h.UploadMaxBytes*4/3 + base64Overhead))
		r.Use(h.optionalIdentity())
		r.Post("/upload-foto", h.HandleUpload)
		r.Post("/upload-foto-multipart", h.HandleUploadMultipart)
	})

	return r
}

// requireIdentity rejects requests without a verified identity token.
func (h *Handler) requireIdentity() func(http.Handler) http.Handler {
	if h.Verifier == nil {
		return func(http.Handler) http.Handler { return notConfigured("identity verification") }
	}
	return auth.Middleware(h.Verifier, h.logger)
}

// optionalIdentity verifies a bearer token when one is sent and lets
// anonymous requests through.
func (h *Handler) optionalIdentity() func(http.Handler) http.Handler {
	if h.Verifier == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	required := auth.Middleware(h.Verifier, h.logger)
	return func(next http.Handler) http.Handler {
		verified := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			verified.ServeHTTP(w, r)
		})
	}
}
