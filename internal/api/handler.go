// Package api implements the public HTTP surface of the service: capability
// issuance and retrieval, photo uploads, checkout, the payment webhook and
// the access portal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/auth"
	"github.com/sipico/checklist-bff/internal/capability"
	"github.com/sipico/checklist-bff/internal/entitlement"
	"github.com/sipico/checklist-bff/internal/filestore"
	"github.com/sipico/checklist-bff/internal/mercadopago"
	"github.com/sipico/checklist-bff/internal/storage"
)

// Webhook processing modes.
const (
	WebhookModeAsync = "async"
	WebhookModeSync  = "sync"
)

// Store is the durable state the handlers read and write.
type Store interface {
	EnsureUser(ctx context.Context, uid, email string) (*storage.User, error)
	SetAccess(ctx context.Context, uid, role string, ownerKeys []string) error
	CreateFile(ctx context.Context, f *storage.FileRecord) error
	Ping(ctx context.Context) error
}

// FileIndex looks up upload provenance. storage.CachedFiles satisfies it.
type FileIndex interface {
	GetFile(ctx context.Context, fileID string) (*storage.FileRecord, error)
}

// CheckoutProvider creates hosted checkout sessions.
type CheckoutProvider interface {
	CreatePreference(ctx context.Context, req *mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

// NotificationDispatcher schedules a webhook delivery for background processing.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n entitlement.Notification) error
}

// Deps are the collaborators of the API handlers. Verifier and Policy may
// be nil when identity verification is not configured; the routes that need
// an identity then answer 500 not_configured.
type Deps struct {
	Broker  *capability.Broker
	Files   filestore.Store
	Backend string
	Store   Store
	Index   FileIndex

	Checkout      CheckoutProvider
	PublicBaseURL string

	WebhookMode string
	Reconciler  entitlement.Processor
	Dispatcher  NotificationDispatcher

	Verifier auth.TokenVerifier
	Policy   *auth.Policy

	// SignedURLAuthz requires an identity on /signed-urls and omits files
	// the caller may not reach.
	SignedURLAuthz bool
	UploadMaxBytes int64

	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// Handler serves the public API.
type Handler struct {
	Deps
	logger *slog.Logger
}

// NewHandler creates a handler. If deps.Logger is nil, slog.Default() is used.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.WebhookMode == "" {
		deps.WebhookMode = WebhookModeAsync
	}
	if deps.UploadMaxBytes <= 0 {
		deps.UploadMaxBytes = 15 << 20
	}
	return &Handler{Deps: deps, logger: logger}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

// decodeJSON decodes a single JSON object from the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierr.Validation("request body exceeds %d bytes", maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return apierr.Validation("request body is empty")
		}
		return apierr.Validation("invalid JSON body")
	}
	if dec.More() {
		return apierr.Validation("request body must contain a single JSON object")
	}
	return nil
}

// notConfigured answers for routes whose collaborators are missing.
func notConfigured(what string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		apierr.Write(w, apierr.Config(what+" is not configured"))
	}
}

// webhookURL is where the provider posts payment notifications.
func (h *Handler) webhookURL() string {
	if h.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(h.PublicBaseURL, "/") + "/webhook/mercadopago"
}
