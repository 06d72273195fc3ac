package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/metrics"
)

// Middleware requires a valid "Authorization: Bearer <identity token>" and
// stores the Identity in the request context.
func Middleware(v TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				metrics.RecordAuthFailure("missing_token")
				apierr.Write(w, apierr.Unauthorized("missing bearer token"))
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) {
					metrics.RecordAuthFailure("invalid_token")
					logger.Debug("identity token rejected", "error", err, "remote_addr", r.RemoteAddr)
					apierr.Write(w, apierr.Unauthorized("invalid or expired token"))
					return
				}
				logger.Error("identity verification failed", "error", err)
				apierr.Write(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// extractBearerToken gets token from "Authorization: Bearer <token>" header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
