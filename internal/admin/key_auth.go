package admin

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/metrics"
)

// KeyHeader carries the ops key.
const KeyHeader = "X-Ops-Key"

// keyCost is the bcrypt cost used by HashKey.
const keyCost = 12

// HashKey creates a bcrypt hash of an ops key for OPS_API_KEY_HASH.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("ops key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), keyCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyKey checks if a key matches a bcrypt hash.
func VerifyKey(key, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
}

// KeyAuthMiddleware requires the ops key in the X-Ops-Key header.
func (h *Handler) KeyAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.keyHash == "" {
			apierr.WriteError(w, http.StatusNotFound, apierr.CodeNotFound, "ops API is disabled")
			return
		}

		key := strings.TrimSpace(r.Header.Get(KeyHeader))
		if key == "" {
			metrics.RecordAuthFailure("missing_ops_key")
			apierr.WriteError(w, http.StatusUnauthorized, apierr.CodeUnauthorized, "missing ops key")
			return
		}

		if err := VerifyKey(key, h.keyHash); err != nil {
			metrics.RecordAuthFailure("invalid_ops_key")
			if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				h.logger.Error("ops key hash is unusable", "error", err)
			}
			h.logger.Warn("invalid ops key attempt", "remote_addr", r.RemoteAddr)
			apierr.WriteError(w, http.StatusUnauthorized, apierr.CodeUnauthorized, "invalid ops key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
