package middleware

import (
	"net/http"

	"github.com/sipico/checklist-bff/internal/apierr"
)

// MaxBodySize limits request bodies to maxBytes. A request that declares a
// larger Content-Length is rejected with 413 before the handler runs; one
// that streams past the limit fails when the handler reads beyond it.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				apierr.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds the upload limit")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
