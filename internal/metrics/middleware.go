package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// opaqueSegment matches path segments that look like ids: digits, uuids or
// long storage object ids.
var opaqueSegment = regexp.MustCompile(`/([0-9]+|[0-9a-fA-F-]{32,36}|[A-Za-z0-9_-]{20,})(/|$)`)

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code and writes it to the underlying ResponseWriter
func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called before writing body
func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.statusCode = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

// Flush lets streaming handlers push partial responses.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware returns an HTTP middleware that records Prometheus metrics for each request.
// It tracks:
// - Request count by method, route, and status code
// - Request duration (latency)
// - Panics are recorded as 500 and then re-raised so the server can abort the connection
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		startTime := time.Now()

		defer func() {
			p := recover()

			statusCode := recorder.statusCode
			if p != nil && !recorder.written {
				statusCode = http.StatusInternalServerError
			}
			status := strconv.Itoa(statusCode)
			path := routeLabel(r)

			RecordRequest(r.Method, path, status)
			RecordRequestDuration(r.Method, path, status, time.Since(startTime).Seconds())

			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(recorder, r)
	})
}

// routeLabel prefers the matched chi route pattern and falls back to a
// normalized path for requests that did not match a route.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath takes a request path and returns a normalized version for use as a metric label.
// This prevents cardinality explosion from unique IDs in paths.
// Examples:
//
//	/drive-file/1AbCdEfGhIjKlMnOpQrStUv -> /drive-file/:id
//	/v1/payments/123 -> /v1/payments/:id
func normalizePath(path string) string {
	for {
		next := opaqueSegment.ReplaceAllString(path, "/:id$2")
		if next == path {
			return next
		}
		path = next
	}
}
