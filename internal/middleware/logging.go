package middleware

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sipico/checklist-bff/internal/logging"
)

// maxLoggedBody caps how much of a request or response body is captured for
// logging. Larger bodies are summarized, never buffered whole.
const maxLoggedBody = 4 << 10

// HTTPLogging logs requests and responses at DEBUG level.
//
// allowlist names JSON fields whose values are logged verbatim (nil keeps
// everything). Headers, capability tokens in the query and base64 payloads
// are always masked.
func HTTPLogging(logger *slog.Logger, allowlist []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.Enabled(r.Context(), slog.LevelDebug) {
				next.ServeHTTP(w, r)
				return
			}

			logRequest(logger, r, allowlist)

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           new(bytes.Buffer),
			}

			start := time.Now()
			next.ServeHTTP(rec, r)

			logResponse(logger, r, rec, time.Since(start), allowlist)
		})
	}
}

func logRequest(logger *slog.Logger, r *http.Request, allowlist []string) {
	var body string
	// Multipart uploads are never buffered here; the handler streams them.
	if r.Body != nil && !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		// Only the head is read; body limits further down still see the whole stream.
		head, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
		if err != nil {
			logger.Error("Failed to read request body", "error", err)
			return
		}
		r.Body = splicedBody{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
		if len(head) > maxLoggedBody {
			body = fmt.Sprintf("[BODY: more than %d bytes]", maxLoggedBody)
		} else {
			body = maskBody(head, allowlist)
		}
	}

	logger.Debug("HTTP Request",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"url", r.URL.Path,
		"query_params", logging.MaskQuery(r.URL.RawQuery),
		"headers", maskHeaders(r.Header),
		"body", body,
	)
}

func logResponse(logger *slog.Logger, r *http.Request, rec *responseRecorder, duration time.Duration, allowlist []string) {
	body := maskBody(rec.body.Bytes(), allowlist)
	if rec.truncated {
		body = "[STREAM: " + rec.Header().Get("Content-Type") + "]"
	}

	logger.Debug("HTTP Response",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"url", r.URL.Path,
		"status_code", rec.statusCode,
		"headers", maskHeaders(rec.Header()),
		"body", body,
		"bytes", rec.written,
		"duration_ms", duration.Milliseconds(),
	)
}

func maskHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			result[k] = logging.MaskHeader(k, v[0])
		}
	}
	return result
}

func maskBody(body []byte, allowlist []string) string {
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		return logging.FormatBinaryData(body)
	}
	return string(logging.MaskJSONBody(body, allowlist))
}

// splicedBody replays the logged head before the unread remainder and closes
// the original body.
type splicedBody struct {
	io.Reader
	io.Closer
}

// responseRecorder captures the status code and the head of the body.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    int64
	truncated  bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.truncated {
		if r.body.Len()+len(b) > maxLoggedBody {
			r.truncated = true
			r.body.Reset()
		} else {
			r.body.Write(b)
		}
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// Flush forwards to the underlying writer so streamed downloads are not held back.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
