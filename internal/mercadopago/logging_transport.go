package mercadopago

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sipico/checklist-bff/internal/logging"
	"github.com/sipico/checklist-bff/internal/middleware"
)

// bodyAllowlist keeps the fields needed to trace a reconciliation; payer data is redacted.
var bodyAllowlist = []string{
	"id", "status", "status_detail", "date_approved", "transaction_amount",
	"net_received_amount", "uid", "plan", "init_point", "error", "message",
}

// LoggingTransport wraps an http.RoundTripper and logs provider traffic at DEBUG.
// The Authorization header is masked and bodies are filtered by bodyAllowlist.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if !t.Logger.Enabled(ctx, slog.LevelDebug) {
		return t.transport().RoundTrip(req)
	}

	start := time.Now()
	requestID := middleware.GetRequestID(ctx)

	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	t.Logger.Debug("Mercado Pago request",
		"request_id", requestID,
		"method", req.Method,
		"url", req.URL.String(),
		"headers", maskHeaders(req.Header),
		"body", string(logging.MaskJSONBody(reqBody, bodyAllowlist)),
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.Logger.Error("Mercado Pago request failed",
			"request_id", requestID,
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	//nolint:errcheck
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	t.Logger.Debug("Mercado Pago response",
		"request_id", requestID,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"body", string(logging.MaskJSONBody(respBody, bodyAllowlist)),
	)

	return resp, nil
}

func (t *LoggingTransport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = logging.MaskHeader(k, strings.Join(v, ", "))
	}
	return out
}
