package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// TestMetricsMiddlewareStatusCodes verifies the middleware passes every status through
func TestMetricsMiddlewareStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"201 Created", http.StatusCreated},
		{"400 Bad Request", http.StatusBadRequest},
		{"403 Forbidden", http.StatusForbidden},
		{"404 Not Found", http.StatusNotFound},
		{"500 Internal Server Error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

			if w.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, w.Code)
			}
		})
	}
}

// TestMetricsMiddlewarePreservesResponseBody verifies middleware doesn't interfere with response
func TestMetricsMiddlewarePreservesResponseBody(t *testing.T) {
	t.Parallel()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
		w.Write([]byte(" "))
		w.Write([]byte("world"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "hello world" {
		t.Errorf("expected body 'hello world', got %q", w.Body.String())
	}
}

// TestStatusRecorderMultipleWriteHeaders verifies WriteHeader is only called once
func TestStatusRecorderMultipleWriteHeaders(t *testing.T) {
	t.Parallel()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

// TestStatusRecorderFlush verifies streaming handlers can flush through the wrapper
func TestStatusRecorderFlush(t *testing.T) {
	t.Parallel()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("flush failed: %v", err)
		}
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/drive-file/x", nil))

	if !w.Flushed {
		t.Error("expected response to be flushed")
	}
}

// TestMetricsMiddlewareRepanics verifies panics are recorded and re-raised
func TestMetricsMiddlewareRepanics(t *testing.T) {
	t.Parallel()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Errorf("expected http.ErrAbortHandler to propagate, got %v", p)
		}
	}()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/drive-file/x", nil))
	t.Error("expected panic")
}

// TestMetricsMiddlewareUsesRoutePattern checks chi route patterns become the path label
func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	// Don't run in parallel - calls Init() which modifies global state
	reg := prometheus.NewRegistry()
	if err := Init(reg); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/drive-file/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	for _, id := range []string{"abc", "def", "ghi"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/drive-file/"+id, nil))
	}

	output, err := GetMetricsText(reg)
	if err != nil {
		t.Fatalf("GetMetricsText() error: %v", err)
	}
	want := `checklist_bff_requests_total{method="GET",path="/drive-file/{id}",status="403"} 3`
	if !strings.Contains(output, want) {
		t.Errorf("expected %s in output:\n%s", want, output)
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/v1/payments/123", "/v1/payments/:id"},
		{"/drive-file/1AbCdEfGhIjKlMnOpQrStUv", "/drive-file/:id"},
		{"/files/123/parts/456", "/files/:id/parts/:id"},
		{"/files/3f2b8c1e-9d4a-4b7e-8f6a-2c1d0e9b7a55", "/files/:id"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
