package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sipico/checklist-bff/internal/testutil/mockstore"
)

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(nil, "")
	w := doRequest(h, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		store      Storage
		wantStatus int
		wantBody   string
	}{
		{"connected", &mockstore.MockStorage{}, http.StatusOK, `"database":"connected"`},
		{"unavailable", &mockstore.MockStorage{
			PingFunc: func(context.Context) error { return errors.New("connection refused") },
		}, http.StatusServiceUnavailable, `"database":"unavailable"`},
		{"not configured", nil, http.StatusServiceUnavailable, `"database":"not configured"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _ := newTestHandler(tt.store, "")
			w := doRequest(h, http.MethodGet, "/ready", "", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}
