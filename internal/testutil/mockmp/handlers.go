package mockmp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sipico/checklist-bff/internal/mercadopago"
)

// AddPayment seeds a payment. Its id is the lookup key.
func (m *Mock) AddPayment(p mercadopago.Payment) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	cp := p
	m.state.payments[strconv.FormatInt(p.ID, 10)] = &cp
}

// SetStatus changes the status of a seeded payment.
func (m *Mock) SetStatus(id int64, status string) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	if p, ok := m.state.payments[strconv.FormatInt(id, 10)]; ok {
		p.Status = status
	}
}

// Lookups reports how many times GET /v1/payments/{id} was served for id.
func (m *Mock) Lookups(id string) int {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	return m.state.lookups[id]
}

// Preferences returns every preference request received so far.
func (m *Mock) Preferences() []mercadopago.PreferenceRequest {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	out := make([]mercadopago.PreferenceRequest, len(m.state.preferences))
	copy(out, m.state.preferences)
	return out
}

// FailNext makes the next n API calls answer 500.
func (m *Mock) FailNext(n int) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.failNext = n
}

// Reset clears all state.
func (m *Mock) Reset() {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.payments = make(map[string]*mercadopago.Payment)
	m.state.lookups = make(map[string]int)
	m.state.preferences = nil
	m.state.nextPrefID = 1
	m.state.failNext = 0
}

// requireToken rejects calls without the expected bearer token and applies
// failure injection.
func (m *Mock) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" || (m.accessToken != "" && token != m.accessToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
			return
		}

		m.state.mu.Lock()
		fail := m.state.failNext > 0
		if fail {
			m.state.failNext--
		}
		m.state.mu.Unlock()
		if fail {
			writeError(w, http.StatusInternalServerError, "internal_error", "injected failure")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Mock) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m.state.mu.Lock()
	m.state.lookups[id]++
	p, ok := m.state.payments[id]
	var cp mercadopago.Payment
	if ok {
		cp = *p
	}
	m.state.mu.Unlock()

	if !ok {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid payment id")
			return
		}
		writeError(w, http.StatusNotFound, "not_found", "Payment not found")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (m *Mock) handleCreatePreference(w http.ResponseWriter, r *http.Request) {
	var req mercadopago.PreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "items must not be empty")
		return
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid item quantity or unit_price")
			return
		}
	}

	m.state.mu.Lock()
	id := fmt.Sprintf("pref-%d", m.state.nextPrefID)
	m.state.nextPrefID++
	m.state.preferences = append(m.state.preferences, req)
	m.state.mu.Unlock()

	base := "http://" + r.Host
	writeJSON(w, http.StatusCreated, mercadopago.Preference{
		ID:               id,
		InitPoint:        base + "/checkout/v1/redirect?pref_id=" + id,
		SandboxInitPoint: base + "/sandbox/checkout/v1/redirect?pref_id=" + id,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, mercadopago.APIError{StatusCode: status, Code: code, Message: message})
}
