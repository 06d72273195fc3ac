package mockmp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sipico/checklist-bff/internal/mercadopago"
)

// NotifyRequest is the body of POST /admin/notify.
type NotifyRequest struct {
	URL       string `json:"url"`
	PaymentID int64  `json:"paymentId"`
	Secret    string `json:"secret,omitempty"` // signs the delivery when set
}

// StateResponse is the response for GET /admin/state.
type StateResponse struct {
	Payments    []mercadopago.Payment           `json:"payments"`
	Preferences []mercadopago.PreferenceRequest `json:"preferences"`
	Lookups     map[string]int                  `json:"lookups"`
}

func (m *Mock) handleAdminAddPayment(w http.ResponseWriter, r *http.Request) {
	var p mercadopago.Payment
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "payment with non-zero id required")
		return
	}
	m.AddPayment(p)
	writeJSON(w, http.StatusCreated, p)
}

func (m *Mock) handleAdminPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Preferences())
}

func (m *Mock) handleAdminFail(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "count must be a non-negative integer")
		return
	}
	m.FailNext(n)
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminNotify delivers a payment webhook to the given URL, the way the
// provider does after a status change.
func (m *Mock) handleAdminNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" || req.PaymentID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "url and paymentId are required")
		return
	}

	status, err := SendNotification(r.Context(), http.DefaultClient, req.URL, req.PaymentID, req.Secret)
	if err != nil {
		writeError(w, http.StatusBadGateway, "delivery_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"status": status})
}

func (m *Mock) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	m.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (m *Mock) handleAdminState(w http.ResponseWriter, r *http.Request) {
	m.state.mu.RLock()
	resp := StateResponse{
		Payments:    make([]mercadopago.Payment, 0, len(m.state.payments)),
		Preferences: append([]mercadopago.PreferenceRequest(nil), m.state.preferences...),
		Lookups:     make(map[string]int, len(m.state.lookups)),
	}
	for _, p := range m.state.payments {
		resp.Payments = append(resp.Payments, *p)
	}
	for k, v := range m.state.lookups {
		resp.Lookups[k] = v
	}
	m.state.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// Notification builds a provider webhook body for a payment.
func Notification(paymentID int64) []byte {
	body, _ := json.Marshal(map[string]any{
		"action":    "payment.updated",
		"type":      "payment",
		"live_mode": false,
		"data":      map[string]string{"id": strconv.FormatInt(paymentID, 10)},
	})
	return body
}

// SendNotification posts a payment webhook to url and returns the response
// status. A non-empty secret adds x-signature and x-request-id headers.
func SendNotification(ctx context.Context, client *http.Client, url string, paymentID int64, secret string) (int, error) {
	dataID := strconv.FormatInt(paymentID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"?data.id="+dataID+"&type=payment", bytes.NewReader(Notification(paymentID)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	if secret != "" {
		requestID := uuid.New().String()
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("x-request-id", requestID)
		req.Header.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, mercadopago.Sign(secret, dataID, requestID, ts)))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	//nolint:errcheck
	resp.Body.Close()
	return resp.StatusCode, nil
}
