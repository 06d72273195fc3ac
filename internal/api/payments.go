package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/entitlement"
	"github.com/sipico/checklist-bff/internal/mercadopago"
	"github.com/sipico/checklist-bff/internal/middleware"
)

// currencyID is the currency every catalog price is quoted in.
const currencyID = "BRL"

// CreatePaymentRequest is the body of POST /criar-pagamento.
type CreatePaymentRequest struct {
	Plan  string `json:"plan"`
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// CreatePaymentResponse carries the hosted checkout address.
type CreatePaymentResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// PlanResponse is one catalog entry as exposed to clients.
type PlanResponse struct {
	Key                string  `json:"key"`
	Title              string  `json:"title"`
	Price              float64 `json:"price"`
	Currency           string  `json:"currency"`
	Months             int     `json:"months"`
	AllowedAccessCount int     `json:"allowedAccessCount"`
}

// HandleListPlans returns the plan catalog.
// GET /plans
func (h *Handler) HandleListPlans(w http.ResponseWriter, _ *http.Request) {
	plans := entitlement.Plans()
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanResponse{
			Key:                p.Key,
			Title:              p.Title,
			Price:              p.Price,
			Currency:           currencyID,
			Months:             p.Months,
			AllowedAccessCount: p.AllowedAccessCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreatePayment opens a checkout for a catalog plan. The uid and plan
// travel in the payment metadata so the webhook can apply the entitlement.
// POST /criar-pagamento
func (h *Handler) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	req.UID = strings.TrimSpace(req.UID)
	req.Email = strings.TrimSpace(req.Email)

	if req.Plan == "" || req.UID == "" {
		apierr.Write(w, apierr.Validation("plan and uid are required"))
		return
	}
	plan, ok := entitlement.LookupPlan(req.Plan)
	if !ok {
		apierr.Write(w, apierr.Validation("unknown plan %q", req.Plan))
		return
	}
	if h.Checkout == nil {
		apierr.Write(w, apierr.Config("payment provider is not configured"))
		return
	}

	pref, err := h.Checkout.CreatePreference(r.Context(), &mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			ID:         plan.Key,
			Title:      plan.Title,
			Quantity:   1,
			UnitPrice:  plan.Price,
			CurrencyID: currencyID,
		}},
		Payer:             mercadopago.Payer{Email: req.Email},
		Metadata:          mercadopago.Metadata{UID: req.UID, Plan: plan.Key},
		ExternalReference: req.UID,
		NotificationURL:   h.webhookURL(),
	})
	if err != nil {
		h.logger.Error("failed to create checkout preference", "uid", req.UID, "plan", plan.Key, "error", err)
		apierr.Write(w, apierr.Upstream("failed to create checkout", err))
		return
	}

	checkoutURL := pref.InitPoint
	if checkoutURL == "" {
		checkoutURL = pref.SandboxInitPoint
	}
	h.logger.Info("checkout created", "uid", req.UID, "plan", plan.Key, "preference_id", pref.ID)
	writeJSON(w, http.StatusOK, CreatePaymentResponse{CheckoutURL: checkoutURL})
}

// HandleWebhook receives payment notifications.
//
// In async mode the delivery is acknowledged before any processing and
// handed to the dispatcher; failures are only logged. In sync mode the
// notification is reconciled inline and infrastructure failures answer 500
// so the provider retries.
// POST /webhook/mercadopago
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, readErr := io.ReadAll(r.Body)

	n := entitlement.ParseNotification(body, r.URL.Query())
	n.RequestID = r.Header.Get("x-request-id")
	n.Signature = r.Header.Get("x-signature")

	if h.WebhookMode == WebhookModeSync {
		h.reconcileInline(w, r, n, readErr)
		return
	}

	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if readErr != nil {
		h.logger.Warn("failed to read payment notification", "error", readErr)
		return
	}
	if h.Dispatcher == nil {
		h.logger.Error("payment notification dropped: no dispatcher", "payment_id", n.PaymentID)
		return
	}
	if err := h.Dispatcher.Dispatch(r.Context(), n); err != nil {
		h.logger.Error("payment notification dropped", "payment_id", n.PaymentID, "error", err)
	}
}

func (h *Handler) reconcileInline(w http.ResponseWriter, r *http.Request, n entitlement.Notification, readErr error) {
	if readErr != nil {
		var maxErr *http.MaxBytesError
		if errors.As(readErr, &maxErr) {
			apierr.Write(w, apierr.Validation("notification body too large"))
			return
		}
		h.logger.Warn("failed to read payment notification", "error", readErr)
		apierr.Write(w, apierr.Validation("failed to read notification"))
		return
	}
	if h.Reconciler == nil {
		apierr.Write(w, apierr.Config("payment reconciler is not configured"))
		return
	}

	outcome, err := h.Reconciler.Reconcile(r.Context(), n)
	if err != nil {
		h.logger.Error("payment notification failed",
			"payment_id", n.PaymentID, "request_id", middleware.GetRequestID(r.Context()), "error", err)
		apierr.WriteError(w, http.StatusInternalServerError, apierr.CodeInternalError, "notification processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.Label()})
}
