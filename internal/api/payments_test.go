package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipico/checklist-bff/internal/entitlement"
	"github.com/sipico/checklist-bff/internal/mercadopago"
	"github.com/sipico/checklist-bff/internal/testutil/mockmp"
)

func TestHandleListPlans(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/plans", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var plans []PlanResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&plans))
	require.Len(t, plans, 4)
	assert.Equal(t, "monthly", plans[0].Key)
	assert.Equal(t, "BRL", plans[0].Currency)
	assert.Equal(t, 2, plans[3].AllowedAccessCount)
}

func TestHandleCreatePayment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	w := env.postJSON(t, "/criar-pagamento", "", `{"plan":"annual_plus","uid":"uid-1","email":"ana@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CreatePaymentResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, strings.HasPrefix(resp.CheckoutURL, env.mp.URL), resp.CheckoutURL)

	prefs := env.mp.Preferences()
	require.Len(t, prefs, 1)
	pref := prefs[0]
	require.Len(t, pref.Items, 1)
	assert.Equal(t, "annual_plus", pref.Items[0].ID)
	assert.InDelta(t, 399.90, pref.Items[0].UnitPrice, 0.001)
	assert.Equal(t, 1, pref.Items[0].Quantity)
	assert.Equal(t, "BRL", pref.Items[0].CurrencyID)
	assert.Equal(t, mercadopago.Metadata{UID: "uid-1", Plan: "annual_plus"}, pref.Metadata)
	assert.Equal(t, "uid-1", pref.ExternalReference)
	assert.Equal(t, "ana@example.com", pref.Payer.Email)
	assert.Equal(t, testBaseURL+"/webhook/mercadopago", pref.NotificationURL)
}

func TestHandleCreatePayment_Rejects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"unknown plan", `{"plan":"lifetime","uid":"u"}`},
		{"missing plan", `{"uid":"u"}`},
		{"missing uid", `{"plan":"monthly","uid":"  "}`},
		{"not json", `plan=monthly`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.postJSON(t, "/criar-pagamento", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, env.mp.Preferences())
}

func TestHandleCreatePayment_ProviderFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.mp.FailNext(1)

	w := env.postJSON(t, "/criar-pagamento", "", `{"plan":"monthly","uid":"u"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleWebhook_AsyncAcksAndDispatches(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := `{"action":"payment.updated","type":"payment","data":{"id":"777"}}`
	w := env.do(t, http.MethodPost, "/webhook/mercadopago?data.id=777&type=payment", "", "application/json", strings.NewReader(req))
	assert.Equal(t, http.StatusOK, w.Code)

	got := env.dispatcher.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "777", got[0].PaymentID)
	assert.Equal(t, "payment", got[0].Type)
	assert.NotEmpty(t, env.dispatcher.reqID[0], "request id must reach the background work")
}

func TestHandleWebhook_AsyncSwallowsFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.dispatcher.err = entitlement.ErrDispatcherClosed

	for _, body := range []string{"", "not json", `{"data":{"id":"1"}}`} {
		w := env.postJSON(t, "/webhook/mercadopago", "", body)
		assert.Equal(t, http.StatusOK, w.Code, "body %q", body)
	}
}

func TestHandleWebhook_AsyncEndToEnd(t *testing.T) {
	t.Parallel()

	var dispatcher *entitlement.Dispatcher
	env := newTestEnv(t, func(d *Deps) {
		dispatcher = entitlement.NewDispatcher(d.Reconciler, 2, 5*time.Second, d.Logger)
		d.Dispatcher = dispatcher
	})
	ctx := t.Context()

	_, err := env.store.EnsureUser(ctx, "uid-1", "ana@example.com")
	require.NoError(t, err)
	env.mp.AddPayment(approvedPayment(4242, "uid-1", "monthly"))

	for range 2 {
		status, err := mockmp.SendNotification(ctx, http.DefaultClient, serve(t, env.router), 4242, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
	}
	require.NoError(t, dispatcher.Shutdown(ctx))

	u, err := env.store.GetUser(ctx, "uid-1")
	require.NoError(t, err)
	assert.True(t, u.Entitlement.Authorized)
	assert.Equal(t, "monthly", u.Entitlement.Plan)
	assert.Equal(t, approvalTime.AddDate(0, 1, 0).UnixMilli(), u.Entitlement.ExpiresAt.UnixMilli())
}

func TestHandleWebhook_Sync(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(d *Deps) { d.WebhookMode = WebhookModeSync })
	ctx := t.Context()

	_, err := env.store.EnsureUser(ctx, "uid-1", "")
	require.NoError(t, err)
	env.mp.AddPayment(approvedPayment(1, "uid-1", "quarterly"))
	pending := approvedPayment(2, "uid-1", "annual")
	pending.Status = mercadopago.StatusPending
	env.mp.AddPayment(pending)

	t.Run("approved payment is applied", func(t *testing.T) {
		w := env.postJSON(t, "/webhook/mercadopago", "", `{"type":"payment","data":{"id":"1"}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"outcome":"applied"}`, w.Body.String())
	})

	t.Run("pending payment is ignored", func(t *testing.T) {
		w := env.postJSON(t, "/webhook/mercadopago", "", `{"type":"payment","data":{"id":"2"}}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"outcome":"ignored"}`, w.Body.String())

		u, err := env.store.GetUser(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, "quarterly", u.Entitlement.Plan)
	})

	t.Run("unknown payment is ignored", func(t *testing.T) {
		w := env.postJSON(t, "/webhook/mercadopago", "", `{"type":"payment","data":{"id":"999"}}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("malformed payment id is ignored", func(t *testing.T) {
		w := env.postJSON(t, "/webhook/mercadopago", "", `{"type":"payment","data":{"id":"abc"}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"outcome":"ignored"}`, w.Body.String())
	})

	t.Run("provider failure asks for a retry", func(t *testing.T) {
		env.mp.FailNext(1)
		w := env.postJSON(t, "/webhook/mercadopago", "", `{"type":"payment","data":{"id":"1"}}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

var approvalTime = time.Date(2026, 5, 10, 13, 0, 0, 0, time.UTC)

func approvedPayment(id int64, uid, plan string) mercadopago.Payment {
	at := approvalTime
	return mercadopago.Payment{
		ID:                id,
		Status:            mercadopago.StatusApproved,
		DateApproved:      &at,
		TransactionAmount: 29.90,
		CurrencyID:        "BRL",
		TransactionDetails: mercadopago.TransactionDetails{
			NetReceivedAmount: 28.00,
			TotalPaidAmount:   29.90,
		},
		Metadata: mercadopago.Metadata{UID: uid, Plan: plan},
	}
}
