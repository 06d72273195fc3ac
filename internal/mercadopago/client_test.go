package mercadopago_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipico/checklist-bff/internal/mercadopago"
	"github.com/sipico/checklist-bff/internal/testutil/mockmp"
)

const testToken = "TEST-access-token"

func approvedPayment(id int64, approvedAt time.Time) mercadopago.Payment {
	return mercadopago.Payment{
		ID:                id,
		Status:            mercadopago.StatusApproved,
		StatusDetail:      "accredited",
		DateApproved:      &approvedAt,
		TransactionAmount: 29.9,
		CurrencyID:        "BRL",
		TransactionDetails: mercadopago.TransactionDetails{
			NetReceivedAmount: 28.41,
			TotalPaidAmount:   29.9,
		},
		FeeDetails: []mercadopago.FeeDetail{
			{Type: "mercadopago_fee", Amount: 1.19, FeePayer: "collector"},
			{Type: "financing_fee", Amount: 0.30, FeePayer: "collector"},
		},
		Metadata: mercadopago.Metadata{UID: "uid-1", Plan: "monthly"},
	}
}

func TestGetPayment(t *testing.T) {
	t.Parallel()

	srv := mockmp.New(testToken)
	defer srv.Close()

	approvedAt := time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC)
	srv.AddPayment(approvedPayment(999, approvedAt))

	client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
	p, err := client.GetPayment(context.Background(), "999")
	require.NoError(t, err)

	assert.Equal(t, int64(999), p.ID)
	assert.Equal(t, mercadopago.StatusApproved, p.Status)
	require.NotNil(t, p.DateApproved)
	assert.True(t, approvedAt.Equal(*p.DateApproved))
	assert.Equal(t, "uid-1", p.Metadata.UID)
	assert.Equal(t, "monthly", p.Metadata.Plan)
	assert.InDelta(t, 1.49, p.TotalFees(), 0.0001)
	assert.InDelta(t, 28.41, p.TransactionDetails.NetReceivedAmount, 0.0001)
	assert.Equal(t, 1, srv.Lookups("999"))
}

func TestGetPayment_Errors(t *testing.T) {
	t.Parallel()

	srv := mockmp.New(testToken)
	defer srv.Close()

	t.Run("unknown id", func(t *testing.T) {
		client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
		_, err := client.GetPayment(context.Background(), "404404")
		assert.ErrorIs(t, err, mercadopago.ErrNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
		_, err := client.GetPayment(context.Background(), "not-a-number")
		assert.ErrorIs(t, err, mercadopago.ErrNotFound)
		assert.Equal(t, 1, srv.Lookups("not-a-number"))
	})

	t.Run("empty id", func(t *testing.T) {
		client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
		_, err := client.GetPayment(context.Background(), "")
		assert.ErrorIs(t, err, mercadopago.ErrNotFound)
	})

	t.Run("bad token", func(t *testing.T) {
		client := mercadopago.NewClient("wrong", mercadopago.WithBaseURL(srv.URL))
		_, err := client.GetPayment(context.Background(), "1")
		assert.ErrorIs(t, err, mercadopago.ErrUnauthorized)
	})

	t.Run("cancelled context", func(t *testing.T) {
		client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.GetPayment(ctx, "1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGetPayment_ServerError(t *testing.T) {
	t.Parallel()

	srv := mockmp.New(testToken)
	defer srv.Close()
	srv.AddPayment(approvedPayment(7, time.Now()))
	srv.FailNext(1)

	client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
	_, err := client.GetPayment(context.Background(), "7")

	var apiErr *mercadopago.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, 500, apiErr.StatusCode)

	p, err := client.GetPayment(context.Background(), "7")
	require.NoError(t, err, "failure injection should be consumed")
	assert.Equal(t, int64(7), p.ID)
}

func TestCreatePreference(t *testing.T) {
	t.Parallel()

	srv := mockmp.New(testToken)
	defer srv.Close()

	client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
	pref, err := client.CreatePreference(context.Background(), &mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			ID: "annual_plus", Title: "Plano anual plus", Quantity: 1, UnitPrice: 399.90, CurrencyID: "BRL",
		}},
		Payer:             mercadopago.Payer{Email: "ana@example.com"},
		Metadata:          mercadopago.Metadata{UID: "uid-1", Plan: "annual_plus"},
		ExternalReference: "uid-1",
		NotificationURL:   "https://bff.example.com/webhook/mercadopago",
	})
	require.NoError(t, err)

	assert.Equal(t, "pref-1", pref.ID)
	assert.Contains(t, pref.InitPoint, "pref_id=pref-1")

	got := srv.Preferences()
	require.Len(t, got, 1)
	assert.Equal(t, "annual_plus", got[0].Metadata.Plan)
	assert.Equal(t, "ana@example.com", got[0].Payer.Email)
	assert.InDelta(t, 399.90, got[0].Items[0].UnitPrice, 0.0001)
}

func TestCreatePreference_Rejected(t *testing.T) {
	t.Parallel()

	srv := mockmp.New(testToken)
	defer srv.Close()

	client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
	_, err := client.CreatePreference(context.Background(), &mercadopago.PreferenceRequest{})

	var apiErr *mercadopago.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "items must not be empty")
}

func TestGetPayment_BadRequestStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		wantNotFound bool
	}{
		{"structured 400", http.StatusBadRequest, `{"message":"invalid id","error":"bad_request","status":400}`, true},
		{"bare 400", http.StatusBadRequest, ``, true},
		{"bare 502", http.StatusBadGateway, `<html>`, false},
		{"structured 500", http.StatusInternalServerError, `{"message":"boom","error":"internal_error","status":500}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := mercadopago.NewClient(testToken, mercadopago.WithBaseURL(srv.URL))
			_, err := client.GetPayment(context.Background(), "abc")
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, mercadopago.ErrNotFound), "err = %v", err)
		})
	}
}
