// Package entitlement turns payment-provider notifications into user
// entitlements. The provider is always re-queried for the authoritative
// payment; the notification body is only a hint.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sipico/checklist-bff/internal/mercadopago"
	"github.com/sipico/checklist-bff/internal/metrics"
	"github.com/sipico/checklist-bff/internal/middleware"
	"github.com/sipico/checklist-bff/internal/storage"
)

// Gateway is recorded as the payment provenance.
const Gateway = "mercadopago"

// Reasons attached to an Outcome.
const (
	ReasonApplied         = "applied"
	ReasonNotPayment      = "not_payment"
	ReasonNoReference     = "no_reference"
	ReasonBadSignature    = "bad_signature"
	ReasonUnknownPayment  = "unknown_payment"
	ReasonNotApproved     = "not_approved"
	ReasonInvalidMetadata = "invalid_metadata"
	ReasonUnknownUser     = "unknown_user"
	ReasonStale           = "stale"
)

// Outcome is the terminal state of one notification.
type Outcome struct {
	Applied   bool
	Reason    string
	PaymentID string
	UID       string
	Plan      string
}

// Label is "applied" or "ignored".
func (o Outcome) Label() string {
	if o.Applied {
		return "applied"
	}
	return "ignored"
}

func ignored(reason string) Outcome {
	return Outcome{Reason: reason}
}

// PaymentSource fetches authoritative payment state.
type PaymentSource interface {
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
}

// EntitlementWriter applies an entitlement patch atomically.
type EntitlementWriter interface {
	ApplyEntitlement(ctx context.Context, uid string, patch storage.EntitlementPatch) error
}

// Reconciler applies approved payments to user entitlements.
type Reconciler struct {
	payments PaymentSource
	store    EntitlementWriter
	secret   string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithWebhookSecret enables x-signature verification of deliveries.
func WithWebhookSecret(secret string) Option {
	return func(r *Reconciler) {
		r.secret = secret
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source used when the provider omits the
// approval time.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a Reconciler.
func NewReconciler(payments PaymentSource, store EntitlementWriter, opts ...Option) *Reconciler {
	r := &Reconciler{
		payments: payments,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile processes one notification. Every terminal state that is not an
// infrastructure failure is reported as an Outcome with a nil error; the
// error is non-nil only when the provider or the store could not be reached.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Outcome, error) {
	out, err := r.reconcile(ctx, n)
	out.PaymentID = n.PaymentID

	logger := r.logger.With("request_id", middleware.GetRequestID(ctx), "payment_id", n.PaymentID)
	switch {
	case err != nil:
		metrics.RecordWebhookOutcome("error", "upstream")
		logger.Error("payment notification failed", "error", err)
	case out.Applied:
		metrics.RecordWebhookOutcome(out.Label(), out.Reason)
		logger.Info("entitlement applied", "uid", out.UID, "plan", out.Plan)
	default:
		metrics.RecordWebhookOutcome(out.Label(), out.Reason)
		logger.Info("payment notification ignored", "reason", out.Reason, "uid", out.UID)
	}
	return out, err
}

func (r *Reconciler) reconcile(ctx context.Context, n Notification) (Outcome, error) {
	if !n.IsPayment() {
		return ignored(ReasonNotPayment), nil
	}
	if n.PaymentID == "" {
		return ignored(ReasonNoReference), nil
	}
	if r.secret != "" && !mercadopago.VerifySignature(r.secret, n.Signature, n.RequestID, n.PaymentID) {
		return ignored(ReasonBadSignature), nil
	}

	payment, err := r.payments.GetPayment(ctx, n.PaymentID)
	if err != nil {
		if errors.Is(err, mercadopago.ErrNotFound) {
			return ignored(ReasonUnknownPayment), nil
		}
		return Outcome{}, fmt.Errorf("fetch payment: %w", err)
	}

	if payment.Status != mercadopago.StatusApproved {
		return ignored(ReasonNotApproved), nil
	}

	uid := payment.Metadata.UID
	plan, ok := LookupPlan(payment.Metadata.Plan)
	if uid == "" || !ok {
		return Outcome{Reason: ReasonInvalidMetadata, UID: uid, Plan: payment.Metadata.Plan}, nil
	}

	patch := BuildPatch(plan, payment, r.now())
	out := Outcome{UID: uid, Plan: plan.Key}

	switch err := r.store.ApplyEntitlement(ctx, uid, patch); {
	case err == nil:
		out.Applied = true
		out.Reason = ReasonApplied
	case errors.Is(err, storage.ErrNotFound):
		out.Reason = ReasonUnknownUser
	case errors.Is(err, storage.ErrStale):
		out.Reason = ReasonStale
	default:
		return out, fmt.Errorf("apply entitlement: %w", err)
	}
	return out, nil
}

// BuildPatch derives the entitlement for an approved payment. The approval
// instant T is the provider's date_approved, or fallback when absent, so the
// patch depends only on (plan, payment) for a given delivery history.
func BuildPatch(plan Plan, p *mercadopago.Payment, fallback time.Time) storage.EntitlementPatch {
	approvedAt := fallback
	if p.DateApproved != nil && !p.DateApproved.IsZero() {
		approvedAt = *p.DateApproved
	}
	approvedAt = approvedAt.UTC().Truncate(time.Millisecond)

	return storage.EntitlementPatch{
		Plan:               plan.Key,
		AllowedAccessCount: plan.AllowedAccessCount,
		ExpiresAt:          approvedAt.AddDate(0, plan.Months, 0),
		ApprovedAt:         approvedAt,
		Payment: storage.PaymentRecord{
			Gateway:   Gateway,
			PaymentID: strconv.FormatInt(p.ID, 10),
			Status:    p.Status,
			Gross:     p.TransactionAmount,
			Net:       p.TransactionDetails.NetReceivedAmount,
			Fees:      p.TotalFees(),
		},
	}
}
