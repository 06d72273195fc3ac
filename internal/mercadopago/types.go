package mercadopago

import "time"

// Payment statuses reported by the provider.
const (
	StatusApproved   = "approved"
	StatusPending    = "pending"
	StatusInProcess  = "in_process"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusChargeback = "charged_back"
)

// Payment is the authoritative payment resource (GET /v1/payments/{id}).
type Payment struct {
	ID                 int64              `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	DateCreated        *time.Time         `json:"date_created,omitempty"`
	DateApproved       *time.Time         `json:"date_approved,omitempty"`
	TransactionAmount  float64            `json:"transaction_amount"`
	CurrencyID         string             `json:"currency_id"`
	TransactionDetails TransactionDetails `json:"transaction_details"`
	FeeDetails         []FeeDetail        `json:"fee_details"`
	Metadata           Metadata           `json:"metadata"`
	ExternalReference  string             `json:"external_reference"`
}

// TransactionDetails carries settlement amounts.
type TransactionDetails struct {
	NetReceivedAmount float64 `json:"net_received_amount"`
	TotalPaidAmount   float64 `json:"total_paid_amount"`
}

// FeeDetail is one fee charged on a payment.
type FeeDetail struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	FeePayer string  `json:"fee_payer"`
}

// Metadata is the purchase context attached when the preference was created.
type Metadata struct {
	UID  string `json:"uid"`
	Plan string `json:"plan"`
}

// TotalFees sums every fee on the payment.
func (p *Payment) TotalFees() float64 {
	var total float64
	for _, f := range p.FeeDetails {
		total += f.Amount
	}
	return total
}

// PreferenceItem is a line item in a checkout preference.
type PreferenceItem struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

// Payer identifies the buyer.
type Payer struct {
	Email string `json:"email,omitempty"`
}

// PreferenceRequest is the body of POST /checkout/preferences.
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	Payer             Payer            `json:"payer"`
	Metadata          Metadata         `json:"metadata"`
	ExternalReference string           `json:"external_reference,omitempty"`
	NotificationURL   string           `json:"notification_url,omitempty"`
}

// Preference is the created checkout preference.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}
