package entitlement

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Notification is a payment-provider webhook delivery reduced to the fields
// the reconciler needs.
type Notification struct {
	// Type is the event type from the body "type"/"topic" or the query.
	Type string
	// PaymentID is the provider's payment reference. Empty if none was found.
	PaymentID string
	// RequestID and Signature carry the x-request-id and x-signature headers.
	RequestID string
	Signature string
}

type notificationBody struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Data     struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ParseNotification extracts the event type and payment reference from a
// delivery. The reference is looked up in order: body data.id, query id or
// data.id, then the trailing segment of a body resource path or URL. A body
// that is not JSON is treated as empty.
func ParseNotification(body []byte, query url.Values) Notification {
	var b notificationBody
	if len(body) > 0 {
		_ = json.Unmarshal(body, &b) //nolint:errcheck
	}

	n := Notification{Type: firstNonEmpty(b.Type, b.Topic, query.Get("type"), query.Get("topic"))}
	if n.Type == "" && strings.HasPrefix(b.Action, "payment.") {
		n.Type = "payment"
	}

	n.PaymentID = firstNonEmpty(
		rawID(b.Data.ID),
		query.Get("data.id"),
		query.Get("id"),
		trailingSegment(b.Resource),
	)
	return n
}

// IsPayment reports whether the delivery concerns a payment. Deliveries
// without any type are assumed to be payments.
func (n Notification) IsPayment() bool {
	return n.Type == "" || n.Type == "payment"
}

// rawID accepts both string and numeric JSON ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func trailingSegment(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return ""
	}
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		resource = u.Path
	}
	resource = strings.TrimRight(resource, "/")
	if i := strings.LastIndexByte(resource, '/'); i >= 0 {
		resource = resource[i+1:]
	}
	return resource
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
