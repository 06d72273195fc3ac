// Package mercadopago is a minimal client for the Mercado Pago REST API:
// payment lookup for webhook reconciliation and checkout preference creation.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	// DefaultBaseURL is the production API origin.
	DefaultBaseURL = "https://api.mercadopago.com"

	// maxResponseBytes bounds how much of a provider response is read.
	maxResponseBytes = 1 << 20
)

// Client is an HTTP client for the Mercado Pago API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing with mock server).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a client authenticating with accessToken.
func NewClient(accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		accessToken: accessToken,
		httpClient:  http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetPayment fetches the authoritative state of a payment.
// Returns ErrNotFound if the provider does not know the id, including ids it
// rejects as malformed.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var payment Payment
	endpoint := c.baseURL + "/v1/payments/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, http.StatusOK, &payment); err != nil {
		if httpStatus(err) == http.StatusBadRequest {
			err = ErrNotFound
		}
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return &payment, nil
}

// CreatePreference creates a checkout preference and returns its redirect points.
func (c *Client) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preference: %w", err)
	}

	var pref Preference
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", body, http.StatusCreated, &pref); err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}
	return &pref, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	// Preference creation answers 201; some proxies rewrite it to 200.
	if resp.StatusCode != wantStatus && resp.StatusCode != http.StatusOK {
		return parseError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseError converts an error response into an error value.
func parseError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			apiErr.StatusCode = statusCode
			return &apiErr
		}
		return &statusError{code: statusCode}
	}
}

// statusError is a provider failure without a structured body.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mercadopago: request failed (status %d)", e.code)
}

// httpStatus reports the HTTP status carried by err, or 0.
func httpStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}
