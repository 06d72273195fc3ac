package mercadopago

import (
	"errors"
	"fmt"
)

// APIError is a structured error returned by the provider.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// Sentinel errors for common API error cases.
var (
	ErrUnauthorized = errors.New("mercadopago: unauthorized (invalid access token)")
	ErrNotFound     = errors.New("mercadopago: resource not found")
)
