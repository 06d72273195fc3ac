// Package apierr defines the error taxonomy shared by the HTTP handlers and
// the services they call, and the JSON body used to report those errors.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by who is at fault and how it surfaces.
type Kind int

const (
	// KindInternal is the zero value: an unexpected failure inside the service.
	KindInternal Kind = iota
	// KindValidation is a missing or malformed input (client's fault).
	KindValidation
	// KindUnauthorized is a missing or invalid identity token.
	KindUnauthorized
	// KindForbidden is a valid identity lacking the required role or capability.
	KindForbidden
	// KindNotFound is an unknown resource or reference.
	KindNotFound
	// KindUpstream is a failure of an external provider.
	KindUpstream
	// KindConfig is a missing or invalid required setting.
	KindConfig
)

// String returns the wire code for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return CodeInvalidRequest
	case KindUnauthorized:
		return CodeUnauthorized
	case KindForbidden:
		return CodeForbidden
	case KindNotFound:
		return CodeNotFound
	case KindUpstream:
		return CodeUpstreamError
	case KindConfig:
		return CodeNotConfigured
	default:
		return CodeInternalError
	}
}

// Standard error codes for API responses.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeUpstreamError  = "upstream_error"
	CodeNotConfigured  = "not_configured"
	CodeInternalError  = "internal_error"
)

// Error is a classified error carrying a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Validation returns a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Forbidden returns a KindForbidden error.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// NotFound returns a KindNotFound error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Upstream wraps a provider failure.
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

// Config returns a KindConfig error.
func Config(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// KindOf reports the kind of err, or KindInternal if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Body is the JSON error response format.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response with the given status code, error code, and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Response already started, nothing we can do
	_ = json.NewEncoder(w).Encode(Body{Error: code, Message: message})
}

// Write reports err to the client. Classified errors keep their message;
// anything else becomes a generic 500 so internals never leak.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		switch e.Kind {
		case KindUpstream:
			msg = "upstream service failed"
		case KindInternal:
			msg = "internal server error"
		}
		WriteError(w, e.HTTPStatus(), e.Kind.String(), msg)
		return
	}
	WriteError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
}
