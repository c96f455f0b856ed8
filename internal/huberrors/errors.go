// Package huberrors defines the hub's error taxonomy and maps it to HTTP
// status codes for the gateway layer.
package huberrors

import "net/http"

// Error type identifiers. These are stable strings so they can appear in
// logs and error messages without ambiguity.
const (
	ErrCapacityExhausted   = "capacity_exhausted"
	ErrBackendStartTimeout = "backend_start_timeout"
	ErrBackendRejected     = "backend_create_rejected"
	ErrTransport           = "transport"
	ErrNotFound            = "not_found"
	ErrInternal            = "internal"
)

// Error is a typed hub error. Type classifies the failure for HTTP status
// mapping and logging; Cause, if present, is the underlying error that
// triggered it.
type Error struct {
	Type    string
	Message string
	Cause   error

	// Status, when non-zero, overrides the default status code for Type.
	// Used by BackendCreateRejected to surface the backend's own status.
	Status int

	// Body, when non-nil, is the upstream response body the gateway's
	// ErrorHandler should write verbatim instead of a JSON error envelope.
	// Used by BackendCreateRejected to surface the backend's own rejection
	// body.
	Body []byte
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Type + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Type + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs an Error of the given type.
func NewError(errType, message string, cause error) *Error {
	return &Error{Type: errType, Message: message, Cause: cause}
}

// NewCapacityExhaustedError reports that no port or session slot was available.
func NewCapacityExhaustedError(message string, cause error) *Error {
	return NewError(ErrCapacityExhausted, message, cause)
}

// NewBackendStartTimeoutError reports that a backend never reached readiness.
func NewBackendStartTimeoutError(message string, cause error) *Error {
	return NewError(ErrBackendStartTimeout, message, cause)
}

// NewBackendCreateRejectedError reports that the backend's own /session call
// returned a non-2xx response. status/body carry the upstream response so the
// gateway can surface it verbatim.
func NewBackendCreateRejectedError(message string, status int, body []byte, cause error) *Error {
	return &Error{Type: ErrBackendRejected, Message: message, Cause: cause, Status: status, Body: body}
}

// NewTransportError reports a connection-level failure on an outbound call.
func NewTransportError(message string, cause error) *Error {
	return NewError(ErrTransport, message, cause)
}

// NewNotFoundError reports an unknown hub session id.
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewInternalError reports an unexpected failure that should be logged in
// full and surfaced to the client as a generic 500.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errType string) bool {
	if err == nil {
		return false
	}
	he, ok := err.(*Error)
	if !ok {
		return false
	}
	return he.Type == errType
}

// IsCapacityExhausted reports whether err is a CapacityExhausted error.
func IsCapacityExhausted(err error) bool { return isType(err, ErrCapacityExhausted) }

// IsBackendStartTimeout reports whether err is a BackendStartTimeout error.
func IsBackendStartTimeout(err error) bool { return isType(err, ErrBackendStartTimeout) }

// IsBackendRejected reports whether err is a BackendCreateRejected error.
func IsBackendRejected(err error) bool { return isType(err, ErrBackendRejected) }

// IsTransport reports whether err is a Transport error.
func IsTransport(err error) bool { return isType(err, ErrTransport) }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return isType(err, ErrNotFound) }

// IsInternal reports whether err is an Internal error.
func IsInternal(err error) bool { return isType(err, ErrInternal) }

// Code maps a hub error to the HTTP status code the gateway should return.
// Non-*Error values (unexpected, unwrapped errors) map to 500.
func Code(err error) int {
	he, ok := err.(*Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch he.Type {
	case ErrCapacityExhausted, ErrBackendStartTimeout, ErrTransport:
		return http.StatusServiceUnavailable
	case ErrBackendRejected:
		if he.Status != 0 {
			return he.Status
		}
		return http.StatusBadGateway
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
