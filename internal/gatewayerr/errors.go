// Package gatewayerr defines the error taxonomy for the gateway pipeline.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrEndpointNotFound.
//   - The structured GatewayError type for user-visible failures that
//     carry a machine-readable code, request id, and timestamp.
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common sentinel errors.
var (
	ErrEndpointNotFound  = errors.New("endpoint not found")
	ErrUnauthenticated   = errors.New("authentication required")
	ErrForbidden         = errors.New("insufficient permissions")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrUpstreamUnavail   = errors.New("upstream unavailable")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrValidationFailed  = errors.New("validation failed")
	ErrInternal          = errors.New("internal error")
)

// Code is a machine-readable gateway error code.
type Code string

// Gateway error codes.
const (
	CodeEndpointNotFound Code = "ENDPOINT_NOT_FOUND"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeCircuitOpen      Code = "CIRCUIT_OPEN"
	CodeUpstreamUnavail  Code = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout  Code = "UPSTREAM_TIMEOUT"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// HTTPStatus maps an error code to its HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeEndpointNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeUpstreamUnavail:
		return http.StatusBadGateway
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeValidationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sentinel returns the sentinel error matching the code.
func (c Code) sentinel() error {
	switch c {
	case CodeEndpointNotFound:
		return ErrEndpointNotFound
	case CodeUnauthenticated:
		return ErrUnauthenticated
	case CodeForbidden:
		return ErrForbidden
	case CodeRateLimited:
		return ErrRateLimited
	case CodeCircuitOpen:
		return ErrCircuitOpen
	case CodeUpstreamUnavail:
		return ErrUpstreamUnavail
	case CodeUpstreamTimeout:
		return ErrUpstreamTimeout
	case CodeValidationFailed:
		return ErrValidationFailed
	default:
		return ErrInternal
	}
}

// GatewayError is a user-visible pipeline failure. It always carries a
// machine-readable code, a human-readable message, the request id, and a
// timestamp; transport-level detail stays in Cause and is never serialized.
type GatewayError struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is reports a match against another GatewayError with the same code or
// against the code's sentinel.
func (e *GatewayError) Is(target error) bool {
	if other, ok := target.(*GatewayError); ok {
		return e.Code == other.Code
	}
	return errors.Is(e.Code.sentinel(), target)
}

// Status returns the HTTP status for this error.
func (e *GatewayError) Status() int {
	return e.Code.HTTPStatus()
}

// New creates a GatewayError with the given code and message.
func New(code Code, message string) *GatewayError {
	return &GatewayError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates a GatewayError wrapping a cause.
func Wrap(code Code, message string, cause error) *GatewayError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithRequestID attaches the request id and returns the error.
func (e *GatewayError) WithRequestID(requestID string) *GatewayError {
	e.RequestID = requestID
	return e
}

// FromError normalizes any error into a GatewayError. Unknown errors map to
// CodeInternal with a generic message so that internal detail never leaks.
func FromError(err error) *GatewayError {
	if err == nil {
		return nil
	}

	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}

	switch {
	case errors.Is(err, ErrEndpointNotFound):
		return Wrap(CodeEndpointNotFound, "no matching endpoint", err)
	case errors.Is(err, ErrUnauthenticated):
		return Wrap(CodeUnauthenticated, "authentication required", err)
	case errors.Is(err, ErrForbidden):
		return Wrap(CodeForbidden, "insufficient permissions", err)
	case errors.Is(err, ErrRateLimited):
		return Wrap(CodeRateLimited, "rate limit exceeded", err)
	case errors.Is(err, ErrCircuitOpen):
		return Wrap(CodeCircuitOpen, "service temporarily unavailable", err)
	case errors.Is(err, ErrUpstreamUnavail):
		return Wrap(CodeUpstreamUnavail, "upstream unavailable", err)
	case errors.Is(err, ErrUpstreamTimeout):
		return Wrap(CodeUpstreamTimeout, "upstream timed out", err)
	case errors.Is(err, ErrValidationFailed):
		return Wrap(CodeValidationFailed, "request validation failed", err)
	default:
		return Wrap(CodeInternal, "internal error", err)
	}
}
