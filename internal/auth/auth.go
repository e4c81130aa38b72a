// Package auth verifies request credentials against the per-endpoint
// authentication mode and resolves them to a tenant client identity.
// Authentication (who are you) and scope authorization (may you call
// this) are separate failures so the pipeline can answer 401 vs 403.
package auth

import (
	"errors"
	"time"
)

// Common authentication errors.
var (
	// ErrNoCredentials indicates the request carried no usable credentials.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials indicates credentials were present but wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInsufficientScope indicates an authenticated client lacks a
	// required scope.
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrEndpointDenied indicates the client is not allowed to call the
	// endpoint at all.
	ErrEndpointDenied = errors.New("endpoint not allowed for client")

	// ErrUnsupportedMode indicates an unknown authentication mode.
	ErrUnsupportedMode = errors.New("unsupported authentication mode")
)

// Identity is the outcome of successful authentication.
type Identity struct {
	// ClientID identifies the tenant client. Empty for anonymous access
	// on endpoints with mode "none".
	ClientID string

	// OrgID is the client's organization, used for per-user rate scoping.
	OrgID string

	// Method is the authentication mode that admitted the request.
	Method string

	// Scopes are the client's granted scopes.
	Scopes []string

	// APIKey is the presented API key, when that was the credential.
	APIKey string

	// ExpiresAt is the token expiry for bearer credentials, zero otherwise.
	ExpiresAt time.Time
}

// Anonymous reports whether this identity came from an unauthenticated
// endpoint.
func (i *Identity) Anonymous() bool {
	return i.Method == "" || i.ClientID == ""
}

// HasScope reports whether the identity holds the named scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CheckScopes verifies that the identity holds every required scope.
// Endpoints without required scopes admit any authenticated identity.
func CheckScopes(identity *Identity, required []string) error {
	if len(required) == 0 {
		return nil
	}
	if identity == nil || identity.Anonymous() {
		return ErrInsufficientScope
	}
	for _, scope := range required {
		if !identity.HasScope(scope) {
			return ErrInsufficientScope
		}
	}
	return nil
}
