package ratelimit

import (
	"net/http"
	"strings"
)

// Scope determines the identity a limit is keyed by.
type Scope string

const (
	// ScopeIP keys limits by client IP address.
	ScopeIP Scope = "per-ip"

	// ScopeUser keys limits by authenticated client id.
	ScopeUser Scope = "per-user"

	// ScopeAPIKey keys limits by the presented API key.
	ScopeAPIKey Scope = "per-api-key"

	// ScopeGlobal applies one shared limit to the whole endpoint.
	ScopeGlobal Scope = "per-endpoint-global"
)

// globalIdentity is the shared key used by ScopeGlobal.
const globalIdentity = "_global"

// Identity resolves the rate limit identity for a request under the given
// scope. clientID and apiKey may be empty before authentication; both fall
// back to the client IP so unauthenticated traffic is still bounded.
func Identity(scope Scope, r *http.Request, clientID, apiKey string) string {
	switch scope {
	case ScopeUser:
		if clientID != "" {
			return clientID
		}
		return GetClientIP(r)
	case ScopeAPIKey:
		if apiKey != "" {
			return apiKey
		}
		return GetClientIP(r)
	case ScopeGlobal:
		return globalIdentity
	default:
		return GetClientIP(r)
	}
}

// GetClientIP extracts the client IP from the request, honoring common
// proxy headers before falling back to RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")

	return ip
}
