// Package registry maps (version, method, path) to endpoint
// configuration. It is the source of truth for all per-endpoint policy:
// auth mode, rate limits, cache TTL, transformers, circuit breaker
// thresholds, timeout, and required scopes.
package registry

import (
	"strings"
	"time"

	"github.com/overgate-io/overgate/internal/circuitbreaker"
	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/transform"
)

// Endpoint is a fully resolved gateway endpoint: configuration compiled
// into ready-to-use policy objects.
type Endpoint struct {
	Version string
	Method  string
	Path    string

	// Key is the canonical "version:METHOD:path" identifier used for
	// breaker names, rate-limit buckets, and client allow lists.
	Key string

	Upstream       string
	AuthMode       string
	RequiredScopes []string

	RateLimit *config.RateLimitConfig

	CacheEnabled bool
	CacheTTL     time.Duration

	Timeout time.Duration

	// Breaker is nil when circuit breaking is disabled for the endpoint.
	Breaker *circuitbreaker.CircuitBreaker

	RequestTransformer  *transform.RequestTransformer
	ResponseTransformer *transform.ResponseTransformer

	WebhookEvents []string
	Deprecation   *config.DeprecationConfig

	segments []pathSegment
	literal  bool
}

// Literal reports whether the endpoint path has no template parameters.
func (e *Endpoint) Literal() bool {
	return e.literal
}

// Match checks a concrete request path against the endpoint's path
// template and extracts path parameters.
func (e *Endpoint) Match(path string) (bool, map[string]string) {
	parts := splitPath(path)
	if len(parts) != len(e.segments) {
		return false, nil
	}

	var params map[string]string
	for i, seg := range e.segments {
		if seg.param {
			if parts[i] == "" {
				return false, nil
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return false, nil
		}
	}

	return true, params
}

// pathSegment is one segment of a path template. A param segment like
// {id} matches any single non-empty segment.
type pathSegment struct {
	name  string
	param bool
}

func compilePath(path string) ([]pathSegment, bool) {
	parts := splitPath(path)
	segments := make([]pathSegment, len(parts))
	literal := true

	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segments[i] = pathSegment{name: part[1 : len(part)-1], param: true}
			literal = false
		} else {
			segments[i] = pathSegment{name: part}
		}
	}

	return segments, literal
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
