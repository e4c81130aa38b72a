package pipeline

import (
	"strings"
	"time"

	"github.com/overgate-io/overgate/internal/auth"
	"github.com/overgate-io/overgate/internal/client"
	"github.com/overgate-io/overgate/internal/registry"
)

// RequestContext carries per-request pipeline state. It is created at
// the start of Handle and never shared across requests.
type RequestContext struct {
	RequestID string
	Start     time.Time

	Version string
	Method  string
	Path    string

	Endpoint *registry.Endpoint
	Params   map[string]string

	Identity *auth.Identity
	Client   *client.Client

	Body []byte

	// Outcome fields, filled as the pipeline progresses.
	StatusCode  int
	CacheHit    bool
	RateLimited bool
	RetryAfter  time.Duration
}

// Latency returns the elapsed time since the request entered the
// pipeline.
func (rc *RequestContext) Latency() time.Duration {
	return time.Since(rc.Start)
}

// ClientID returns the authenticated client id, empty for anonymous
// requests.
func (rc *RequestContext) ClientID() string {
	if rc.Identity == nil {
		return ""
	}
	return rc.Identity.ClientID
}

// defaultVersion is assumed when the request path carries no version
// segment.
const defaultVersion = "v1"

// parseTarget splits an inbound URL path into the negotiated API
// version and the endpoint path. A leading segment of the form
// "v<digits>" selects the version; otherwise the default applies and
// the whole path is the endpoint path.
func parseTarget(urlPath string) (version, path string) {
	trimmed := strings.TrimPrefix(urlPath, "/")
	first, rest, found := strings.Cut(trimmed, "/")
	if isVersionSegment(first) {
		if !found {
			return first, "/"
		}
		return first, "/" + rest
	}
	if urlPath == "" {
		return defaultVersion, "/"
	}
	return defaultVersion, urlPath
}

func isVersionSegment(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
