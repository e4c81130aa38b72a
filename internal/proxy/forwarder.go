// Package proxy forwards admitted requests to their upstream service and
// normalizes transport failures into gateway error codes.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/overgate-io/overgate/internal/gatewayerr"
	"github.com/overgate-io/overgate/internal/observability"
	"github.com/overgate-io/overgate/internal/registry"
)

const (
	// DefaultTimeout bounds upstream calls for endpoints that do not
	// configure their own timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps how much upstream body the forwarder
	// will buffer before giving up.
	DefaultMaxResponseBytes = 10 << 20 // 10 MiB

	requestIDHeader = "X-Request-ID"
)

// hopHeaders are connection-level headers that must not be forwarded
// to the upstream. See RFC 7230, section 6.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Result holds the upstream response after the body has been fully read.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder sends gateway requests to upstream services.
type Forwarder struct {
	client           *http.Client
	logger           observability.Logger
	maxResponseBytes int64

	// stripHeaders are credential headers consumed by the gateway that
	// must never leak to upstreams.
	stripHeaders []string
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithClient replaces the underlying HTTP client. Intended for tests
// and for callers that need custom transports.
func WithClient(client *http.Client) Option {
	return func(f *Forwarder) {
		if client != nil {
			f.client = client
		}
	}
}

// WithLogger sets the forwarder logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithStripHeaders sets additional request headers removed before
// forwarding, typically the configured API key header.
func WithStripHeaders(headers ...string) Option {
	return func(f *Forwarder) {
		f.stripHeaders = append(f.stripHeaders, headers...)
	}
}

// WithMaxResponseBytes caps the buffered upstream response size.
func WithMaxResponseBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxResponseBytes = n
		}
	}
}

// New creates a Forwarder with sane defaults. The client deliberately
// carries no timeout of its own; per-endpoint deadlines are applied via
// the request context in Forward.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:           observability.NopLogger(),
		maxResponseBytes: DefaultMaxResponseBytes,
		stripHeaders: []string{
			"Authorization",
			"X-Signature",
			"X-Client-ID",
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends the request to the endpoint's upstream and returns the
// fully buffered response. Path parameters extracted during routing are
// substituted into the upstream URL template, and the inbound query
// string is passed through unchanged.
//
// Any response obtained from the upstream, regardless of status code,
// is returned with a nil error; only transport-level failures produce
// errors.
func (f *Forwarder) Forward(ctx context.Context, ep *registry.Endpoint, r *http.Request, body []byte, params map[string]string) (*Result, error) {
	target, err := buildUpstreamURL(ep.Upstream, params, r.URL.RawQuery)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.CodeInternal, "invalid upstream url", err)
	}

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, reqBody)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.CodeInternal, "build upstream request", err)
	}

	f.prepareHeaders(req, r)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.mapTransportError(ctx, ep, err, time.Since(start))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes))
	if err != nil {
		return nil, f.mapTransportError(ctx, ep, err, time.Since(start))
	}

	f.logger.Debug("upstream response",
		observability.String("endpoint", ep.Key),
		observability.Int("status", resp.StatusCode),
		observability.Duration("duration", time.Since(start)),
	)

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       respBody,
	}, nil
}

// prepareHeaders copies the inbound headers onto the upstream request,
// dropping hop-by-hop and credential headers, then injects the
// forwarding headers and the request id.
func (f *Forwarder) prepareHeaders(req *http.Request, r *http.Request) {
	for name, values := range r.Header {
		req.Header[name] = append([]string(nil), values...)
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	for _, h := range f.stripHeaders {
		req.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
	if r.Host != "" {
		req.Header.Set("X-Forwarded-Host", r.Host)
	}

	if requestID := observability.RequestIDFromContext(req.Context()); requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}
}

// mapTransportError turns client errors into gateway error codes:
// deadline and timeout failures become upstream-timeout, everything
// else becomes upstream-unavailable.
func (f *Forwarder) mapTransportError(ctx context.Context, ep *registry.Endpoint, err error, elapsed time.Duration) error {
	fields := []observability.Field{
		observability.String("endpoint", ep.Key),
		observability.Duration("duration", elapsed),
		observability.Error(err),
	}

	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	if timedOut {
		f.logger.Warn("upstream timeout", fields...)
		return gatewayerr.Wrap(gatewayerr.CodeUpstreamTimeout, "upstream timed out", gatewayerr.ErrUpstreamTimeout)
	}

	f.logger.Warn("upstream unavailable", fields...)
	return gatewayerr.Wrap(gatewayerr.CodeUpstreamUnavail, "upstream unreachable", gatewayerr.ErrUpstreamUnavail)
}

// buildUpstreamURL substitutes {param} placeholders in the upstream
// template with the routed path parameters and appends the inbound
// query string.
func buildUpstreamURL(upstream string, params map[string]string, rawQuery string) (string, error) {
	target := upstream
	for name, value := range params {
		target = strings.ReplaceAll(target, "{"+name+"}", url.PathEscape(value))
	}
	if i := strings.IndexByte(target, '{'); i >= 0 {
		return "", fmt.Errorf("unresolved placeholder in %q", target)
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("upstream %q missing scheme or host", target)
	}
	if rawQuery != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + rawQuery
		} else {
			u.RawQuery = rawQuery
		}
	}
	return u.String(), nil
}
