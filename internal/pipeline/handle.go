package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/overgate-io/overgate/internal/auth"
	"github.com/overgate-io/overgate/internal/cache"
	"github.com/overgate-io/overgate/internal/gatewayerr"
	"github.com/overgate-io/overgate/internal/observability"
	"github.com/overgate-io/overgate/internal/ratelimit"
	"github.com/overgate-io/overgate/internal/registry"
	"github.com/overgate-io/overgate/internal/transform"
)

const (
	requestIDHeader   = "X-Request-ID"
	cacheStatusHeader = "X-Cache"
	retryAfterHeader  = "Retry-After"

	maxBodyBytes = 10 << 20 // 10 MiB
)

// Handle runs the full pipeline for one inbound request.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	requestID := observability.RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	rc := &RequestContext{
		RequestID: requestID,
		Start:     time.Now(),
		Method:    r.Method,
	}
	rc.Version, rc.Path = parseTarget(r.URL.Path)

	ctx := observability.ContextWithRequestID(r.Context(), rc.RequestID)
	ctx, span := g.tracer.Start(ctx, "gateway.handle", trace.WithAttributes(
		attribute.String("gateway.request_id", rc.RequestID),
		attribute.String("http.method", rc.Method),
		attribute.String("url.path", r.URL.Path),
	))
	defer span.End()
	r = r.WithContext(ctx)

	w.Header().Set(requestIDHeader, rc.RequestID)

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				if rc.Endpoint != nil && rc.Endpoint.Breaker != nil {
					rc.Endpoint.Breaker.RecordFailure()
				}
				g.logger.Error("pipeline panic",
					observability.String("request_id", rc.RequestID),
					observability.Any("panic", rec),
				)
				err = gatewayerr.New(gatewayerr.CodeInternal, "internal error")
			}
		}()
		return g.serve(ctx, w, r, rc)
	}()
	if err != nil {
		g.writeError(w, rc, err)
	}

	span.SetAttributes(
		attribute.Int("http.status_code", rc.StatusCode),
		attribute.Bool("gateway.cache_hit", rc.CacheHit),
	)
	g.finish(ctx, rc)
}

// serve walks the admission stages in order. A returned error denies
// the request; nil means the response has been written.
func (g *Gateway) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, rc *RequestContext) error {
	// Route lookup.
	ep, params, err := g.registry.Lookup(rc.Version, rc.Method, rc.Path)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeEndpointNotFound, "no matching endpoint", err)
	}
	rc.Endpoint = ep
	rc.Params = params

	// Buffer the body once; auth (hmac) and transforms both need it.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeInternal, "read request body", err)
	}
	rc.Body = body

	// Authentication.
	identity, err := g.auth.Authenticate(ctx, r, body, ep.AuthMode)
	if err != nil {
		return mapAuthError(err)
	}
	rc.Identity = identity

	// Authorization: endpoint allow list, then scopes.
	if identity.ClientID != "" {
		c, err := g.clients.GetActive(identity.ClientID)
		if err != nil {
			return gatewayerr.Wrap(gatewayerr.CodeUnauthenticated, "unknown client", err)
		}
		rc.Client = c
		if !c.MayAccess(ep.Key) {
			return gatewayerr.Wrap(gatewayerr.CodeForbidden, "endpoint not allowed for client", auth.ErrEndpointDenied)
		}
	}
	if err := auth.CheckScopes(identity, ep.RequiredScopes); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeForbidden, "insufficient scope", err)
	}

	// Rate limiting.
	if err := g.checkRateLimit(ctx, r, rc); err != nil {
		return err
	}

	// Circuit breaker admission.
	if ep.Breaker != nil && !ep.Breaker.Allow() {
		g.metrics.RecordBreakerRejection(ep.Key)
		return gatewayerr.New(gatewayerr.CodeCircuitOpen, "service temporarily unavailable")
	}

	// Cache lookup. A hit never reaches the upstream, so the admission
	// slot goes back to the breaker instead of counting as a probe.
	if g.serveFromCache(ctx, w, r, rc) {
		if ep.Breaker != nil {
			ep.Breaker.Release()
		}
		return nil
	}

	// Request transformation.
	body, err = g.transformRequest(rc, body)
	if err != nil {
		return err
	}

	// Upstream call, with breaker outcome recording.
	result, err := g.forwarder.Forward(ctx, ep, r, body, params)
	if err != nil {
		if ep.Breaker != nil {
			ep.Breaker.RecordFailure()
		}
		return err
	}
	if ep.Breaker != nil {
		ep.Breaker.RecordSuccess()
	}

	// Response transformation.
	respBody := g.transformResponse(rc, result.Header, result.Body)

	// Cache store, post-transform.
	g.storeInCache(ctx, r, rc, result.StatusCode, result.Header, respBody)

	g.writeResponse(w, rc, result.StatusCode, result.Header, respBody, false)
	return nil
}

// checkRateLimit applies the endpoint's limit under its configured
// scope. Deny-listed identities are always rejected; allow-listed ones
// bypass the quota.
func (g *Gateway) checkRateLimit(ctx context.Context, r *http.Request, rc *RequestContext) error {
	cfg := rc.Endpoint.RateLimit
	if cfg == nil {
		return nil
	}

	var apiKey string
	if rc.Identity != nil {
		apiKey = rc.Identity.APIKey
	}
	identity := ratelimit.Identity(ratelimit.Scope(cfg.Scope), r, rc.ClientID(), apiKey)

	switch g.limiters.accessList(rc.Endpoint.Key, cfg).Check(identity) {
	case ratelimit.VerdictDeny:
		rc.RateLimited = true
		return gatewayerr.New(gatewayerr.CodeRateLimited, "identity is deny-listed")
	case ratelimit.VerdictAllow:
		return nil
	}

	override := 0
	if rc.Client != nil {
		if n, ok := rc.Client.RateOverride(rc.Endpoint.Key); ok {
			override = n
		}
	}

	limiter, err := g.limiters.get(rc.Endpoint.Key, cfg, rc.ClientID(), override)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeInternal, "rate limiter init", err)
	}

	result, err := limiter.Allow(ctx, identity)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeInternal, "rate limit check", err)
	}
	if !result.Allowed {
		rc.RateLimited = true
		rc.RetryAfter = result.RetryAfter
		return gatewayerr.New(gatewayerr.CodeRateLimited, "rate limit exceeded")
	}
	return nil
}

// serveFromCache attempts a cache hit for GET requests on cache-enabled
// endpoints. A hit writes the stored, already-transformed response and
// reports true. Backend failures degrade to a miss.
func (g *Gateway) serveFromCache(ctx context.Context, w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	if g.cache == nil || !rc.Endpoint.CacheEnabled || r.Method != http.MethodGet {
		return false
	}

	ctx, span := g.tracer.Start(ctx, "gateway.cache.get", trace.WithAttributes(
		attribute.String("gateway.endpoint", rc.Endpoint.Key),
	))
	defer span.End()

	key := g.cacheKey(r, rc)
	data, err := g.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, cache.ErrBackendUnavailable) {
			g.logger.Warn("cache lookup failed",
				observability.String("endpoint", rc.Endpoint.Key),
				observability.Error(err),
			)
		}
		return false
	}

	stored, err := cache.DecodeResponse(data)
	if err != nil {
		g.logger.Warn("corrupt cache entry",
			observability.String("endpoint", rc.Endpoint.Key),
			observability.Error(err),
		)
		return false
	}

	rc.CacheHit = true
	span.SetAttributes(attribute.Bool("gateway.cache_hit", true))
	g.writeResponse(w, rc, stored.StatusCode, stored.Header, stored.Body, true)
	return true
}

// storeInCache persists a fully transformed successful GET response.
// Failures are logged and otherwise ignored; caching is best-effort.
func (g *Gateway) storeInCache(ctx context.Context, r *http.Request, rc *RequestContext, status int, header http.Header, body []byte) {
	if g.cache == nil || !rc.Endpoint.CacheEnabled || !cache.Cacheable(r.Method, status) {
		return
	}

	ctx, span := g.tracer.Start(ctx, "gateway.cache.set", trace.WithAttributes(
		attribute.String("gateway.endpoint", rc.Endpoint.Key),
	))
	defer span.End()

	entry := &cache.Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}
	data, err := entry.Encode()
	if err != nil {
		g.logger.Warn("encode cache entry", observability.Error(err))
		return
	}

	if err := g.cache.Set(ctx, g.cacheKey(r, rc), data, rc.Endpoint.CacheTTL); err != nil && !errors.Is(err, cache.ErrBackendUnavailable) {
		g.logger.Warn("cache store failed",
			observability.String("endpoint", rc.Endpoint.Key),
			observability.Error(err),
		)
	}
}

func (g *Gateway) cacheKey(r *http.Request, rc *RequestContext) string {
	return cache.HashKey(cache.Key(rc.Version, rc.Method, rc.Path, r.URL.Query(), rc.ClientID()))
}

// transformRequest applies the endpoint's inbound rules to a JSON
// object body. Validation failures deny the request with a descriptive
// 400; non-object bodies pass through untouched.
func (g *Gateway) transformRequest(rc *RequestContext, body []byte) ([]byte, error) {
	if rc.Endpoint.RequestTransformer == nil || len(body) == 0 {
		return body, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, nil
	}

	transformed, err := rc.Endpoint.RequestTransformer.Apply(payload)
	if err != nil {
		var ve *transform.ValidationError
		if errors.As(err, &ve) {
			return nil, gatewayerr.Wrap(gatewayerr.CodeValidationFailed, ve.Error(), err)
		}
		return nil, gatewayerr.Wrap(gatewayerr.CodeValidationFailed, "request validation failed", err)
	}

	out, err := json.Marshal(transformed)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.CodeInternal, "encode transformed request", err)
	}
	return out, nil
}

// transformResponse applies the endpoint's outbound rules to a JSON
// object response. Anything that does not decode as a JSON object is
// passed through unchanged.
func (g *Gateway) transformResponse(rc *RequestContext, header http.Header, body []byte) []byte {
	if rc.Endpoint.ResponseTransformer == nil || len(body) == 0 {
		return body
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}

	out, err := json.Marshal(rc.Endpoint.ResponseTransformer.Apply(payload))
	if err != nil {
		g.logger.Warn("encode transformed response",
			observability.String("endpoint", rc.Endpoint.Key),
			observability.Error(err),
		)
		return body
	}
	return out
}

// writeResponse copies the upstream response to the caller, adding the
// gateway's own headers.
func (g *Gateway) writeResponse(w http.ResponseWriter, rc *RequestContext, status int, header http.Header, body []byte, fromCache bool) {
	for name, values := range header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(requestIDHeader, rc.RequestID)
	w.Header().Del("Content-Length")
	if fromCache {
		w.Header().Set(cacheStatusHeader, "HIT")
	}
	setDeprecationHeaders(w, rc.Endpoint)

	rc.StatusCode = status
	w.WriteHeader(status)
	if len(body) > 0 {
		w.Write(body)
	}
}

// writeError renders a denial or failure per the response contract.
func (g *Gateway) writeError(w http.ResponseWriter, rc *RequestContext, err error) {
	ge := gatewayerr.FromError(err).WithRequestID(rc.RequestID)
	status := ge.Status()
	rc.StatusCode = status

	if status >= 500 || ge.Code == gatewayerr.CodeInternal {
		g.logger.Error("request failed",
			observability.String("request_id", rc.RequestID),
			observability.String("method", rc.Method),
			observability.String("path", rc.Path),
			observability.Error(err),
		)
	} else {
		g.logger.Debug("request denied",
			observability.String("request_id", rc.RequestID),
			observability.String("code", string(ge.Code)),
			observability.String("path", rc.Path),
		)
	}

	w.Header().Set(requestIDHeader, rc.RequestID)
	w.Header().Set("Content-Type", "application/json")
	if rc.RateLimited && rc.RetryAfter > 0 {
		seconds := int(rc.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set(retryAfterHeader, strconv.Itoa(seconds))
	}
	setDeprecationHeaders(w, rc.Endpoint)

	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ge)
}

// setDeprecationHeaders surfaces endpoint deprecation metadata.
func setDeprecationHeaders(w http.ResponseWriter, ep *registry.Endpoint) {
	if ep == nil || ep.Deprecation == nil {
		return
	}
	w.Header().Set("Deprecation", "true")
	if ep.Deprecation.Sunset != "" {
		w.Header().Set("Sunset", ep.Deprecation.Sunset)
	}
	if ep.Deprecation.Message != "" {
		w.Header().Set("X-Deprecation-Notice", ep.Deprecation.Message)
	}
}

// mapAuthError translates authenticator failures into the 401/403
// contract.
func mapAuthError(err error) error {
	switch {
	case errors.Is(err, auth.ErrNoCredentials), errors.Is(err, auth.ErrInvalidCredentials):
		return gatewayerr.Wrap(gatewayerr.CodeUnauthenticated, "authentication required", err)
	case errors.Is(err, auth.ErrInsufficientScope), errors.Is(err, auth.ErrEndpointDenied):
		return gatewayerr.Wrap(gatewayerr.CodeForbidden, "insufficient permissions", err)
	default:
		return gatewayerr.Wrap(gatewayerr.CodeInternal, "authentication error", err)
	}
}
