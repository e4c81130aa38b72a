// Package pipeline sequences the gateway's per-request decision chain:
// route lookup, authentication, scope check, rate limiting, circuit
// breaking, cache lookup, transformation, upstream forwarding, cache
// store, and metrics/webhook emission.
package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/overgate-io/overgate/internal/auth"
	"github.com/overgate-io/overgate/internal/cache"
	"github.com/overgate-io/overgate/internal/client"
	"github.com/overgate-io/overgate/internal/metrics"
	"github.com/overgate-io/overgate/internal/observability"
	"github.com/overgate-io/overgate/internal/proxy"
	"github.com/overgate-io/overgate/internal/registry"
	"github.com/overgate-io/overgate/internal/webhook"
)

const tracerName = "overgate/pipeline"

// Deps are the collaborators a Gateway is assembled from. Registry,
// Clients, and Auth are required; the rest default to inert
// implementations when nil.
type Deps struct {
	Registry  *registry.Registry
	Clients   *client.Store
	Auth      *auth.Authenticator
	Cache     cache.Cache
	Forwarder *proxy.Forwarder
	Webhooks  *webhook.Dispatcher
	Logger    observability.Logger
}

// Gateway executes the request pipeline. One instance serves all
// requests concurrently; per-request state lives in RequestContext.
type Gateway struct {
	registry  *registry.Registry
	clients   *client.Store
	auth      *auth.Authenticator
	cache     cache.Cache
	forwarder *proxy.Forwarder
	webhooks  *webhook.Dispatcher
	limiters  *limiterPool
	metrics   *metrics.GatewayMetrics
	logger    observability.Logger
	tracer    trace.Tracer
}

// New assembles a Gateway from its dependencies.
func New(deps Deps) (*Gateway, error) {
	if deps.Registry == nil {
		return nil, errors.New("pipeline: registry is required")
	}
	if deps.Clients == nil {
		return nil, errors.New("pipeline: client store is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("pipeline: authenticator is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	forwarder := deps.Forwarder
	if forwarder == nil {
		forwarder = proxy.New(proxy.WithLogger(logger))
	}

	return &Gateway{
		registry:  deps.Registry,
		clients:   deps.Clients,
		auth:      deps.Auth,
		cache:     deps.Cache,
		forwarder: forwarder,
		webhooks:  deps.Webhooks,
		limiters:  newLimiterPool(logger),
		metrics:   metrics.Get(),
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// ResetLimiters rebuilds rate limiter state after a config reload so
// new limits take effect.
func (g *Gateway) ResetLimiters() error {
	return g.limiters.Reset()
}

// Close releases pipeline-owned resources. The cache and webhook
// dispatcher are owned by the host and closed there.
func (g *Gateway) Close() error {
	return g.limiters.Close()
}

// finish emits the once-per-request side effects: metrics and, when
// the endpoint subscribes to a fired event and the client has a
// delivery target, a webhook trigger.
func (g *Gateway) finish(ctx context.Context, rc *RequestContext) {
	endpointLabel := "unmatched"
	if rc.Endpoint != nil {
		endpointLabel = rc.Endpoint.Key
	}
	g.metrics.RecordRequest(endpointLabel, rc.Method, rc.StatusCode, rc.Latency(), rc.CacheHit, rc.RateLimited)

	if g.webhooks == nil || rc.Endpoint == nil || rc.Client == nil || rc.Client.Webhook == nil {
		return
	}

	fired := webhook.Evaluate(rc.Endpoint.WebhookEvents, webhook.Outcome{
		StatusCode:  rc.StatusCode,
		Latency:     rc.Latency(),
		RateLimited: rc.RateLimited,
	})
	for _, event := range fired {
		g.webhooks.Trigger(event, rc.Client.ID, rc.Client.Webhook.URL, rc.Client.Webhook.Secret, webhook.Payload{
			RequestID:  rc.RequestID,
			Endpoint:   rc.Endpoint.Key,
			Method:     rc.Method,
			Path:       rc.Path,
			Version:    rc.Version,
			StatusCode: rc.StatusCode,
			LatencyMS:  rc.Latency().Milliseconds(),
		})
	}
}
