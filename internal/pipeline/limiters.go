package pipeline

import (
	"sync"

	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/observability"
	"github.com/overgate-io/overgate/internal/ratelimit"
)

// limiterPool lazily creates and owns the per-endpoint rate limiters.
// Clients with a per-endpoint override get their own limiter instance
// keyed by endpoint and client id.
type limiterPool struct {
	mu       sync.RWMutex
	limiters map[string]ratelimit.Limiter
	lists    map[string]*ratelimit.AccessList
	logger   observability.Logger
}

func newLimiterPool(logger observability.Logger) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]ratelimit.Limiter),
		lists:    make(map[string]*ratelimit.AccessList),
		logger:   logger,
	}
}

// get returns the limiter for an endpoint, or a per-client limiter
// when overrideRequests is positive. Limiters are created on first use
// and reused for the life of the pool.
func (p *limiterPool) get(endpointKey string, cfg *config.RateLimitConfig, clientID string, overrideRequests int) (ratelimit.Limiter, error) {
	key := endpointKey
	requests := cfg.Requests
	if overrideRequests > 0 {
		key = endpointKey + "|" + clientID
		requests = overrideRequests
	}

	p.mu.RLock()
	limiter, ok := p.limiters[key]
	p.mu.RUnlock()
	if ok {
		return limiter, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if limiter, ok = p.limiters[key]; ok {
		return limiter, nil
	}

	limiter, err := ratelimit.New(&ratelimit.Config{
		Algorithm: ratelimit.Algorithm(cfg.Algorithm),
		Requests:  requests,
		Window:    cfg.Window.Duration(),
		Burst:     cfg.Burst,
		Logger:    p.logger,
	})
	if err != nil {
		return nil, err
	}
	p.limiters[key] = limiter
	return limiter, nil
}

// accessList returns the cached allow/deny list for an endpoint.
func (p *limiterPool) accessList(endpointKey string, cfg *config.RateLimitConfig) *ratelimit.AccessList {
	p.mu.RLock()
	list, ok := p.lists[endpointKey]
	p.mu.RUnlock()
	if ok {
		return list
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if list, ok = p.lists[endpointKey]; ok {
		return list
	}
	list = ratelimit.NewAccessList(cfg.Allowlist, cfg.Denylist)
	p.lists[endpointKey] = list
	return list
}

// Reset drops all pooled limiters and access lists so they are rebuilt
// from fresh endpoint configuration. Called on config reload.
func (p *limiterPool) Reset() error {
	return p.Close()
}

// Close stops background cleanup on all pooled limiters and clears the
// pool.
func (p *limiterPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, limiter := range p.limiters {
		if err := limiter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.limiters, key)
	}
	for key := range p.lists {
		delete(p.lists, key)
	}
	return firstErr
}
