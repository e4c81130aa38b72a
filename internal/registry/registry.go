package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/overgate-io/overgate/internal/circuitbreaker"
	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/metrics"
	"github.com/overgate-io/overgate/internal/observability"
	"github.com/overgate-io/overgate/internal/transform"
)

// ErrEndpointNotFound indicates no endpoint matches the request triple.
var ErrEndpointNotFound = errors.New("endpoint not found")

// Registry resolves (version, method, path) to an endpoint. The route
// table is swapped atomically on reload so in-flight lookups always see
// a consistent snapshot.
type Registry struct {
	mu    sync.RWMutex
	table *routeTable

	breakers *circuitbreaker.Registry
	logger   observability.Logger
}

// routeTable holds one immutable snapshot of the endpoint set. Literal
// paths are indexed for O(1) lookup; templated paths are scanned in
// registration order.
type routeTable struct {
	exact     map[string]*Endpoint
	templated map[string][]*Endpoint
	all       []*Endpoint
}

func tableKey(version, method, path string) string {
	return version + ":" + strings.ToUpper(method) + ":" + path
}

func scanKey(version, method string) string {
	return version + ":" + strings.ToUpper(method)
}

// New creates a registry. The breaker registry is shared so breaker
// state survives configuration reloads.
func New(breakers *circuitbreaker.Registry, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		table:    &routeTable{exact: map[string]*Endpoint{}, templated: map[string][]*Endpoint{}},
		breakers: breakers,
		logger:   logger,
	}
}

// Load builds endpoints from configuration and swaps the route table.
// On error the previous table stays in place.
func (r *Registry) Load(cfgs []config.EndpointConfig) error {
	table := &routeTable{
		exact:     make(map[string]*Endpoint),
		templated: make(map[string][]*Endpoint),
	}

	for i := range cfgs {
		ep, err := r.buildEndpoint(&cfgs[i])
		if err != nil {
			return fmt.Errorf("endpoint %s: %w", cfgs[i].Key(), err)
		}

		if ep.Literal() {
			table.exact[tableKey(ep.Version, ep.Method, ep.Path)] = ep
		} else {
			sk := scanKey(ep.Version, ep.Method)
			table.templated[sk] = append(table.templated[sk], ep)
		}
		table.all = append(table.all, ep)
	}

	r.mu.Lock()
	old := r.table
	r.table = table
	r.mu.Unlock()

	r.pruneBreakers(old, table)

	r.logger.Info("endpoint registry loaded",
		observability.Int("endpoints", len(table.all)))

	return nil
}

func (r *Registry) buildEndpoint(cfg *config.EndpointConfig) (*Endpoint, error) {
	requestRules, err := transform.CompileRules(cfg.RequestRules)
	if err != nil {
		return nil, fmt.Errorf("request transform: %w", err)
	}
	responseRules, err := transform.CompileRules(cfg.ResponseRules)
	if err != nil {
		return nil, fmt.Errorf("response transform: %w", err)
	}

	segments, literal := compilePath(cfg.Path)

	ep := &Endpoint{
		Version:        cfg.Version,
		Method:         strings.ToUpper(cfg.Method),
		Path:           cfg.Path,
		Key:            cfg.Key(),
		Upstream:       cfg.Upstream,
		AuthMode:       cfg.AuthMode(),
		RequiredScopes: cfg.RequiredScopes,
		RateLimit:      cfg.RateLimit,
		Timeout:        cfg.Timeout.Duration(),
		WebhookEvents:  cfg.WebhookEvents,
		Deprecation:    cfg.Deprecation,
		segments:       segments,
		literal:        literal,
	}

	// Endpoints without rules skip the transform passes entirely.
	if len(requestRules) > 0 {
		ep.RequestTransformer = transform.NewRequestTransformer(requestRules, r.logger)
	}
	if len(responseRules) > 0 {
		ep.ResponseTransformer = transform.NewResponseTransformer(responseRules, r.logger)
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		ep.CacheEnabled = true
		ep.CacheTTL = cfg.Cache.TTL.Duration()
	}

	if cfg.CircuitBreaker != nil && cfg.CircuitBreaker.Enabled && r.breakers != nil {
		bc := circuitbreaker.DefaultConfig()
		if cfg.CircuitBreaker.MaxFailures > 0 {
			bc.MaxFailures = cfg.CircuitBreaker.MaxFailures
		}
		if d := cfg.CircuitBreaker.OpenTimeout.Duration(); d > 0 {
			bc.OpenTimeout = d
		}
		if cfg.CircuitBreaker.HalfOpenMax > 0 {
			bc.HalfOpenMax = cfg.CircuitBreaker.HalfOpenMax
		}
		if cfg.CircuitBreaker.SuccessThreshold > 0 {
			bc.SuccessThreshold = cfg.CircuitBreaker.SuccessThreshold
		}
		bc.OnStateChange = func(name string, from, to circuitbreaker.State) {
			metrics.Get().RecordBreakerTransition(name, from.String(), to.String())
		}
		ep.Breaker = r.breakers.GetOrCreateWithConfig(ep.Key, bc)
	}

	return ep, nil
}

// pruneBreakers drops breakers whose endpoints disappeared on reload.
func (r *Registry) pruneBreakers(old, current *routeTable) {
	if r.breakers == nil || old == nil {
		return
	}

	keep := make(map[string]struct{}, len(current.all))
	for _, ep := range current.all {
		keep[ep.Key] = struct{}{}
	}

	for _, ep := range old.all {
		if ep.Breaker == nil {
			continue
		}
		if _, ok := keep[ep.Key]; !ok {
			r.breakers.Remove(ep.Key)
		}
	}
}

// Lookup resolves a request triple to an endpoint and its extracted
// path parameters. Literal paths win over templated ones.
func (r *Registry) Lookup(version, method, path string) (*Endpoint, map[string]string, error) {
	r.mu.RLock()
	table := r.table
	r.mu.RUnlock()

	if ep, ok := table.exact[tableKey(version, method, path)]; ok {
		return ep, nil, nil
	}

	for _, ep := range table.templated[scanKey(version, method)] {
		if ok, params := ep.Match(path); ok {
			return ep, params, nil
		}
	}

	return nil, nil, ErrEndpointNotFound
}

// Endpoints returns the current endpoint snapshot.
func (r *Registry) Endpoints() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.all
}

// Count returns the number of registered endpoints.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table.all)
}
