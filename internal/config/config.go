// Package config defines the gateway configuration model and loader.
package config

import (
	"fmt"
	"net/http"
	"strings"
)

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Cache     CacheConfig      `yaml:"cache"`
	Webhooks  WebhookConfig    `yaml:"webhooks"`
	Auth      AuthConfig       `yaml:"auth"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Clients   []ClientConfig   `yaml:"clients"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// GlobalRateLimit is a server-wide ingress guard, independent of the
	// per-endpoint admission limits.
	GlobalRateLimit *GlobalRateLimitConfig `yaml:"globalRateLimit"`
}

// GlobalRateLimitConfig configures the server-wide ingress rate limit.
type GlobalRateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Cache backend types.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig configures the response cache backend.
type CacheConfig struct {
	Backend    string            `yaml:"backend"`
	MaxEntries int               `yaml:"maxEntries"`
	Redis      *RedisCacheConfig `yaml:"redis"`
}

// RedisCacheConfig configures the Redis cache backend.
type RedisCacheConfig struct {
	URL      string `yaml:"url"`
	Prefix   string `yaml:"prefix"`
	HashKeys bool   `yaml:"hashKeys"`
}

// WebhookConfig configures asynchronous webhook delivery.
type WebhookConfig struct {
	QueueSize      int      `yaml:"queueSize"`
	Workers        int      `yaml:"workers"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	InitialBackoff Duration `yaml:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff"`
	Timeout        Duration `yaml:"timeout"`
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	// APIKeyHeader is the header carrying the API key. Defaults to X-API-Key.
	APIKeyHeader string `yaml:"apiKeyHeader"`

	// JWTSigningKey is the shared secret for bearer-token signature
	// verification. Key distribution itself is external to the gateway.
	JWTSigningKey string `yaml:"jwtSigningKey"`
}

// Rate limit scopes determine the identity a limit is keyed by.
const (
	RateLimitScopeIP     = "per-ip"
	RateLimitScopeUser   = "per-user"
	RateLimitScopeAPIKey = "per-api-key"
	RateLimitScopeGlobal = "per-endpoint-global"
)

// RateLimitConfig configures a per-endpoint admission limit.
type RateLimitConfig struct {
	Algorithm string   `yaml:"algorithm"`
	Requests  int      `yaml:"requests"`
	Window    Duration `yaml:"window"`
	Burst     int      `yaml:"burst"`
	Scope     string   `yaml:"scope"`
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// EndpointCacheConfig configures response caching for one endpoint.
type EndpointCacheConfig struct {
	Enabled bool     `yaml:"enabled"`
	TTL     Duration `yaml:"ttl"`
}

// CircuitBreakerConfig configures failure isolation for one endpoint.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	MaxFailures      int      `yaml:"maxFailures"`
	OpenTimeout      Duration `yaml:"openTimeout"`
	HalfOpenMax      int      `yaml:"halfOpenMax"`
	SuccessThreshold int      `yaml:"successThreshold"`
}

// TransformRuleConfig is one declarative transformation rule. Op selects
// the variant; the remaining fields parameterize it.
type TransformRuleConfig struct {
	Op    string `yaml:"op"`
	Field string `yaml:"field"`

	// rename
	To string `yaml:"to"`

	// coerce
	Type string `yaml:"type"`

	// default
	Value interface{} `yaml:"value"`

	// validate
	MaxLength int    `yaml:"maxLength"`
	Pattern   string `yaml:"pattern"`

	// format
	Format   string `yaml:"format"`
	Layout   string `yaml:"layout"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`

	// filter
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// DeprecationConfig marks an endpoint as deprecated.
type DeprecationConfig struct {
	Message string `yaml:"message"`
	Sunset  string `yaml:"sunset"`
}

// EndpointConfig configures a single gateway-managed endpoint.
type EndpointConfig struct {
	Version        string                `yaml:"version"`
	Method         string                `yaml:"method"`
	Path           string                `yaml:"path"`
	Upstream       string                `yaml:"upstream"`
	Auth           string                `yaml:"auth"`
	RequiredScopes []string              `yaml:"requiredScopes"`
	RateLimit      *RateLimitConfig      `yaml:"rateLimit"`
	Cache          *EndpointCacheConfig  `yaml:"cache"`
	Timeout        Duration              `yaml:"timeout"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker"`
	RequestRules   []TransformRuleConfig `yaml:"requestTransform"`
	ResponseRules  []TransformRuleConfig `yaml:"responseTransform"`
	WebhookEvents  []string              `yaml:"webhookEvents"`
	Deprecation    *DeprecationConfig    `yaml:"deprecation"`
}

// ClientWebhookConfig is a client's webhook delivery target.
type ClientWebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// ClientConfig configures a tenant client.
type ClientConfig struct {
	ID               string               `yaml:"id"`
	Secret           string               `yaml:"secret"`
	SecretHash       string               `yaml:"secretHash"`
	OrgID            string               `yaml:"orgId"`
	APIKeys          []string             `yaml:"apiKeys"`
	Scopes           []string             `yaml:"scopes"`
	AllowedEndpoints []string             `yaml:"allowedEndpoints"`
	RateOverrides    map[string]int       `yaml:"rateOverrides"`
	Webhook          *ClientWebhookConfig `yaml:"webhook"`
	Active           *bool                `yaml:"active"`
}

// IsActive returns whether the client is active. Absent means active.
func (c *ClientConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// Authentication modes.
const (
	AuthModeNone   = "none"
	AuthModeAPIKey = "api-key"
	AuthModeBearer = "bearer-token"
	AuthModeOAuth2 = "oauth2"
	AuthModeBasic  = "basic"
	AuthModeHMAC   = "hmac-signature"
)

var validAuthModes = map[string]bool{
	AuthModeNone:   true,
	AuthModeAPIKey: true,
	AuthModeBearer: true,
	AuthModeOAuth2: true,
	AuthModeBasic:  true,
	AuthModeHMAC:   true,
}

var validMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("endpoint %d (%s %s): %w", i, ep.Method, ep.Path, err)
		}
		key := ep.Key()
		if seen[key] {
			return fmt.Errorf("duplicate endpoint %s", key)
		}
		seen[key] = true
	}

	clientIDs := make(map[string]bool, len(c.Clients))
	for i := range c.Clients {
		cl := &c.Clients[i]
		if cl.ID == "" {
			return fmt.Errorf("client %d: missing id", i)
		}
		if clientIDs[cl.ID] {
			return fmt.Errorf("duplicate client id %s", cl.ID)
		}
		clientIDs[cl.ID] = true
	}

	return nil
}

// Key returns the unique registry key (version:METHOD:path).
func (e *EndpointConfig) Key() string {
	return e.Version + ":" + strings.ToUpper(e.Method) + ":" + e.Path
}

// Validate checks a single endpoint configuration.
func (e *EndpointConfig) Validate() error {
	if e.Version == "" {
		return fmt.Errorf("missing version")
	}
	method := strings.ToUpper(e.Method)
	if !validMethods[method] {
		return fmt.Errorf("invalid method %q", e.Method)
	}
	if e.Path == "" || !strings.HasPrefix(e.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if e.Upstream == "" {
		return fmt.Errorf("missing upstream")
	}
	if e.Auth != "" && !validAuthModes[e.Auth] {
		return fmt.Errorf("invalid auth mode %q", e.Auth)
	}
	if rl := e.RateLimit; rl != nil {
		if rl.Requests <= 0 {
			return fmt.Errorf("rate limit requests must be positive")
		}
		if rl.Window.Duration() <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if cb := e.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.MaxFailures <= 0 {
			return fmt.Errorf("circuit breaker maxFailures must be positive")
		}
		if cb.OpenTimeout.Duration() <= 0 {
			return fmt.Errorf("circuit breaker openTimeout must be positive")
		}
	}
	if e.Cache != nil && e.Cache.Enabled && e.Cache.TTL.Duration() <= 0 {
		return fmt.Errorf("cache ttl must be positive when caching is enabled")
	}
	return nil
}

// AuthMode returns the endpoint auth mode, defaulting to none.
func (e *EndpointConfig) AuthMode() string {
	if e.Auth == "" {
		return AuthModeNone
	}
	return e.Auth
}
