// Package client provides the tenant/client store consulted by the
// authenticator. The pipeline only reads it; credential provisioning and
// rotation happen outside the gateway.
package client

import (
	"crypto/subtle"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/overgate-io/overgate/internal/config"
)

// Common client store errors.
var (
	// ErrClientNotFound indicates that no client matches the lookup.
	ErrClientNotFound = errors.New("client not found")

	// ErrClientInactive indicates the client exists but is deactivated.
	ErrClientInactive = errors.New("client inactive")

	// ErrInvalidSecret indicates a secret comparison failure.
	ErrInvalidSecret = errors.New("invalid client secret")
)

// WebhookTarget is a client's registered webhook delivery target.
type WebhookTarget struct {
	URL    string
	Secret string
}

// Client is a resolved tenant client.
type Client struct {
	ID               string
	OrgID            string
	Scopes           []string
	AllowedEndpoints []string
	RateOverrides    map[string]int
	Webhook          *WebhookTarget
	Active           bool

	secret     string
	secretHash string
	apiKeys    map[string]struct{}
}

// HasScope reports whether the client holds the named scope.
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// MayAccess reports whether the client may access the endpoint key. An
// empty allow list means all endpoints are permitted.
func (c *Client) MayAccess(endpointKey string) bool {
	if len(c.AllowedEndpoints) == 0 {
		return true
	}
	for _, k := range c.AllowedEndpoints {
		if k == endpointKey {
			return true
		}
	}
	return false
}

// RateOverride returns the client's per-endpoint request override, if any.
func (c *Client) RateOverride(endpointKey string) (int, bool) {
	n, ok := c.RateOverrides[endpointKey]
	return n, ok
}

// VerifySecret compares a presented secret against the stored one. A bcrypt
// hash takes precedence over a plaintext secret when both are configured.
func (c *Client) VerifySecret(secret string) error {
	if c.secretHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(c.secretHash), []byte(secret)) != nil {
			return ErrInvalidSecret
		}
		return nil
	}
	if c.secret == "" {
		return ErrInvalidSecret
	}
	if subtle.ConstantTimeCompare([]byte(c.secret), []byte(secret)) != 1 {
		return ErrInvalidSecret
	}
	return nil
}

// SigningSecret returns the secret used for HMAC signature checks and
// webhook payload signing.
func (c *Client) SigningSecret() string {
	return c.secret
}

// Store is a read-mostly registry of tenant clients.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*Client
	byAPIKey map[string]*Client
}

// NewStore creates an empty client store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*Client),
		byAPIKey: make(map[string]*Client),
	}
}

// NewStoreFromConfig builds a store from configuration.
func NewStoreFromConfig(cfgs []config.ClientConfig) *Store {
	s := NewStore()
	s.Load(cfgs)
	return s
}

// Load replaces the store contents with the given client set. Used both at
// startup and on configuration reload.
func (s *Store) Load(cfgs []config.ClientConfig) {
	byID := make(map[string]*Client, len(cfgs))
	byAPIKey := make(map[string]*Client)

	for i := range cfgs {
		cfg := &cfgs[i]
		c := &Client{
			ID:               cfg.ID,
			OrgID:            cfg.OrgID,
			Scopes:           append([]string(nil), cfg.Scopes...),
			AllowedEndpoints: append([]string(nil), cfg.AllowedEndpoints...),
			RateOverrides:    cfg.RateOverrides,
			Active:           cfg.IsActive(),
			secret:           cfg.Secret,
			secretHash:       cfg.SecretHash,
			apiKeys:          make(map[string]struct{}, len(cfg.APIKeys)),
		}
		if cfg.Webhook != nil {
			c.Webhook = &WebhookTarget{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret}
		}
		for _, k := range cfg.APIKeys {
			c.apiKeys[k] = struct{}{}
			byAPIKey[k] = c
		}
		byID[c.ID] = c
	}

	s.mu.Lock()
	s.byID = byID
	s.byAPIKey = byAPIKey
	s.mu.Unlock()
}

// Get returns a client by id.
func (s *Store) Get(id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	return c, nil
}

// GetActive returns a client by id, failing if it is deactivated.
func (s *Store) GetActive(id string) (*Client, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, ErrClientInactive
	}
	return c, nil
}

// LookupByAPIKey resolves an API key to its owning active client.
func (s *Store) LookupByAPIKey(key string) (*Client, error) {
	s.mu.RLock()
	c, ok := s.byAPIKey[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrClientNotFound
	}
	if !c.Active {
		return nil, ErrClientInactive
	}
	return c, nil
}

// Count returns the number of registered clients.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
