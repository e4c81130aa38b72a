package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/overgate-io/overgate/internal/client"
	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/observability"
)

// Authenticator resolves request credentials to a client identity
// according to the endpoint's authentication mode.
type Authenticator struct {
	clients      *client.Store
	apiKeyHeader string
	verifier     TokenVerifier
	logger       observability.Logger
}

// Option configures the Authenticator.
type Option func(*Authenticator)

// WithTokenVerifier overrides the bearer token verifier.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(a *Authenticator) {
		a.verifier = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// New creates an Authenticator backed by the client store. A token
// verifier is built from the configured signing key when present.
func New(clients *client.Store, cfg *config.AuthConfig, opts ...Option) (*Authenticator, error) {
	if clients == nil {
		return nil, errors.New("client store is required")
	}
	if cfg == nil {
		cfg = &config.AuthConfig{}
	}

	a := &Authenticator{
		clients:      clients,
		apiKeyHeader: cfg.APIKeyHeader,
		logger:       observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.verifier == nil && cfg.JWTSigningKey != "" {
		verifier, err := NewHMACVerifier(cfg.JWTSigningKey)
		if err != nil {
			return nil, err
		}
		a.verifier = verifier
	}

	return a, nil
}

// Authenticate verifies the request against the endpoint's auth mode and
// returns the resolved identity. body is the buffered request body, used
// for HMAC signature verification.
func (a *Authenticator) Authenticate(
	ctx context.Context, r *http.Request, body []byte, mode string,
) (*Identity, error) {
	switch mode {
	case config.AuthModeNone, "":
		return &Identity{}, nil
	case config.AuthModeAPIKey:
		return a.authenticateAPIKey(r)
	case config.AuthModeBearer, config.AuthModeOAuth2:
		return a.authenticateBearer(ctx, r, mode)
	case config.AuthModeBasic:
		return a.authenticateBasic(r)
	case config.AuthModeHMAC:
		return a.authenticateHMAC(r, body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}

func (a *Authenticator) authenticateAPIKey(r *http.Request) (*Identity, error) {
	key := ExtractAPIKey(r, a.apiKeyHeader)
	if key == "" {
		return nil, ErrNoCredentials
	}

	c, err := a.clients.LookupByAPIKey(key)
	if err != nil {
		a.logger.Debug("api key rejected", observability.Error(err))
		return nil, ErrInvalidCredentials
	}

	return a.identity(c, config.AuthModeAPIKey, key), nil
}

func (a *Authenticator) authenticateBearer(
	ctx context.Context, r *http.Request, mode string,
) (*Identity, error) {
	token := ExtractBearerToken(r)
	if token == "" {
		return nil, ErrNoCredentials
	}

	if a.verifier == nil {
		a.logger.Warn("bearer auth configured but no token verifier available")
		return nil, ErrInvalidCredentials
	}

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.logger.Debug("bearer token rejected", observability.Error(err))
		return nil, ErrInvalidCredentials
	}

	// The subject must resolve to an active client; token scopes narrow
	// the client's configured scopes rather than extending them.
	c, err := a.clients.GetActive(claims.Subject)
	if err != nil {
		a.logger.Debug("token subject rejected",
			observability.String("subject", claims.Subject),
			observability.Error(err))
		return nil, ErrInvalidCredentials
	}

	id := a.identity(c, mode, "")
	id.ExpiresAt = claims.ExpiresAt
	if len(claims.Scopes) > 0 {
		id.Scopes = intersectScopes(c.Scopes, claims.Scopes)
	}

	return id, nil
}

func (a *Authenticator) authenticateBasic(r *http.Request) (*Identity, error) {
	clientID, secret, ok := ExtractBasicCredentials(r)
	if !ok {
		return nil, ErrNoCredentials
	}

	c, err := a.clients.GetActive(clientID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := c.VerifySecret(secret); err != nil {
		a.logger.Debug("basic auth secret rejected",
			observability.String("clientId", clientID))
		return nil, ErrInvalidCredentials
	}

	return a.identity(c, config.AuthModeBasic, ""), nil
}

// authenticateHMAC checks an HMAC-SHA256 signature of the request body
// against the client's signing secret.
func (a *Authenticator) authenticateHMAC(r *http.Request, body []byte) (*Identity, error) {
	clientID, signature := ExtractSignature(r)
	if clientID == "" || signature == "" {
		return nil, ErrNoCredentials
	}

	c, err := a.clients.GetActive(clientID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	secret := c.SigningSecret()
	if secret == "" {
		a.logger.Warn("hmac auth requested for client without signing secret",
			observability.String("clientId", clientID))
		return nil, ErrInvalidCredentials
	}

	if !VerifySignature(body, signature, secret) {
		a.logger.Debug("hmac signature rejected",
			observability.String("clientId", clientID))
		return nil, ErrInvalidCredentials
	}

	return a.identity(c, config.AuthModeHMAC, ""), nil
}

func (a *Authenticator) identity(c *client.Client, method, apiKey string) *Identity {
	return &Identity{
		ClientID: c.ID,
		OrgID:    c.OrgID,
		Method:   method,
		Scopes:   append([]string(nil), c.Scopes...),
		APIKey:   apiKey,
	}
}

// Sign computes the hex HMAC-SHA256 of the payload with the secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a presented signature against the expected
// one in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

func intersectScopes(granted, requested []string) []string {
	set := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		set[s] = struct{}{}
	}

	var out []string
	for _, s := range requested {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
