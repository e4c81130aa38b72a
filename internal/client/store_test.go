package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/overgate-io/overgate/internal/config"
)

func testClients() []config.ClientConfig {
	inactive := false
	return []config.ClientConfig{
		{
			ID:      "acme",
			OrgID:   "org-1",
			Secret:  "topsecret",
			APIKeys: []string{"key-acme-1", "key-acme-2"},
			Scopes:  []string{"widgets:read", "widgets:write"},
			Webhook: &config.ClientWebhookConfig{URL: "https://hooks.acme.example", Secret: "whsec"},
			RateOverrides: map[string]int{
				"v1:GET:/widgets": 500,
			},
		},
		{
			ID:               "globex",
			APIKeys:          []string{"key-globex"},
			Scopes:           []string{"widgets:read"},
			AllowedEndpoints: []string{"v1:GET:/widgets"},
			Active:           &inactive,
		},
	}
}

func TestStore_Get(t *testing.T) {
	s := NewStoreFromConfig(testClients())
	assert.Equal(t, 2, s.Count())

	c, err := s.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, "org-1", c.OrgID)
	assert.True(t, c.Active)

	_, err = s.Get("unknown")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestStore_GetActive(t *testing.T) {
	s := NewStoreFromConfig(testClients())

	_, err := s.GetActive("acme")
	assert.NoError(t, err)

	_, err = s.GetActive("globex")
	assert.ErrorIs(t, err, ErrClientInactive)
}

func TestStore_LookupByAPIKey(t *testing.T) {
	s := NewStoreFromConfig(testClients())

	c, err := s.LookupByAPIKey("key-acme-2")
	require.NoError(t, err)
	assert.Equal(t, "acme", c.ID)

	_, err = s.LookupByAPIKey("nope")
	assert.ErrorIs(t, err, ErrClientNotFound)

	// Keys of inactive clients never authenticate.
	_, err = s.LookupByAPIKey("key-globex")
	assert.ErrorIs(t, err, ErrClientInactive)
}

func TestClient_Scopes(t *testing.T) {
	s := NewStoreFromConfig(testClients())
	c, err := s.Get("acme")
	require.NoError(t, err)

	assert.True(t, c.HasScope("widgets:read"))
	assert.False(t, c.HasScope("admin"))
}

func TestClient_MayAccess(t *testing.T) {
	s := NewStoreFromConfig(testClients())

	acme, _ := s.Get("acme")
	assert.True(t, acme.MayAccess("v2:DELETE:/anything"))

	globex, _ := s.Get("globex")
	assert.True(t, globex.MayAccess("v1:GET:/widgets"))
	assert.False(t, globex.MayAccess("v1:POST:/widgets"))
}

func TestClient_RateOverride(t *testing.T) {
	s := NewStoreFromConfig(testClients())
	acme, _ := s.Get("acme")

	n, ok := acme.RateOverride("v1:GET:/widgets")
	assert.True(t, ok)
	assert.Equal(t, 500, n)

	_, ok = acme.RateOverride("v1:POST:/widgets")
	assert.False(t, ok)
}

func TestClient_VerifySecret(t *testing.T) {
	t.Run("plaintext", func(t *testing.T) {
		s := NewStoreFromConfig(testClients())
		c, _ := s.Get("acme")

		assert.NoError(t, c.VerifySecret("topsecret"))
		assert.ErrorIs(t, c.VerifySecret("wrong"), ErrInvalidSecret)
	})

	t.Run("bcrypt hash wins", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
		require.NoError(t, err)

		s := NewStoreFromConfig([]config.ClientConfig{{
			ID:         "hashed",
			Secret:     "ignored",
			SecretHash: string(hash),
		}})
		c, _ := s.Get("hashed")

		assert.NoError(t, c.VerifySecret("hunter2"))
		assert.ErrorIs(t, c.VerifySecret("ignored"), ErrInvalidSecret)
	})

	t.Run("no secret configured", func(t *testing.T) {
		s := NewStoreFromConfig([]config.ClientConfig{{ID: "bare"}})
		c, _ := s.Get("bare")
		assert.ErrorIs(t, c.VerifySecret(""), ErrInvalidSecret)
	})
}

func TestStore_Load_Replaces(t *testing.T) {
	s := NewStoreFromConfig(testClients())
	s.Load([]config.ClientConfig{{ID: "new", APIKeys: []string{"key-new"}}})

	assert.Equal(t, 1, s.Count())
	_, err := s.Get("acme")
	assert.ErrorIs(t, err, ErrClientNotFound)

	c, err := s.LookupByAPIKey("key-new")
	require.NoError(t, err)
	assert.Equal(t, "new", c.ID)
}
