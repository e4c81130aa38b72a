package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/observability"
)

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()

	yamlCfg := fmt.Sprintf(`
server:
  address: ":0"
  shutdownTimeout: 2s
cache:
  backend: memory
endpoints:
  - version: v1
    method: GET
    path: /widgets
    upstream: %s/internal/widgets
    auth: api-key
    requiredScopes: [widgets:read]
  - version: v1
    method: GET
    path: /status
    upstream: %s/internal/status
clients:
  - id: client-1
    orgId: org-1
    apiKeys: [key-abc]
    scopes: [widgets:read]
`, upstreamURL, upstreamURL)

	cfg, err := config.Parse([]byte(yamlCfg))
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, upstreamURL string) *application {
	t.Helper()

	app, err := newApplication(testConfig(t, upstreamURL), "config.yaml", observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = app.shutdown()
	})
	return app
}

func TestApplication_ServesGatewayTraffic(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"widgets":[]}`)
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream.URL)
	host := httptest.NewServer(app.buildEngine())
	defer host.Close()

	req, err := http.NewRequest(http.MethodGet, host.URL+"/v1/widgets", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "key-abc")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestApplication_RejectsMissingCredentials(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream.URL)
	host := httptest.NewServer(app.buildEngine())
	defer host.Close()

	resp, err := http.Get(host.URL + "/v1/widgets")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestApplication_OperationalEndpoints(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream.URL)
	host := httptest.NewServer(app.buildEngine())
	defer host.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(host.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestApplication_ReloadSwapsEndpointsAndClients(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream.URL)
	host := httptest.NewServer(app.buildEngine())
	defer host.Close()

	newCfg := testConfig(t, upstream.URL)
	newCfg.Endpoints = newCfg.Endpoints[:1]
	newCfg.Clients = append(newCfg.Clients, config.ClientConfig{
		ID:      "client-2",
		OrgID:   "org-2",
		APIKeys: []string{"key-def"},
		Scopes:  []string{"widgets:read"},
	})
	app.reload(newCfg)

	assert.Equal(t, 1, app.registry.Count())
	assert.Equal(t, 2, app.clients.Count())

	// The dropped endpoint is gone; the surviving one still routes, and
	// the newly added client's key authenticates.
	resp, err := http.Get(host.URL + "/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, host.URL+"/v1/widgets", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "key-def")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_ReloadRejectsBadEndpoints(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream.URL)
	before := app.registry.Count()

	bad := testConfig(t, upstream.URL)
	bad.Endpoints[0].RequestRules = []config.TransformRuleConfig{{Op: "explode", Field: "id"}}
	app.reload(bad)

	// The previous route table stays in effect.
	assert.Equal(t, before, app.registry.Count())
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("GATEWAY_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", getEnvOrDefault("GATEWAY_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("GATEWAY_TEST_KEY_UNSET", "fallback"))
}

func TestInitLogger_OverridesFileConfig(t *testing.T) {
	logger, err := initLogger(config.LogConfig{Level: "info", Format: "json"}, &cliFlags{
		logLevel:  "debug",
		logFormat: "console",
	})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = initLogger(config.LogConfig{Level: "nope"}, &cliFlags{})
	assert.Error(t, err)
}

func TestCacheBackendName(t *testing.T) {
	assert.Equal(t, "memory", cacheBackendName(&config.CacheConfig{}))
	assert.Equal(t, "redis", cacheBackendName(&config.CacheConfig{Backend: "redis"}))
}
