package cache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Deterministic(t *testing.T) {
	q1, _ := url.ParseQuery("b=2&a=1")
	q2, _ := url.ParseQuery("a=1&b=2")

	k1 := Key("v1", "GET", "/orders/42", q1, "client-1")
	k2 := Key("v1", "GET", "/orders/42", q2, "client-1")

	assert.Equal(t, k1, k2, "query parameter order should not affect the key")
}

func TestKey_Components(t *testing.T) {
	base := Key("v1", "GET", "/orders", nil, "client-1")

	tests := []struct {
		name string
		key  string
	}{
		{"different version", Key("v2", "GET", "/orders", nil, "client-1")},
		{"different method", Key("v1", "HEAD", "/orders", nil, "client-1")},
		{"different path", Key("v1", "GET", "/users", nil, "client-1")},
		{"different client", Key("v1", "GET", "/orders", nil, "client-2")},
		{"extra query", Key("v1", "GET", "/orders", url.Values{"page": {"2"}}, "client-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.key)
		})
	}
}

func TestKey_MultiValueQuery(t *testing.T) {
	q1, _ := url.ParseQuery("tag=a&tag=b")
	q2, _ := url.ParseQuery("tag=b&tag=a")

	assert.Equal(t,
		Key("v1", "GET", "/items", q1, ""),
		Key("v1", "GET", "/items", q2, ""))
}

func TestKey_AnonymousClient(t *testing.T) {
	assert.NotContains(t, Key("v1", "GET", "/public", nil, ""), "c:")
}

func TestHashKey(t *testing.T) {
	h := HashKey("v1:GET:/orders")

	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey("v1:GET:/orders"))
	assert.NotEqual(t, h, HashKey("v1:GET:/users"))
}
