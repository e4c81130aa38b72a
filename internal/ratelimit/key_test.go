package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "x-forwarded-for first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			remote:  "10.0.0.2:1234",
			want:    "203.0.113.7",
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "198.51.100.4"},
			remote:  "10.0.0.2:1234",
			want:    "198.51.100.4",
		},
		{
			name:   "remote addr",
			remote: "192.0.2.9:5555",
			want:   "192.0.2.9",
		},
		{
			name:   "ipv6 remote addr",
			remote: "[2001:db8::1]:443",
			want:   "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestIdentity(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.9:5555"

	assert.Equal(t, "client-1", Identity(ScopeUser, r, "client-1", "key-1"))
	assert.Equal(t, "key-1", Identity(ScopeAPIKey, r, "client-1", "key-1"))
	assert.Equal(t, "_global", Identity(ScopeGlobal, r, "client-1", "key-1"))
	assert.Equal(t, "192.0.2.9", Identity(ScopeIP, r, "client-1", "key-1"))

	// Unauthenticated traffic falls back to IP.
	assert.Equal(t, "192.0.2.9", Identity(ScopeUser, r, "", ""))
	assert.Equal(t, "192.0.2.9", Identity(ScopeAPIKey, r, "", ""))
}

func TestAccessList(t *testing.T) {
	l := NewAccessList([]string{"vip"}, []string{"banned", "vip-banned"})

	assert.Equal(t, VerdictAllow, l.Check("vip"))
	assert.Equal(t, VerdictDeny, l.Check("banned"))
	assert.Equal(t, VerdictNeutral, l.Check("regular"))
	assert.False(t, l.Empty())

	// Deny wins when an identity is on both lists.
	both := NewAccessList([]string{"x"}, []string{"x"})
	assert.Equal(t, VerdictDeny, both.Check("x"))

	var nilList *AccessList
	assert.Equal(t, VerdictNeutral, nilList.Check("anyone"))
	assert.True(t, nilList.Empty())
}
