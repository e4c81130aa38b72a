package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAPIKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "  key-123  ")

	assert.Equal(t, "key-123", ExtractAPIKey(r, ""))
	assert.Equal(t, "", ExtractAPIKey(r, "X-Other"))

	r.Header.Set("X-Other", "other-key")
	assert.Equal(t, "other-key", ExtractAPIKey(r, "X-Other"))
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"missing", "", ""},
		{"no prefix", "abc.def.ghi", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz", ""},
		{"trailing space", "Bearer tok ", "tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.expected, ExtractBearerToken(r))
		})
	}
}

func TestExtractBasicCredentials(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic "+
		base64.StdEncoding.EncodeToString([]byte("user:pa:ss")))

	id, secret, ok := ExtractBasicCredentials(r)
	assert.True(t, ok)
	assert.Equal(t, "user", id)
	assert.Equal(t, "pa:ss", secret, "secret may itself contain colons")
}

func TestExtractBasicCredentials_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"bearer scheme", "Bearer tok"},
		{"bad base64", "Basic !!!"},
		{"no colon", "Basic " + base64.StdEncoding.EncodeToString([]byte("justuser"))},
		{"empty id", "Basic " + base64.StdEncoding.EncodeToString([]byte(":secret"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			_, _, ok := ExtractBasicCredentials(r)
			assert.False(t, ok)
		})
	}
}

func TestExtractSignature(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(ClientIDHeader, "client-1")
	r.Header.Set(SignatureHeader, "deadbeef")

	clientID, sig := ExtractSignature(r)
	assert.Equal(t, "client-1", clientID)
	assert.Equal(t, "deadbeef", sig)
}
