package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Default credential header names. The API key header is configurable;
// the rest follow common conventions.
const (
	DefaultAPIKeyHeader = "X-API-Key"
	SignatureHeader     = "X-Signature"
	ClientIDHeader      = "X-Client-ID"
)

// ExtractAPIKey pulls the API key from the configured header.
func ExtractAPIKey(r *http.Request, header string) string {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return strings.TrimSpace(r.Header.Get(header))
}

// ExtractBearerToken extracts a bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}

// ExtractBasicCredentials decodes the Authorization: Basic header into a
// client id and secret.
func ExtractBasicCredentials(r *http.Request) (id, secret string, ok bool) {
	auth := r.Header.Get("Authorization")

	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}

	id, secret, ok = strings.Cut(string(decoded), ":")
	if !ok || id == "" {
		return "", "", false
	}

	return id, secret, true
}

// ExtractSignature pulls the HMAC signature and claimed client id from
// their headers.
func ExtractSignature(r *http.Request) (clientID, signature string) {
	return strings.TrimSpace(r.Header.Get(ClientIDHeader)),
		strings.TrimSpace(r.Header.Get(SignatureHeader))
}
