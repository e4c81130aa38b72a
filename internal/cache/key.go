package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Key builds a deterministic cache key from the request fingerprint:
// endpoint version, method, concrete path, sorted query string, and the
// authenticated client. Two requests that differ in any component map to
// different keys; query parameter order does not matter.
func Key(version, method, path string, query url.Values, clientID string) string {
	parts := []string{version, method, path}

	if q := canonicalQuery(query); q != "" {
		parts = append(parts, q)
	}

	if clientID != "" {
		parts = append(parts, "c:"+clientID)
	}

	return strings.Join(parts, ":")
}

// canonicalQuery renders query parameters in sorted order so that
// ?a=1&b=2 and ?b=2&a=1 produce the same key.
func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, name+"="+v)
		}
	}

	return "q:" + strings.Join(parts, "&")
}

// HashKey hashes a key to a fixed length.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
