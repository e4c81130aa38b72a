// Package cache provides the response cache for the gateway. Successful
// GET responses are stored after transformation so that repeated requests
// short-circuit the upstream entirely.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/observability"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrBackendUnavailable indicates that the cache backend is down or
	// its circuit is open. Callers should treat this as a miss.
	ErrBackendUnavailable = errors.New("cache backend unavailable")
)

// Cache is the storage interface for cached responses.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns ErrCacheMiss if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the given TTL.
	// A TTL of 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// CacheWithStats extends Cache with statistics.
type CacheWithStats interface {
	Cache

	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// New creates a cache backend from the configuration.
func New(cfg *config.CacheConfig, logger observability.Logger) (Cache, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Backend {
	case config.CacheBackendMemory, "":
		return newMemoryCache(cfg, logger), nil
	case config.CacheBackendRedis:
		return newRedisCache(cfg, logger)
	default:
		return nil, errors.New("unknown cache backend: " + cfg.Backend)
	}
}

// Response is a cached upstream response, stored fully transformed so a
// hit needs no further processing.
type Response struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"storedAt"`
}

// Cacheable reports whether a response qualifies for storage: only
// successful GET responses are cached.
func Cacheable(method string, statusCode int) bool {
	return method == http.MethodGet && statusCode >= 200 && statusCode < 300
}

// Encode serializes the response for storage.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse deserializes a stored response.
func DecodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
