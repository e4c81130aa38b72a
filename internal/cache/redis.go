package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/observability"
)

// redisCache implements a Redis-based cache. Operations run through a
// circuit breaker so a dead Redis degrades to misses instead of adding
// latency to every request.
type redisCache struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string
	hashKeys  bool
	breaker   *gobreaker.CircuitBreaker

	hits   int64
	misses int64
}

// newRedisCache creates a new Redis cache.
func newRedisCache(cfg *config.CacheConfig, logger observability.Logger) (*redisCache, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, errors.New("invalid redis URL: " + err.Error())
	}

	client := redis.NewClient(opts)

	if err := pingRedis(client); err != nil {
		_ = client.Close()
		return nil, errors.New("redis connection failed: " + err.Error())
	}

	keyPrefix := cfg.Redis.Prefix
	if keyPrefix == "" {
		keyPrefix = "overgate:"
	}

	c := &redisCache{
		logger:    logger,
		client:    client,
		keyPrefix: keyPrefix,
		hashKeys:  cfg.Redis.HashKeys,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-cache",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("redis cache breaker state changed",
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// A miss is a successful round trip.
			return err == nil || errors.Is(err, redis.Nil)
		},
	})

	logger.Info("redis cache initialized",
		observability.String("keyPrefix", keyPrefix),
		observability.Bool("hashKeys", c.hashKeys))

	return c, nil
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// resolveKey applies the key prefix and optional SHA256 hashing.
func (c *redisCache) resolveKey(key string) string {
	if c.hashKeys {
		return c.keyPrefix + HashKey(key)
	}
	return c.keyPrefix + key
}

// Get retrieves a value from the cache.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "get",
		).Observe(time.Since(start).Seconds())
	}()

	fullKey := c.resolveKey(key)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Get(ctx, fullKey).Bytes()
	})

	if err == nil {
		value := result.([]byte)
		atomic.AddInt64(&c.hits, 1)
		GetCacheMetrics().hitsTotal.WithLabelValues("redis").Inc()
		c.logger.Debug("cache hit",
			observability.String("key", key),
			observability.Int("size", len(value)))
		return value, nil
	}

	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("redis").Inc()
		return nil, ErrCacheMiss
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrBackendUnavailable
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
	c.logger.Error("redis get failed",
		observability.String("key", key),
		observability.Error(err))
	return nil, err
}

// Set stores a value in the cache.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "set",
		).Observe(time.Since(start).Seconds())
	}()

	fullKey := c.resolveKey(key)

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, fullKey, value, ttl).Err()
	})

	if err == nil {
		c.logger.Debug("cache set",
			observability.String("key", key),
			observability.Duration("ttl", ttl),
			observability.Int("size", len(value)))
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBackendUnavailable
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
	c.logger.Error("redis set failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Delete removes a value from the cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	fullKey := c.resolveKey(key)

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, fullKey).Err()
	})

	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBackendUnavailable
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
	c.logger.Error("redis delete failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Exists checks if a key exists in the cache.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := c.resolveKey(key)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Exists(ctx, fullKey).Result()
	})

	if err == nil {
		return result.(int64) > 0, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, ErrBackendUnavailable
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "exists").Inc()
	return false, err
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	c.logger.Info("redis cache closed")
	return c.client.Close()
}

// Stats returns cache statistics. Size is not tracked for Redis since
// DBSIZE counts keys outside the gateway's prefix.
func (c *redisCache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
