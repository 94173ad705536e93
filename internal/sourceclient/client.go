package sourceclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc performs one network call using the supplied API key. The key is
// empty for providers that need none.
type FetchFunc[T any] func(ctx context.Context, apiKey string) (T, error)

// Options parameterise a rate-limited source client.
type Options struct {
	// Keys is the API key set; may be empty.
	Keys []string
	// CacheTTL is how long a cached reading satisfies a request outright.
	CacheTTL time.Duration
	// RotationInterval bounds how long a key stays marked failed.
	RotationInterval time.Duration
	// RetryBackoff is the fixed pause before retrying with the next key.
	RetryBackoff time.Duration
}

// Client wraps one external provider with a key pool, a TTL cache, and
// retry-with-rotation. Readings are cached as their JSON encoding so the
// memory and Redis backends behave identically.
type Client[T any] struct {
	pool    *KeyPool
	cache   Cache
	ttl     time.Duration
	backoff time.Duration
	logger  zerolog.Logger
}

// New builds a client over the given cache.
func New[T any](opts Options, cache Cache, logger zerolog.Logger) *Client[T] {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Client[T]{
		pool:    NewKeyPool(opts.Keys, opts.RotationInterval),
		cache:   cache,
		ttl:     ttl,
		backoff: backoff,
		logger:  logger.With().Str("component", "source_client").Logger(),
	}
}

// Pool exposes the key pool, for inspection in callers and tests.
func (c *Client[T]) Pool() *KeyPool {
	return c.pool
}

// Do returns the reading for cacheKey, serving from cache while fresh,
// otherwise fetching with key rotation. Retries are bounded by the pool size.
// When every attempt fails a stale cached reading is substituted if present.
func (c *Client[T]) Do(ctx context.Context, cacheKey string, fetch FetchFunc[T]) (T, error) {
	var zero T

	entry, cached, err := c.cache.Get(ctx, cacheKey)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", cacheKey).Msg("cache lookup failed")
		cached = false
	}
	if cached && time.Since(entry.FetchedAt) < c.ttl {
		var v T
		if err := json.Unmarshal(entry.Payload, &v); err == nil {
			return v, nil
		}
		c.logger.Warn().Str("key", cacheKey).Msg("discarding undecodable cache entry")
	}

	attempts := c.pool.Size()
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		apiKey, idx := c.pool.Next()

		v, err := fetch(ctx, apiKey)
		if err == nil {
			if payload, mErr := json.Marshal(v); mErr == nil {
				if sErr := c.cache.Set(ctx, cacheKey, Entry{Payload: payload, FetchedAt: time.Now()}); sErr != nil {
					c.logger.Warn().Err(sErr).Str("key", cacheKey).Msg("cache write failed")
				}
			}
			return v, nil
		}

		lastErr = err
		if idx >= 0 && keyWorthRotating(err) {
			c.pool.MarkFailed(idx)
		}
		c.logger.Warn().Err(err).Str("key", cacheKey).Int("attempt", attempt+1).Msg("provider fetch failed")

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}

	// Stale-on-error: an expired entry beats no answer at all.
	if cached {
		var v T
		if err := json.Unmarshal(entry.Payload, &v); err == nil {
			c.logger.Warn().Str("key", cacheKey).Time("fetched_at", entry.FetchedAt).Msg("serving stale cached reading")
			return v, nil
		}
	}

	return zero, lastErr
}
