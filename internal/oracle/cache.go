package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/metrics"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

const (
	// DefaultCacheTTL applies when no TTL is configured
	DefaultCacheTTL = 24 * time.Hour

	// DefaultCachePrefix namespaces cached fitness entries
	DefaultCachePrefix = "paramforge:fitness"

	cacheOpTimeout = 500 * time.Millisecond
)

// CachedOracle memoizes successful evaluations in redis. Identical strategy, parameters
// and evaluation context map to the same key. Cache errors degrade to a miss.
type CachedOracle struct {
	next   evolution.FitnessOracle
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// cacheEntry is the cached form of one evaluation
type cacheEntry struct {
	Metrics  evolution.Metrics `json:"metrics"`
	CachedAt time.Time         `json:"cached_at"`
}

// NewCachedOracle wraps next with a redis cache
func NewCachedOracle(next evolution.FitnessOracle, client *redis.Client, ttl time.Duration, prefix string) *CachedOracle {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return &CachedOracle{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: prefix,
		log:    log.With().Str("component", "oracle_cache").Logger(),
	}
}

// Evaluate implements evolution.FitnessOracle
func (c *CachedOracle) Evaluate(ctx context.Context, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	key, err := c.Key(strategyType, params, evalCtx)
	if err != nil {
		return evaluate(ctx, c.next, strategyType, params, evalCtx)
	}

	if m, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		metrics.RecordCacheLookup(true)
		return m, nil
	}
	c.misses.Add(1)
	metrics.RecordCacheLookup(false)

	m, err := evaluate(ctx, c.next, strategyType, params, evalCtx)
	if err != nil {
		// failures are never cached
		return m, err
	}

	c.set(ctx, key, m)
	return m, nil
}

// Key returns the cache key of one evaluation
func (c *CachedOracle) Key(strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (string, error) {
	// encoding/json writes map keys in sorted order, so the digest is stable
	data, err := json.Marshal(NewRequest(strategyType, params, evalCtx))
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%s", c.prefix, strategyType, hex.EncodeToString(sum[:])), nil
}

// Stats returns the number of cache hits and misses so far
func (c *CachedOracle) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedOracle) get(ctx context.Context, key string) (evolution.Metrics, bool) {
	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		return evolution.Metrics{}, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		c.log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached fitness")
		return evolution.Metrics{}, false
	}

	return entry.Metrics, true
}

func (c *CachedOracle) set(ctx context.Context, key string, m evolution.Metrics) {
	data, err := json.Marshal(cacheEntry{Metrics: m, CachedAt: time.Now()})
	if err != nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache fitness")
	}
}
