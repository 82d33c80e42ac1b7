package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ResultCache is a Redis-backed cache of detection results, keyed by a
// hash of document content and processing mode. It is strictly
// best-effort: every failure is reported as a miss.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	hits   int64
	misses int64
}

// NewResultCache connects to Redis and verifies the connection.
func NewResultCache(cfg config.CacheConfig, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("default_ttl", cfg.DefaultTTL),
	)

	return &ResultCache{client: client, ttl: cfg.DefaultTTL, logger: logger}, nil
}

// Key derives the cache key for a document and mode.
func Key(content, mode string) string {
	sum := sha256.Sum256([]byte(mode + "|" + content))
	return "detect:" + hex.EncodeToString(sum[:])
}

// Get returns the cached result for the key, or (nil, false) on miss.
func (c *ResultCache) Get(ctx context.Context, key string) (*CachedResult, bool) {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Cache lookup failed", zap.Error(err))
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var result CachedResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Warn("Cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return &result, true
}

// Set stores a result under the key with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, key string, result *CachedResult) {
	result.CachedAt = time.Now()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to store cache entry", zap.Error(err))
	}
}

// Stats returns hit/miss counters.
func (c *ResultCache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Close releases the Redis connection pool.
func (c *ResultCache) Close() error {
	return c.client.Close()
}

// maskRedisURL hides credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
