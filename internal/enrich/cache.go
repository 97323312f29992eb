package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "advisory:embed:"

// Cache memoizes embeddings in redis keyed by a content hash, so repeated
// enrichment of the same text (retries, re-ingest, common queries) skips a
// provider round trip.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to redis at url and verifies the connection.
func NewCache(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// GetVector returns the cached vector for text, if present. Cache errors
// are treated as misses.
func (c *Cache) GetVector(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.logger.Warn("embedding cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return vec, true
}

// SetVector stores a vector for text. Write failures are logged and ignored.
func (c *Cache) SetVector(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(text), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
