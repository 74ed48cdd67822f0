package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/metrics"
)

// keyVersion is bumped whenever the cached score-card payload shape changes,
// so stale entries from an older deployment never get served.
const keyVersion = "v2"

// Cache is a thin Redis wrapper for rendered score-card payloads. Every
// failure degrades to a cache miss; the caller never sees Redis errors.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New dials Redis with short socket timeouts so a dead cache cannot stall
// request handling.
func New(addr string, ttl time.Duration, logger *zap.Logger) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

// NewWithClient wraps an existing client (used by tests).
func NewWithClient(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func Key(asn int64) string {
	return fmt.Sprintf("score:%s:%d", keyVersion, asn)
}

// Get returns the cached payload for asn, or ok=false on miss or any error.
func (c *Cache) Get(ctx context.Context, asn int64) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, Key(asn)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.CacheOpsTotal.WithLabelValues("error").Inc()
			c.logger.Debug("cache get failed", zap.Int64("asn", asn), zap.Error(err))
		} else {
			metrics.CacheOpsTotal.WithLabelValues("miss").Inc()
		}
		return nil, false
	}
	metrics.CacheOpsTotal.WithLabelValues("hit").Inc()
	return val, true
}

// Set stores the rendered payload with the configured TTL. Failures are
// logged and swallowed.
func (c *Cache) Set(ctx context.Context, asn int64, payload []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, Key(asn), payload, c.ttl).Err(); err != nil {
		metrics.CacheOpsTotal.WithLabelValues("error").Inc()
		c.logger.Debug("cache set failed", zap.Int64("asn", asn), zap.Error(err))
	}
}

// Invalidate drops the cached payload after a rescore.
func (c *Cache) Invalidate(ctx context.Context, asn int64) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, Key(asn)).Err(); err != nil {
		c.logger.Debug("cache invalidate failed", zap.Int64("asn", asn), zap.Error(err))
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return errors.New("cache not configured")
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
