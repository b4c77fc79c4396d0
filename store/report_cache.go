package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	reportCachePrefix = "funnel:report:v1:"
	// DefaultReportCacheTTL bounds how stale a cached report can be.
	DefaultReportCacheTTL = 5 * time.Minute
)

// ReportCache stores serialized funnel reports in Redis. A nil *ReportCache
// is valid and caches nothing.
type ReportCache struct {
	redis  redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewReportCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *ReportCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultReportCacheTTL
	}
	return &ReportCache{redis: client, ttl: ttl, logger: logger}
}

// ReportCacheKey identifies a report by the options it was computed with.
func ReportCacheKey(timeRange, cohortPeriod, segmentation string) string {
	return fmt.Sprintf("%s%s:%s:%s", reportCachePrefix, timeRange, cohortPeriod, segmentation)
}

// Get returns the cached payload for key, if any.
func (c *ReportCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read cached funnel report", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// SetAsync caches payload in the background so callers never wait on Redis.
func (c *ReportCache) SetAsync(key string, payload []byte) {
	if c == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("Failed to cache funnel report", zap.String("key", key), zap.Error(err))
		}
	}()
}
