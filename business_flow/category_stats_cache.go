package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/redis/go-redis/v9"
)

const (
	categoryStatsCacheKey   = "subscribers:category_stats"
	categoryStatsVersionKey = "subscribers:category_stats:version"
)

// CategoryStatsCache stores the per-category active subscriber counts.
// Every Invalidate bumps a version; Set only stores stats computed under the
// current version, so a count read before a mutation cannot outlive it.
type CategoryStatsCache interface {
	Get(ctx context.Context) (map[models.SubscriberCategory]int64, bool, error)
	Version(ctx context.Context) (int64, error)
	Set(ctx context.Context, version int64, stats map[models.SubscriberCategory]int64) (bool, error)
	Invalidate(ctx context.Context) error
}

// setIfVersion writes KEYS[1] only while KEYS[2] still holds ARGV[1]
var setIfVersion = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[2]) or "0")
if current ~= tonumber(ARGV[1]) then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// RedisCategoryStatsCache keeps the stats as one JSON document in redis
type RedisCategoryStatsCache struct {
	rc         *redis.Client
	key        string
	versionKey string
	ttl        time.Duration
}

// NewRedisCategoryStatsCache creates a cache using the configured prefix and TTL
func NewRedisCategoryStatsCache(rc *redis.Client, cfg config.CacheConfig) *RedisCategoryStatsCache {
	return &RedisCategoryStatsCache{
		rc:         rc,
		key:        cfg.RedisPrefix + categoryStatsCacheKey,
		versionKey: cfg.RedisPrefix + categoryStatsVersionKey,
		ttl:        cfg.DefaultTTL,
	}
}

// Get returns the cached stats; ok is false on a miss
func (c *RedisCategoryStatsCache) Get(ctx context.Context) (map[models.SubscriberCategory]int64, bool, error) {
	bs, err := c.rc.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read category stats cache: %w", err)
	}

	var stats map[models.SubscriberCategory]int64
	if err := json.Unmarshal(bs, &stats); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it
		return nil, false, nil
	}
	return stats, true, nil
}

// Version returns the current invalidation counter; take it before reading the counts
func (c *RedisCategoryStatsCache) Version(ctx context.Context) (int64, error) {
	v, err := c.rc.Get(ctx, c.versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read category stats version: %w", err)
	}
	return v, nil
}

// Set stores stats for the configured TTL unless the cache was invalidated after
// version was taken; stored reports whether the write happened
func (c *RedisCategoryStatsCache) Set(ctx context.Context, version int64, stats map[models.SubscriberCategory]int64) (bool, error) {
	bs, err := json.Marshal(stats)
	if err != nil {
		return false, fmt.Errorf("failed to encode category stats: %w", err)
	}
	stored, err := setIfVersion.Run(ctx, c.rc, []string{c.key, c.versionKey}, version, bs, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write category stats cache: %w", err)
	}
	return stored == 1, nil
}

// Invalidate drops the cached stats and bumps the version
func (c *RedisCategoryStatsCache) Invalidate(ctx context.Context) error {
	_, err := c.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.versionKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate category stats cache: %w", err)
	}
	return nil
}
