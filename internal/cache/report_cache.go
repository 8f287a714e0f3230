// Package cache keeps rendered public reports in redis for a short TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "outreach:report:"

// ReportCache stores opaque JSON blobs keyed by public token.
type ReportCache interface {
	Get(ctx context.Context, token string) ([]byte, bool, error)
	Set(ctx context.Context, token string, payload []byte) error
	Invalidate(ctx context.Context, token string) error
}

type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReportCache parses redisURL and returns a cache with the given TTL.
func NewRedisReportCache(redisURL string, ttl time.Duration) (*RedisReportCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	return NewRedisReportCacheWithClient(redis.NewClient(opts), ttl), nil
}

func NewRedisReportCacheWithClient(client *redis.Client, ttl time.Duration) *RedisReportCache {
	return &RedisReportCache{client: client, ttl: ttl}
}

func (c *RedisReportCache) Get(ctx context.Context, token string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, token string, payload []byte) error {
	return c.client.Set(ctx, keyPrefix+token, payload, c.ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context, token string) error {
	return c.client.Del(ctx, keyPrefix+token).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

// NopReportCache never hits; used when no REDIS_URL is configured.
type NopReportCache struct{}

func (NopReportCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NopReportCache) Set(context.Context, string, []byte) error         { return nil }
func (NopReportCache) Invalidate(context.Context, string) error          { return nil }

var (
	_ ReportCache = (*RedisReportCache)(nil)
	_ ReportCache = NopReportCache{}
)
