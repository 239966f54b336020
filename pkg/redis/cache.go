package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a JSON cache on top of Client
// ⭐ SSOT: 캐시 헬퍼는 여기서만
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, k)
}

// Get loads a cached value into dest; found=false on miss or when disabled
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}
	return true, nil
}

// Set stores a value with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}
	return c.client.Redis().Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}
	return c.client.Redis().Del(ctx, c.key(key)).Err()
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Cache failures never fail the call; only load errors are returned.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, bool, error) {
	var cached T
	if found, err := c.Get(ctx, key, &cached); err == nil && found {
		return cached, true, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}

	_ = c.Set(ctx, key, v, ttl)
	return v, false, nil
}

// Predefined TTLs
const (
	TTLShort = 10 * time.Minute // 랭킹 페이지
	TTLLong  = 6 * time.Hour    // 유니버스 (기준일 확정 후 불변)
	TTLDaily = 24 * time.Hour
)

// UniverseKey is the cache key of a universe selection.
// 버전 접두사: 멤버 구조가 바뀌면 올려서 기존 캐시 무효화
func UniverseKey(queryKey string) string {
	return "v1:" + queryKey
}

// RankingKey is the cache key of one market-cap ranking page
func RankingKey(market string, date string, page int) string {
	return fmt.Sprintf("ranking:%s:%s:p%d", market, date, page)
}
