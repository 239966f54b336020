package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-etl/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())

	latency, err := client.Ping(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, latency)
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")

	allowed, remaining, err := limiter.Allow(context.Background(), NaverRateLimit)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, NaverRateLimit.Limit, remaining)
	assert.NoError(t, limiter.Wait(context.Background(), KRXRateLimit))
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")

	var result string
	found, err := cache.Get(context.Background(), "key", &result)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Set(context.Background(), "key", "v", time.Minute))
}

func TestGetOrLoad_DisabledAlwaysLoads(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")

	calls := 0
	load := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"005930", "000660"}, nil
	}

	for i := 0; i < 2; i++ {
		v, hit, err := GetOrLoad(context.Background(), cache, "k", TTLShort, load)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, []string{"005930", "000660"}, v)
	}
	assert.Equal(t, 2, calls)

	_, _, err := GetOrLoad(context.Background(), cache, "k", TTLShort, func(ctx context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "v1:universe:20240131:top20", UniverseKey("universe:20240131:top20"))
	assert.Equal(t, "ranking:KOSPI:2024-01-31:p2", RankingKey("KOSPI", "2024-01-31", 2))
}

func TestGetOrLoad_Redis(t *testing.T) {
	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("REDIS_HOST not set, skipping integration test")
	}

	cfg := &config.Config{Redis: config.RedisConfig{
		Enabled: true,
		Host:    os.Getenv("REDIS_HOST"),
		Port:    "6379",
	}}
	if p := os.Getenv("REDIS_PORT"); p != "" {
		cfg.Redis.Port = p
	}
	client, err := New(cfg)
	require.NoError(t, err)
	defer client.Close()

	cache := NewCache(client, "aegis-etl-test")
	ctx := context.Background()
	key := "getorload:" + time.Now().Format("150405.000000")
	defer cache.Delete(ctx, key)

	calls := 0
	load := func(ctx context.Context) (map[string]int, error) {
		calls++
		return map[string]int{"a": 1}, nil
	}

	_, hit, err := GetOrLoad(ctx, cache, key, time.Minute, load)
	require.NoError(t, err)
	assert.False(t, hit)

	v, hit, err := GetOrLoad(ctx, cache, key, time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, map[string]int{"a": 1}, v)
	assert.Equal(t, 1, calls)
}
