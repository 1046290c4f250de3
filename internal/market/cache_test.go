package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

func setupCache(t *testing.T) (*KlineCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewKlineCache(client), mr
}

func testKlines(n int) []hyperliquid.Kline {
	klines := make([]hyperliquid.Kline, n)
	for i := range klines {
		klines[i] = hyperliquid.Kline{
			OpenTime: int64(i) * 180_000,
			Coin:     "BTC",
			Open:     100, Close: 101, High: 102, Low: 99,
			Volume: 10,
		}
	}
	return klines
}

func TestKlineCache_RoundTrip(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "BTC", "3m")
	assert.False(t, ok)

	want := testKlines(5)
	cache.Set(ctx, "BTC", "3m", want)

	got, ok := cache.Get(ctx, "BTC", "3m")
	require.True(t, ok)
	assert.Equal(t, want, got)

	// Different interval is a different key
	_, ok = cache.Get(ctx, "BTC", "4h")
	assert.False(t, ok)
}

func TestKlineCache_Expiry(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	cache.Set(ctx, "BTC", "3m", testKlines(3))
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "BTC", "3m")
	assert.False(t, ok)
}

func TestKlineCache_NilIsMiss(t *testing.T) {
	var cache *KlineCache

	_, ok := cache.Get(context.Background(), "BTC", "3m")
	assert.False(t, ok)

	// Set on a nil cache is a no-op, not a panic
	cache.Set(context.Background(), "BTC", "3m", testKlines(1))
	assert.Error(t, cache.Health(context.Background()))
}

func TestKlineTTL(t *testing.T) {
	assert.Equal(t, 90*time.Second, klineTTL("3m"))
	assert.Equal(t, 2*time.Hour, klineTTL("4h"))
	assert.Equal(t, 12*time.Hour, klineTTL("1d"))
	assert.Equal(t, 30*time.Second, klineTTL("1m"))
	assert.Equal(t, 30*time.Second, klineTTL("bogus"))
}
