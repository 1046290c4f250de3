package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

// KlineCache is an optional Redis cache in front of the info client. A nil
// cache is valid and every operation degrades to a miss.
type KlineCache struct {
	client *redis.Client
}

// NewKlineCache wraps a redis client; nil client means caching disabled
func NewKlineCache(client *redis.Client) *KlineCache {
	if client == nil {
		return nil
	}
	return &KlineCache{client: client}
}

// Get returns cached klines for a coin/interval, or false on any miss.
// Cache errors are logged and treated as misses.
func (c *KlineCache) Get(ctx context.Context, coin, interval string) ([]hyperliquid.Kline, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, klineKey(coin, interval)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("coin", coin).Str("interval", interval).
				Msg("Kline cache read error, treating as miss")
		}
		return nil, false
	}

	var klines []hyperliquid.Kline
	if err := json.Unmarshal([]byte(cached), &klines); err != nil {
		log.Warn().Err(err).Str("coin", coin).Str("interval", interval).
			Msg("Failed to unmarshal cached klines")
		return nil, false
	}
	return klines, true
}

// Set stores klines with a TTL derived from the interval: candles go stale
// when the next one closes, so the TTL is half the candle duration
func (c *KlineCache) Set(ctx context.Context, coin, interval string, klines []hyperliquid.Kline) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(klines)
	if err != nil {
		log.Warn().Err(err).Str("coin", coin).Msg("Failed to marshal klines for cache")
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, klineKey(coin, interval), data, klineTTL(interval)).Err(); err != nil {
		log.Warn().Err(err).Str("coin", coin).Str("interval", interval).
			Msg("Failed to cache klines")
	}
}

// Health checks the Redis connection
func (c *KlineCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("kline cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func klineKey(coin, interval string) string {
	return fmt.Sprintf("perpfunk:klines:%s:%s", coin, interval)
}

// klineTTL keeps a window cached for half a candle, floored at 30s
func klineTTL(interval string) time.Duration {
	d, err := time.ParseDuration(interval)
	if err != nil {
		// time.ParseDuration has no day unit
		var days int
		if _, serr := fmt.Sscanf(interval, "%dd", &days); serr == nil && days > 0 {
			d = time.Duration(days) * 24 * time.Hour
		} else {
			return 30 * time.Second
		}
	}
	ttl := d / 2
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return ttl
}
