package market

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/perpfunk/internal/config"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

// ErrDataUnavailable is returned when no configured coin produced usable
// market data; the trading cycle skips instead of deciding blind
var ErrDataUnavailable = errors.New("no market data available for any configured coin")

// CoinData is everything collected for one coin in a cycle.
// OpenInterestAvg is the mean over the last oiWindow cycles, so a single
// cycle's OI can be read against its recent level.
type CoinData struct {
	Coin            string
	MidPrice        float64
	Klines          map[string][]hyperliquid.Kline // keyed by timeframe
	OpenInterest    float64
	OpenInterestAvg float64
	FundingRate     float64
	DayVolume       float64
}

// Snapshot is one cycle's view of the market, coins in configured order
type Snapshot struct {
	Timestamp time.Time
	Coins     []CoinData
}

// Coin returns the entry for a coin, or nil when it was dropped
func (s *Snapshot) Coin(name string) *CoinData {
	for i := range s.Coins {
		if s.Coins[i].Coin == name {
			return &s.Coins[i]
		}
	}
	return nil
}

// Collector gathers per-coin market data from the exchange, fanning out one
// goroutine per coin. The first configured timeframe is the primary one: a
// coin missing its mid price or primary klines is dropped from the snapshot.
type Collector struct {
	info        *hyperliquid.InfoClient
	cache       *KlineCache
	coins       []string
	timeframes  []string
	klineLimits map[string]int

	oiMu      sync.Mutex
	oiHistory map[string][]float64
}

// oiWindow is how many cycles of open interest feed the rolling average
const oiWindow = 20

// NewCollector builds a collector from trading config; cache may be nil
func NewCollector(info *hyperliquid.InfoClient, cache *KlineCache, cfg *config.TradingConfig) *Collector {
	return &Collector{
		info:        info,
		cache:       cache,
		coins:       cfg.Coins,
		timeframes:  cfg.Timeframes,
		klineLimits: cfg.KlineLimits,
		oiHistory:   make(map[string][]float64),
	}
}

// Collect fetches the full market snapshot for one cycle
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	mids, err := c.info.AllMids(ctx)
	if err != nil {
		return nil, err
	}

	universe, ctxs, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		// OI and funding are enrichment, not gating
		log.Warn().Err(err).Msg("Asset contexts unavailable, snapshot will lack OI and funding")
		universe, ctxs = nil, nil
	}
	ctxByCoin := indexAssetCtxs(universe, ctxs)

	var mu sync.Mutex
	collected := make(map[string]CoinData, len(c.coins))

	g, gctx := errgroup.WithContext(ctx)
	for _, coin := range c.coins {
		g.Go(func() error {
			data, ok := c.collectCoin(gctx, coin, mids, ctxByCoin)
			if !ok {
				return nil
			}
			mu.Lock()
			collected[coin] = *data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(collected) == 0 {
		return nil, ErrDataUnavailable
	}

	snapshot := &Snapshot{Timestamp: time.Now().UTC()}
	for _, coin := range c.coins {
		if data, ok := collected[coin]; ok {
			snapshot.Coins = append(snapshot.Coins, data)
		}
	}

	log.Info().
		Int("coins", len(snapshot.Coins)).
		Int("configured", len(c.coins)).
		Msg("Market snapshot collected")
	return snapshot, nil
}

// collectCoin gathers one coin's data; false means the coin is dropped
func (c *Collector) collectCoin(ctx context.Context, coin string, mids map[string]float64, ctxByCoin map[string]hyperliquid.AssetCtx) (*CoinData, bool) {
	mid, ok := mids[coin]
	if !ok || mid <= 0 {
		log.Warn().Str("coin", coin).Msg("No mid price, dropping coin from snapshot")
		return nil, false
	}

	data := &CoinData{
		Coin:     coin,
		MidPrice: mid,
		Klines:   make(map[string][]hyperliquid.Kline, len(c.timeframes)),
	}

	for i, tf := range c.timeframes {
		klines, err := c.klines(ctx, coin, tf)
		if err != nil || len(klines) == 0 {
			if i == 0 {
				log.Warn().Err(err).Str("coin", coin).Str("timeframe", tf).
					Msg("Primary timeframe klines missing, dropping coin from snapshot")
				return nil, false
			}
			log.Warn().Err(err).Str("coin", coin).Str("timeframe", tf).
				Msg("Secondary timeframe klines missing")
			continue
		}
		data.Klines[tf] = klines
	}

	if actx, ok := ctxByCoin[coin]; ok {
		data.OpenInterest = parseFloat(actx.OpenInterest)
		data.OpenInterestAvg = c.recordOpenInterest(coin, data.OpenInterest)
		data.FundingRate = parseFloat(actx.Funding)
		data.DayVolume = parseFloat(actx.DayNtlVlm)
	}
	return data, true
}

// recordOpenInterest appends one OI reading to the coin's rolling window and
// returns the window mean. Zero readings are skipped so a cycle without asset
// contexts does not drag the average down.
func (c *Collector) recordOpenInterest(coin string, oi float64) float64 {
	c.oiMu.Lock()
	defer c.oiMu.Unlock()

	hist := c.oiHistory[coin]
	if oi > 0 {
		hist = append(hist, oi)
		if len(hist) > oiWindow {
			hist = hist[len(hist)-oiWindow:]
		}
		c.oiHistory[coin] = hist
	}
	if len(hist) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range hist {
		sum += v
	}
	return sum / float64(len(hist))
}

// klines fetches one coin/timeframe window through the cache
func (c *Collector) klines(ctx context.Context, coin, tf string) ([]hyperliquid.Kline, error) {
	limit := c.klineLimits[tf]
	if limit <= 0 {
		limit = 100
	}

	if cached, ok := c.cache.Get(ctx, coin, tf); ok && len(cached) >= limit {
		return cached[len(cached)-limit:], nil
	}

	klines, err := c.info.CandleSnapshot(ctx, coin, tf, limit)
	if err != nil {
		return nil, err
	}

	sort.Slice(klines, func(i, j int) bool { return klines[i].OpenTime < klines[j].OpenTime })
	c.cache.Set(ctx, coin, tf, klines)
	return klines, nil
}

// indexAssetCtxs aligns the universe with its contexts by position
func indexAssetCtxs(universe []hyperliquid.AssetInfo, ctxs []hyperliquid.AssetCtx) map[string]hyperliquid.AssetCtx {
	out := make(map[string]hyperliquid.AssetCtx, len(universe))
	for i, asset := range universe {
		if i < len(ctxs) {
			out[asset.Name] = ctxs[i]
		}
	}
	return out
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
