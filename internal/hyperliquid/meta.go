package hyperliquid

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Perp prices carry at most 5 significant figures and no more than
// (6 - szDecimals) decimal places; sizes are quantized to szDecimals.
const maxPerpDecimals = 6

// AssetMeta is the cached per-asset quantization metadata
type AssetMeta struct {
	Name        string
	Index       int
	SzDecimals  int
	MaxLeverage int
}

// MetaCache resolves coin names to asset indices and tick/lot metadata,
// fetching the universe lazily and refreshing on demand
type MetaCache struct {
	info *InfoClient

	mu     sync.RWMutex
	byName map[string]*AssetMeta
}

// NewMetaCache creates an empty cache backed by an info client
func NewMetaCache(info *InfoClient) *MetaCache {
	return &MetaCache{
		info:   info,
		byName: make(map[string]*AssetMeta),
	}
}

// Resolve returns the metadata for a coin, fetching the universe on a miss
func (m *MetaCache) Resolve(ctx context.Context, coin string) (*AssetMeta, error) {
	m.mu.RLock()
	meta, ok := m.byName[coin]
	m.mu.RUnlock()
	if ok {
		return meta, nil
	}

	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok = m.byName[coin]
	if !ok {
		return nil, fmt.Errorf("unknown asset %q", coin)
	}
	return meta, nil
}

// Refresh reloads the asset universe from the exchange
func (m *MetaCache) Refresh(ctx context.Context) error {
	universe, _, err := m.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh asset metadata: %w", err)
	}

	byName := make(map[string]*AssetMeta, len(universe))
	for i, asset := range universe {
		byName[asset.Name] = &AssetMeta{
			Name:        asset.Name,
			Index:       i,
			SzDecimals:  asset.SzDecimals,
			MaxLeverage: asset.MaxLeverage,
		}
	}

	m.mu.Lock()
	m.byName = byName
	m.mu.Unlock()
	return nil
}

// Seed installs metadata directly; used by tests and dry runs without a
// reachable exchange
func (m *MetaCache) Seed(assets ...*AssetMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range assets {
		m.byName[a.Name] = a
	}
}

// RoundPrice quantizes a price to the asset's tick: 5 significant figures,
// capped at (6 - szDecimals) decimal places
func (meta *AssetMeta) RoundPrice(px decimal.Decimal) decimal.Decimal {
	if px.IsZero() {
		return px
	}

	maxDecimals := int32(maxPerpDecimals - meta.SzDecimals)
	places := int32(5 - orderOfMagnitude(px))
	if places > maxDecimals {
		places = maxDecimals
	}
	// Negative places round the integer part; large prices still end up
	// with 5 significant figures.
	return px.Round(places)
}

// RoundSize quantizes a size down to the asset's lot (szDecimals).
// Rounding down keeps the order within the intended notional.
func (meta *AssetMeta) RoundSize(sz decimal.Decimal) decimal.Decimal {
	return sz.RoundDown(int32(meta.SzDecimals))
}

// PriceWire returns the canonical wire string for a price: quantized,
// no trailing zeros
func (meta *AssetMeta) PriceWire(px decimal.Decimal) string {
	return canonicalNumber(meta.RoundPrice(px))
}

// SizeWire returns the canonical wire string for a size
func (meta *AssetMeta) SizeWire(sz decimal.Decimal) string {
	return canonicalNumber(meta.RoundSize(sz))
}

// canonicalNumber renders a decimal without trailing zeros ("50", never
// "50.00"); part of the signing contract, not cosmetics
func canonicalNumber(d decimal.Decimal) string {
	s := d.String()
	return s
}

// orderOfMagnitude returns e such that 10^(e-1) <= |d| < 10^e
func orderOfMagnitude(d decimal.Decimal) int {
	abs := d.Abs()
	one := decimal.NewFromInt(1)
	ten := decimal.NewFromInt(10)
	tenth := decimal.New(1, -1)

	e := 0
	for abs.GreaterThanOrEqual(one) {
		abs = abs.Div(ten)
		e++
	}
	for abs.LessThan(tenth) && !abs.IsZero() {
		abs = abs.Mul(ten)
		e--
	}
	return e
}
