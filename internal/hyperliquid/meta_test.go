package hyperliquid

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		name       string
		szDecimals int
		px         string
		want       string
	}{
		{"large price keeps 5 sig figs", 5, "123456.789", "123460"},
		{"btc-like price", 5, "50123.456", "50123"},
		{"mid price", 4, "1234.5678", "1234.6"},
		{"sub-dollar keeps 5 sig figs", 2, "0.123456", "0.1235"},
		{"sub-dollar capped by sz decimals", 4, "0.123456", "0.12"},
		{"tiny price capped at 6-szDecimals", 0, "0.00012345", "0.000123"},
		{"exact value unchanged", 5, "50000", "50000"},
		{"zero passes through", 5, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := &AssetMeta{Name: "X", SzDecimals: tt.szDecimals}
			got := meta.RoundPrice(dec(tt.px))
			assert.True(t, dec(tt.want).Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestRoundSize(t *testing.T) {
	tests := []struct {
		name       string
		szDecimals int
		sz         string
		want       string
	}{
		{"rounds down to lot", 5, "0.123456789", "0.12345"},
		{"integer lot", 0, "1.9", "1"},
		{"already on lot", 3, "0.125", "0.125"},
		{"sub-lot rounds to zero", 2, "0.001", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := &AssetMeta{Name: "X", SzDecimals: tt.szDecimals}
			got := meta.RoundSize(dec(tt.sz))
			assert.True(t, dec(tt.want).Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestWireStrings_NoTrailingZeros(t *testing.T) {
	meta := &AssetMeta{Name: "BTC", SzDecimals: 5}

	assert.Equal(t, "50000", meta.PriceWire(dec("50000.00")))
	assert.Equal(t, "0.5", meta.SizeWire(dec("0.50000")))
	assert.Equal(t, "1", meta.SizeWire(dec("1.000")))
}

func TestMetaCache_Seed(t *testing.T) {
	cache := NewMetaCache(nil)
	cache.Seed(
		&AssetMeta{Name: "BTC", Index: 0, SzDecimals: 5, MaxLeverage: 50},
		&AssetMeta{Name: "ETH", Index: 1, SzDecimals: 4, MaxLeverage: 50},
	)

	meta, err := cache.Resolve(nil, "ETH")
	assert.NoError(t, err)
	assert.Equal(t, 1, meta.Index)
	assert.Equal(t, 4, meta.SzDecimals)
}
