package indicators

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

// ErrInsufficientHistory is returned when a kline window is too short to
// produce stable values for every configured indicator
var ErrInsufficientHistory = errors.New("insufficient kline history for indicators")

// minKlines covers the slowest pipeline (EMA50) plus MACD warmup
const minKlines = 60

// tailLen is how many trailing values each series keeps for prompt embedding
const tailLen = 20

// Set holds the computed indicator series for one coin/timeframe window.
// All series are oldest to newest and capped at tailLen entries.
type Set struct {
	EMA20         []float64
	EMA50         []float64
	MACD          []float64
	MACDSignal    []float64
	MACDHistogram []float64
	RSI7          []float64
	RSI14         []float64
	ATR3          []float64
	ATR14         []float64

	CurrentVolume float64
	AverageVolume float64
}

// Latest returns the newest value of a series, or 0 for an empty one
func Latest(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// Service computes technical indicators over kline windows
type Service struct{}

// NewService creates a new indicator service
func NewService() *Service {
	return &Service{}
}

// Compute derives the full indicator set from a kline window. Klines must be
// ordered oldest to newest, as the exchange returns them.
func (s *Service) Compute(klines []hyperliquid.Kline) (*Set, error) {
	if len(klines) < minKlines {
		return nil, fmt.Errorf("%w: need %d klines, got %d", ErrInsufficientHistory, minKlines, len(klines))
	}

	closes := make([]float64, len(klines))
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	volumes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
		volumes[i] = k.Volume
	}

	macd, signal := macdSeries(closes, 12, 26, 9)
	hist := make([]float64, len(macd))
	for i := range macd {
		hist[i] = macd[i] - signal[i]
	}

	set := &Set{
		EMA20:         tail(emaSeries(closes, 20)),
		EMA50:         tail(emaSeries(closes, 50)),
		MACD:          tail(macd),
		MACDSignal:    tail(signal),
		MACDHistogram: tail(hist),
		RSI7:          tail(rsiSeries(closes, 7)),
		RSI14:         tail(rsiSeries(closes, 14)),
		ATR3:          tail(atrSeries(highs, lows, closes, 3)),
		ATR14:         tail(atrSeries(highs, lows, closes, 14)),
		CurrentVolume: volumes[len(volumes)-1],
		AverageVolume: mean(volumes),
	}

	log.Debug().
		Int("klines", len(klines)).
		Float64("ema20", Latest(set.EMA20)).
		Float64("rsi14", Latest(set.RSI14)).
		Msg("Indicators computed")
	return set, nil
}

// tail returns the last tailLen values of a series
func tail(series []float64) []float64 {
	if len(series) > tailLen {
		return series[len(series)-tailLen:]
	}
	return series
}

// mean averages a series; zero for an empty one
func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}
