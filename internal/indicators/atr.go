package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/trend"
)

// atrSeries computes the average true range: the true-range series smoothed
// with Wilder's moving average
func atrSeries(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	if period < 1 || n <= period || len(highs) != n || len(lows) != n {
		return nil
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	rma := trend.NewRmaWithPeriod[float64](period)
	return drain(rma.Compute(sliceChan(tr)))
}
