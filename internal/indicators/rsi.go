package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
)

// rsiSeries computes the relative strength index over closes
func rsiSeries(closes []float64, period int) []float64 {
	if period < 1 || len(closes) <= period {
		return nil
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := drain(rsi.Compute(sliceChan(closes)))

	// A window with zero average loss divides 0/0; report neutral instead
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 50
		}
	}
	return out
}
