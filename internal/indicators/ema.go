package indicators

import "github.com/cinar/indicator/v2/trend"

// emaSeries computes the exponential moving average over closes
func emaSeries(closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period {
		return nil
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return drain(ema.Compute(sliceChan(closes)))
}
