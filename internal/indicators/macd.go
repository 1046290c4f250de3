package indicators

import "github.com/cinar/indicator/v2/trend"

// macdSeries computes MACD and its signal line; the two slices are aligned
func macdSeries(closes []float64, fast, slow, signal int) ([]float64, []float64) {
	if fast < 1 || slow <= fast || signal < 1 || len(closes) < slow+signal {
		return nil, nil
	}

	macd := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	macdChan, signalChan := macd.Compute(sliceChan(closes))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}
	return macdValues, signalValues
}
