package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

const (
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9
)

// macdSeries computes the MACD line, signal line and histogram over the
// full series. The two output channels advance in lockstep, so they are
// drained together.
func macdSeries(closes []float64) (macd, signal, hist []float64) {
	n := len(closes)
	if n < macdSlowPeriod+macdSignalPeriod {
		return nanSlice(n), nanSlice(n), nanSlice(n)
	}

	macdIndicator := trend.NewMacdWithPeriod[float64](macdFastPeriod, macdSlowPeriod, macdSignalPeriod)
	macdChan, signalChan := macdIndicator.Compute(sliceToChan(closes))

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

	macd = padLeft(macdValues, n)
	signal = padLeft(signalValues, n)
	hist = make([]float64, n)
	for i := range hist {
		hist[i] = macd[i] - signal[i]
	}
	return macd, signal, hist
}
