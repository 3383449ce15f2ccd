package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

// emaSeries computes an exponential moving average over the full series,
// aligned to the input length with a NaN prefix.
func emaSeries(closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period {
		return nanSlice(len(closes))
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	out := drain(ema.Compute(sliceToChan(closes)))
	return padLeft(out, len(closes))
}

// smaSeries computes a simple moving average over the full series, aligned
// to the input length with a NaN prefix.
func smaSeries(closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period {
		return nanSlice(len(closes))
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	out := drain(sma.Compute(sliceToChan(closes)))
	return padLeft(out, len(closes))
}
