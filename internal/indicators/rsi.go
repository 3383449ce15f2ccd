package indicators

import (
	"github.com/cinar/indicator/v2/momentum"
)

// rsiSeries computes the Relative Strength Index over the full series,
// aligned to the input length with a NaN prefix.
func rsiSeries(closes []float64, period int) []float64 {
	if period < 1 || len(closes) <= period {
		return nanSlice(len(closes))
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := drain(rsi.Compute(sliceToChan(closes)))
	return padLeft(out, len(closes))
}
