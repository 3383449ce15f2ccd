package indicators

import (
	"math"
)

// atrWilder computes the Average True Range with Wilder's smoothing. The
// first ATR value lands at index period as the simple average of the first
// period true ranges, earlier rows are NaN.
func atrWilder(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if period < 1 || n <= period {
		return out
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1])))
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	out[period] = sum / float64(period)

	for i := period + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}

	return out
}
