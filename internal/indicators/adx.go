package indicators

import (
	"math"
)

// adxSeries computes the Average Directional Index over the full series.
// ADX is not available in cinar/indicator v2, so we implement it ourselves
// with Wilder's smoothing. Rows before the second smoothing pass has
// stabilized are NaN.
func adxSeries(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	if period < 1 || n < period*2 {
		return nanSlice(n)
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1])))

		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smoothTR[i] != 0 {
			plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
			minusDI := 100 * smoothMinusDM[i] / smoothTR[i]

			diSum := plusDI + minusDI
			if diSum != 0 {
				dx[i] = 100 * math.Abs(plusDI-minusDI) / diSum
			}
		}
	}

	adx := smoothWilder(dx, period)

	out := make([]float64, n)
	for i := range out {
		if i < period*2 {
			out[i] = math.NaN()
		} else {
			out[i] = adx[i]
		}
	}
	return out
}

// smoothWilder applies Wilder's smoothing method
func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)

	if n < period {
		return result
	}

	// Calculate first smoothed value as simple average
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	// Apply Wilder's smoothing for remaining values
	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return result
}
