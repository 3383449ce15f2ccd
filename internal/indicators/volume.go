package indicators

import (
	"math"
)

// obvSeries computes On-Balance Volume, a running total that adds volume on
// up closes and subtracts it on down closes.
func obvSeries(closes, volumes []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	out[0] = 0
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// vwapSeries computes the cumulative volume-weighted average price using
// the typical price (high+low+close)/3 per row. Rows before the first
// traded volume are NaN.
func vwapSeries(highs, lows, closes, volumes []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	var cumPV, cumVol float64
	for i := 0; i < n; i++ {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += typical * volumes[i]
		cumVol += volumes[i]
		if cumVol == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = cumPV / cumVol
		}
	}
	return out
}

// volumeRatioSeries divides each row's volume by its 20-period volume SMA.
// Rows where the SMA is zero or not yet formed are NaN.
func volumeRatioSeries(volumes []float64, period int) []float64 {
	n := len(volumes)
	sma := smaSeries(volumes, period)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(sma[i]) || sma[i] == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = volumes[i] / sma[i]
		}
	}
	return out
}
