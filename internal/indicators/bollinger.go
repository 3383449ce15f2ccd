package indicators

import (
	"github.com/cinar/indicator/v2/volatility"
)

// bollingerSeries computes Bollinger Bands (20-period SMA, 2 standard
// deviations) over the full series. The three output channels advance in
// lockstep and Compute returns them in (upper, middle, lower) order.
func bollingerSeries(closes []float64, period int) (upper, middle, lower []float64) {
	n := len(closes)
	if period < 2 || n < period {
		return nanSlice(n), nanSlice(n), nanSlice(n)
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	upperChan, middleChan, lowerChan := bb.Compute(sliceToChan(closes))

	var upperValues, middleValues, lowerValues []float64
	for {
		u, uok := <-upperChan
		m, mok := <-middleChan
		l, lok := <-lowerChan
		if !uok || !mok || !lok {
			break
		}
		upperValues = append(upperValues, u)
		middleValues = append(middleValues, m)
		lowerValues = append(lowerValues, l)
	}

	return padLeft(upperValues, n), padLeft(middleValues, n), padLeft(lowerValues, n)
}
