package indicators

import (
	"math"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

// Features extracts the one-row predictor snapshot from the last row of a
// frame. liveClose is the in-progress price the vector was extracted
// against; callers without a live candle pass the last stable close. The
// last row must be outside the warmup prefix.
func Features(snapshotID string, frame *market.Frame, liveClose float64) (*market.FeatureSnapshot, error) {
	i := frame.LastIndex()
	if i < market.WarmupLen {
		return nil, &market.InsufficientDataError{
			Symbol:    frame.Symbol,
			Timeframe: frame.Timeframe,
			Got:       frame.Len(),
			Want:      market.WarmupLen + 1,
		}
	}

	lastClose := frame.Close(i)

	fs := &market.FeatureSnapshot{
		SnapshotID:    snapshotID,
		Symbol:        frame.Symbol,
		Timeframe:     frame.Timeframe,
		SchemaVersion: frame.ProcessorVersion,
		Close:         liveClose,

		PriceChange1:  priceChange(frame, i, 1),
		PriceChange3:  priceChange(frame, i, 3),
		PriceChange5:  priceChange(frame, i, 5),
		PriceChange10: priceChange(frame, i, 10),
		PriceChange20: priceChange(frame, i, 20),

		EMACross:  signOf(frame.EMA12[i] - frame.EMA26[i]),
		MACDCross: signOf(frame.MACDHist[i]),
		RSI:       frame.RSI[i],
		RSIBucket: rsiBucket(frame.RSI[i]),

		ATRPct:      pctOfClose(frame.ATR[i], lastClose),
		MACDHistPct: pctOfClose(frame.MACDHist[i], lastClose),
		BBPosition:  bbPosition(lastClose, frame.BBMiddle[i], frame.BBUpper[i]),
		VolumeRatio: frame.VolRatio[i],
	}

	fs.VolumeZScore = zScore(frame.VolRatio, i, 20)
	fs.DistanceHigh20, fs.DistanceLow20 = rangeDistances(frame.Candles, i, 20)

	return fs, nil
}

// priceChange returns the percent close change over the last n rows.
func priceChange(frame *market.Frame, i, n int) float64 {
	if i-n < 0 {
		return math.NaN()
	}
	prev := frame.Close(i - n)
	if prev == 0 {
		return math.NaN()
	}
	return (frame.Close(i) - prev) / prev * 100
}

// signOf maps a difference onto the cross flags +1, -1 and 0.
func signOf(d float64) float64 {
	switch {
	case math.IsNaN(d):
		return 0
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

// rsiBucket coarsens RSI into five regime steps from oversold (-2) to
// overbought (+2).
func rsiBucket(rsi float64) float64 {
	switch {
	case math.IsNaN(rsi):
		return 0
	case rsi >= 70:
		return 2
	case rsi >= 55:
		return 1
	case rsi > 45:
		return 0
	case rsi > 30:
		return -1
	}
	return -2
}

// pctOfClose expresses v as a percentage of the close price.
func pctOfClose(v, closePrice float64) float64 {
	if closePrice == 0 {
		return math.NaN()
	}
	return v / closePrice * 100
}

// bbPosition places the close inside the Bollinger channel, -1 at the lower
// band through +1 at the upper band. A collapsed channel reads as center.
func bbPosition(closePrice, middle, upper float64) float64 {
	halfWidth := upper - middle
	if math.IsNaN(halfWidth) || halfWidth == 0 {
		return 0
	}
	pos := (closePrice - middle) / halfWidth
	if pos > 1 {
		return 1
	}
	if pos < -1 {
		return -1
	}
	return pos
}

// zScore standardizes values[i] against the trailing window ending at i.
func zScore(values []float64, i, window int) float64 {
	start := i - window + 1
	if start < 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values[start : i+1] {
		sum += v
	}
	mean := sum / float64(window)

	var variance float64
	for _, v := range values[start : i+1] {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(window))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (values[i] - mean) / std
}

// rangeDistances returns the percent gap below the trailing window high and
// above the trailing window low, both ending at row i.
func rangeDistances(candles []market.Candle, i, window int) (distHigh, distLow float64) {
	start := i - window + 1
	if start < 0 {
		return math.NaN(), math.NaN()
	}
	high := candles[start].High
	low := candles[start].Low
	for _, c := range candles[start+1 : i+1] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	closePrice := candles[i].Close
	if high == 0 || low == 0 {
		return math.NaN(), math.NaN()
	}
	return (high - closePrice) / high * 100, (closePrice - low) / low * 100
}
