package indicators

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

// Service computes indicator frames from closed-candle series. Process is
// pure and safe for concurrent use, the sync agent runs all timeframes in
// parallel against a single Service.
type Service struct{}

// NewService creates a new indicator service
func NewService() *Service {
	log.Info().Str("processor_version", ProcessorVersion).Msg("Indicator service initialized")
	return &Service{}
}

// Process computes the full indicator frame over a stable candle series.
// Rows inside the warmup prefix are forced to NaN across every column so a
// consumer can never act on a half-stabilized value.
func (s *Service) Process(symbol string, tf market.Timeframe, candles []market.Candle) (*market.Frame, error) {
	n := len(candles)
	if n < market.MinSeriesLen {
		return nil, &market.InsufficientDataError{Symbol: symbol, Timeframe: tf, Got: n, Want: market.MinSeriesLen}
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	frame := &market.Frame{
		Symbol:           symbol,
		Timeframe:        tf,
		Candles:          candles,
		ProcessorVersion: ProcessorVersion,
	}

	frame.SMA20 = smaSeries(closes, 20)
	frame.SMA50 = smaSeries(closes, 50)
	frame.EMA12 = emaSeries(closes, 12)
	frame.EMA20 = emaSeries(closes, 20)
	frame.EMA26 = emaSeries(closes, 26)
	frame.EMA50 = emaSeries(closes, 50)
	frame.MACD, frame.MACDSignal, frame.MACDHist = macdSeries(closes)
	frame.RSI = rsiSeries(closes, 14)
	frame.BBUpper, frame.BBMiddle, frame.BBLower = bollingerSeries(closes, 20)
	frame.ATR = atrWilder(highs, lows, closes, 14)
	frame.ADX = adxSeries(highs, lows, closes, 14)
	frame.OBV = obvSeries(closes, volumes)
	frame.VWAP = vwapSeries(highs, lows, closes, volumes)
	frame.VolRatio = volumeRatioSeries(volumes, 20)

	maskWarmup(frame)

	return frame, nil
}

// maskWarmup blanks every indicator column inside the warmup prefix.
func maskWarmup(f *market.Frame) {
	cols := [][]float64{
		f.SMA20, f.SMA50,
		f.EMA12, f.EMA20, f.EMA26, f.EMA50,
		f.MACD, f.MACDSignal, f.MACDHist,
		f.RSI, f.ATR, f.ADX,
		f.BBUpper, f.BBMiddle, f.BBLower,
		f.OBV, f.VolRatio, f.VWAP,
	}
	limit := market.WarmupLen
	if limit > f.Len() {
		limit = f.Len()
	}
	for _, col := range cols {
		for i := 0; i < limit; i++ {
			col[i] = math.NaN()
		}
	}
}

// sliceToChan feeds a slice into a closed, buffered channel, the input form
// the cinar v2 indicators consume.
func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// drain collects an indicator output channel into a slice.
func drain(ch <-chan float64) []float64 {
	out := make([]float64, 0, cap(ch))
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// padLeft aligns an indicator output to the input row count by prefixing
// NaN for the rows its idle period consumed.
func padLeft(values []float64, n int) []float64 {
	if len(values) >= n {
		return values[len(values)-n:]
	}
	out := make([]float64, n)
	pad := n - len(values)
	for i := 0; i < pad; i++ {
		out[i] = math.NaN()
	}
	copy(out[pad:], values)
	return out
}

// nanSlice returns a slice of n NaNs.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
