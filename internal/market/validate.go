package market

import (
	"github.com/rs/zerolog"
)

// Validator rejects or cleans malformed candles before they reach the
// indicator processor.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a kline validator
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log.With().Str("component", "kline_validator").Logger()}
}

// Validate checks the candle invariants: low ≤ open,close ≤ high, volume ≥ 0,
// close_time > open_time, and strictly increasing open times. The first
// violation is returned.
func (v *Validator) Validate(symbol string, tf Timeframe, candles []Candle) error {
	for i, c := range candles {
		if detail := checkCandle(c); detail != "" {
			return &ValidationError{Symbol: symbol, Timeframe: tf, Index: i, Detail: detail}
		}
		if i > 0 && !candles[i-1].OpenTime.Before(c.OpenTime) {
			return &ValidationError{
				Symbol: symbol, Timeframe: tf, Index: i,
				Detail: "open_time not strictly increasing",
			}
		}
	}
	return nil
}

// Clean drops rows that violate the per-candle invariants and rows that
// duplicate or rewind the time axis, returning the cleaned series and the
// number dropped. Exchange hiccups occasionally produce such rows; dropping
// them beats failing the whole fetch.
func (v *Validator) Clean(symbol string, tf Timeframe, candles []Candle) ([]Candle, int) {
	out := make([]Candle, 0, len(candles))
	dropped := 0
	for i, c := range candles {
		if detail := checkCandle(c); detail != "" {
			v.log.Warn().
				Str("symbol", symbol).
				Str("timeframe", string(tf)).
				Int("index", i).
				Str("reason", detail).
				Msg("Dropping malformed candle")
			dropped++
			continue
		}
		if len(out) > 0 && !out[len(out)-1].OpenTime.Before(c.OpenTime) {
			v.log.Warn().
				Str("symbol", symbol).
				Str("timeframe", string(tf)).
				Int("index", i).
				Msg("Dropping out-of-order candle")
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

func checkCandle(c Candle) string {
	switch {
	case c.High < c.Open || c.High < c.Close:
		return "high below open/close"
	case c.Low > c.Open || c.Low > c.Close:
		return "low above open/close"
	case c.Volume < 0:
		return "negative volume"
	case !c.CloseTime.After(c.OpenTime):
		return "close_time not after open_time"
	}
	return ""
}
