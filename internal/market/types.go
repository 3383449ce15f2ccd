package market

import (
	"fmt"
	"math"
	"time"
)

// Timeframe is the candle bucket duration
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Timeframes returns the pipeline's timeframes in canonical order,
// fastest first. Iteration over snapshots must use this order so that
// replayed cycles are byte-identical.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe5m, Timeframe15m, Timeframe1h}
}

// Period returns the bucket duration of the timeframe
func (tf Timeframe) Period() time.Duration {
	switch tf {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	}
	return 0
}

// Valid reports whether tf is one of the supported timeframes
func (tf Timeframe) Valid() bool {
	return tf.Period() > 0
}

// MinSeriesLen is the minimum series length required for indicator stability
const MinSeriesLen = 200

// WarmupLen is the number of leading rows flagged as warmup. Indicator values
// inside the warmup prefix are NaN and must never be consumed by decisions.
const WarmupLen = 105

// Candle is a timeframe-bucketed OHLCV record
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Frame is a candle series extended with indicator columns. All columns have
// the same length as Candles; rows before WarmupLen hold NaN.
type Frame struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candles   []Candle  `json:"candles"`

	SMA20      []float64 `json:"sma_20"`
	SMA50      []float64 `json:"sma_50"`
	EMA12      []float64 `json:"ema_12"`
	EMA20      []float64 `json:"ema_20"`
	EMA26      []float64 `json:"ema_26"`
	EMA50      []float64 `json:"ema_50"`
	MACD       []float64 `json:"macd"`
	MACDSignal []float64 `json:"macd_signal"`
	MACDHist   []float64 `json:"macd_hist"`
	RSI        []float64 `json:"rsi"`
	ATR        []float64 `json:"atr"`
	ADX        []float64 `json:"adx"`
	BBUpper    []float64 `json:"bb_upper"`
	BBMiddle   []float64 `json:"bb_middle"`
	BBLower    []float64 `json:"bb_lower"`
	OBV        []float64 `json:"obv"`
	VolRatio   []float64 `json:"volume_ratio"`
	VWAP       []float64 `json:"vwap"`

	// ProcessorVersion identifies the indicator schema that produced this
	// frame. Persisted frames from an older version are invalid.
	ProcessorVersion string `json:"processor_version"`
}

// Len returns the number of rows
func (f *Frame) Len() int { return len(f.Candles) }

// LastIndex returns the index of the final row, -1 when empty
func (f *Frame) LastIndex() int { return len(f.Candles) - 1 }

// IsWarmup reports whether row i falls inside the warmup prefix
func (f *Frame) IsWarmup(i int) bool { return i < WarmupLen }

// Close returns the close of row i
func (f *Frame) Close(i int) float64 { return f.Candles[i].Close }

// LastClose returns the close of the final row
func (f *Frame) LastClose() float64 { return f.Candles[len(f.Candles)-1].Close }

// LastCloseTime returns the close time of the final row
func (f *Frame) LastCloseTime() time.Time { return f.Candles[len(f.Candles)-1].CloseTime }

// TimeframeView pairs the closed-candle frame with the in-progress candle
type TimeframeView struct {
	Stable *Frame `json:"stable"`
	Live   Candle `json:"live"`
}

// OpenInterest carries current open interest plus the value 24h earlier
type OpenInterest struct {
	Current float64 `json:"current"`
	Past24h float64 `json:"past_24h"`
}

// Change24hPct returns the 24h open-interest change in percent
func (oi OpenInterest) Change24hPct() float64 {
	if oi.Past24h == 0 {
		return 0
	}
	return (oi.Current - oi.Past24h) / oi.Past24h * 100
}

// MarketSnapshot is the pipeline's atomic unit: a point-in-time, cross-
// timeframe, replay-safe frozen view. Snapshots are immutable after creation;
// every persisted artifact of a cycle is keyed by SnapshotID.
type MarketSnapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`

	Views map[Timeframe]*TimeframeView `json:"views"`

	// Auxiliary metrics; nil when the upstream fetch failed or timed out.
	FundingRate  *float64      `json:"funding_rate,omitempty"`
	OpenInterest *OpenInterest `json:"open_interest,omitempty"`
	Netflow1h    *float64      `json:"institutional_netflow_1h,omitempty"`

	AlignmentOK bool     `json:"alignment_ok"`
	Warnings    []string `json:"warnings,omitempty"`
}

// View returns the view for tf, nil when absent
func (s *MarketSnapshot) View(tf Timeframe) *TimeframeView {
	return s.Views[tf]
}

// Stable returns the stable frame for tf, nil when absent
func (s *MarketSnapshot) Stable(tf Timeframe) *Frame {
	if v := s.Views[tf]; v != nil {
		return v.Stable
	}
	return nil
}

// NewSnapshotID builds the stable cycle identifier from the snapshot wall
// time, e.g. "snap_1766234252".
func NewSnapshotID(ts time.Time) string {
	return fmt.Sprintf("snap_%d", ts.Unix())
}

// FeatureSnapshot is the one-row summary the predictor consumes, extracted
// from the last valid row of an indicator frame.
type FeatureSnapshot struct {
	SnapshotID    string    `json:"source_snapshot_id"`
	Symbol        string    `json:"symbol"`
	Timeframe     Timeframe `json:"timeframe"`
	SchemaVersion string    `json:"schema_version"`

	Close          float64 `json:"close"`
	PriceChange1   float64 `json:"price_change_1"`
	PriceChange3   float64 `json:"price_change_3"`
	PriceChange5   float64 `json:"price_change_5"`
	PriceChange10  float64 `json:"price_change_10"`
	PriceChange20  float64 `json:"price_change_20"`
	EMACross       float64 `json:"ema_cross"`  // +1 bullish, -1 bearish, 0 none
	MACDCross      float64 `json:"macd_cross"` // +1 bullish, -1 bearish, 0 none
	RSI            float64 `json:"rsi"`
	RSIBucket      float64 `json:"rsi_bucket"` // -2 oversold .. +2 overbought
	ATRPct         float64 `json:"atr_pct"`
	MACDHistPct    float64 `json:"macd_hist_pct"`
	BBPosition     float64 `json:"bb_position"` // -1 lower band .. +1 upper band
	VolumeRatio    float64 `json:"volume_ratio"`
	VolumeZScore   float64 `json:"volume_z_score"`
	DistanceHigh20 float64 `json:"distance_high_20"` // % below trailing 20-bar high
	DistanceLow20  float64 `json:"distance_low_20"`  // % above trailing 20-bar low
}

// VectorDim is the feature vector length used by the predictor and by
// decision similarity search.
const VectorDim = 16

// Vector flattens the snapshot into its fixed-order numeric form. NaN is
// mapped to zero so the vector stays usable for distance queries.
func (fs *FeatureSnapshot) Vector() []float64 {
	raw := []float64{
		fs.PriceChange1,
		fs.PriceChange3,
		fs.PriceChange5,
		fs.PriceChange10,
		fs.PriceChange20,
		fs.EMACross,
		fs.MACDCross,
		fs.RSI,
		fs.RSIBucket,
		fs.ATRPct,
		fs.MACDHistPct,
		fs.BBPosition,
		fs.VolumeRatio,
		fs.VolumeZScore,
		fs.DistanceHigh20,
		fs.DistanceLow20,
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i] = v
		}
	}
	return out
}
