package agents

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

// Market regime kinds, ordered by evaluation priority.
const (
	RegimeVolatile = "volatile"
	RegimeChoppy   = "choppy"
	RegimeTrending = "trending"
	RegimeUnknown  = "unknown"
)

const (
	// regimeVolatileATRPct marks the ATR/close ratio above which everything
	// else is noise.
	regimeVolatileATRPct = 0.015

	regimeChoppyADX = 20.0
	// regimeChoppyEMADrift is the max |close-EMA20|/close of a directionless
	// market.
	regimeChoppyEMADrift = 0.003

	regimeTrendingADX = 25.0

	regimeVolatileConfidence = 80.0
	regimeChoppyConfidence   = 70.0
	regimeTrendingConfidence = 75.0
	regimeUnknownConfidence  = 40.0
)

// Regime is the 1h market state the decision gates consume.
type Regime struct {
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"` // [0,100]
	ADX        float64 `json:"adx"`
	ATRPct     float64 `json:"atr_pct"`
}

// RegimeDetector classifies the 1h frame. Volatility is checked first, a
// wide-range market is volatile no matter what ADX says; then chop, then
// trend, then unknown.
type RegimeDetector struct {
	logger zerolog.Logger
}

// NewRegimeDetector creates a regime detector
func NewRegimeDetector() *RegimeDetector {
	return &RegimeDetector{
		logger: log.With().Str("agent", "regime").Logger(),
	}
}

// Detect classifies the market regime from the 1h stable frame.
func (d *RegimeDetector) Detect(frame *market.Frame) Regime {
	if frame == nil || frame.LastIndex() < market.WarmupLen {
		return Regime{Kind: RegimeUnknown, Confidence: regimeUnknownConfidence}
	}

	last := frame.LastIndex()
	lastClose := frame.Close(last)
	adx := frame.ADX[last]
	atrPct := frame.ATR[last] / lastClose

	regime := Regime{Kind: RegimeUnknown, Confidence: regimeUnknownConfidence, ADX: adx, ATRPct: atrPct}
	switch {
	case math.IsNaN(adx) || math.IsNaN(atrPct) || lastClose == 0:
		// Leave unknown.
	case atrPct > regimeVolatileATRPct:
		regime.Kind = RegimeVolatile
		regime.Confidence = regimeVolatileConfidence
	case adx < regimeChoppyADX && emaDrift(frame, last) < regimeChoppyEMADrift:
		regime.Kind = RegimeChoppy
		regime.Confidence = regimeChoppyConfidence
	case adx >= regimeTrendingADX && emasMonotonic(frame, last):
		regime.Kind = RegimeTrending
		regime.Confidence = regimeTrendingConfidence
	}

	d.logger.Debug().
		Str("symbol", frame.Symbol).
		Str("regime", regime.Kind).
		Float64("adx", adx).
		Float64("atr_pct", atrPct).
		Msg("Regime detected")
	return regime
}

// emaDrift measures how far price sits from its 20-period EMA, relative to
// price.
func emaDrift(frame *market.Frame, last int) float64 {
	lastClose := frame.Close(last)
	ema := frame.EMA20[last]
	if math.IsNaN(ema) || lastClose == 0 {
		return math.Inf(1)
	}
	return math.Abs(lastClose-ema) / lastClose
}

// emasMonotonic reports whether the EMA ladder is stacked in one direction.
func emasMonotonic(frame *market.Frame, last int) bool {
	e12, e26, e50 := frame.EMA12[last], frame.EMA26[last], frame.EMA50[last]
	if math.IsNaN(e12) || math.IsNaN(e26) || math.IsNaN(e50) {
		return false
	}
	up := e12 > e26 && e26 > e50
	down := e12 < e26 && e26 < e50
	return up || down
}
