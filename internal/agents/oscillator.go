package agents

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

const (
	rsiOverboughtHard = 75.0
	rsiOverboughtSoft = 70.0
	rsiOversoldHard   = 25.0
	rsiOversoldSoft   = 30.0
)

// oscillatorWeights aggregates per-timeframe RSI scores, the slowest
// timeframe carries the most weight.
var oscillatorWeights = map[market.Timeframe]float64{
	market.Timeframe5m:  0.30,
	market.Timeframe15m: 0.30,
	market.Timeframe1h:  0.40,
}

// OscillatorScore is the cross-timeframe mean-reversion read.
type OscillatorScore struct {
	PerTimeframe map[market.Timeframe]float64 `json:"per_timeframe"`
	Score        float64                      `json:"score"`  // [-100, +100]
	Signal       string                       `json:"signal"` // "bullish", "bearish", "neutral"
}

// OscillatorAgent scores RSI exhaustion per timeframe. Extremes vote
// against the move: deep overbought is a short signal, deep oversold a
// long signal.
type OscillatorAgent struct {
	logger zerolog.Logger
}

// NewOscillatorAgent creates an oscillator agent
func NewOscillatorAgent() *OscillatorAgent {
	return &OscillatorAgent{
		logger: log.With().Str("agent", "oscillator").Logger(),
	}
}

// Analyze aggregates the per-timeframe RSI scores into one oscillator vote.
func (a *OscillatorAgent) Analyze(snap *market.MarketSnapshot) (OscillatorScore, error) {
	if snap == nil {
		return OscillatorScore{}, fmt.Errorf("nil snapshot")
	}

	perTF := make(map[market.Timeframe]float64, len(oscillatorWeights))
	var weighted, liveWeight float64
	for _, tf := range market.Timeframes() {
		frame := snap.Stable(tf)
		if frame == nil || frame.LastIndex() < market.WarmupLen {
			a.logger.Warn().Str("timeframe", string(tf)).Msg("No usable frame, skipping timeframe")
			continue
		}
		rsi := frame.RSI[frame.LastIndex()]
		if math.IsNaN(rsi) {
			continue
		}
		score := rsiScore(rsi)
		perTF[tf] = score
		weighted += oscillatorWeights[tf] * score
		liveWeight += oscillatorWeights[tf]
	}

	if liveWeight == 0 {
		return OscillatorScore{}, fmt.Errorf("oscillator analysis %s: no usable timeframe", snap.Symbol)
	}

	out := OscillatorScore{
		PerTimeframe: perTF,
		Score:        clipScore(weighted),
	}
	out.Signal = signalLabel(out.Score)

	a.logger.Debug().
		Str("symbol", snap.Symbol).
		Float64("score", out.Score).
		Str("signal", out.Signal).
		Msg("Oscillator scored")
	return out, nil
}

// rsiScore maps an RSI reading onto a counter-trend score. The soft bands
// ramp linearly into the hard extremes.
func rsiScore(rsi float64) float64 {
	switch {
	case rsi >= rsiOverboughtHard:
		return -80
	case rsi <= rsiOversoldHard:
		return 80
	case rsi >= rsiOverboughtSoft:
		// -40 at 70 down to -80 approaching 75.
		return -40 - (rsi-rsiOverboughtSoft)/(rsiOverboughtHard-rsiOverboughtSoft)*40
	case rsi <= rsiOversoldSoft:
		// +40 at 30 up to +80 approaching 25.
		return 40 + (rsiOversoldSoft-rsi)/(rsiOversoldSoft-rsiOversoldHard)*40
	}
	return 0
}
