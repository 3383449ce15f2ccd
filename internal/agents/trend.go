package agents

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

const (
	trendCrossScore      = 40.0
	trendMomentumScore   = 30.0
	trendBreakoutScore   = 30.0
	trendCorrectionScore = 20.0

	// trendCrossLookback is the number of closed candles inspected for a
	// fresh EMA crossover.
	trendCrossLookback = 3

	// trendBreakoutWindow is the prior-bar window a close must escape to
	// count as a breakout.
	trendBreakoutWindow = 20

	// trendCorrectionThreshold is the minimum relative move of the live
	// candle against the last stable close.
	trendCorrectionThreshold = 0.001

	// signalThreshold separates bullish/bearish from neutral for score
	// signal strings.
	signalThreshold = 20.0
)

// TrendScore is one timeframe's trend read.
type TrendScore struct {
	Timeframe market.Timeframe `json:"timeframe"`
	Score     float64          `json:"score"`  // [-100, +100]
	Signal    string           `json:"signal"` // "bullish", "bearish", "neutral"
	Rules     []string         `json:"rules,omitempty"`
}

// TrendAgent scores directional structure per timeframe: fresh EMA
// crossovers, MACD momentum expansion, range breakouts and the live-candle
// correction.
type TrendAgent struct {
	logger zerolog.Logger
}

// NewTrendAgent creates a trend agent
func NewTrendAgent() *TrendAgent {
	return &TrendAgent{
		logger: log.With().Str("agent", "trend").Logger(),
	}
}

// Analyze scores every timeframe in the snapshot. A timeframe whose frame
// is absent or still warming up is omitted from the result, its vote is
// treated as missing downstream.
func (a *TrendAgent) Analyze(snap *market.MarketSnapshot) (map[market.Timeframe]TrendScore, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}

	out := make(map[market.Timeframe]TrendScore, len(snap.Views))
	for _, tf := range market.Timeframes() {
		view := snap.View(tf)
		if view == nil || view.Stable == nil {
			a.logger.Warn().Str("timeframe", string(tf)).Msg("No stable frame, skipping timeframe")
			continue
		}
		frame := view.Stable
		if frame.LastIndex() < market.WarmupLen {
			a.logger.Warn().
				Str("timeframe", string(tf)).
				Int("rows", frame.Len()).
				Msg("Frame still inside warmup, skipping timeframe")
			continue
		}

		score := a.scoreFrame(frame, view.Live)
		out[tf] = score

		a.logger.Debug().
			Str("symbol", snap.Symbol).
			Str("timeframe", string(tf)).
			Float64("score", score.Score).
			Str("signal", score.Signal).
			Strs("rules", score.Rules).
			Msg("Trend scored")
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("trend analysis %s: no usable timeframe", snap.Symbol)
	}
	return out, nil
}

func (a *TrendAgent) scoreFrame(frame *market.Frame, live market.Candle) TrendScore {
	last := frame.LastIndex()
	var score float64
	var rules []string

	if s := emaCrossSignal(frame, last); s != 0 {
		score += s * trendCrossScore
		rules = append(rules, directional("ema_cross", s))
	}
	if s := macdExpansionSignal(frame, last); s != 0 {
		score += s * trendMomentumScore
		rules = append(rules, directional("macd_momentum", s))
	}
	if s := breakoutSignal(frame, last); s != 0 {
		score += s * trendBreakoutScore
		rules = append(rules, directional("breakout_20", s))
	}
	if s := liveCorrectionSignal(frame.Close(last), live.Close); s != 0 {
		score += s * trendCorrectionScore
		rules = append(rules, directional("live_correction", s))
	}

	score = clipScore(score)
	return TrendScore{
		Timeframe: frame.Timeframe,
		Score:     score,
		Signal:    signalLabel(score),
		Rules:     rules,
	}
}

// emaCrossSignal returns +1/-1 when EMA12 crossed EMA26 within the last
// trendCrossLookback closed candles, most recent cross wins.
func emaCrossSignal(frame *market.Frame, last int) float64 {
	for i := last; i > last-trendCrossLookback && i > 0; i-- {
		prev := frame.EMA12[i-1] - frame.EMA26[i-1]
		cur := frame.EMA12[i] - frame.EMA26[i]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		if prev <= 0 && cur > 0 {
			return 1
		}
		if prev >= 0 && cur < 0 {
			return -1
		}
	}
	return 0
}

// macdExpansionSignal returns +1 when the MACD histogram is positive and
// strictly widening over the last three bars, -1 for the mirrored case.
func macdExpansionSignal(frame *market.Frame, last int) float64 {
	if last < 2 {
		return 0
	}
	h0, h1, h2 := frame.MACDHist[last-2], frame.MACDHist[last-1], frame.MACDHist[last]
	if math.IsNaN(h0) || math.IsNaN(h1) || math.IsNaN(h2) {
		return 0
	}
	if h2 > 0 && h2 > h1 && h1 > h0 {
		return 1
	}
	if h2 < 0 && h2 < h1 && h1 < h0 {
		return -1
	}
	return 0
}

// breakoutSignal returns +1/-1 when the last close escapes the prior
// 20-bar high/low.
func breakoutSignal(frame *market.Frame, last int) float64 {
	start := last - trendBreakoutWindow
	if start < 0 {
		return 0
	}
	high := frame.Candles[start].High
	low := frame.Candles[start].Low
	for _, c := range frame.Candles[start+1 : last] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	lastClose := frame.Close(last)
	if lastClose > high {
		return 1
	}
	if lastClose < low {
		return -1
	}
	return 0
}

// liveCorrectionSignal compares the in-progress close against the last
// stable close at the 0.1% threshold.
func liveCorrectionSignal(stableClose, liveClose float64) float64 {
	if stableClose == 0 || liveClose == 0 {
		return 0
	}
	move := (liveClose - stableClose) / stableClose
	if move > trendCorrectionThreshold {
		return 1
	}
	if move < -trendCorrectionThreshold {
		return -1
	}
	return 0
}

func clipScore(score float64) float64 {
	if score > 100 {
		return 100
	}
	if score < -100 {
		return -100
	}
	return score
}

func signalLabel(score float64) string {
	switch {
	case score >= signalThreshold:
		return "bullish"
	case score <= -signalThreshold:
		return "bearish"
	}
	return "neutral"
}

func directional(rule string, sign float64) string {
	if sign > 0 {
		return rule + "_up"
	}
	return rule + "_down"
}
