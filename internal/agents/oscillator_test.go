package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

func TestRsiScoreBands(t *testing.T) {
	tests := []struct {
		rsi  float64
		want float64
	}{
		{85, -80},
		{75, -80},
		{72.5, -60},
		{70, -40},
		{60, 0},
		{50, 0},
		{40, 0},
		{30, 40},
		{27.5, 60},
		{25, 80},
		{15, 80},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, rsiScore(tt.rsi), 1e-9, "rsi %.1f", tt.rsi)
	}
}

func TestOscillatorNeutral(t *testing.T) {
	agent := NewOscillatorAgent()
	snap := neutralSnapshot(120)

	score, err := agent.Analyze(snap)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Score)
	assert.Equal(t, "neutral", score.Signal)
}

func TestOscillatorWeightedAggregate(t *testing.T) {
	agent := NewOscillatorAgent()
	snap := neutralSnapshot(120)

	setLastRSI := func(tf market.Timeframe, rsi float64) {
		frame := snap.Stable(tf)
		frame.RSI[frame.LastIndex()] = rsi
	}
	setLastRSI(market.Timeframe5m, 80)  // -80
	setLastRSI(market.Timeframe15m, 50) // 0
	setLastRSI(market.Timeframe1h, 20)  // +80

	score, err := agent.Analyze(snap)
	require.NoError(t, err)

	// 0.30*-80 + 0.30*0 + 0.40*80 = +8
	assert.InDelta(t, 8.0, score.Score, 1e-9)
	assert.Equal(t, "neutral", score.Signal)
	assert.InDelta(t, -80.0, score.PerTimeframe[market.Timeframe5m], 1e-9)
	assert.InDelta(t, 80.0, score.PerTimeframe[market.Timeframe1h], 1e-9)
}

func TestOscillatorOversoldEverywhere(t *testing.T) {
	agent := NewOscillatorAgent()
	snap := neutralSnapshot(120)

	for _, tf := range market.Timeframes() {
		frame := snap.Stable(tf)
		frame.RSI[frame.LastIndex()] = 20
	}

	score, err := agent.Analyze(snap)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, score.Score, 1e-9)
	assert.Equal(t, "bullish", score.Signal)
}

func TestOscillatorMissingTimeframeContributesZero(t *testing.T) {
	agent := NewOscillatorAgent()
	snap := neutralSnapshot(120)

	frame := snap.Stable(market.Timeframe5m)
	frame.RSI[frame.LastIndex()] = 20 // +80 at weight 0.30
	delete(snap.Views, market.Timeframe1h)

	score, err := agent.Analyze(snap)
	require.NoError(t, err)
	assert.InDelta(t, 24.0, score.Score, 1e-9)
	_, ok := score.PerTimeframe[market.Timeframe1h]
	assert.False(t, ok)
}

func TestOscillatorAllFramesUnusable(t *testing.T) {
	agent := NewOscillatorAgent()
	snap := neutralSnapshot(50)

	_, err := agent.Analyze(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable timeframe")
}
