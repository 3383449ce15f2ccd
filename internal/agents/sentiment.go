package agents

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

const (
	netflowScore = 30.0
	fundingScore = 30.0
	oiScore      = 10.0

	// fundingExtreme is the funding-rate magnitude (0.03%) beyond which
	// crowded positioning votes against the crowd.
	fundingExtreme = 0.0003

	// oiChangeThreshold is the 24h open-interest move (percent) that counts
	// as conviction.
	oiChangeThreshold = 10.0

	// oiPriceLookback is how many 1h candles back the price direction for
	// the open-interest read is measured against.
	oiPriceLookback = 24
)

// SentimentScore is the positioning read built from funding, open interest
// and institutional netflow.
type SentimentScore struct {
	Score   float64            `json:"score"` // [-100, +100]
	Signal  string             `json:"signal"`
	Parts   map[string]float64 `json:"parts,omitempty"`
	Missing bool               `json:"missing"` // true when every input was unavailable
}

// SentimentAgent reads crowd positioning. Each unavailable input scores
// zero; when every input is unavailable the whole signal is flagged
// missing so the decision core can drop its weight.
type SentimentAgent struct {
	logger zerolog.Logger
}

// NewSentimentAgent creates a sentiment agent
func NewSentimentAgent() *SentimentAgent {
	return &SentimentAgent{
		logger: log.With().Str("agent", "sentiment").Logger(),
	}
}

// Analyze scores the snapshot's auxiliary metrics.
func (a *SentimentAgent) Analyze(snap *market.MarketSnapshot) (SentimentScore, error) {
	if snap == nil {
		return SentimentScore{}, fmt.Errorf("nil snapshot")
	}

	parts := make(map[string]float64, 3)
	available := 0

	if snap.Netflow1h != nil {
		available++
		switch {
		case *snap.Netflow1h > 0:
			parts["netflow"] = netflowScore
		case *snap.Netflow1h < 0:
			parts["netflow"] = -netflowScore
		default:
			parts["netflow"] = 0
		}
	}

	if snap.FundingRate != nil {
		available++
		switch {
		case *snap.FundingRate > fundingExtreme:
			parts["funding"] = -fundingScore
		case *snap.FundingRate < -fundingExtreme:
			parts["funding"] = fundingScore
		default:
			parts["funding"] = 0
		}
	}

	if snap.OpenInterest != nil {
		available++
		parts["open_interest"] = a.openInterestScore(snap)
	}

	if available == 0 {
		a.logger.Warn().Str("symbol", snap.Symbol).Msg("All sentiment inputs unavailable")
		return SentimentScore{Missing: true, Signal: "neutral"}, nil
	}

	var score float64
	for _, v := range parts {
		score += v
	}
	out := SentimentScore{
		Score:  clipScore(score),
		Parts:  parts,
		Signal: signalLabel(score),
	}

	a.logger.Debug().
		Str("symbol", snap.Symbol).
		Float64("score", out.Score).
		Str("signal", out.Signal).
		Msg("Sentiment scored")
	return out, nil
}

// openInterestScore reads a large 24h open-interest move against the 1h
// price direction: growing interest confirms the move, shrinking interest
// fades it.
func (a *SentimentAgent) openInterestScore(snap *market.MarketSnapshot) float64 {
	change := snap.OpenInterest.Change24hPct()
	if math.Abs(change) <= oiChangeThreshold {
		return 0
	}

	frame := snap.Stable(market.Timeframe1h)
	if frame == nil || frame.Len() == 0 {
		return 0
	}
	last := frame.LastIndex()
	ref := last - oiPriceLookback
	if ref < 0 {
		ref = 0
	}
	priceDir := signOfDiff(frame.Close(last), frame.Close(ref))
	if priceDir == 0 {
		return 0
	}

	if change > 0 {
		return oiScore * priceDir
	}
	return -oiScore * priceDir
}

func signOfDiff(a, b float64) float64 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}
