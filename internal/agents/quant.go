// Package agents implements the layered signal analyzers that read a market
// snapshot: trend, oscillator and sentiment scorers composed by the quant
// analyst, the predictor bridge, and the regime and range-position reads
// the decision core gates on.
package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

// Composite blend of the three analyzer families.
const (
	compositeTrendWeight     = 0.4
	compositeOscWeight       = 0.3
	compositeSentimentWeight = 0.3

	quantLabelThreshold = 30.0
)

// QuantAnalysis is the combined technical read of one snapshot.
type QuantAnalysis struct {
	SnapshotID string `json:"snapshot_id"`
	Symbol     string `json:"symbol"`

	Trend      map[market.Timeframe]TrendScore `json:"trend"`
	Oscillator OscillatorScore                 `json:"oscillator"`
	Sentiment  SentimentScore                  `json:"sentiment"`

	Composite float64 `json:"composite"` // [-100, +100]
	Label     string  `json:"label"`     // "buy", "sell", "neutral"
}

// TrendScoreFor returns the trend score for tf and whether it is present.
func (q *QuantAnalysis) TrendScoreFor(tf market.Timeframe) (TrendScore, bool) {
	s, ok := q.Trend[tf]
	return s, ok
}

// QuantAnalystAgent fans the trend, oscillator and sentiment analyzers out
// over a snapshot and blends their scores into one composite.
type QuantAnalystAgent struct {
	trend      *TrendAgent
	oscillator *OscillatorAgent
	sentiment  *SentimentAgent
	logger     zerolog.Logger
}

// NewQuantAnalystAgent creates a quant analyst agent
func NewQuantAnalystAgent() *QuantAnalystAgent {
	return &QuantAnalystAgent{
		trend:      NewTrendAgent(),
		oscillator: NewOscillatorAgent(),
		sentiment:  NewSentimentAgent(),
		logger:     log.With().Str("agent", "quant_analyst").Logger(),
	}
}

// Analyze runs the three analyzers concurrently and composes their scores.
// The trend read is required; oscillator and sentiment degrade to a zero
// contribution when unusable.
func (a *QuantAnalystAgent) Analyze(ctx context.Context, snap *market.MarketSnapshot) (*QuantAnalysis, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}

	var (
		trendScores map[market.Timeframe]TrendScore
		oscScore    OscillatorScore
		sentScore   SentimentScore
		oscErr      error
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trendScores, err = a.trend.Analyze(snap)
		return err
	})
	g.Go(func() error {
		oscScore, oscErr = a.oscillator.Analyze(snap)
		return nil
	})
	g.Go(func() error {
		var err error
		sentScore, err = a.sentiment.Analyze(snap)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("quant analysis %s: %w", snap.Symbol, err)
	}
	if oscErr != nil {
		a.logger.Warn().Err(oscErr).Str("symbol", snap.Symbol).Msg("Oscillator unusable, contributes zero")
		oscScore = OscillatorScore{Signal: "neutral"}
	}

	var trendSum float64
	for _, s := range trendScores {
		trendSum += s.Score
	}
	trendAvg := trendSum / float64(len(trendScores))

	sentContribution := sentScore.Score
	if sentScore.Missing {
		sentContribution = 0
	}

	composite := compositeTrendWeight*trendAvg +
		compositeOscWeight*oscScore.Score +
		compositeSentimentWeight*sentContribution

	analysis := &QuantAnalysis{
		SnapshotID: snap.SnapshotID,
		Symbol:     snap.Symbol,
		Trend:      trendScores,
		Oscillator: oscScore,
		Sentiment:  sentScore,
		Composite:  clipScore(composite),
		Label:      quantLabel(composite),
	}

	a.logger.Info().
		Str("symbol", snap.Symbol).
		Str("snapshot_id", snap.SnapshotID).
		Float64("trend_avg", trendAvg).
		Float64("oscillator", oscScore.Score).
		Float64("sentiment", sentContribution).
		Float64("composite", analysis.Composite).
		Str("label", analysis.Label).
		Msg("Quant analysis composed")
	return analysis, nil
}

func quantLabel(composite float64) string {
	switch {
	case composite > quantLabelThreshold:
		return "buy"
	case composite < -quantLabelThreshold:
		return "sell"
	}
	return "neutral"
}
