package decision

import (
	"github.com/ajitpratap0/tradepilot/internal/agents"
	"github.com/ajitpratap0/tradepilot/internal/market"
)

// Action is the discrete trading decision
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionHold  Action = "hold"
)

// Alignment classifies how the per-timeframe trend signs agree.
type Alignment string

const (
	AlignmentFull      Alignment = "full"      // all three signs equal and non-zero
	AlignmentPartial   Alignment = "partial"   // 1h and 15m agree, non-zero
	AlignmentDivergent Alignment = "divergent"
)

// Signal names, one per weighted vote input.
const (
	SignalTrend5m   = "trend_5m"
	SignalTrend15m  = "trend_15m"
	SignalTrend1h   = "trend_1h"
	SignalOsc5m     = "osc_5m"
	SignalOsc15m    = "osc_15m"
	SignalOsc1h     = "osc_1h"
	SignalProphet   = "prophet"
	SignalSentiment = "sentiment"
)

// signalOrder fixes the iteration order for weight renormalization so that
// identical inputs always produce byte-identical votes.
var signalOrder = []string{
	SignalTrend5m,
	SignalTrend15m,
	SignalTrend1h,
	SignalOsc5m,
	SignalOsc15m,
	SignalOsc1h,
	SignalProphet,
	SignalSentiment,
}

// SignalOrder returns the fixed signal iteration order. Consumers that
// render or persist VoteDetails use it to stay deterministic.
func SignalOrder() []string {
	out := make([]string, len(signalOrder))
	copy(out, signalOrder)
	return out
}

// baseWeights sum to exactly 1.0. A signal whose source data is missing
// drops out and the surviving weights are renormalized back to 1.0.
var baseWeights = map[string]float64{
	SignalTrend5m:   0.10,
	SignalTrend15m:  0.15,
	SignalTrend1h:   0.20,
	SignalOsc5m:     0.05,
	SignalOsc15m:    0.07,
	SignalOsc1h:     0.08,
	SignalProphet:   0.15,
	SignalSentiment: 0.20,
}

// VoteDetail records one signal's contribution to the weighted score.
type VoteDetail struct {
	Score        float64 `json:"score"`       // [-100, +100]
	BaseWeight   float64 `json:"base_weight"` // configured weight
	Weight       float64 `json:"weight"`      // renormalized effective weight
	Contribution float64 `json:"contribution"`
}

// VoteResult is the fused decision for one cycle. It is immutable once
// returned and persisted keyed by SnapshotID.
type VoteResult struct {
	SnapshotID string `json:"snapshot_id"`
	Symbol     string `json:"symbol"`

	Action        Action  `json:"action"`
	Confidence    float64 `json:"confidence"`     // [0,100]
	WeightedScore float64 `json:"weighted_score"` // [-100,+100]

	VoteDetails        map[string]VoteDetail `json:"vote_details"`
	Alignment          Alignment             `json:"alignment"`
	MultiPeriodAligned bool                  `json:"multi_period_aligned"`

	Regime   agents.Regime       `json:"regime"`
	Position agents.PositionView `json:"position"`
	Reason   string              `json:"reason"`
}

// Inputs carries everything one vote consumes. All fields refer to the same
// snapshot; the fuser never reaches back to live market state.
type Inputs struct {
	Snapshot   *market.MarketSnapshot
	Quant      *agents.QuantAnalysis
	Prediction *agents.PredictResult
	Regime     agents.Regime
	Position   agents.PositionView
}
