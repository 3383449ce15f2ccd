// Package decision fuses the analyzer signals into one weighted vote per
// cycle, applies the regime and range-position gates, and runs the
// adversarial institutional-flow audit before the vote reaches risk.
package decision

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/agents"
	"github.com/ajitpratap0/tradepilot/internal/market"
)

const (
	// voteTriggerScore is the |weighted score| beyond which the vote leaves
	// the hold band.
	voteTriggerScore = 30.0

	// alignedConfidence is granted when all three trend timeframes agree in
	// direction. Partial or divergent triggers ramp linearly instead.
	alignedConfidence    = 85.0
	triggerConfidenceMin = 60.0
	triggerConfidenceMax = 75.0
	confidenceRampEnd    = 50.0

	holdConfidenceMin = 20.0
	holdConfidenceMax = 50.0

	// auditNetflowThreshold is the 1h institutional netflow magnitude that
	// counts as the market leaning against the vote.
	auditNetflowThreshold = 1_000_000.0
	auditDecay            = 0.5
	auditConfidenceFloor  = 30.0
)

// signalTimeframes maps the per-timeframe signal names onto their frames.
var signalTimeframes = []struct {
	trend, osc string
	tf         market.Timeframe
}{
	{SignalTrend5m, SignalOsc5m, market.Timeframe5m},
	{SignalTrend15m, SignalOsc15m, market.Timeframe15m},
	{SignalTrend1h, SignalOsc1h, market.Timeframe1h},
}

// Core is the weighted-vote decision fuser.
type Core struct {
	logger zerolog.Logger
}

// NewCore creates a decision core
func NewCore() *Core {
	return &Core{
		logger: log.With().Str("component", "decision_core").Logger(),
	}
}

// Decide fuses the cycle's signals into one vote. Missing signals drop out
// and the surviving weights renormalize to 1.0; the result is deterministic
// for identical inputs.
func (c *Core) Decide(in Inputs) (*VoteResult, error) {
	if in.Snapshot == nil || in.Quant == nil {
		return nil, fmt.Errorf("decision requires a snapshot and a quant analysis")
	}

	scores, present := collectSignals(in)

	var liveWeight float64
	for _, name := range signalOrder {
		if present[name] {
			liveWeight += baseWeights[name]
		}
	}
	if liveWeight == 0 {
		return nil, fmt.Errorf("decision %s: no live signals", in.Snapshot.Symbol)
	}

	details := make(map[string]VoteDetail, len(scores))
	var weighted float64
	for _, name := range signalOrder {
		if !present[name] {
			continue
		}
		eff := baseWeights[name] / liveWeight
		contribution := eff * scores[name]
		weighted += contribution
		details[name] = VoteDetail{
			Score:        scores[name],
			BaseWeight:   baseWeights[name],
			Weight:       eff,
			Contribution: contribution,
		}
	}

	alignment := trendAlignment(in.Quant.Trend)
	action, confidence := mapAction(weighted, alignment)

	vote := &VoteResult{
		SnapshotID:         in.Snapshot.SnapshotID,
		Symbol:             in.Snapshot.Symbol,
		Action:             action,
		Confidence:         confidence,
		WeightedScore:      weighted,
		VoteDetails:        details,
		Alignment:          alignment,
		MultiPeriodAligned: alignment == AlignmentFull,
		Regime:             in.Regime,
		Position:           in.Position,
		Reason:             baseReason(action, weighted, alignment),
	}

	c.applyGates(vote)
	c.adversarialAudit(vote, in.Snapshot.Netflow1h)

	c.logger.Info().
		Str("symbol", vote.Symbol).
		Str("snapshot_id", vote.SnapshotID).
		Str("action", string(vote.Action)).
		Float64("confidence", vote.Confidence).
		Float64("weighted_score", vote.WeightedScore).
		Str("alignment", string(vote.Alignment)).
		Str("regime", vote.Regime.Kind).
		Str("reason", vote.Reason).
		Msg("Vote decided")
	return vote, nil
}

// collectSignals gathers every available signal score. A signal whose source
// data is missing stays absent; it is never imputed.
func collectSignals(in Inputs) (map[string]float64, map[string]bool) {
	scores := make(map[string]float64, len(signalOrder))
	present := make(map[string]bool, len(signalOrder))

	for _, row := range signalTimeframes {
		if ts, ok := in.Quant.Trend[row.tf]; ok {
			scores[row.trend] = ts.Score
			present[row.trend] = true
		}
		if osc, ok := in.Quant.Oscillator.PerTimeframe[row.tf]; ok {
			scores[row.osc] = osc
			present[row.osc] = true
		}
	}
	if in.Prediction != nil {
		scores[SignalProphet] = (in.Prediction.PUp - 0.5) * 200
		present[SignalProphet] = true
	}
	if !in.Quant.Sentiment.Missing {
		scores[SignalSentiment] = in.Quant.Sentiment.Score
		present[SignalSentiment] = true
	}
	return scores, present
}

// trendAlignment reads the per-timeframe trend signs. Fully aligned needs
// all three equal and non-zero; partial needs 1h and 15m to agree.
func trendAlignment(trend map[market.Timeframe]agents.TrendScore) Alignment {
	s1h := scoreSign(trend, market.Timeframe1h)
	s15m := scoreSign(trend, market.Timeframe15m)
	s5m := scoreSign(trend, market.Timeframe5m)

	switch {
	case s1h != 0 && s1h == s15m && s15m == s5m:
		return AlignmentFull
	case s1h != 0 && s1h == s15m:
		return AlignmentPartial
	}
	return AlignmentDivergent
}

func scoreSign(trend map[market.Timeframe]agents.TrendScore, tf market.Timeframe) float64 {
	s, ok := trend[tf]
	if !ok {
		return 0
	}
	switch {
	case s.Score > 0:
		return 1
	case s.Score < 0:
		return -1
	}
	return 0
}

// mapAction converts the weighted score into an action and base confidence.
// Full multi-timeframe alignment pins the confidence at 85; partial or
// divergent triggers ramp 60 to 75 across the score band 30 to 50.
func mapAction(score float64, alignment Alignment) (Action, float64) {
	switch {
	case score > voteTriggerScore:
		return ActionLong, triggerConfidence(score, alignment)
	case score < -voteTriggerScore:
		return ActionShort, triggerConfidence(-score, alignment)
	}
	return ActionHold, holdConfidence(score)
}

func triggerConfidence(magnitude float64, alignment Alignment) float64 {
	if alignment == AlignmentFull {
		return alignedConfidence
	}
	if magnitude > confidenceRampEnd {
		magnitude = confidenceRampEnd
	}
	span := confidenceRampEnd - voteTriggerScore
	return triggerConfidenceMin + (magnitude-voteTriggerScore)/span*(triggerConfidenceMax-triggerConfidenceMin)
}

func holdConfidence(score float64) float64 {
	conf := 50 - math.Abs(score)/2
	if conf < holdConfidenceMin {
		return holdConfidenceMin
	}
	if conf > holdConfidenceMax {
		return holdConfidenceMax
	}
	return conf
}

func baseReason(action Action, score float64, alignment Alignment) string {
	if action == ActionHold {
		return fmt.Sprintf("weighted score %+.1f inside hold band", score)
	}
	return fmt.Sprintf("weighted score %+.1f, %s alignment", score, alignment)
}

// applyGates evaluates both structural gates in a fixed order; the first
// match forces the hold and owns the reason. A choppy mid-range market
// overrides everything, then the range-position gates block the proposed
// direction.
func (c *Core) applyGates(vote *VoteResult) {
	switch {
	case vote.Regime.Kind == agents.RegimeChoppy && vote.Position.Location == agents.PositionMiddle:
		c.forceHold(vote, "CHOPPY-MIDDLE: choppy regime at mid-range")
	case vote.Action == ActionLong && !vote.Position.AllowLong:
		c.forceHold(vote, "RANGE-TOP: longs blocked near range high")
	case vote.Action == ActionShort && !vote.Position.AllowShort:
		c.forceHold(vote, "RANGE-BOTTOM: shorts blocked near range low")
	}
}

func (c *Core) forceHold(vote *VoteResult, reason string) {
	if vote.Action != ActionHold {
		c.logger.Info().
			Str("symbol", vote.Symbol).
			Str("blocked_action", string(vote.Action)).
			Str("reason", reason).
			Msg("Gate forced hold")
	}
	vote.Action = ActionHold
	vote.Confidence = holdConfidence(vote.WeightedScore)
	vote.Reason = reason
}

// adversarialAudit decays confidence when the 1h institutional netflow leans
// against the vote. It never flips the direction; a decayed confidence below
// the floor downgrades to hold.
func (c *Core) adversarialAudit(vote *VoteResult, netflow *float64) {
	if netflow == nil || vote.Action == ActionHold {
		return
	}

	var note string
	switch {
	case vote.Action == ActionLong && *netflow < -auditNetflowThreshold:
		note = "technical long vs institutional outflow"
	case vote.Action == ActionShort && *netflow > auditNetflowThreshold:
		note = "technical short vs institutional inflow"
	default:
		return
	}

	vote.Confidence *= auditDecay
	vote.Reason = vote.Reason + "; " + note
	if vote.Confidence < auditConfidenceFloor {
		vote.Action = ActionHold
		vote.Reason = vote.Reason + "; confidence floor"
	}

	c.logger.Warn().
		Str("symbol", vote.Symbol).
		Str("action", string(vote.Action)).
		Float64("netflow", *netflow).
		Float64("confidence", vote.Confidence).
		Msg("Adversarial audit decayed confidence")
}
