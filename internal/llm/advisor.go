package llm

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/market"
)

const (
	// The model's opinion maps onto a confidence factor in [0.8, 1.2]:
	// full-confidence agreement scales the vote up 20%, disagreement or
	// zero-confidence agreement scales it down 20%.
	confidenceScaleFloor = 0.8
	confidenceScaleSpan  = 0.4

	maxSimilarDecisions = 3
)

// completer is the slice of Client the advisor needs.
type completer interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var _ completer = (*Client)(nil)

// SimilarDecision is a past decision recalled by feature-vector proximity,
// shown to the model as precedent.
type SimilarDecision struct {
	Symbol     string
	Action     string
	Confidence float64
	PnL        float64 // realized outcome, zero while still open
	CreatedAt  time.Time
}

// DecisionRecaller finds past decisions nearest to a feature vector.
type DecisionRecaller interface {
	SimilarDecisions(ctx context.Context, vector []float64, limit int) ([]SimilarDecision, error)
}

// Advice is the outcome of one review. When Skipped is true the vote passes
// through with its confidence untouched and SkipReason says why.
type Advice struct {
	Factor      float64         `json:"factor"`
	Confidence  float64         `json:"confidence"`
	ModelAction decision.Action `json:"model_action,omitempty"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Skipped     bool            `json:"skipped"`
	SkipReason  string          `json:"skip_reason,omitempty"`
}

// Advisor asks the model to second-guess a fused vote. It may scale the
// vote's confidence, never its action, and any failure on its side leaves
// the vote exactly as the fuser produced it.
type Advisor struct {
	enabled  bool
	client   completer
	recaller DecisionRecaller
	logger   zerolog.Logger
}

// NewAdvisor builds the advisor. A nil recaller is fine, reviews then run
// without historical context. When the config disables the advisor every
// review is a pass-through.
func NewAdvisor(cfg config.LLMConfig, recaller DecisionRecaller) *Advisor {
	a := &Advisor{
		enabled:  cfg.Enabled,
		recaller: recaller,
		logger:   log.With().Str("component", "llm_advisor").Logger(),
	}
	if cfg.Enabled {
		a.client = NewClientFromConfig(cfg)
	}
	return a
}

// Review asks the model for a second opinion on an actionable vote and maps
// the answer onto a confidence factor. The factor is 0.8 when the model
// disagrees with the vote's direction, and 0.8 + 0.4 * modelConfidence/100
// when it agrees. Timeouts, unparseable replies and contract violations all
// skip the review rather than fail the cycle.
func (a *Advisor) Review(ctx context.Context, vote *decision.VoteResult, features market.FeatureSnapshot) Advice {
	if !a.enabled || a.client == nil {
		return a.skip(vote, "advisor disabled")
	}
	if vote.Action == decision.ActionHold {
		return a.skip(vote, "vote not actionable")
	}

	var similar []SimilarDecision
	if a.recaller != nil {
		recalled, err := a.recaller.SimilarDecisions(ctx, features.Vector(), maxSimilarDecisions)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", vote.Symbol).
				Msg("Decision recall failed, reviewing without history")
		} else {
			similar = recalled
		}
	}

	content, err := a.client.CompleteWithSystem(ctx, advisorSystemPrompt, buildReviewPrompt(vote, features, similar))
	if err != nil {
		a.logger.Warn().Err(err).Str("symbol", vote.Symbol).Msg("Advisor request failed")
		return a.skip(vote, "request failed: "+err.Error())
	}

	parsed, err := ParseAdvice(content)
	if err != nil {
		a.logger.Warn().Err(err).Str("symbol", vote.Symbol).Msg("Advisor reply unparseable")
		return a.skip(vote, "unparseable reply: "+err.Error())
	}

	picked := pickDecision(parsed.Decisions, vote.Symbol)
	if picked == nil {
		return a.skip(vote, "no decision for symbol")
	}
	if err := validateAdvisorDecision(*picked); err != nil {
		a.logger.Warn().Err(err).Str("symbol", vote.Symbol).Msg("Advisor decision rejected")
		return a.skip(vote, "invalid decision: "+err.Error())
	}

	modelAction := normalizeAction(picked.Action)
	factor := confidenceScaleFloor
	if modelAction == vote.Action {
		factor += confidenceScaleSpan * float64(picked.Confidence) / 100
	}
	scaled := math.Min(100, math.Max(0, vote.Confidence*factor))

	a.logger.Info().
		Str("symbol", vote.Symbol).
		Str("vote_action", string(vote.Action)).
		Str("model_action", string(modelAction)).
		Float64("factor", factor).
		Float64("confidence", scaled).
		Msg("Advisor review applied")

	return Advice{
		Factor:      factor,
		Confidence:  scaled,
		ModelAction: modelAction,
		Reasoning:   picked.Reasoning,
	}
}

func (a *Advisor) skip(vote *decision.VoteResult, reason string) Advice {
	return Advice{
		Factor:     1.0,
		Confidence: vote.Confidence,
		Skipped:    true,
		SkipReason: reason,
	}
}

// pickDecision returns the first decision for the symbol, or nil.
func pickDecision(decisions []AdvisorDecision, symbol string) *AdvisorDecision {
	for i := range decisions {
		if decisions[i].Symbol == symbol {
			return &decisions[i]
		}
	}
	return nil
}
