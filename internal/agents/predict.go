package agents

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

const (
	// predictTimeout bounds one predictor call. A late answer is a missing
	// answer, the fallback rule takes over.
	predictTimeout = 2 * time.Second

	// predictFallbackSlope converts the composite quant score into the
	// fallback probability via a sigmoid.
	predictFallbackSlope = 0.02

	// predictFallbackMaxConfidence caps fallback confidence, a rule guess
	// never outranks a model answer.
	predictFallbackMaxConfidence = 50.0

	predictBullishThreshold = 0.55
	predictBearishThreshold = 0.45

	// PredictSourceModel and PredictSourceFallback tag where a prediction
	// came from.
	PredictSourceModel    = "model"
	PredictSourceFallback = "rule-fallback"
)

// PredictResult is a probability-of-up estimate with its provenance.
type PredictResult struct {
	PUp        float64 `json:"p_up"`       // [0,1]
	Label      string  `json:"label"`      // "bullish", "bearish", "neutral"
	Confidence float64 `json:"confidence"` // [0,100]
	Source     string  `json:"source"`
}

// Predictor produces a probability-of-up from a feature snapshot. The
// model, its training and its features builder live outside this process.
type Predictor interface {
	Predict(ctx context.Context, features *market.FeatureSnapshot) (*PredictResult, error)
}

// PredictAgent bridges the external predictor into the decision pipeline,
// bounding its latency and falling back to a rule score derived from the
// composite quant score when the model is absent, slow or broken.
type PredictAgent struct {
	predictor Predictor
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewPredictAgent creates a predict agent. predictor may be nil, the agent
// then always answers with the rule fallback.
func NewPredictAgent(predictor Predictor) *PredictAgent {
	return &PredictAgent{
		predictor: predictor,
		timeout:   predictTimeout,
		logger:    log.With().Str("agent", "predict").Logger(),
	}
}

// Analyze returns the model's prediction for the features, or the rule
// fallback built from the composite quant score. It never returns an
// error, a broken predictor degrades instead of aborting the cycle.
func (a *PredictAgent) Analyze(ctx context.Context, features *market.FeatureSnapshot, composite float64) *PredictResult {
	if a.predictor == nil || features == nil {
		return a.fallback(composite, "no predictor")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type answer struct {
		result *PredictResult
		err    error
	}
	ch := make(chan answer, 1)
	go func() {
		result, err := a.predictor.Predict(callCtx, features)
		ch <- answer{result, err}
	}()

	select {
	case <-callCtx.Done():
		return a.fallback(composite, "predictor timeout")
	case ans := <-ch:
		if ans.err != nil {
			a.logger.Warn().Err(ans.err).Msg("Predictor failed, using rule fallback")
			return a.fallback(composite, "predictor error")
		}
		if ans.result == nil {
			return a.fallback(composite, "nil prediction")
		}
		return sanitizePrediction(ans.result)
	}
}

func (a *PredictAgent) fallback(composite float64, reason string) *PredictResult {
	pUp := sigmoid(predictFallbackSlope * composite)
	confidence := math.Abs(pUp-0.5) * 200
	if confidence > predictFallbackMaxConfidence {
		confidence = predictFallbackMaxConfidence
	}
	a.logger.Debug().
		Str("reason", reason).
		Float64("composite", composite).
		Float64("p_up", pUp).
		Msg("Rule-fallback prediction")
	return &PredictResult{
		PUp:        pUp,
		Label:      probabilityLabel(pUp),
		Confidence: confidence,
		Source:     PredictSourceFallback,
	}
}

// sanitizePrediction bounds a model answer into the contract ranges.
func sanitizePrediction(r *PredictResult) *PredictResult {
	out := *r
	if math.IsNaN(out.PUp) {
		out.PUp = 0.5
	}
	out.PUp = math.Min(1, math.Max(0, out.PUp))
	out.Confidence = math.Min(100, math.Max(0, out.Confidence))
	if out.Label == "" {
		out.Label = probabilityLabel(out.PUp)
	}
	if out.Source == "" {
		out.Source = PredictSourceModel
	}
	return &out
}

func probabilityLabel(pUp float64) string {
	switch {
	case pUp >= predictBullishThreshold:
		return "bullish"
	case pUp <= predictBearishThreshold:
		return "bearish"
	}
	return "neutral"
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// SeededPredictor is a deterministic stand-in for the external model, used
// by replays and tests. The same seed and features always produce the same
// probability.
type SeededPredictor struct {
	Seed uint64
}

// Predict hashes the seed and feature vector into a stable probability.
func (p *SeededPredictor) Predict(_ context.Context, features *market.FeatureSnapshot) (*PredictResult, error) {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], p.Seed)
	_, _ = h.Write(buf[:])
	for _, v := range features.Vector() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}

	u := float64(h.Sum64()%10000) / 10000.0
	pUp := 0.15 + 0.7*u
	return &PredictResult{
		PUp:        pUp,
		Label:      probabilityLabel(pUp),
		Confidence: math.Abs(pUp-0.5) * 200,
		Source:     PredictSourceModel,
	}, nil
}
