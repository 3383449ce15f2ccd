package llm

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/market"
)

// buildReviewPrompt renders one fused vote, its signal breakdown and the
// current features for the model to second-guess.
func buildReviewPrompt(vote *decision.VoteResult, features market.FeatureSnapshot, similar []SimilarDecision) string {
	return fmt.Sprintf(`Review the following trade proposal and give your own decision for the symbol.

PROPOSED TRADE:
Symbol: %s
Action: %s
Confidence: %.1f
Weighted Score: %.1f
Timeframe Alignment: %s
Reason: %s

MARKET REGIME (1h):
Regime: %s (confidence %.0f)
ADX: %.1f | ATR: %.2f%%

RANGE POSITION (1h):
Position in range: %.1f%% (%s)
Range: %.4f - %.4f
Longs allowed: %t | Shorts allowed: %t

SIGNAL VOTES:
%s

FEATURES (%s):
Close: %.4f
Price Change 1/5/20 bars: %.2f%% / %.2f%% / %.2f%%
RSI: %.1f | MACD Hist: %.3f%% | BB Position: %.2f
Volume Ratio: %.2f | Volume Z-Score: %.2f
Distance to 20-bar High/Low: %.2f%% / %.2f%%

%s
Give your decision for %s in the required format.`,
		vote.Symbol,
		vote.Action,
		vote.Confidence,
		vote.WeightedScore,
		vote.Alignment,
		vote.Reason,
		vote.Regime.Kind,
		vote.Regime.Confidence,
		vote.Regime.ADX,
		vote.Regime.ATRPct,
		vote.Position.Pct,
		vote.Position.Location,
		vote.Position.RangeLow,
		vote.Position.RangeHigh,
		vote.Position.AllowLong,
		vote.Position.AllowShort,
		formatSignalVotes(vote.VoteDetails),
		features.Timeframe,
		features.Close,
		features.PriceChange1,
		features.PriceChange5,
		features.PriceChange20,
		features.RSI,
		features.MACDHistPct,
		features.BBPosition,
		features.VolumeRatio,
		features.VolumeZScore,
		features.DistanceHigh20,
		features.DistanceLow20,
		formatSimilarDecisions(similar),
		vote.Symbol,
	)
}

func formatSignalVotes(details map[string]decision.VoteDetail) string {
	if len(details) == 0 {
		return "No signal votes available"
	}

	var lines []string
	for _, name := range decision.SignalOrder() {
		d, ok := details[name]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: score %+.1f (weight %.2f, contribution %+.2f)",
			name, d.Score, d.Weight, d.Contribution))
	}
	return strings.Join(lines, "\n")
}

func formatSimilarDecisions(similar []SimilarDecision) string {
	if len(similar) == 0 {
		return ""
	}

	var lines []string
	lines = append(lines, "SIMILAR PAST SETUPS:")
	for i, s := range similar {
		if i >= maxSimilarDecisions {
			break
		}
		lines = append(lines, fmt.Sprintf("  %s %s (confidence %.0f) -> PnL $%.2f on %s",
			s.Symbol, s.Action, s.Confidence, s.PnL, s.CreatedAt.Format("2006-01-02 15:04")))
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

const advisorSystemPrompt = `You are a senior cryptocurrency futures trader reviewing trade proposals produced by an automated strategy.

Your role is to give an independent second opinion on each proposal. You do not execute trades; your confidence is used to scale the strategy's own confidence.

Key responsibilities:
- Judge whether the proposed direction fits the regime, range position and momentum shown
- Weigh the signal votes against each other, they are not equally reliable
- Use the past similar setups as precedent where provided
- State your own action and confidence, even when you agree with the proposal

Guidelines:
- Be skeptical of longs near the top of the range and shorts near the bottom
- Low timeframe alignment and a choppy regime both argue for waiting
- Confidence 0-100: above 70 means you would take the trade yourself

OUTPUT FORMAT (strict):
Reply with a <reasoning> section followed by a <decision> section.

<reasoning>
Your analysis in plain text.
</reasoning>
<decision>
[{"symbol": "BTCUSDT", "action": "open_long", "confidence": 75, "reasoning": "one sentence", "leverage": 3, "position_size_usd": 500, "entry_price": 85000, "stop_loss": 83500, "take_profit": 88000}]
</decision>

Rules for the decision section:
- A JSON array and nothing else, even for a single symbol
- action is one of: open_long, open_short, close_long, close_short, hold, wait
- every decision needs symbol, action, confidence (0-100) and reasoning
- open_long and open_short additionally need leverage, position_size_usd, entry_price, stop_loss and take_profit
- exact numbers only: never ranges like 85000~86000, never thousands separators like 1,000
- stop_loss must be below entry_price for longs and above it for shorts
- take_profit must be at least twice as far from entry_price as stop_loss`
