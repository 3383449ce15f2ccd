package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/tradepilot/internal/decision"
)

// minAdvisorRewardRisk is the reward:risk floor an open decision from the
// model must clear before the advisor will trust its confidence.
const minAdvisorRewardRisk = 2.0

var (
	reasoningTagRe = regexp.MustCompile(`(?s)<reasoning>(.*?)</reasoning>`)
	decisionTagRe  = regexp.MustCompile(`(?s)<decision>(.*?)</decision>`)

	// Ranged prices such as "85000~86000" are unexecutable. The whole reply
	// is rejected rather than repaired, a model that hedges on price is not
	// giving an opinion worth scaling by.
	rangeValueRe = regexp.MustCompile(`\d\s*~\s*\d`)

	thousandsSepRe = regexp.MustCompile(`(\d),(\d)`)
)

// flexFloat tolerates numbers the model quotes as strings, with or without
// thousands separators ("1,000" parses as 1000).
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(strings.ReplaceAll(s[1:len(s)-1], ",", ""))
	}
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %s", string(data))
	}
	*f = flexFloat(v)
	return nil
}

// AdvisorDecision is one element of the JSON array inside <decision>.
type AdvisorDecision struct {
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Confidence flexFloat `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Leverage   flexFloat `json:"leverage"`
	SizeUSD    flexFloat `json:"position_size_usd"`
	EntryPrice flexFloat `json:"entry_price"`
	StopLoss   flexFloat `json:"stop_loss"`
	TakeProfit flexFloat `json:"take_profit"`
}

// ParsedAdvice is the structured form of one advisor reply.
type ParsedAdvice struct {
	Reasoning string
	Decisions []AdvisorDecision
}

// ParseAdvice extracts the <reasoning> and <decision> sections from a raw
// model reply. The decision payload must be a JSON array, even for a single
// symbol; a bare object means the model ignored the format contract and the
// reply is rejected.
func ParseAdvice(content string) (*ParsedAdvice, error) {
	reasoning := ""
	if m := reasoningTagRe.FindStringSubmatch(content); m != nil {
		reasoning = strings.TrimSpace(m[1])
	}

	m := decisionTagRe.FindStringSubmatch(content)
	if m == nil {
		return nil, fmt.Errorf("missing <decision> section")
	}
	payload := stripFences(m[1])

	if rangeValueRe.MatchString(payload) {
		return nil, fmt.Errorf("decision contains a range value")
	}
	for thousandsSepRe.MatchString(payload) {
		payload = thousandsSepRe.ReplaceAllString(payload, "${1}${2}")
	}

	if !strings.HasPrefix(payload, "[") {
		return nil, fmt.Errorf("decision payload is not a JSON array")
	}

	var decisions []AdvisorDecision
	if err := json.Unmarshal([]byte(payload), &decisions); err != nil {
		return nil, fmt.Errorf("invalid decision JSON: %w", err)
	}
	if len(decisions) == 0 {
		return nil, fmt.Errorf("empty decision array")
	}

	return &ParsedAdvice{Reasoning: reasoning, Decisions: decisions}, nil
}

// stripFences removes a markdown code fence wrapping the payload, models
// add one even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// normalizeAction maps the model's action vocabulary onto vote actions.
// Close and wait variants collapse to hold, from the advisor's seat they
// all mean "do not open this trade".
func normalizeAction(action string) decision.Action {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "open_long", "long", "buy":
		return decision.ActionLong
	case "open_short", "short", "sell":
		return decision.ActionShort
	case "hold", "wait", "close_long", "close_short":
		return decision.ActionHold
	default:
		return ""
	}
}

// validateAdvisorDecision enforces the reply contract. Every decision needs
// symbol, a known action, confidence in [0,100] and reasoning; opens must
// also carry a complete, correctly sided order sketch with reward:risk of
// at least 2.
func validateAdvisorDecision(d AdvisorDecision) error {
	if strings.TrimSpace(d.Symbol) == "" {
		return fmt.Errorf("missing symbol")
	}
	act := normalizeAction(d.Action)
	if act == "" {
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("confidence %.1f out of range", float64(d.Confidence))
	}
	if strings.TrimSpace(d.Reasoning) == "" {
		return fmt.Errorf("missing reasoning")
	}
	if act == decision.ActionHold {
		return nil
	}

	if d.Leverage < 1 {
		return fmt.Errorf("leverage %.1f below 1", float64(d.Leverage))
	}
	if d.SizeUSD <= 0 {
		return fmt.Errorf("position_size_usd must be positive")
	}
	entry := float64(d.EntryPrice)
	stop := float64(d.StopLoss)
	target := float64(d.TakeProfit)
	if entry <= 0 || stop <= 0 || target <= 0 {
		return fmt.Errorf("open decision requires entry_price, stop_loss and take_profit")
	}

	switch act {
	case decision.ActionLong:
		if stop >= entry {
			return fmt.Errorf("long stop loss %.4f not below entry %.4f", stop, entry)
		}
		if rr := (target - entry) / (entry - stop); rr < minAdvisorRewardRisk {
			return fmt.Errorf("reward:risk %.2f below %.1f", rr, minAdvisorRewardRisk)
		}
	case decision.ActionShort:
		if stop <= entry {
			return fmt.Errorf("short stop loss %.4f not above entry %.4f", stop, entry)
		}
		if rr := (entry - target) / (stop - entry); rr < minAdvisorRewardRisk {
			return fmt.Errorf("reward:risk %.2f below %.1f", rr, minAdvisorRewardRisk)
		}
	}
	return nil
}
