package llm

import (
	"strings"
	"testing"

	"github.com/ajitpratap0/tradepilot/internal/decision"
)

func TestParseAdvice(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantError string
		check     func(t *testing.T, p *ParsedAdvice)
	}{
		{
			name: "Standard reply",
			content: `<reasoning>
Trend and momentum agree, range position is fine.
</reasoning>
<decision>
[{"symbol": "BTCUSDT", "action": "open_long", "confidence": 75, "reasoning": "trend continuation", "leverage": 3, "position_size_usd": 500, "entry_price": 85000, "stop_loss": 83500, "take_profit": 88000}]
</decision>`,
			check: func(t *testing.T, p *ParsedAdvice) {
				if len(p.Decisions) != 1 {
					t.Fatalf("Expected 1 decision, got %d", len(p.Decisions))
				}
				d := p.Decisions[0]
				if d.Symbol != "BTCUSDT" || d.Action != "open_long" {
					t.Errorf("Unexpected decision %+v", d)
				}
				if float64(d.Confidence) != 75 || float64(d.EntryPrice) != 85000 {
					t.Errorf("Numbers misparsed: %+v", d)
				}
				if !strings.Contains(p.Reasoning, "momentum agree") {
					t.Errorf("Reasoning not extracted: %q", p.Reasoning)
				}
			},
		},
		{
			name: "Code fence inside decision",
			content: "<decision>\n```json\n" +
				`[{"symbol": "ETHUSDT", "action": "hold", "confidence": 40, "reasoning": "chop"}]` +
				"\n```\n</decision>",
			check: func(t *testing.T, p *ParsedAdvice) {
				if len(p.Decisions) != 1 || p.Decisions[0].Action != "hold" {
					t.Errorf("Fenced payload misparsed: %+v", p.Decisions)
				}
			},
		},
		{
			name: "Reasoning optional",
			content: `<decision>
[{"symbol": "BTCUSDT", "action": "wait", "confidence": 30, "reasoning": "no edge"}]
</decision>`,
			check: func(t *testing.T, p *ParsedAdvice) {
				if p.Reasoning != "" {
					t.Errorf("Expected empty reasoning, got %q", p.Reasoning)
				}
			},
		},
		{
			name: "Quoted numbers with thousands separators",
			content: `<decision>
[{"symbol": "BTCUSDT", "action": "open_long", "confidence": "70", "reasoning": "ok", "leverage": "3", "position_size_usd": "1,000", "entry_price": "85000", "stop_loss": "83500", "take_profit": "88000"}]
</decision>`,
			check: func(t *testing.T, p *ParsedAdvice) {
				if float64(p.Decisions[0].SizeUSD) != 1000 {
					t.Errorf("Expected size 1000, got %v", float64(p.Decisions[0].SizeUSD))
				}
				if float64(p.Decisions[0].Confidence) != 70 {
					t.Errorf("Expected confidence 70, got %v", float64(p.Decisions[0].Confidence))
				}
			},
		},
		{
			name: "Bare thousands separators scrubbed",
			content: `<decision>
[{"symbol": "BTCUSDT", "action": "open_long", "confidence": 70, "reasoning": "ok", "leverage": 3, "position_size_usd": 1,500, "entry_price": 1,085,000, "stop_loss": 1,065,000, "take_profit": 1,125,000}]
</decision>`,
			check: func(t *testing.T, p *ParsedAdvice) {
				d := p.Decisions[0]
				if float64(d.EntryPrice) != 1085000 || float64(d.SizeUSD) != 1500 {
					t.Errorf("Separators not scrubbed: %+v", d)
				}
			},
		},
		{
			name: "Multiple symbols",
			content: `<decision>
[{"symbol": "BTCUSDT", "action": "hold", "confidence": 50, "reasoning": "a"},
 {"symbol": "ETHUSDT", "action": "hold", "confidence": 60, "reasoning": "b"}]
</decision>`,
			check: func(t *testing.T, p *ParsedAdvice) {
				if len(p.Decisions) != 2 || p.Decisions[1].Symbol != "ETHUSDT" {
					t.Errorf("Multi-symbol array misparsed: %+v", p.Decisions)
				}
			},
		},
		{
			name:      "Missing decision section",
			content:   `<reasoning>thoughts but no decision</reasoning>`,
			wantError: "missing <decision>",
		},
		{
			name: "Object instead of array",
			content: `<decision>
{"symbol": "BTCUSDT", "action": "hold", "confidence": 50, "reasoning": "x"}
</decision>`,
			wantError: "not a JSON array",
		},
		{
			name: "Range value rejected",
			content: `<decision>
[{"symbol": "BTCUSDT", "action": "open_long", "confidence": 70, "reasoning": "ok", "leverage": 3, "position_size_usd": 500, "entry_price": "85000~86000", "stop_loss": 83500, "take_profit": 88000}]
</decision>`,
			wantError: "range value",
		},
		{
			name:      "Empty array",
			content:   `<decision>[]</decision>`,
			wantError: "empty decision array",
		},
		{
			name:      "Broken JSON",
			content:   `<decision>[{"symbol": "BTCUSDT",]</decision>`,
			wantError: "invalid decision JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseAdvice(tt.content)
			if tt.wantError != "" {
				if err == nil {
					t.Fatalf("Expected error containing %q, got nil", tt.wantError)
				}
				if !strings.Contains(err.Error(), tt.wantError) {
					t.Errorf("Expected error containing %q, got %q", tt.wantError, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tt.check(t, parsed)
		})
	}
}

func TestNormalizeAction(t *testing.T) {
	tests := []struct {
		in   string
		want decision.Action
	}{
		{"open_long", decision.ActionLong},
		{"OPEN_LONG", decision.ActionLong},
		{"long", decision.ActionLong},
		{"buy", decision.ActionLong},
		{"open_short", decision.ActionShort},
		{"short", decision.ActionShort},
		{"sell", decision.ActionShort},
		{"hold", decision.ActionHold},
		{"wait", decision.ActionHold},
		{"close_long", decision.ActionHold},
		{"close_short", decision.ActionHold},
		{" hold ", decision.ActionHold},
		{"yolo", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeAction(tt.in); got != tt.want {
			t.Errorf("normalizeAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateAdvisorDecision(t *testing.T) {
	open := func(mutate func(*AdvisorDecision)) AdvisorDecision {
		d := AdvisorDecision{
			Symbol:     "BTCUSDT",
			Action:     "open_long",
			Confidence: 70,
			Reasoning:  "trend continuation",
			Leverage:   3,
			SizeUSD:    500,
			EntryPrice: 100,
			StopLoss:   98,
			TakeProfit: 104,
		}
		if mutate != nil {
			mutate(&d)
		}
		return d
	}

	tests := []struct {
		name      string
		decision  AdvisorDecision
		wantError string
	}{
		{"Valid long open", open(nil), ""},
		{
			"Valid short open",
			open(func(d *AdvisorDecision) {
				d.Action = "open_short"
				d.StopLoss = 102
				d.TakeProfit = 96
			}),
			"",
		},
		{
			"Hold needs no order fields",
			AdvisorDecision{Symbol: "BTCUSDT", Action: "hold", Confidence: 40, Reasoning: "chop"},
			"",
		},
		{
			"Close needs no order fields",
			AdvisorDecision{Symbol: "BTCUSDT", Action: "close_long", Confidence: 60, Reasoning: "take it off"},
			"",
		},
		{"Missing symbol", open(func(d *AdvisorDecision) { d.Symbol = " " }), "missing symbol"},
		{"Unknown action", open(func(d *AdvisorDecision) { d.Action = "moon" }), "unknown action"},
		{"Confidence above 100", open(func(d *AdvisorDecision) { d.Confidence = 101 }), "out of range"},
		{"Confidence below 0", open(func(d *AdvisorDecision) { d.Confidence = -1 }), "out of range"},
		{"Missing reasoning", open(func(d *AdvisorDecision) { d.Reasoning = "" }), "missing reasoning"},
		{"Leverage below 1", open(func(d *AdvisorDecision) { d.Leverage = 0 }), "leverage"},
		{"Zero size", open(func(d *AdvisorDecision) { d.SizeUSD = 0 }), "position_size_usd"},
		{"Missing entry", open(func(d *AdvisorDecision) { d.EntryPrice = 0 }), "requires entry_price"},
		{"Missing stop", open(func(d *AdvisorDecision) { d.StopLoss = 0 }), "requires entry_price"},
		{
			"Long stop above entry",
			open(func(d *AdvisorDecision) { d.StopLoss = 101 }),
			"not below entry",
		},
		{
			"Short stop below entry",
			open(func(d *AdvisorDecision) {
				d.Action = "open_short"
				d.StopLoss = 99
				d.TakeProfit = 96
			}),
			"not above entry",
		},
		{
			"Reward risk below 2",
			open(func(d *AdvisorDecision) { d.TakeProfit = 103 }),
			"reward:risk",
		},
		{
			"Reward risk exactly 2 passes",
			open(func(d *AdvisorDecision) { d.TakeProfit = 104 }),
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAdvisorDecision(tt.decision)
			if tt.wantError == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantError)
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Expected error containing %q, got %q", tt.wantError, err.Error())
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[1]", "[1]"},
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"  ```json\n[1]\n```  ", "[1]"},
		{"```[1]```", "[1]"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
