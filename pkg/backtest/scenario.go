package backtest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/tradepilot/internal/config"
)

// Scenario is a reproducible backtest definition. Everything that influences
// the run lives here, so a scenario file plus a seed pins the outcome.
type Scenario struct {
	Name           string        `yaml:"name"`
	Symbol         string        `yaml:"symbol"`
	From           time.Time     `yaml:"from"`
	To             time.Time     `yaml:"to"`
	Seed           int64         `yaml:"seed"`
	InitialCapital float64       `yaml:"initial_capital"`
	Leverage       int           `yaml:"leverage"`
	Market         MarketProfile `yaml:"market"`
	Risk           RiskProfile   `yaml:"risk"`
}

// MarketProfile parameterizes the synthetic walk and the auxiliary fixtures
// the replay source serves alongside it.
type MarketProfile struct {
	StartPrice          float64 `yaml:"start_price"`
	DriftPerDay         float64 `yaml:"drift_per_day"`
	Volatility          float64 `yaml:"volatility"`
	FundingRate         float64 `yaml:"funding_rate"`
	OpenInterest        float64 `yaml:"open_interest"`
	OpenInterestPast24h float64 `yaml:"open_interest_past_24h"`
	Netflow             float64 `yaml:"netflow"`
}

// RiskProfile mirrors the auditor configuration in yaml form. Zero fields
// fall back to the live defaults, so scenarios only spell out what they vary.
type RiskProfile struct {
	MaxLeverage            int     `yaml:"max_leverage"`
	MaxPositionPct         float64 `yaml:"max_position_pct"`
	MaxTotalRiskPct        float64 `yaml:"max_total_risk_pct"`
	MarginBufferPct        float64 `yaml:"margin_buffer_pct"`
	StopLossMinPct         float64 `yaml:"stop_loss_min_pct"`
	StopLossMaxPct         float64 `yaml:"stop_loss_max_pct"`
	StopTradingDrawdownPct float64 `yaml:"stop_trading_drawdown_pct"`
	MaxConsecutiveLosses   int     `yaml:"max_consecutive_losses"`
	RiskPerTradePct        float64 `yaml:"risk_per_trade_pct"`
	ATRStopMultiple        float64 `yaml:"atr_stop_multiple"`
	ATRTakeProfitMultiple  float64 `yaml:"atr_take_profit_multiple"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// ApplyDefaults fills unset fields with the values a live deployment ships
// with, keeping scenario files short.
func (s *Scenario) ApplyDefaults() {
	if s.Name == "" {
		s.Name = "unnamed"
	}
	if s.InitialCapital == 0 {
		s.InitialCapital = 10_000
	}
	if s.Leverage == 0 {
		s.Leverage = 3
	}
	if s.Market.StartPrice == 0 {
		s.Market.StartPrice = 30_000
	}
	if s.Market.Volatility == 0 {
		s.Market.Volatility = 0.0015
	}
	if s.Market.FundingRate == 0 {
		s.Market.FundingRate = 0.0001
	}
	if s.Market.OpenInterest == 0 {
		s.Market.OpenInterest = 1_000_000
	}
	if s.Market.OpenInterestPast24h == 0 {
		s.Market.OpenInterestPast24h = s.Market.OpenInterest
	}

	if s.Risk.MaxLeverage == 0 {
		s.Risk.MaxLeverage = 10
	}
	if s.Risk.MaxPositionPct == 0 {
		s.Risk.MaxPositionPct = 0.30
	}
	if s.Risk.MaxTotalRiskPct == 0 {
		s.Risk.MaxTotalRiskPct = 0.02
	}
	if s.Risk.MarginBufferPct == 0 {
		s.Risk.MarginBufferPct = 0.95
	}
	if s.Risk.StopLossMinPct == 0 {
		s.Risk.StopLossMinPct = 0.005
	}
	if s.Risk.StopLossMaxPct == 0 {
		s.Risk.StopLossMaxPct = 0.05
	}
	if s.Risk.StopTradingDrawdownPct == 0 {
		s.Risk.StopTradingDrawdownPct = 0.10
	}
	if s.Risk.MaxConsecutiveLosses == 0 {
		s.Risk.MaxConsecutiveLosses = 3
	}
	if s.Risk.RiskPerTradePct == 0 {
		s.Risk.RiskPerTradePct = 0.01
	}
	if s.Risk.ATRStopMultiple == 0 {
		s.Risk.ATRStopMultiple = 1.5
	}
	if s.Risk.ATRTakeProfitMultiple == 0 {
		s.Risk.ATRTakeProfitMultiple = 3.0
	}
}

// Validate rejects scenarios the engine cannot run.
func (s *Scenario) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("scenario needs a symbol")
	}
	if s.From.IsZero() || s.To.IsZero() {
		return fmt.Errorf("scenario needs a from and to time")
	}
	if !s.To.After(s.From) {
		return fmt.Errorf("scenario must end after it starts")
	}
	if s.InitialCapital <= 0 {
		return fmt.Errorf("scenario needs positive initial capital")
	}
	if s.Leverage < 1 {
		return fmt.Errorf("scenario needs leverage of at least 1")
	}
	if s.Market.StartPrice <= 0 {
		return fmt.Errorf("scenario needs a positive start price")
	}
	if s.Market.Volatility < 0 {
		return fmt.Errorf("scenario volatility must not be negative")
	}
	return nil
}

// RiskConfig converts the scenario's risk profile to the auditor's config.
func (s *Scenario) RiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxLeverage:            s.Risk.MaxLeverage,
		MaxPositionPct:         s.Risk.MaxPositionPct,
		MaxTotalRiskPct:        s.Risk.MaxTotalRiskPct,
		MarginBufferPct:        s.Risk.MarginBufferPct,
		StopLossMinPct:         s.Risk.StopLossMinPct,
		StopLossMaxPct:         s.Risk.StopLossMaxPct,
		StopTradingDrawdownPct: s.Risk.StopTradingDrawdownPct,
		MaxConsecutiveLosses:   s.Risk.MaxConsecutiveLosses,
		RiskPerTradePct:        s.Risk.RiskPerTradePct,
		ATRStopMultiple:        s.Risk.ATRStopMultiple,
		ATRTakeProfitMultiple:  s.Risk.ATRTakeProfitMultiple,
	}
}

func (s *Scenario) generatorConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:        s.Seed,
		StartPrice:  s.Market.StartPrice,
		DriftPerDay: s.Market.DriftPerDay,
		Volatility:  s.Market.Volatility,
		From:        s.From,
		To:          s.To,
	}
}
