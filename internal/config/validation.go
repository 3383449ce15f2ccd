package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs configuration validation. A validation failure is fatal
// at startup (exit code 1); nothing downstream sees a half-valid config.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateRisk()...)
	errors = append(errors, c.validateTimeouts()...)
	errors = append(errors, c.validateExchange()...)
	errors = append(errors, c.validateLLM()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment != "" {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be json or console", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		errors = append(errors, ValidationError{
			Field:   "trading.mode",
			Message: fmt.Sprintf("Invalid mode '%s'. Must be paper or live", c.Trading.Mode),
		})
	}

	if len(c.Trading.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.symbols",
			Message: "At least one symbol is required",
		})
	}

	if c.Trading.KlineLimit < 200 {
		errors = append(errors, ValidationError{
			Field:   "trading.kline_limit",
			Message: "Kline limit must be at least 200 for indicator stability",
		})
	}

	if c.Trading.Leverage < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.leverage",
			Message: "Leverage must be at least 1",
		})
	}

	if c.Trading.CycleIntervalMS < 1000 {
		errors = append(errors, ValidationError{
			Field:   "trading.cycle_interval_ms",
			Message: "Cycle interval must be at least 1000ms",
		})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	if c.Risk.MaxLeverage < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_leverage",
			Message: "Max leverage must be at least 1",
		})
	}

	if c.Trading.Leverage > c.Risk.MaxLeverage {
		errors = append(errors, ValidationError{
			Field:   "trading.leverage",
			Message: fmt.Sprintf("Requested leverage %d exceeds risk.max_leverage %d", c.Trading.Leverage, c.Risk.MaxLeverage),
		})
	}

	inUnitRange := func(field string, val float64) {
		if val <= 0 || val >= 1 {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("Must be a fraction in (0, 1), got %v", val),
			})
		}
	}
	inUnitRange("risk.max_position_pct", c.Risk.MaxPositionPct)
	inUnitRange("risk.max_total_risk_pct", c.Risk.MaxTotalRiskPct)
	inUnitRange("risk.margin_buffer_pct", c.Risk.MarginBufferPct)
	inUnitRange("risk.stop_trading_drawdown_pct", c.Risk.StopTradingDrawdownPct)
	inUnitRange("risk.risk_per_trade_pct", c.Risk.RiskPerTradePct)

	if c.Risk.StopLossMinPct <= 0 || c.Risk.StopLossMaxPct <= c.Risk.StopLossMinPct {
		errors = append(errors, ValidationError{
			Field:   "risk.stop_loss_min_pct",
			Message: "Stop-loss band must satisfy 0 < min < max",
		})
	}

	if c.Risk.MaxConsecutiveLosses < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_consecutive_losses",
			Message: "Max consecutive losses must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateTimeouts() ValidationErrors {
	var errors ValidationErrors

	check := func(field string, ms int) {
		if ms <= 0 {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "Timeout must be positive",
			})
		}
	}
	check("timeouts.kline_ms", c.Timeouts.KlineMS)
	check("timeouts.aux_ms", c.Timeouts.AuxMS)
	check("timeouts.predictor_ms", c.Timeouts.PredictorMS)
	check("timeouts.llm_ms", c.Timeouts.LLMMS)
	check("timeouts.order_ms", c.Timeouts.OrderMS)

	return errors
}

func (c *Config) validateExchange() ValidationErrors {
	var errors ValidationErrors

	// Live trading needs credentials; paper mode and backtests do not.
	if c.Trading.Mode == "live" {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			errors = append(errors, ValidationError{
				Field:   "exchange.api_key",
				Message: "Live mode requires exchange API credentials (config, env, or Vault)",
			})
		}
	}

	if c.Exchange.RequestsPerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.requests_per_second",
			Message: "Rate limit must be positive",
		})
	}

	return errors
}

func (c *Config) validateLLM() ValidationErrors {
	var errors ValidationErrors

	if c.LLM.Enabled {
		if c.LLM.Endpoint == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.endpoint",
				Message: "LLM advisor enabled but no endpoint configured",
			})
		}
		if c.LLM.Model == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.model",
				Message: "LLM advisor enabled but no model configured",
			})
		}
	}

	return errors
}
