// Package risk implements the guardian: the deterministic order audit with
// final veto, the account risk reconciler, and the restart path that rebuilds
// risk state from the persistent store.
package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/decision"
)

// Blocked-reason codes, one per ordered check.
const (
	BlockFatalStop    = "FATAL_SL"
	BlockStopRange    = "SL_RANGE"
	BlockLeverage     = "LEVERAGE"
	BlockMargin       = "MARGIN"
	BlockPositionPct  = "POSITION_PCT"
	BlockRiskExposure = "RISK_EXPOSURE"
	BlockDrawdown     = "DRAWDOWN"
	BlockCooldown     = "COOLDOWN"
)

const (
	// maintenanceMarginRate approximates the exchange maintenance margin
	// used to estimate liquidation distance.
	maintenanceMarginRate = 0.004

	// liqProximityMultiple flags stops that sit too close to liquidation.
	liqProximityMultiple = 1.5

	// minRewardRisk is the reward:risk ratio below which a take-profit
	// draws a warning.
	minRewardRisk = 2.0
)

// RiskLevel is the max severity seen during an audit.
type RiskLevel string

const (
	RiskLevelSafe    RiskLevel = "safe"
	RiskLevelWarning RiskLevel = "warning"
	RiskLevelDanger  RiskLevel = "danger"
	RiskLevelFatal   RiskLevel = "fatal"
)

// OrderPlan is the proposed order under audit. Entry, stop and take-profit
// are prices; Qty is in base asset units.
type OrderPlan struct {
	SnapshotID string          `json:"snapshot_id"`
	Symbol     string          `json:"symbol"`
	Side       decision.Action `json:"side"` // long or short
	Entry      float64         `json:"entry"`
	StopLoss   float64         `json:"stop_loss"`
	TakeProfit float64         `json:"take_profit"`
	Qty        float64         `json:"qty"`
	Leverage   int             `json:"leverage"`
}

// PositionState is the symbol's open position at audit time, zero-valued
// when flat.
type PositionState struct {
	Symbol           string  `json:"symbol"`
	Qty              float64 `json:"qty"` // positive long, negative short
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	LiquidationPrice float64 `json:"liquidation_price"` // 0 when unknown
}

// AccountState is the immutable per-cycle account view the audit reads. It
// is produced by the Reconciler; the audit never touches live state.
type AccountState struct {
	Balance           float64 `json:"balance"`
	Equity            float64 `json:"equity"`
	PeakEquity        float64 `json:"peak_equity"`
	Drawdown          float64 `json:"drawdown"` // fraction of peak equity
	ConsecutiveLosses int     `json:"consecutive_losses"`
	Trades            int     `json:"trades"`
	Wins              int     `json:"wins"`
}

// RiskCheckResult is the audit verdict. Order carries the possibly corrected
// plan; Corrections records every rewritten field.
type RiskCheckResult struct {
	SnapshotID string `json:"snapshot_id"`
	Symbol     string `json:"symbol"`

	Passed        bool      `json:"passed"`
	RiskLevel     RiskLevel `json:"risk_level"`
	BlockedReason string    `json:"blocked_reason,omitempty"`

	Corrections map[string]float64 `json:"corrections,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`

	Order OrderPlan `json:"order"`
}

// Auditor runs the ordered risk checks. It is deterministic: the same order,
// position and account always produce the same verdict, so blocked audits
// are never retried.
type Auditor struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
}

// NewAuditor creates an auditor with the configured hard limits
func NewAuditor(cfg config.RiskConfig) *Auditor {
	return &Auditor{
		cfg:    cfg,
		logger: log.With().Str("component", "risk_audit").Logger(),
	}
}

// Audit vets one order proposal. Checks run in a fixed order; the first
// failure blocks and returns. Corrections are applied before later checks so
// a flipped stop is re-measured, not waved through.
func (a *Auditor) Audit(ctx context.Context, order OrderPlan, position PositionState, account AccountState) RiskCheckResult {
	result := RiskCheckResult{
		SnapshotID: order.SnapshotID,
		Symbol:     order.Symbol,
		Passed:     true,
		RiskLevel:  RiskLevelSafe,
		Order:      order,
	}

	// 1. Stop direction. A wrong-sided stop is flipped symmetrically around
	// entry when the flipped distance lands inside the allowed band;
	// otherwise the proposal is structurally unexecutable.
	if order.Side != decision.ActionLong && order.Side != decision.ActionShort {
		return a.block(result, BlockFatalStop, fmt.Sprintf("side %q is not executable", order.Side))
	}
	if order.Entry <= 0 || order.Qty <= 0 {
		return a.block(result, BlockFatalStop, "entry and qty must be positive")
	}
	if order.StopLoss <= 0 {
		return a.block(result, BlockFatalStop, "stop loss absent")
	}

	entry := order.Entry
	wrongSide := (order.Side == decision.ActionLong && order.StopLoss >= entry) ||
		(order.Side == decision.ActionShort && order.StopLoss <= entry)
	if wrongSide {
		flipped := 2*entry - order.StopLoss
		distPct := math.Abs(entry-flipped) / entry
		if distPct < a.cfg.StopLossMinPct || distPct > a.cfg.StopLossMaxPct {
			return a.block(result, BlockFatalStop,
				fmt.Sprintf("stop %.4f on wrong side of entry %.4f, flip lands outside band", order.StopLoss, entry))
		}
		result.Order.StopLoss = flipped
		result.Corrections = map[string]float64{"stop_loss": flipped}
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("stop loss flipped to %.4f around entry", flipped))
		a.logger.Warn().
			Str("symbol", order.Symbol).
			Str("snapshot_id", order.SnapshotID).
			Float64("proposed_stop", order.StopLoss).
			Float64("corrected_stop", flipped).
			Msg("Wrong-sided stop flipped around entry")
	}

	// 2. Stop magnitude, measured on the possibly corrected stop.
	stopDistPct := math.Abs(entry-result.Order.StopLoss) / entry
	if stopDistPct < a.cfg.StopLossMinPct || stopDistPct > a.cfg.StopLossMaxPct {
		return a.block(result, BlockStopRange,
			fmt.Sprintf("stop distance %.3f%% outside [%.2f%%, %.2f%%]",
				stopDistPct*100, a.cfg.StopLossMinPct*100, a.cfg.StopLossMaxPct*100))
	}

	// 3. Leverage cap.
	if order.Leverage < 1 || order.Leverage > a.cfg.MaxLeverage {
		return a.block(result, BlockLeverage,
			fmt.Sprintf("leverage %dx outside [1, %d]", order.Leverage, a.cfg.MaxLeverage))
	}

	// 4. Margin feasibility.
	requiredMargin := order.Qty * entry / float64(order.Leverage)
	if requiredMargin > a.cfg.MarginBufferPct*account.Balance {
		return a.block(result, BlockMargin,
			fmt.Sprintf("required margin %.2f exceeds %.0f%% of balance %.2f",
				requiredMargin, a.cfg.MarginBufferPct*100, account.Balance))
	}

	// 5. Position concentration.
	notional := order.Qty * entry
	if notional > a.cfg.MaxPositionPct*account.Balance {
		return a.block(result, BlockPositionPct,
			fmt.Sprintf("notional %.2f exceeds %.0f%% of balance %.2f",
				notional, a.cfg.MaxPositionPct*100, account.Balance))
	}

	// 6. Risk exposure at the stop.
	riskAtStop := math.Abs(entry-result.Order.StopLoss) * order.Qty
	if riskAtStop > a.cfg.MaxTotalRiskPct*account.Balance {
		return a.block(result, BlockRiskExposure,
			fmt.Sprintf("risk at stop %.2f exceeds %.1f%% of balance %.2f",
				riskAtStop, a.cfg.MaxTotalRiskPct*100, account.Balance))
	}

	// 7. Drawdown gate.
	if account.Drawdown >= a.cfg.StopTradingDrawdownPct {
		return a.block(result, BlockDrawdown,
			fmt.Sprintf("drawdown %.1f%% at or above stop-trading threshold", account.Drawdown*100))
	}

	// 8. Consecutive-loss cooldown.
	if account.ConsecutiveLosses >= a.cfg.MaxConsecutiveLosses {
		return a.block(result, BlockCooldown,
			fmt.Sprintf("%d consecutive losses", account.ConsecutiveLosses))
	}

	a.applyWarnings(&result, position)
	if len(result.Warnings) > 0 {
		result.RiskLevel = RiskLevelWarning
	}

	a.logger.Debug().
		Str("symbol", result.Symbol).
		Str("snapshot_id", result.SnapshotID).
		Str("risk_level", string(result.RiskLevel)).
		Int("warnings", len(result.Warnings)).
		Msg("Order passed risk audit")
	return result
}

// applyWarnings adds the non-blocking checks: liquidation proximity and
// reward:risk. The exchange-reported liquidation price is preferred when a
// position is already open on the symbol.
func (a *Auditor) applyWarnings(result *RiskCheckResult, position PositionState) {
	order := result.Order

	liq := 0.0
	if position.Symbol == order.Symbol && position.Qty != 0 && position.LiquidationPrice > 0 {
		liq = position.LiquidationPrice
	} else {
		liq = estimatedLiquidation(order)
	}
	if liq > 0 {
		liqDist := math.Abs(order.Entry - liq)
		stopDist := math.Abs(order.Entry - order.StopLoss)
		if liqDist < liqProximityMultiple*stopDist {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("liquidation %.4f within %.1fx stop distance", liq, liqProximityMultiple))
		}
	}

	if order.TakeProfit > 0 {
		if rr := rewardRisk(order); rr < minRewardRisk {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("reward:risk %.2f below %.1f", rr, minRewardRisk))
		}
	}
}

func (a *Auditor) block(result RiskCheckResult, code, detail string) RiskCheckResult {
	result.Passed = false
	result.BlockedReason = code
	result.RiskLevel = RiskLevelDanger
	if code == BlockFatalStop {
		result.RiskLevel = RiskLevelFatal
	}
	a.logger.Warn().
		Str("symbol", result.Symbol).
		Str("snapshot_id", result.SnapshotID).
		Str("blocked_reason", code).
		Str("detail", detail).
		Msg("Order blocked by risk audit")
	return result
}

// estimatedLiquidation approximates the isolated-margin liquidation price
// from leverage and the maintenance margin rate. Returns 0 when leverage is
// too low for a meaningful estimate.
func estimatedLiquidation(order OrderPlan) float64 {
	if order.Leverage < 1 {
		return 0
	}
	move := 1.0/float64(order.Leverage) - maintenanceMarginRate
	if move <= 0 {
		return 0
	}
	if order.Side == decision.ActionLong {
		return order.Entry * (1 - move)
	}
	return order.Entry * (1 + move)
}

// rewardRisk measures take-profit distance against stop distance, signed so
// a wrong-sided take-profit reads as negative.
func rewardRisk(order OrderPlan) float64 {
	stopDist := math.Abs(order.Entry - order.StopLoss)
	if stopDist == 0 {
		return 0
	}
	reward := order.TakeProfit - order.Entry
	if order.Side == decision.ActionShort {
		reward = order.Entry - order.TakeProfit
	}
	return reward / stopDist
}
