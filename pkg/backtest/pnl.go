package backtest

import (
	"github.com/ajitpratap0/tradepilot/internal/decision"
)

// Linear USD-M contract constants. Fees are taker both ways because every
// order in the engine is a market order; the maintenance margin rate is the
// lowest Binance bracket, which is where the sized positions live.
const (
	TakerFeeRate          = 0.0004
	MaintenanceMarginRate = 0.004
)

// PnL returns the gross profit of a filled quantity on a linear contract.
func PnL(entry, exit, qty float64, side decision.Action) float64 {
	return (exit - entry) * qty * direction(side)
}

// Fee returns the taker fee charged on one fill.
func Fee(price, qty, rate float64) float64 {
	return price * qty * rate
}

// RoundTripFee returns the taker fees of an entry and its exit.
func RoundTripFee(entry, exit, qty, rate float64) float64 {
	return Fee(entry, qty, rate) + Fee(exit, qty, rate)
}

// NetPnL returns the profit of a closed trade after round-trip taker fees.
func NetPnL(entry, exit, qty float64, side decision.Action) float64 {
	return PnL(entry, exit, qty, side) - RoundTripFee(entry, exit, qty, TakerFeeRate)
}

// LiquidationPrice estimates the isolated-margin liquidation level of a
// position opened at entry with the given leverage.
func LiquidationPrice(entry float64, leverage int, side decision.Action) float64 {
	if leverage < 1 {
		leverage = 1
	}
	lev := float64(leverage)
	if side == decision.ActionShort {
		return entry * (1 + 1/lev - MaintenanceMarginRate)
	}
	return entry * (1 - 1/lev + MaintenanceMarginRate)
}

func direction(side decision.Action) float64 {
	if side == decision.ActionShort {
		return -1
	}
	return 1
}
