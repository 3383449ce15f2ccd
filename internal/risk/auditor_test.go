package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/decision"
)

func defaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxLeverage:            10,
		MaxPositionPct:         0.30,
		MaxTotalRiskPct:        0.02,
		MarginBufferPct:        0.95,
		StopLossMinPct:         0.005,
		StopLossMaxPct:         0.05,
		StopTradingDrawdownPct: 0.10,
		MaxConsecutiveLosses:   3,
		RiskPerTradePct:        0.01,
		ATRStopMultiple:        1.5,
		ATRTakeProfitMultiple:  3.0,
	}
}

// cleanLongOrder passes every check under the default limits and a 10k
// balance: 3% stop, tiny notional, moderate leverage.
func cleanLongOrder() OrderPlan {
	return OrderPlan{
		SnapshotID: "snap_1749600000",
		Symbol:     "BTCUSDT",
		Side:       decision.ActionLong,
		Entry:      100,
		StopLoss:   97,
		TakeProfit: 109,
		Qty:        0.06,
		Leverage:   5,
	}
}

func richAccount() AccountState {
	return AccountState{Balance: 10000, Equity: 10000, PeakEquity: 10000}
}

func TestAuditPassesCleanOrder(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())

	result := auditor.Audit(context.Background(), cleanLongOrder(), PositionState{}, richAccount())

	assert.True(t, result.Passed)
	assert.Equal(t, RiskLevelSafe, result.RiskLevel)
	assert.Empty(t, result.BlockedReason)
	assert.Empty(t, result.Corrections)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, cleanLongOrder(), result.Order)
	assert.Equal(t, "snap_1749600000", result.SnapshotID)
	assert.Equal(t, "BTCUSDT", result.Symbol)
}

func TestAuditFlipsWrongSidedStop(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.StopLoss = 103 // above entry on a long

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	require.True(t, result.Passed)
	require.Contains(t, result.Corrections, "stop_loss")
	assert.InDelta(t, 97.0, result.Corrections["stop_loss"], 1e-9)
	assert.InDelta(t, 97.0, result.Order.StopLoss, 1e-9)
	assert.Equal(t, RiskLevelWarning, result.RiskLevel)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "flipped")
}

func TestAuditFlipsWrongSidedStopShort(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.Side = decision.ActionShort
	order.StopLoss = 97 // below entry on a short
	order.TakeProfit = 91

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	require.True(t, result.Passed)
	assert.InDelta(t, 103.0, result.Order.StopLoss, 1e-9)
	assert.InDelta(t, 103.0, result.Corrections["stop_loss"], 1e-9)
}

func TestAuditFatalStop(t *testing.T) {
	tests := []struct {
		name string
		stop float64
	}{
		{"absent", 0},
		{"at entry", 100},
		{"flip lands too close", 100.2}, // flips to 99.8, 0.2% < 0.5%
		{"flip lands too far", 107},     // flips to 93, 7% > 5%
	}
	auditor := NewAuditor(defaultRiskConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := cleanLongOrder()
			order.StopLoss = tt.stop

			result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

			assert.False(t, result.Passed)
			assert.Equal(t, BlockFatalStop, result.BlockedReason)
			assert.Equal(t, RiskLevelFatal, result.RiskLevel)
		})
	}
}

func TestAuditRejectsNonExecutableSide(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.Side = decision.ActionHold

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	assert.False(t, result.Passed)
	assert.Equal(t, BlockFatalStop, result.BlockedReason)
	assert.Equal(t, RiskLevelFatal, result.RiskLevel)
}

func TestAuditStopRange(t *testing.T) {
	tests := []struct {
		name string
		stop float64
	}{
		{"too tight", 99.7}, // 0.3% < 0.5%
		{"too wide", 92},    // 8% > 5%
	}
	auditor := NewAuditor(defaultRiskConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := cleanLongOrder()
			order.StopLoss = tt.stop

			result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

			assert.False(t, result.Passed)
			assert.Equal(t, BlockStopRange, result.BlockedReason)
			assert.Equal(t, RiskLevelDanger, result.RiskLevel)
		})
	}
}

func TestAuditStopRangeBoundariesInclusive(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())

	order := cleanLongOrder()
	order.StopLoss = 99.5 // exactly 0.5%
	assert.True(t, auditor.Audit(context.Background(), order, PositionState{}, richAccount()).Passed)

	order.StopLoss = 95 // exactly 5%
	assert.True(t, auditor.Audit(context.Background(), order, PositionState{}, richAccount()).Passed)
}

func TestAuditLeverageCap(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())

	for _, leverage := range []int{0, 11, 50} {
		order := cleanLongOrder()
		order.Leverage = leverage

		result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

		assert.False(t, result.Passed, "leverage %d", leverage)
		assert.Equal(t, BlockLeverage, result.BlockedReason)
	}
}

func TestAuditMarginBlock(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := OrderPlan{
		SnapshotID: "snap_1749600000",
		Symbol:     "BTCUSDT",
		Side:       decision.ActionLong,
		Entry:      100,
		StopLoss:   98,
		TakeProfit: 106,
		Qty:        20,
		Leverage:   2,
	}
	account := AccountState{Balance: 1000}

	// Required margin 20*100/2 = 1000 exceeds 0.95*1000 = 950. The margin
	// check fires before the concentration check even though both would fail.
	result := auditor.Audit(context.Background(), order, PositionState{}, account)

	assert.False(t, result.Passed)
	assert.Equal(t, BlockMargin, result.BlockedReason)
	assert.Equal(t, RiskLevelDanger, result.RiskLevel)
	assert.Empty(t, result.Corrections)
}

func TestAuditPositionConcentration(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.StopLoss = 98
	order.Qty = 4      // notional 400 on a 1000 balance
	order.Leverage = 10 // margin 40, fine

	result := auditor.Audit(context.Background(), order, PositionState{}, AccountState{Balance: 1000})

	assert.False(t, result.Passed)
	assert.Equal(t, BlockPositionPct, result.BlockedReason)
}

func TestAuditRiskExposure(t *testing.T) {
	cfg := defaultRiskConfig()
	cfg.MaxTotalRiskPct = 0.01
	auditor := NewAuditor(cfg)

	order := cleanLongOrder()
	order.StopLoss = 95 // 5% stop
	order.Qty = 25      // risk at stop 125 > 1% of 10000
	order.Leverage = 10

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	assert.False(t, result.Passed)
	assert.Equal(t, BlockRiskExposure, result.BlockedReason)
}

func TestAuditDrawdownGate(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	account := richAccount()
	account.Drawdown = 0.12

	result := auditor.Audit(context.Background(), cleanLongOrder(), PositionState{}, account)

	assert.False(t, result.Passed)
	assert.Equal(t, BlockDrawdown, result.BlockedReason)

	// The threshold itself blocks.
	account.Drawdown = 0.10
	result = auditor.Audit(context.Background(), cleanLongOrder(), PositionState{}, account)
	assert.Equal(t, BlockDrawdown, result.BlockedReason)

	account.Drawdown = 0.09
	result = auditor.Audit(context.Background(), cleanLongOrder(), PositionState{}, account)
	assert.True(t, result.Passed)
}

func TestAuditCooldown(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	account := richAccount()
	account.ConsecutiveLosses = 3

	result := auditor.Audit(context.Background(), cleanLongOrder(), PositionState{}, account)

	assert.False(t, result.Passed)
	assert.Equal(t, BlockCooldown, result.BlockedReason)

	account.ConsecutiveLosses = 2
	result = auditor.Audit(context.Background(), cleanLongOrder(), PositionState{}, account)
	assert.True(t, result.Passed)
}

func TestAuditDrawdownCheckedBeforeCooldown(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	account := richAccount()
	account.Drawdown = 0.15
	account.ConsecutiveLosses = 5

	result := auditor.Audit(context.Background(), cleanLongOrder(), PositionState{}, account)

	assert.Equal(t, BlockDrawdown, result.BlockedReason)
}

func TestAuditRewardRiskWarning(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.TakeProfit = 102 // reward 2 on risk 3

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	require.True(t, result.Passed)
	assert.Equal(t, RiskLevelWarning, result.RiskLevel)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "reward:risk")
}

func TestAuditWrongSidedTakeProfitWarns(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.TakeProfit = 95 // below entry on a long, negative reward

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	require.True(t, result.Passed)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "reward:risk")
}

func TestAuditNoTakeProfitSkipsRewardRisk(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.TakeProfit = 0

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	require.True(t, result.Passed)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, RiskLevelSafe, result.RiskLevel)
}

func TestAuditLiquidationProximityFromPosition(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	position := PositionState{
		Symbol:           "BTCUSDT",
		Qty:              0.1,
		EntryPrice:       100,
		LiquidationPrice: 96, // 4 away, inside 1.5x the 3-point stop
	}

	result := auditor.Audit(context.Background(), cleanLongOrder(), position, richAccount())

	require.True(t, result.Passed)
	assert.Equal(t, RiskLevelWarning, result.RiskLevel)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "liquidation")
}

func TestAuditLiquidationProximityEstimated(t *testing.T) {
	cfg := defaultRiskConfig()
	cfg.MaxLeverage = 25
	auditor := NewAuditor(cfg)

	order := cleanLongOrder()
	order.Leverage = 25 // estimated liq 96.4, inside 1.5x the 3-point stop
	order.Qty = 0.05

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	require.True(t, result.Passed)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "liquidation")
}

func TestAuditFlipAndRewardRiskWarningsStack(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.StopLoss = 103   // flips to 97
	order.TakeProfit = 101 // reward 1 on risk 3 after the flip

	result := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	require.True(t, result.Passed)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "flipped")
	assert.Contains(t, result.Warnings[1], "reward:risk")
}

func TestAuditDeterministic(t *testing.T) {
	auditor := NewAuditor(defaultRiskConfig())
	order := cleanLongOrder()
	order.StopLoss = 103

	first := auditor.Audit(context.Background(), order, PositionState{}, richAccount())
	second := auditor.Audit(context.Background(), order, PositionState{}, richAccount())

	assert.Equal(t, first, second)
}

func TestEstimatedLiquidation(t *testing.T) {
	long := OrderPlan{Side: decision.ActionLong, Entry: 100, Leverage: 10}
	assert.InDelta(t, 90.4, estimatedLiquidation(long), 1e-9)

	short := OrderPlan{Side: decision.ActionShort, Entry: 100, Leverage: 10}
	assert.InDelta(t, 109.6, estimatedLiquidation(short), 1e-9)

	assert.Zero(t, estimatedLiquidation(OrderPlan{Side: decision.ActionLong, Entry: 100, Leverage: 0}))
}

func TestRewardRisk(t *testing.T) {
	long := OrderPlan{Side: decision.ActionLong, Entry: 100, StopLoss: 97, TakeProfit: 109}
	assert.InDelta(t, 3.0, rewardRisk(long), 1e-9)

	short := OrderPlan{Side: decision.ActionShort, Entry: 100, StopLoss: 103, TakeProfit: 94}
	assert.InDelta(t, 2.0, rewardRisk(short), 1e-9)

	wrongSide := OrderPlan{Side: decision.ActionLong, Entry: 100, StopLoss: 97, TakeProfit: 94}
	assert.InDelta(t, -2.0, rewardRisk(wrongSide), 1e-9)
}
