package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var reportBase = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestComputeReportTradeStats(t *testing.T) {
	trades := []ClosedTrade{
		{PnL: 120, OpenedAt: reportBase, ClosedAt: reportBase.Add(2 * time.Hour)},
		{PnL: -40, OpenedAt: reportBase.Add(3 * time.Hour), ClosedAt: reportBase.Add(4 * time.Hour)},
		{PnL: 60, OpenedAt: reportBase.Add(5 * time.Hour), ClosedAt: reportBase.Add(8 * time.Hour)},
	}
	curve := []EquityPoint{
		{Time: reportBase, Equity: 10_000},
		{Time: reportBase.Add(8 * time.Hour), Equity: 10_140},
	}

	r := ComputeReport(10_000, curve, trades)

	assert.Equal(t, 3, r.TotalTrades)
	assert.Equal(t, 2, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	assert.InDelta(t, 200.0/3, r.WinRate, 1e-9)
	assert.InDelta(t, 180, r.GrossProfit, 1e-9)
	assert.InDelta(t, 40, r.GrossLoss, 1e-9)
	assert.InDelta(t, 4.5, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 120, r.LargestWin, 1e-9)
	assert.InDelta(t, -40, r.LargestLoss, 1e-9)
	assert.Equal(t, 2*time.Hour, r.AvgHoldingTime)
	assert.InDelta(t, 140, r.TotalReturn, 1e-9)
	assert.InDelta(t, 1.4, r.TotalReturnPct, 1e-9)
	assert.InDelta(t, 10_140, r.FinalEquity, 1e-9)
}

func TestComputeReportMaxDrawdown(t *testing.T) {
	curve := []EquityPoint{
		{Time: reportBase, Equity: 10_000},
		{Time: reportBase.Add(1 * time.Hour), Equity: 11_000},
		{Time: reportBase.Add(2 * time.Hour), Equity: 9_900},
		{Time: reportBase.Add(3 * time.Hour), Equity: 10_500},
	}

	r := ComputeReport(10_000, curve, nil)

	assert.InDelta(t, 10.0, r.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 11_000, r.PeakEquity, 1e-9)
	assert.InDelta(t, 10_500, r.FinalEquity, 1e-9)
	assert.InDelta(t, 5.0, r.TotalReturnPct, 1e-9)
}

func TestComputeReportProfitFactorWithoutLosses(t *testing.T) {
	trades := []ClosedTrade{
		{PnL: 50, OpenedAt: reportBase, ClosedAt: reportBase.Add(time.Hour)},
		{PnL: 30, OpenedAt: reportBase.Add(time.Hour), ClosedAt: reportBase.Add(2 * time.Hour)},
	}

	r := ComputeReport(10_000, nil, trades)

	assert.Equal(t, 100.0, r.WinRate)
	assert.Zero(t, r.ProfitFactor)
	assert.Zero(t, r.GrossLoss)
}

func TestComputeReportEmptyRun(t *testing.T) {
	r := ComputeReport(10_000, nil, nil)

	assert.InDelta(t, 10_000, r.FinalEquity, 1e-9)
	assert.Zero(t, r.TotalReturnPct)
	assert.Zero(t, r.TotalTrades)
	assert.Zero(t, r.MaxDrawdownPct)
	assert.Zero(t, r.SharpeRatio)
}

func TestHourlyEquityKeepsLastSamplePerHour(t *testing.T) {
	curve := []EquityPoint{
		{Time: reportBase, Equity: 100},
		{Time: reportBase.Add(5 * time.Minute), Equity: 101},
		{Time: reportBase.Add(55 * time.Minute), Equity: 102},
		{Time: reportBase.Add(60 * time.Minute), Equity: 103},
		{Time: reportBase.Add(65 * time.Minute), Equity: 104},
	}

	assert.Equal(t, []float64{102, 104}, hourlyEquity(curve))
	assert.Nil(t, hourlyEquity(nil))
}

func TestHourlyReturns(t *testing.T) {
	curve := []EquityPoint{
		{Time: reportBase, Equity: 100},
		{Time: reportBase.Add(1 * time.Hour), Equity: 110},
		{Time: reportBase.Add(2 * time.Hour), Equity: 99},
	}

	rets := hourlyReturns(curve)
	assert.InDelta(t, 0.10, rets[0], 1e-9)
	assert.InDelta(t, -0.10, rets[1], 1e-9)
}

func TestAnnualizedSharpe(t *testing.T) {
	assert.Zero(t, annualizedSharpe(nil))
	assert.Zero(t, annualizedSharpe([]float64{0.01}))
	assert.Zero(t, annualizedSharpe([]float64{0.01, 0.01, 0.01}))

	got := annualizedSharpe([]float64{0.02, -0.01, 0.02, -0.01})
	want := 0.005 / 0.015 * math.Sqrt(365*24)
	assert.InDelta(t, want, got, 1e-9)
}

func TestReportFormat(t *testing.T) {
	trades := []ClosedTrade{
		{PnL: 120, OpenedAt: reportBase, ClosedAt: reportBase.Add(90 * time.Minute)},
	}
	curve := []EquityPoint{
		{Time: reportBase, Equity: 10_000},
		{Time: reportBase.Add(2 * time.Hour), Equity: 10_120},
	}

	out := ComputeReport(10_000, curve, trades).Format()

	assert.Contains(t, out, "BACKTEST REPORT")
	assert.Contains(t, out, "$10000.00")
	assert.Contains(t, out, "$10120.00")
	assert.Contains(t, out, "Win Rate:           100.0%")
	assert.Contains(t, out, "Avg Holding Time:   1h 30m")
	assert.Contains(t, out, "Sharpe Ratio")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0m"},
		{45 * time.Minute, "45m"},
		{90 * time.Minute, "1h 30m"},
		{26 * time.Hour, "1d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
