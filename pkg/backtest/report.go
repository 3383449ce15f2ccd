package backtest

import (
	"fmt"
	"math"
	"time"
)

// hoursPerYear annualizes hourly returns for a market that never closes.
const hoursPerYear = 365 * 24

// Report summarizes what a run earned and what it risked along the way.
// Percentages are in percent, not fractions.
type Report struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	PeakEquity     float64 `json:"peak_equity"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	GrossProfit    float64       `json:"gross_profit"`
	GrossLoss      float64       `json:"gross_loss"` // positive magnitude
	ProfitFactor   float64       `json:"profit_factor"`
	LargestWin     float64       `json:"largest_win"`
	LargestLoss    float64       `json:"largest_loss"`
	AvgHoldingTime time.Duration `json:"avg_holding_time"`

	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
}

// ComputeReport folds an equity curve and its closed trades into a report.
// The Sharpe ratio is computed over hourly equity returns and annualized
// with the continuous-market factor; profit factor stays 0 when the run
// had no losing trade.
func ComputeReport(initial float64, curve []EquityPoint, trades []ClosedTrade) Report {
	r := Report{
		InitialCapital: initial,
		FinalEquity:    initial,
		PeakEquity:     initial,
	}
	if len(curve) > 0 {
		r.FinalEquity = curve[len(curve)-1].Equity
	}
	r.TotalReturn = r.FinalEquity - initial
	if initial > 0 {
		r.TotalReturnPct = r.TotalReturn / initial * 100
	}

	var holding time.Duration
	for _, t := range trades {
		r.TotalTrades++
		holding += t.ClosedAt.Sub(t.OpenedAt)
		if t.PnL > 0 {
			r.WinningTrades++
			r.GrossProfit += t.PnL
			if t.PnL > r.LargestWin {
				r.LargestWin = t.PnL
			}
		} else {
			r.LosingTrades++
			r.GrossLoss += -t.PnL
			if t.PnL < r.LargestLoss {
				r.LargestLoss = t.PnL
			}
		}
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
		r.AvgHoldingTime = holding / time.Duration(r.TotalTrades)
	}
	if r.GrossLoss > 0 {
		r.ProfitFactor = r.GrossProfit / r.GrossLoss
	}

	peak := initial
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	r.PeakEquity = peak
	r.MaxDrawdownPct = maxDD * 100

	r.SharpeRatio = annualizedSharpe(hourlyReturns(curve))
	return r
}

// hourlyEquity keeps the last sample of each hour bucket, so a 5m-sampled
// curve collapses to one reading per hour.
func hourlyEquity(curve []EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}
	var out []float64
	bucket := curve[0].Time.Truncate(time.Hour)
	last := curve[0].Equity
	for _, p := range curve[1:] {
		h := p.Time.Truncate(time.Hour)
		if !h.Equal(bucket) {
			out = append(out, last)
			bucket = h
		}
		last = p.Equity
	}
	return append(out, last)
}

func hourlyReturns(curve []EquityPoint) []float64 {
	eq := hourlyEquity(curve)
	if len(eq) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(eq)-1)
	for i := 1; i < len(eq); i++ {
		if eq[i-1] != 0 {
			rets = append(rets, (eq[i]-eq[i-1])/eq[i-1])
		}
	}
	return rets
}

func annualizedSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range returns {
		mean += x
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, x := range returns {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(hoursPerYear)
}

// Format renders the report as the plain-text block the backtest CLI prints.
func (r Report) Format() string {
	return fmt.Sprintf(`==============================================
              BACKTEST REPORT
==============================================

CAPITAL
  Initial:            $%.2f
  Final:              $%.2f
  Peak:               $%.2f
  Total Return:       $%.2f (%+.2f%%)

TRADES
  Total:              %d
  Winners:            %d
  Losers:             %d
  Win Rate:           %.1f%%
  Largest Win:        $%.2f
  Largest Loss:       $%.2f
  Avg Holding Time:   %s

PERFORMANCE
  Gross Profit:       $%.2f
  Gross Loss:         $%.2f
  Profit Factor:      %.2f
  Max Drawdown:       %.2f%%
  Sharpe Ratio:       %.2f
==============================================
`,
		r.InitialCapital, r.FinalEquity, r.PeakEquity, r.TotalReturn, r.TotalReturnPct,
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate,
		r.LargestWin, r.LargestLoss, formatDuration(r.AvgHoldingTime),
		r.GrossProfit, r.GrossLoss, r.ProfitFactor, r.MaxDrawdownPct, r.SharpeRatio)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	if d >= 24*time.Hour {
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	if d >= time.Hour {
		hours := d / time.Hour
		mins := (d % time.Hour) / time.Minute
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", d/time.Minute)
}
