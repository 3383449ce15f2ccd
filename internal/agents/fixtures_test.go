package agents

import (
	"math"
	"time"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

// neutralFrame builds a flat frame: every indicator column holds a value
// that triggers no rule, warmup rows hold NaN. Tests mutate single cells to
// light up exactly one rule at a time.
func neutralFrame(tf market.Timeframe, n int) *market.Frame {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	period := tf.Period()

	candles := make([]market.Candle, n)
	for i := range candles {
		openTime := start.Add(time.Duration(i) * period)
		candles[i] = market.Candle{
			OpenTime:  openTime,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100,
			Volume:    1000,
			CloseTime: openTime.Add(period),
		}
	}

	fill := func(v float64) []float64 {
		col := make([]float64, n)
		for i := range col {
			if i < market.WarmupLen {
				col[i] = math.NaN()
			} else {
				col[i] = v
			}
		}
		return col
	}

	f := &market.Frame{
		Symbol:           "BTCUSDT",
		Timeframe:        tf,
		Candles:          candles,
		ProcessorVersion: "1.0.0",
	}
	f.SMA20 = fill(100)
	f.SMA50 = fill(100)
	f.EMA12 = fill(100)
	f.EMA20 = fill(100)
	f.EMA26 = fill(100)
	f.EMA50 = fill(100)
	f.MACD = fill(0)
	f.MACDSignal = fill(0)
	f.MACDHist = fill(0)
	f.RSI = fill(50)
	f.ATR = fill(0.5)
	f.ADX = fill(30)
	f.BBUpper = fill(101)
	f.BBMiddle = fill(100)
	f.BBLower = fill(99)
	f.OBV = fill(0)
	f.VolRatio = fill(1)
	f.VWAP = fill(100)
	return f
}

// neutralSnapshot assembles a full aligned snapshot from neutral frames.
// Aux metrics are present but inside every neutral band.
func neutralSnapshot(n int) *market.MarketSnapshot {
	views := make(map[market.Timeframe]*market.TimeframeView, 3)
	for _, tf := range market.Timeframes() {
		frame := neutralFrame(tf, n)
		live := frame.Candles[frame.LastIndex()]
		live.OpenTime = frame.LastCloseTime()
		live.CloseTime = live.OpenTime.Add(tf.Period())
		views[tf] = &market.TimeframeView{Stable: frame, Live: live}
	}

	funding := 0.0001
	netflow := 0.0
	ts := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	return &market.MarketSnapshot{
		SnapshotID:   market.NewSnapshotID(ts),
		Symbol:       "BTCUSDT",
		Timestamp:    ts,
		Views:        views,
		FundingRate:  &funding,
		OpenInterest: &market.OpenInterest{Current: 1_050_000, Past24h: 1_000_000},
		Netflow1h:    &netflow,
		AlignmentOK:  true,
	}
}

// setLiveClose rewrites the live candle close for one timeframe.
func setLiveClose(snap *market.MarketSnapshot, tf market.Timeframe, close float64) {
	view := snap.Views[tf]
	view.Live.Close = close
}

func floatPtr(v float64) *float64 { return &v }
