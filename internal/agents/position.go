package agents

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

// Range locations.
const (
	PositionBottom = "bottom"
	PositionMiddle = "middle"
	PositionTop    = "top"
)

const (
	// positionWindow is how many 1h candles frame the trading range.
	positionWindow = 96

	positionTopPct    = 70.0
	positionBottomPct = 30.0
)

// PositionView places the current price inside its recent range and gates
// which directions are allowed to open.
type PositionView struct {
	Pct        float64 `json:"pct"` // 0 at the range low, 100 at the range high
	Location   string  `json:"location"`
	AllowLong  bool    `json:"allow_long"`
	AllowShort bool    `json:"allow_short"`
	RangeLow   float64 `json:"range_low"`
	RangeHigh  float64 `json:"range_high"`
}

// PositionAnalyzer measures where the last close sits inside the recent 1h
// range: no longs near the top, no shorts near the bottom.
type PositionAnalyzer struct {
	logger zerolog.Logger
}

// NewPositionAnalyzer creates a position analyzer
func NewPositionAnalyzer() *PositionAnalyzer {
	return &PositionAnalyzer{
		logger: log.With().Str("agent", "position").Logger(),
	}
}

// Analyze places the last stable 1h close inside the trailing range built
// from closes, warmup rows excluded. A degenerate flat range reads as the
// middle.
func (p *PositionAnalyzer) Analyze(frame *market.Frame) PositionView {
	neutral := PositionView{Pct: 50, Location: PositionMiddle, AllowLong: true, AllowShort: true}
	if frame == nil || frame.LastIndex() < market.WarmupLen {
		return neutral
	}

	last := frame.LastIndex()
	start := last - positionWindow + 1
	if start < market.WarmupLen {
		start = market.WarmupLen
	}

	low := frame.Close(start)
	high := frame.Close(start)
	for i := start + 1; i <= last; i++ {
		c := frame.Close(i)
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}

	view := neutral
	view.RangeLow = low
	view.RangeHigh = high
	if high > low {
		view.Pct = (frame.Close(last) - low) / (high - low) * 100
	}

	switch {
	case view.Pct > positionTopPct:
		view.Location = PositionTop
	case view.Pct < positionBottomPct:
		view.Location = PositionBottom
	default:
		view.Location = PositionMiddle
	}
	view.AllowLong = view.Pct < positionTopPct
	view.AllowShort = view.Pct > positionBottomPct

	p.logger.Debug().
		Str("symbol", frame.Symbol).
		Float64("pct", view.Pct).
		Str("location", view.Location).
		Bool("allow_long", view.AllowLong).
		Bool("allow_short", view.AllowShort).
		Msg("Range position measured")
	return view
}
