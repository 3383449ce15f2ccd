package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ReplaySource serves recorded candle history from memory. It implements
// MarketDataSource with a movable clock: GetKlines returns only the candles
// whose open time is at or before the cursor, so advancing the cursor and
// re-running a cycle replays history exactly. Two replays over the same
// fixtures and cursor positions produce identical snapshots.
type ReplaySource struct {
	mu      sync.RWMutex
	candles map[string]map[Timeframe][]Candle
	funding map[string]float64
	oi      map[string]OpenInterest
	netflow map[string]float64
	now     time.Time
}

// NewReplaySource creates an empty replay source.
func NewReplaySource() *ReplaySource {
	return &ReplaySource{
		candles: make(map[string]map[Timeframe][]Candle),
		funding: make(map[string]float64),
		oi:      make(map[string]OpenInterest),
		netflow: make(map[string]float64),
	}
}

// LoadCandles registers the full candle history for a symbol/timeframe.
// Candles must be in ascending open time order.
func (r *ReplaySource) LoadCandles(symbol string, tf Timeframe, candles []Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.candles[symbol] == nil {
		r.candles[symbol] = make(map[Timeframe][]Candle)
	}
	r.candles[symbol][tf] = candles
}

// SetFunding sets the funding rate returned for a symbol.
func (r *ReplaySource) SetFunding(symbol string, rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funding[symbol] = rate
}

// SetOpenInterest sets the open interest returned for a symbol.
func (r *ReplaySource) SetOpenInterest(symbol string, oi OpenInterest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oi[symbol] = oi
}

// SetNetflow sets the institutional netflow returned for a symbol.
func (r *ReplaySource) SetNetflow(symbol string, flow float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.netflow[symbol] = flow
}

// Advance moves the replay clock. Candles opening after the new cursor
// become invisible to GetKlines.
func (r *ReplaySource) Advance(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Now returns the current replay clock.
func (r *ReplaySource) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now
}

// GetKlines returns up to limit candles visible at the replay cursor.
func (r *ReplaySource) GetKlines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byTF, ok := r.candles[symbol]
	if !ok {
		return nil, &FetchError{Symbol: symbol, Timeframe: tf, Err: errors.New("no fixture for symbol")}
	}
	history, ok := byTF[tf]
	if !ok {
		return nil, &FetchError{Symbol: symbol, Timeframe: tf, Err: errors.New("no fixture for timeframe")}
	}

	// Visible candles opened at or before the cursor. The last visible
	// candle plays the role of the exchange's still-forming bar.
	visible := history
	if !r.now.IsZero() {
		cut := len(history)
		for cut > 0 && history[cut-1].OpenTime.After(r.now) {
			cut--
		}
		visible = history[:cut]
	}

	if len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}

	out := make([]Candle, len(visible))
	copy(out, visible)
	return out, nil
}

// GetFundingRate returns the configured funding rate for a symbol.
func (r *ReplaySource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.funding[symbol]
	if !ok {
		return 0, &FetchError{Symbol: symbol, Err: errors.New("no funding fixture")}
	}
	return rate, nil
}

// GetOpenInterest returns the configured open interest for a symbol.
func (r *ReplaySource) GetOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	oi, ok := r.oi[symbol]
	if !ok {
		return OpenInterest{}, &FetchError{Symbol: symbol, Err: errors.New("no open interest fixture")}
	}
	return oi, nil
}

// GetInstitutionalNetflow returns the configured netflow for a symbol.
// The window is ignored, fixtures carry a single value per symbol.
func (r *ReplaySource) GetInstitutionalNetflow(ctx context.Context, symbol string, window time.Duration) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flow, ok := r.netflow[symbol]
	if !ok {
		return 0, &FetchError{Symbol: symbol, Err: errors.New("no netflow fixture")}
	}
	return flow, nil
}
