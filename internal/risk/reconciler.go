package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TradeOutcome is one closed trade's realized result, net of fees. Outcomes
// are the only events that mutate account risk state.
type TradeOutcome struct {
	SnapshotID string    `json:"snapshot_id"`
	Symbol     string    `json:"symbol"`
	PnL        float64   `json:"pnl"`
	Fees       float64   `json:"fees"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Reconciler tracks the equity curve, peak, drawdown and consecutive-loss
// streak. Run is the single writer; every reader gets an immutable
// AccountState snapshot so mid-cycle outcomes never shift the limits an
// audit already read.
type Reconciler struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	equity float64
	peak   float64
	losses int
	trades int
	wins   int
}

// NewReconciler seeds the equity curve. Initial equity is also the initial
// peak, so drawdown starts at zero.
func NewReconciler(initialEquity float64) *Reconciler {
	return &Reconciler{
		logger: log.With().Str("component", "risk_reconciler").Logger(),
		equity: initialEquity,
		peak:   initialEquity,
	}
}

// Run consumes trade outcomes until the context ends or the channel closes.
func (r *Reconciler) Run(ctx context.Context, outcomes <-chan TradeOutcome) {
	r.logger.Info().Float64("initial_equity", r.equity).Msg("Risk reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Risk reconciler stopped")
			return
		case outcome, ok := <-outcomes:
			if !ok {
				r.logger.Info().Msg("Outcome channel closed, reconciler stopping")
				return
			}
			r.Apply(outcome)
		}
	}
}

// Apply folds one outcome into the account state. A winning trade resets the
// loss streak; a scratch trade leaves it unchanged.
func (r *Reconciler) Apply(outcome TradeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.equity += outcome.PnL
	if r.equity > r.peak {
		r.peak = r.equity
	}
	r.trades++
	switch {
	case outcome.PnL < 0:
		r.losses++
	case outcome.PnL > 0:
		r.losses = 0
		r.wins++
	}

	r.logger.Info().
		Str("symbol", outcome.Symbol).
		Str("snapshot_id", outcome.SnapshotID).
		Float64("pnl", outcome.PnL).
		Float64("equity", r.equity).
		Float64("drawdown", r.drawdownLocked()).
		Int("consecutive_losses", r.losses).
		Msg("Trade outcome reconciled")
}

// restore overwrites state from persisted history. Only the boot path calls
// it, before any cycle runs.
func (r *Reconciler) restore(equity, peak float64, losses, trades, wins int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.equity = equity
	r.peak = peak
	if r.peak < equity {
		r.peak = equity
	}
	r.losses = losses
	r.trades = trades
	r.wins = wins
}

// Equity returns the current reconciled equity.
func (r *Reconciler) Equity() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.equity
}

// State composes the per-cycle account view from the reconciled risk state
// and the balance the caller fetched for this cycle.
func (r *Reconciler) State(balance float64) AccountState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return AccountState{
		Balance:           balance,
		Equity:            r.equity,
		PeakEquity:        r.peak,
		Drawdown:          r.drawdownLocked(),
		ConsecutiveLosses: r.losses,
		Trades:            r.trades,
		Wins:              r.wins,
	}
}

func (r *Reconciler) drawdownLocked() float64 {
	if r.peak <= 0 {
		return 0
	}
	dd := (r.peak - r.equity) / r.peak
	if dd < 0 {
		return 0
	}
	return dd
}
