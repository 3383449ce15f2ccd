package risk

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/store"
)

// streakLookback bounds how many closed trades the restart scan walks when
// rebuilding the consecutive-loss streak.
const streakLookback = 20

// HistoryStore is the slice of the persistent store the restart path reads.
type HistoryStore interface {
	LatestEquity(ctx context.Context) (*store.EquityPoint, error)
	PeakEquity(ctx context.Context) (float64, error)
	TradeStats(ctx context.Context) (store.TradeStats, error)
	RecentClosedPnLs(ctx context.Context, limit int) ([]float64, error)
}

// Restore rebuilds the reconciler from persisted history so the drawdown gate
// and loss cooldown survive a restart. An empty store seeds from
// initialEquity, same as a first boot.
func Restore(ctx context.Context, h HistoryStore, initialEquity float64) (*Reconciler, error) {
	latest, err := h.LatestEquity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load equity history: %w", err)
	}
	if latest == nil {
		return NewReconciler(initialEquity), nil
	}

	peak, err := h.PeakEquity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load peak equity: %w", err)
	}

	stats, err := h.TradeStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade stats: %w", err)
	}

	pnls, err := h.RecentClosedPnLs(ctx, streakLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent outcomes: %w", err)
	}

	// Newest first: losses accumulate until the first win. Scratch trades
	// neither extend nor break the streak, matching Apply.
	losses := 0
	for _, pnl := range pnls {
		if pnl > 0 {
			break
		}
		if pnl < 0 {
			losses++
		}
	}

	r := NewReconciler(initialEquity)
	r.restore(latest.Equity, peak, losses, stats.Closed, stats.Wins)

	log.Info().
		Float64("equity", latest.Equity).
		Float64("peak", peak).
		Int("consecutive_losses", losses).
		Int("trades", stats.Closed).
		Int("wins", stats.Wins).
		Msg("Risk state restored from store")
	return r, nil
}
