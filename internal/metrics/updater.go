package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/store"
)

// Updater periodically refreshes the trade performance gauges from the
// persistent store. Cycle-scoped metrics are recorded inline by the
// pipeline; this covers the aggregates that live in Postgres.
type Updater struct {
	db       *store.DB
	interval time.Duration
	stopCh   chan struct{}
	logger   zerolog.Logger
}

// NewUpdater creates a metrics updater polling the store at the given interval.
func NewUpdater(db *store.DB, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   log.With().Str("component", "metrics_updater").Logger(),
	}
}

// Start runs the update loop until the context is cancelled or Stop is
// called. Callers run it in a goroutine.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.Update(ctx)

	for {
		select {
		case <-ticker.C:
			u.Update(ctx)
		case <-u.stopCh:
			u.logger.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			u.logger.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater.
func (u *Updater) Stop() {
	close(u.stopCh)
}

// Update refreshes the gauges once. Query failures are logged and the
// stale gauge values are left in place.
func (u *Updater) Update(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats, err := u.db.TradeStats(ctx)
	if err != nil {
		u.logger.Warn().Err(err).Msg("Failed to refresh trade stats")
	} else {
		TotalPnL.Set(stats.TotalPnL)
		TradesClosed.Set(float64(stats.Closed))
		if stats.Closed > 0 {
			WinRate.Set(float64(stats.Wins) / float64(stats.Closed))
		}
	}

	open, err := u.db.OpenTrades(ctx, "")
	if err != nil {
		u.logger.Warn().Err(err).Msg("Failed to refresh open positions")
		return
	}
	OpenPositions.Set(float64(len(open)))
}
