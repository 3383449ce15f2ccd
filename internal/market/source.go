package market

import (
	"context"
	"time"
)

// MarketDataSource abstracts the exchange's market-data surface. Candles are
// returned in strict chronological order. Implementations: BinanceSource
// (live), ReplaySource (backtest), CachedSource (read-through Redis).
type MarketDataSource interface {
	// GetKlines returns up to limit most-recent candles for the timeframe,
	// including the still-forming one.
	GetKlines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)

	// GetFundingRate returns the current funding rate as a fraction
	// (0.0001 = 0.01%).
	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	// GetOpenInterest returns current open interest and its value 24h ago.
	GetOpenInterest(ctx context.Context, symbol string) (OpenInterest, error)

	// GetInstitutionalNetflow returns the aggressor netflow in quote units
	// over the window: taker buy volume minus taker sell volume. Positive
	// means net buying pressure.
	GetInstitutionalNetflow(ctx context.Context, symbol string, window time.Duration) (float64, error)
}
