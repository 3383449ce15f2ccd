// Package execution dispatches risk-approved orders to an exchange. The
// Binance sink is the live path; the paper sink backs dry runs and replays.
package execution

import (
	"context"
	"time"

	"github.com/ajitpratap0/tradepilot/internal/risk"
)

// Fill acknowledges an executed entry order.
type Fill struct {
	Symbol        string    `json:"symbol"`
	OrderID       int64     `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	AvgPrice      float64   `json:"avg_price"`
	ExecutedQty   float64   `json:"executed_qty"`
	FilledAt      time.Time `json:"filled_at"`

	// Duplicate marks a fill recovered from an earlier attempt instead of a
	// fresh execution.
	Duplicate bool `json:"duplicate,omitempty"`
}

// OrderSink places risk-approved orders. Implementations are idempotent per
// (snapshot_id, symbol): replaying the same plan returns the original fill
// instead of doubling the position.
type OrderSink interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarket(ctx context.Context, order risk.OrderPlan) (*Fill, error)
	AttachStops(ctx context.Context, order risk.OrderPlan) error
}

// EntryClientOrderID derives the idempotency key for a cycle's entry order.
// The exchange rejects a reused id, so a retried cycle can never double-fill.
func EntryClientOrderID(snapshotID, symbol string) string {
	return snapshotID + "_" + symbol
}

// StopClientOrderID derives the idempotency key for the protective stop.
func StopClientOrderID(snapshotID, symbol string) string {
	return snapshotID + "_" + symbol + "_sl"
}

// TakeProfitClientOrderID derives the idempotency key for the take-profit.
func TakeProfitClientOrderID(snapshotID, symbol string) string {
	return snapshotID + "_" + symbol + "_tp"
}
