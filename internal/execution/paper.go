package execution

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/risk"
)

// PaperSink simulates fills without touching an exchange. Entries fill
// instantly at the plan's entry price so replays stay deterministic; fees
// and slippage are the backtester's concern. It honors the live sink's
// idempotency contract: a replayed plan returns the original fill.
type PaperSink struct {
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	nextID   int64
	fills    map[string]*Fill
	sequence []Fill
	stops    map[string]risk.OrderPlan
	leverage map[string]int
}

// NewPaperSink creates an empty paper book.
func NewPaperSink() *PaperSink {
	log.Info().Msg("Paper sink initialized (no live orders)")
	return &PaperSink{
		logger:   log.With().Str("component", "paper_sink").Logger(),
		now:      time.Now,
		nextID:   1,
		fills:    make(map[string]*Fill),
		stops:    make(map[string]risk.OrderPlan),
		leverage: make(map[string]int),
	}
}

// SetLeverage records the requested leverage.
func (p *PaperSink) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
	return nil
}

// PlaceMarket fills at the plan's entry price, or returns the earlier fill
// when the client order id was already used.
func (p *PaperSink) PlaceMarket(ctx context.Context, order risk.OrderPlan) (*Fill, error) {
	clientID := EntryClientOrderID(order.SnapshotID, order.Symbol)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.fills[clientID]; ok {
		dup := *existing
		dup.Duplicate = true
		return &dup, nil
	}

	fill := &Fill{
		Symbol:        order.Symbol,
		OrderID:       p.nextID,
		ClientOrderID: clientID,
		AvgPrice:      order.Entry,
		ExecutedQty:   order.Qty,
		FilledAt:      p.now().UTC(),
	}
	p.nextID++
	p.fills[clientID] = fill
	p.sequence = append(p.sequence, *fill)

	p.logger.Info().
		Str("symbol", fill.Symbol).
		Str("client_order_id", fill.ClientOrderID).
		Str("side", string(order.Side)).
		Float64("avg_price", fill.AvgPrice).
		Float64("executed_qty", fill.ExecutedQty).
		Msg("Paper fill")

	out := *fill
	return &out, nil
}

// AttachStops records the protective orders for the symbol.
func (p *PaperSink) AttachStops(ctx context.Context, order risk.OrderPlan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops[order.Symbol] = order
	return nil
}

// Fills returns every fill in placement order.
func (p *PaperSink) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.sequence))
	copy(out, p.sequence)
	return out
}

// Stops returns the last protective orders attached for the symbol.
func (p *PaperSink) Stops(symbol string) (risk.OrderPlan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.stops[symbol]
	return plan, ok
}

// Leverage returns the last leverage set for the symbol.
func (p *PaperSink) Leverage(symbol string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lev, ok := p.leverage[symbol]
	return lev, ok
}
