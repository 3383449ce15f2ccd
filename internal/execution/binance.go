package execution

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/exchange"
	"github.com/ajitpratap0/tradepilot/internal/risk"
)

// symbolPrecision holds the LOT_SIZE step and PRICE_FILTER tick for one symbol.
type symbolPrecision struct {
	qtyStep   float64
	priceTick float64
}

// BinanceSink dispatches orders to Binance USD-M futures. Every REST call
// goes through the shared rate limiter, the exchange circuit breaker, a
// per-call timeout and retry with exponential backoff.
type BinanceSink struct {
	client  *futures.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   exchange.RetryConfig
	timeout time.Duration
	logger  zerolog.Logger

	mu        sync.RWMutex
	precision map[string]symbolPrecision
}

// NewBinanceSink wires the live sink. orderTimeout bounds each REST call,
// not the whole retry sequence.
func NewBinanceSink(client *futures.Client, limiter *rate.Limiter, breaker *gobreaker.CircuitBreaker, orderTimeout time.Duration) *BinanceSink {
	return &BinanceSink{
		client:    client,
		limiter:   limiter,
		breaker:   breaker,
		retry:     exchange.DefaultRetryConfig(),
		timeout:   orderTimeout,
		logger:    log.With().Str("component", "binance_sink").Logger(),
		precision: make(map[string]symbolPrecision),
	}
}

// LoadPrecision fetches symbol filters so quantities land on the lot step
// and prices on the tick. Call once at startup; formatting falls back to
// fixed decimals for unknown symbols.
func (s *BinanceSink) LoadPrecision(ctx context.Context) error {
	var info *futures.ExchangeInfo
	err := s.submit(ctx, "exchange_info", "", func(callCtx context.Context) error {
		var err error
		info, err = s.client.NewExchangeInfoService().Do(callCtx)
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range info.Symbols {
		var p symbolPrecision
		for _, filter := range sym.Filters {
			switch filter["filterType"] {
			case "PRICE_FILTER":
				if tick, ok := filter["tickSize"].(string); ok {
					p.priceTick, _ = strconv.ParseFloat(tick, 64)
				}
			case "LOT_SIZE":
				if step, ok := filter["stepSize"].(string); ok {
					p.qtyStep, _ = strconv.ParseFloat(step, 64)
				}
			}
		}
		s.precision[sym.Symbol] = p
	}
	s.logger.Info().Int("symbols", len(s.precision)).Msg("Exchange precision filters loaded")
	return nil
}

// SetLeverage sets symbol leverage and forces isolated margin. The margin
// type call tolerates the exchange reporting no change was needed.
func (s *BinanceSink) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	err := s.submit(ctx, "set_leverage", symbol, func(callCtx context.Context) error {
		_, err := s.client.NewChangeLeverageService().
			Symbol(symbol).
			Leverage(leverage).
			Do(callCtx)
		return err
	})
	if err != nil {
		return err
	}

	err = s.submit(ctx, "set_margin_type", symbol, func(callCtx context.Context) error {
		return s.client.NewChangeMarginTypeService().
			Symbol(symbol).
			MarginType(futures.MarginTypeIsolated).
			Do(callCtx)
	})
	if err != nil && !isMarginUnchanged(err) {
		return err
	}
	return nil
}

// PlaceMarket submits the entry as a market order under the cycle's client
// order id. A duplicate rejection means a prior attempt got through; the
// original order is fetched and returned instead.
func (s *BinanceSink) PlaceMarket(ctx context.Context, order risk.OrderPlan) (*Fill, error) {
	clientID := EntryClientOrderID(order.SnapshotID, order.Symbol)
	side := futures.SideTypeBuy
	if order.Side == decision.ActionShort {
		side = futures.SideTypeSell
	}
	qty := s.formatQty(order.Symbol, order.Qty)

	var res *futures.CreateOrderResponse
	err := s.submit(ctx, "place_market", order.Symbol, func(callCtx context.Context) error {
		var err error
		res, err = s.client.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			NewClientOrderID(clientID).
			Do(callCtx)
		return err
	})
	if err != nil {
		if isDuplicateEntry(err) {
			return s.recoverEntry(ctx, order.Symbol, clientID)
		}
		return nil, err
	}

	fill := &Fill{
		Symbol:        order.Symbol,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		AvgPrice:      parsePrice(res.AvgPrice, order.Entry),
		ExecutedQty:   parsePrice(res.ExecutedQuantity, order.Qty),
		FilledAt:      time.Now().UTC(),
	}
	s.logger.Info().
		Str("symbol", fill.Symbol).
		Str("client_order_id", fill.ClientOrderID).
		Int64("order_id", fill.OrderID).
		Float64("avg_price", fill.AvgPrice).
		Float64("executed_qty", fill.ExecutedQty).
		Msg("Market entry placed")
	return fill, nil
}

// AttachStops places the exchange-side stop-loss and take-profit as
// close-position mark-price triggers. They ride with the position, so the
// cycle loop never poll-reprices. Duplicate rejections mean the protective
// order from an earlier attempt is already working.
func (s *BinanceSink) AttachStops(ctx context.Context, order risk.OrderPlan) error {
	exitSide := futures.SideTypeSell
	if order.Side == decision.ActionShort {
		exitSide = futures.SideTypeBuy
	}

	err := s.submit(ctx, "attach_stop_loss", order.Symbol, func(callCtx context.Context) error {
		_, err := s.client.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(exitSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(s.formatPrice(order.Symbol, order.StopLoss)).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice).
			PriceProtect(true).
			NewClientOrderID(StopClientOrderID(order.SnapshotID, order.Symbol)).
			Do(callCtx)
		return err
	})
	if err != nil && !isDuplicateEntry(err) {
		return err
	}

	if order.TakeProfit <= 0 {
		return nil
	}
	err = s.submit(ctx, "attach_take_profit", order.Symbol, func(callCtx context.Context) error {
		_, err := s.client.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(exitSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(s.formatPrice(order.Symbol, order.TakeProfit)).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice).
			PriceProtect(true).
			NewClientOrderID(TakeProfitClientOrderID(order.SnapshotID, order.Symbol)).
			Do(callCtx)
		return err
	})
	if err != nil && !isDuplicateEntry(err) {
		return err
	}

	s.logger.Info().
		Str("symbol", order.Symbol).
		Float64("stop_loss", order.StopLoss).
		Float64("take_profit", order.TakeProfit).
		Msg("Protective stops attached")
	return nil
}

// recoverEntry fetches the order a previous attempt already placed under
// the same client order id.
func (s *BinanceSink) recoverEntry(ctx context.Context, symbol, clientID string) (*Fill, error) {
	var existing *futures.Order
	err := s.submit(ctx, "recover_entry", symbol, func(callCtx context.Context) error {
		var err error
		existing, err = s.client.NewGetOrderService().
			Symbol(symbol).
			OrigClientOrderID(clientID).
			Do(callCtx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn().
		Str("symbol", symbol).
		Str("client_order_id", clientID).
		Msg("Entry already placed by an earlier attempt, returning original fill")
	return &Fill{
		Symbol:        symbol,
		OrderID:       existing.OrderID,
		ClientOrderID: existing.ClientOrderID,
		AvgPrice:      parsePrice(existing.AvgPrice, 0),
		ExecutedQty:   parsePrice(existing.ExecutedQuantity, 0),
		FilledAt:      time.UnixMilli(existing.Time).UTC(),
		Duplicate:     true,
	}, nil
}

// submit runs one REST call through the limiter, breaker, per-call timeout
// and retry stack. Failures come back as *ExecError.
func (s *BinanceSink) submit(ctx context.Context, op, symbol string, call func(ctx context.Context) error) error {
	err := exchange.WithRetry(ctx, s.retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, call(callCtx)
		})
		return err
	})
	if err != nil {
		return &ExecError{Symbol: symbol, Op: op, Err: err}
	}
	return nil
}

// formatQty floors the quantity onto the lot step, rounding down so a
// precision round-up can never exceed the margin the audit approved.
func (s *BinanceSink) formatQty(symbol string, qty float64) string {
	s.mu.RLock()
	p, ok := s.precision[symbol]
	s.mu.RUnlock()
	if !ok || p.qtyStep <= 0 {
		return fmt.Sprintf("%.3f", qty)
	}
	// The epsilon keeps an exact multiple of the step from flooring one
	// step down on float division noise.
	return formatToStep(math.Floor(qty/p.qtyStep+1e-9)*p.qtyStep, p.qtyStep)
}

// formatPrice rounds the price to the nearest tick.
func (s *BinanceSink) formatPrice(symbol string, price float64) string {
	s.mu.RLock()
	p, ok := s.precision[symbol]
	s.mu.RUnlock()
	if !ok || p.priceTick <= 0 {
		return fmt.Sprintf("%.2f", price)
	}
	return formatToStep(math.Floor(price/p.priceTick+0.5)*p.priceTick, p.priceTick)
}

func formatToStep(value, step float64) string {
	prec := 0
	if step > 0 && step < 1 {
		prec = int(math.Round(-math.Log10(step)))
	}
	return fmt.Sprintf("%.*f", prec, value)
}

func parsePrice(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == 0 {
		return fallback
	}
	return v
}

// isDuplicateEntry matches the exchange rejecting a reused client order id,
// which is the idempotence signal rather than a failure.
func isDuplicateEntry(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate order")
}

// isMarginUnchanged matches -4046, returned when the margin type already is
// isolated.
func isMarginUnchanged(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "-4046") || strings.Contains(msg, "no need to change margin type")
}
