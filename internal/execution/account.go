package execution

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradepilot/internal/exchange"
	"github.com/ajitpratap0/tradepilot/internal/risk"
)

// marginAsset is the settlement asset of the USD-M futures wallet.
const marginAsset = "USDT"

// AccountReader supplies the balance and position view a trading cycle
// reads before sizing and auditing an order.
type AccountReader interface {
	Balance(ctx context.Context) (float64, error)
	Position(ctx context.Context, symbol string) (risk.PositionState, error)
}

// BinanceAccount reads wallet balance and position risk from Binance USD-M
// futures through the shared rate limiter and retry policy.
type BinanceAccount struct {
	client  *futures.Client
	limiter *rate.Limiter
	retry   exchange.RetryConfig
	logger  zerolog.Logger
}

// NewBinanceAccount creates an account reader on the shared futures client.
func NewBinanceAccount(client *futures.Client, limiter *rate.Limiter) *BinanceAccount {
	return &BinanceAccount{
		client:  client,
		limiter: limiter,
		retry:   exchange.DefaultRetryConfig(),
		logger:  log.With().Str("component", "binance_account").Logger(),
	}
}

func (a *BinanceAccount) call(ctx context.Context, op func() error) error {
	return exchange.WithRetry(ctx, a.retry, func() error {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return op()
	})
}

// Balance returns the available USDT margin balance.
func (a *BinanceAccount) Balance(ctx context.Context) (float64, error) {
	var balances []*futures.Balance
	err := a.call(ctx, func() error {
		var err error
		balances, err = a.client.NewGetBalanceService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch account balance: %w", err)
	}

	for _, b := range balances {
		if b.Asset != marginAsset {
			continue
		}
		available, err := strconv.ParseFloat(b.AvailableBalance, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse available balance %q: %w", b.AvailableBalance, err)
		}
		return available, nil
	}
	return 0, fmt.Errorf("no %s balance in futures wallet", marginAsset)
}

// Position returns the open position for symbol, zero quantity when flat.
func (a *BinanceAccount) Position(ctx context.Context, symbol string) (risk.PositionState, error) {
	var positions []*futures.PositionRisk
	err := a.call(ctx, func() error {
		var err error
		positions, err = a.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return risk.PositionState{}, fmt.Errorf("failed to fetch position for %s: %w", symbol, err)
	}

	state := risk.PositionState{Symbol: symbol}
	for _, p := range positions {
		qty, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil || qty == 0 {
			continue
		}
		state.Qty = qty
		state.EntryPrice = parsePrice(p.EntryPrice, 0)
		state.UnrealizedPnL = parsePrice(p.UnRealizedProfit, 0)
		state.LiquidationPrice = parsePrice(p.LiquidationPrice, 0)
		break
	}
	return state, nil
}

// PaperAccount serves paper runs. Balance follows the reconciled equity;
// the position view always reads flat because in a paper run the engine
// itself tracks what it opened.
type PaperAccount struct {
	rec *risk.Reconciler
}

// NewPaperAccount creates a paper account backed by the risk reconciler.
func NewPaperAccount(rec *risk.Reconciler) *PaperAccount {
	return &PaperAccount{rec: rec}
}

// Balance returns the reconciled equity.
func (a *PaperAccount) Balance(ctx context.Context) (float64, error) {
	return a.rec.Equity(), nil
}

// Position reports flat for every symbol.
func (a *PaperAccount) Position(ctx context.Context, symbol string) (risk.PositionState, error) {
	return risk.PositionState{Symbol: symbol}, nil
}
