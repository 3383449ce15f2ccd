package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradepilot/internal/exchange"
)

// netflowInterval is the kline granularity used for the taker-flow proxy.
const netflowInterval = 5 * time.Minute

// BinanceSource fetches market data from Binance USD-M futures REST endpoints.
// All calls run through the shared rate limiter, circuit breaker and retry
// policy so a burst of parallel timeframe fetches cannot exhaust API weight
// or hammer a degraded endpoint.
type BinanceSource struct {
	client  *futures.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   exchange.RetryConfig
}

// BinanceSourceConfig contains dependencies for a BinanceSource.
// Limiter and Breaker may be nil, in which case calls go straight through.
type BinanceSourceConfig struct {
	Client  *futures.Client
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Retry   exchange.RetryConfig
}

// NewBinanceSource creates a market data source backed by Binance futures.
func NewBinanceSource(cfg BinanceSourceConfig) *BinanceSource {
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = exchange.DefaultRetryConfig()
	}
	return &BinanceSource{
		client:  cfg.Client,
		limiter: cfg.Limiter,
		breaker: cfg.Breaker,
		retry:   retry,
	}
}

// call wraps a REST operation with the limiter, breaker and retry policy.
// The limiter sits inside the retry loop so every attempt pays for a token.
func (s *BinanceSource) call(ctx context.Context, op func() error) error {
	return exchange.WithRetry(ctx, s.retry, func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if s.breaker == nil {
			return op()
		}
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, op()
		})
		return err
	})
}

// GetKlines fetches up to limit most recent candles for a symbol/timeframe.
// The last candle returned by the exchange is the still-forming one.
func (s *BinanceSource) GetKlines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error) {
	var raw []*futures.Kline
	err := s.call(ctx, func() error {
		var err error
		raw, err = s.client.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Timeframe: tf, Err: err}
	}

	candles := make([]Candle, 0, len(raw))
	for i, k := range raw {
		c, err := parseKline(k)
		if err != nil {
			return nil, &FetchError{Symbol: symbol, Timeframe: tf, Err: fmt.Errorf("kline %d: %w", i, err)}
		}
		candles = append(candles, c)
	}

	log.Debug().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("count", len(candles)).
		Msg("Fetched klines")

	return candles, nil
}

// GetFundingRate returns the current funding rate for a symbol.
func (s *BinanceSource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	var premiums []*futures.PremiumIndex
	err := s.call(ctx, func() error {
		var err error
		premiums, err = s.client.NewPremiumIndexService().
			Symbol(symbol).
			Do(ctx)
		return err
	})
	if err != nil {
		return 0, &FetchError{Symbol: symbol, Err: err}
	}
	if len(premiums) == 0 {
		return 0, &FetchError{Symbol: symbol, Err: errors.New("empty premium index response")}
	}

	funding, err := strconv.ParseFloat(premiums[0].LastFundingRate, 64)
	if err != nil {
		return 0, &FetchError{Symbol: symbol, Err: fmt.Errorf("parse funding rate: %w", err)}
	}
	return funding, nil
}

// GetOpenInterest returns the current open interest and the value from
// roughly 24 hours ago, taken from the hourly open interest statistics.
func (s *BinanceSource) GetOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	var current *futures.OpenInterest
	err := s.call(ctx, func() error {
		var err error
		current, err = s.client.NewGetOpenInterestService().
			Symbol(symbol).
			Do(ctx)
		return err
	})
	if err != nil {
		return OpenInterest{}, &FetchError{Symbol: symbol, Err: err}
	}

	now, err := strconv.ParseFloat(current.OpenInterest, 64)
	if err != nil {
		return OpenInterest{}, &FetchError{Symbol: symbol, Err: fmt.Errorf("parse open interest: %w", err)}
	}

	// 25 hourly buckets: index 0 is the oldest, about 24 hours back.
	var stats []*futures.OpenInterestStatistic
	err = s.call(ctx, func() error {
		var err error
		stats, err = s.client.NewOpenInterestStatisticsService().
			Symbol(symbol).
			Period("1h").
			Limit(25).
			Do(ctx)
		return err
	})
	if err != nil {
		return OpenInterest{}, &FetchError{Symbol: symbol, Err: err}
	}
	if len(stats) == 0 {
		return OpenInterest{}, &FetchError{Symbol: symbol, Err: errors.New("empty open interest statistics response")}
	}

	past, err := strconv.ParseFloat(stats[0].SumOpenInterest, 64)
	if err != nil {
		return OpenInterest{}, &FetchError{Symbol: symbol, Err: fmt.Errorf("parse open interest statistic: %w", err)}
	}

	return OpenInterest{Current: now, Past24h: past}, nil
}

// GetInstitutionalNetflow approximates net institutional flow over the window
// from taker order flow: taker buy quote volume minus taker sell quote volume,
// summed across 5m buckets. Negative values mean aggressive selling pressure.
func (s *BinanceSource) GetInstitutionalNetflow(ctx context.Context, symbol string, window time.Duration) (float64, error) {
	buckets := int(window / netflowInterval)
	if buckets < 1 {
		buckets = 1
	}

	var raw []*futures.Kline
	err := s.call(ctx, func() error {
		var err error
		raw, err = s.client.NewKlinesService().
			Symbol(symbol).
			Interval("5m").
			Limit(buckets).
			Do(ctx)
		return err
	})
	if err != nil {
		return 0, &FetchError{Symbol: symbol, Err: err}
	}

	var net float64
	for i, k := range raw {
		quoteVol, err := strconv.ParseFloat(k.QuoteAssetVolume, 64)
		if err != nil {
			return 0, &FetchError{Symbol: symbol, Err: fmt.Errorf("kline %d: parse quote volume: %w", i, err)}
		}
		takerBuy, err := strconv.ParseFloat(k.TakerBuyQuoteAssetVolume, 64)
		if err != nil {
			return 0, &FetchError{Symbol: symbol, Err: fmt.Errorf("kline %d: parse taker buy volume: %w", i, err)}
		}
		// taker buys minus taker sells, where sells = total - buys
		net += 2*takerBuy - quoteVol
	}
	return net, nil
}

// parseKline converts a raw Binance futures kline into a Candle.
func parseKline(k *futures.Kline) (Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse open: %w", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse high: %w", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse close: %w", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse volume: %w", err)
	}

	return Candle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}
