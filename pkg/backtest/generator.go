package backtest

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/tradepilot/internal/market"
)

// warmupHours is how much history the generator produces ahead of the first
// cycle so the hourly frame has a full indicator series when replay starts.
const warmupHours = 260

// GeneratorConfig shapes a synthetic market walk. The same config always
// produces the same candles.
type GeneratorConfig struct {
	Seed        int64
	StartPrice  float64
	DriftPerDay float64 // fractional trend per day, e.g. 0.02 for +2%
	Volatility  float64 // stddev of one 5m log return, e.g. 0.002
	From        time.Time
	To          time.Time
}

func (c GeneratorConfig) validate() error {
	if c.StartPrice <= 0 {
		return fmt.Errorf("generator needs a positive start price")
	}
	if c.Volatility < 0 {
		return fmt.Errorf("generator volatility must not be negative")
	}
	if !c.To.After(c.From) {
		return fmt.Errorf("generator window must end after it starts")
	}
	return nil
}

// GenerateMarket builds a deterministic geometric walk of 5m candles covering
// the warmup window through To, plus 15m and 1h series aggregated from the
// same walk so the timeframes agree with each other.
func GenerateMarket(cfg GeneratorConfig) (map[market.Timeframe][]market.Candle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	start := cfg.From.Add(-warmupHours * time.Hour).Truncate(time.Hour)
	step := market.Timeframe5m.Period()
	n := int(cfg.To.Sub(start)/step) + 1

	rng := rand.New(rand.NewSource(cfg.Seed))
	drift := cfg.DriftPerDay / 288 // 288 five-minute bars per day

	base := make([]market.Candle, 0, n)
	price := cfg.StartPrice
	for i := 0; i < n; i++ {
		open := price
		ret := drift + cfg.Volatility*rng.NormFloat64()
		price = open * math.Exp(ret)

		wick := cfg.Volatility * rng.Float64()
		high := math.Max(open, price) * (1 + wick)
		low := math.Min(open, price) * (1 - wick)
		volume := 100 * (0.5 + rng.Float64())

		openTime := start.Add(time.Duration(i) * step)
		base = append(base, market.Candle{
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    volume,
			CloseTime: openTime.Add(step),
		})
	}

	return map[market.Timeframe][]market.Candle{
		market.Timeframe5m:  base,
		market.Timeframe15m: aggregate(base, 3),
		market.Timeframe1h:  aggregate(base, 12),
	}, nil
}

// aggregate folds groups of `per` consecutive 5m candles into one larger
// candle, dropping a trailing partial group.
func aggregate(base []market.Candle, per int) []market.Candle {
	out := make([]market.Candle, 0, len(base)/per)
	for i := 0; i+per <= len(base); i += per {
		group := base[i : i+per]
		c := market.Candle{
			OpenTime:  group[0].OpenTime,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[per-1].Close,
			CloseTime: group[per-1].CloseTime,
		}
		for _, g := range group {
			c.High = math.Max(c.High, g.High)
			c.Low = math.Min(c.Low, g.Low)
			c.Volume += g.Volume
		}
		out = append(out, c)
	}
	return out
}
