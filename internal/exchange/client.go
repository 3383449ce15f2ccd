package exchange

import (
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradepilot/internal/config"
)

// NewFuturesClient creates a Binance USD-M futures client from exchange config.
// Testnet selection is process-global in go-binance, so it is decided here once.
func NewFuturesClient(cfg config.ExchangeConfig) *futures.Client {
	if cfg.Testnet {
		futures.UseTestnet = true
		log.Info().Msg("Binance futures client initialized (TESTNET mode)")
	} else {
		log.Warn().Msg("Binance futures client initialized (LIVE TRADING mode)")
	}
	return futures.NewClient(cfg.APIKey, cfg.SecretKey)
}

// NewLimiter creates the shared request rate limiter for REST calls against
// the exchange. All fetchers of one symbol cycle share a single limiter so
// bursts of parallel kline requests stay inside the API weight budget.
func NewLimiter(cfg config.ExchangeConfig) *rate.Limiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10.0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps) * 2
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
