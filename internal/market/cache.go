package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/metrics"
)

// Default cache TTLs. Klines go stale almost immediately because the last
// candle is still forming, aux series move on the order of minutes.
const (
	DefaultKlineTTL = 5 * time.Second
	DefaultAuxTTL   = 60 * time.Second
)

// CachedSource wraps a MarketDataSource with Redis read-through caching.
// Cache failures never fail a fetch, they degrade to the underlying source.
type CachedSource struct {
	source   MarketDataSource
	redis    *redis.Client
	klineTTL time.Duration
	auxTTL   time.Duration
}

// NewCachedSource creates a caching layer over source. Zero TTLs fall back
// to the defaults.
func NewCachedSource(source MarketDataSource, redisClient *redis.Client, klineTTL, auxTTL time.Duration) *CachedSource {
	if klineTTL <= 0 {
		klineTTL = DefaultKlineTTL
	}
	if auxTTL <= 0 {
		auxTTL = DefaultAuxTTL
	}
	return &CachedSource{
		source:   source,
		redis:    redisClient,
		klineTTL: klineTTL,
		auxTTL:   auxTTL,
	}
}

// GetKlines fetches klines with caching.
func (c *CachedSource) GetKlines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error) {
	cacheKey := fmt.Sprintf("market:klines:%s:%s:%d", symbol, tf, limit)

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var candles []Candle
		if err := json.Unmarshal([]byte(cached), &candles); err == nil {
			log.Debug().
				Str("symbol", symbol).
				Str("timeframe", string(tf)).
				Str("cache_key", cacheKey).
				Msg("Cache hit for klines")
			metrics.RecordCacheLookup(metrics.FeedKlines, metrics.CacheHit)
			return candles, nil
		}
		log.Warn().Err(err).Msg("Failed to unmarshal cached klines, fetching fresh")
	} else if err != redis.Nil {
		// Log cache errors but continue with the source fetch
		log.Warn().Err(err).Msg("Redis error during cache lookup")
	}

	metrics.RecordCacheLookup(metrics.FeedKlines, metrics.CacheMiss)
	candles, err := c.source.GetKlines(ctx, symbol, tf, limit)
	if err != nil {
		return nil, err
	}

	c.writeBack(cacheKey, candles, c.klineTTL)
	return candles, nil
}

// GetFundingRate fetches the funding rate with caching.
func (c *CachedSource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	cacheKey := fmt.Sprintf("market:funding:%s", symbol)

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var rate float64
		if err := json.Unmarshal([]byte(cached), &rate); err == nil {
			metrics.RecordCacheLookup(metrics.FeedFunding, metrics.CacheHit)
			return rate, nil
		}
		log.Warn().Err(err).Msg("Failed to unmarshal cached funding rate, fetching fresh")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("Redis error during cache lookup")
	}

	metrics.RecordCacheLookup(metrics.FeedFunding, metrics.CacheMiss)
	rate, err := c.source.GetFundingRate(ctx, symbol)
	if err != nil {
		return 0, err
	}

	c.writeBack(cacheKey, rate, c.auxTTL)
	return rate, nil
}

// GetOpenInterest fetches open interest with caching.
func (c *CachedSource) GetOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	cacheKey := fmt.Sprintf("market:oi:%s", symbol)

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var oi OpenInterest
		if err := json.Unmarshal([]byte(cached), &oi); err == nil {
			metrics.RecordCacheLookup(metrics.FeedOpenInterest, metrics.CacheHit)
			return oi, nil
		}
		log.Warn().Err(err).Msg("Failed to unmarshal cached open interest, fetching fresh")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("Redis error during cache lookup")
	}

	metrics.RecordCacheLookup(metrics.FeedOpenInterest, metrics.CacheMiss)
	oi, err := c.source.GetOpenInterest(ctx, symbol)
	if err != nil {
		return OpenInterest{}, err
	}

	c.writeBack(cacheKey, oi, c.auxTTL)
	return oi, nil
}

// GetInstitutionalNetflow fetches netflow with caching.
func (c *CachedSource) GetInstitutionalNetflow(ctx context.Context, symbol string, window time.Duration) (float64, error) {
	cacheKey := fmt.Sprintf("market:netflow:%s:%s", symbol, window)

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var flow float64
		if err := json.Unmarshal([]byte(cached), &flow); err == nil {
			metrics.RecordCacheLookup(metrics.FeedNetflow, metrics.CacheHit)
			return flow, nil
		}
		log.Warn().Err(err).Msg("Failed to unmarshal cached netflow, fetching fresh")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("Redis error during cache lookup")
	}

	metrics.RecordCacheLookup(metrics.FeedNetflow, metrics.CacheMiss)
	flow, err := c.source.GetInstitutionalNetflow(ctx, symbol, window)
	if err != nil {
		return 0, err
	}

	c.writeBack(cacheKey, flow, c.auxTTL)
	return flow, nil
}

// writeBack stores a value in the cache asynchronously so a slow or down
// Redis never blocks the data path.
func (c *CachedSource) writeBack(cacheKey string, value interface{}, ttl time.Duration) {
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(value)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to marshal value for cache")
			return
		}

		if err := c.redis.Set(cacheCtx, cacheKey, data, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("cache_key", cacheKey).Msg("Failed to cache value")
		}
	}()
}

// InvalidateSymbol removes all cached entries for a symbol.
func (c *CachedSource) InvalidateSymbol(ctx context.Context, symbol string) error {
	patterns := []string{
		fmt.Sprintf("market:klines:%s:*", symbol),
		fmt.Sprintf("market:funding:%s", symbol),
		fmt.Sprintf("market:oi:%s", symbol),
		fmt.Sprintf("market:netflow:%s:*", symbol),
	}

	for _, pattern := range patterns {
		iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
				log.Warn().
					Err(err).
					Str("key", iter.Val()).
					Msg("Failed to delete cache key")
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("cache invalidation failed: %w", err)
		}
	}

	log.Info().Str("symbol", symbol).Msg("Cache invalidated")
	return nil
}

// Health checks Redis connectivity.
func (c *CachedSource) Health(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unhealthy: %w", err)
	}
	return nil
}
