package candles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCacheConfig controls the optional read-through Redis layer in front
// of the on-disk cache. Disabled by default so filesystem-only behavior is
// preserved when Redis is absent.
type RedisCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// DefaultRedisCacheConfig returns the disabled default.
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{Enabled: false, TTL: 10 * time.Minute}
}

// RedisFrontedFetcher wraps a Fetcher with a read-through Redis cache keyed
// on (contract, timeframe, start, end). A hit short-circuits the filesystem
// probe entirely; a miss falls through to the wrapped Fetcher's resolution
// algorithm and populates Redis with the resolved slice.
type RedisFrontedFetcher struct {
	inner  *Fetcher
	client *redis.Client
	cfg    RedisCacheConfig
}

// NewRedisFrontedFetcher wraps fetcher. When cfg.Enabled is false the
// wrapper's LoadPrices defers every call to fetcher without touching Redis.
func NewRedisFrontedFetcher(fetcher *Fetcher, client *redis.Client, cfg RedisCacheConfig) *RedisFrontedFetcher {
	return &RedisFrontedFetcher{inner: fetcher, client: client, cfg: cfg}
}

func redisCacheKey(contract, timeframe string, start, end time.Time) string {
	return fmt.Sprintf("candles:%s:%s:%d:%d", contract, timeframe, start.Unix(), end.Unix())
}

// LoadPrices checks Redis first when enabled, otherwise defers entirely to
// the wrapped Fetcher.
func (r *RedisFrontedFetcher) LoadPrices(ctx context.Context, contract string, start, end time.Time) (Series, error) {
	if !r.cfg.Enabled || r.client == nil {
		return r.inner.LoadPrices(ctx, contract, start, end)
	}

	key := redisCacheKey(contract, r.inner.cfg.Timeframe, start, end)

	cached, err := r.client.Get(ctx, key).Result()
	if err == nil {
		var series Series
		if err := json.Unmarshal([]byte(cached), &series); err == nil {
			log.Debug().Str("contract", contract).Str("cache_key", key).Msg("candles: redis cache hit")
			return series, nil
		}
		log.Warn().Err(err).Str("cache_key", key).Msg("candles: failed to unmarshal redis-cached series, falling through")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("candles: redis error during cache lookup, falling through")
	}

	series, err := r.inner.LoadPrices(ctx, contract, start, end)
	if err != nil {
		return nil, err
	}

	go func() {
		setCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(series)
		if err != nil {
			log.Warn().Err(err).Msg("candles: failed to marshal series for redis cache")
			return
		}
		if err := r.client.Set(setCtx, key, data, r.cfg.TTL).Err(); err != nil {
			log.Warn().Err(err).Msg("candles: failed to populate redis cache")
		}
	}()

	return series, nil
}

// Snapshot delegates to the wrapped Fetcher's instrumentation.
func (r *RedisFrontedFetcher) Snapshot() Stats {
	return r.inner.Snapshot()
}
