package candles

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantledger/backtester/internal/ratelimit"
	"github.com/quantledger/backtester/internal/warndedup"
)

type fakePoolSource struct {
	pools []Pool
	err   error
}

func (f *fakePoolSource) Pools(ctx context.Context, contract string) ([]Pool, error) {
	return f.pools, f.err
}

type page struct {
	candles []Candle
}

type fakeCandleSource struct {
	pages    []page
	call     int
	statuses []*httpStatusError // optional per-call status override
}

func (f *fakeCandleSource) FetchPage(ctx context.Context, contract, poolAddress string, before time.Time, limit int) ([]Candle, *httpStatusError, error) {
	if f.statuses != nil && f.call < len(f.statuses) && f.statuses[f.call] != nil {
		s := f.statuses[f.call]
		f.call++
		return nil, s, nil
	}
	if f.call >= len(f.pages) {
		f.call++
		return nil, nil, nil
	}
	p := f.pages[f.call]
	f.call++
	return p.candles, nil, nil
}

func newTestFetcher(cfg Config, pools PoolSource, source CandleSource) *Fetcher {
	limiter := ratelimit.New(ratelimit.Config{MaxCalls: 1000, PeriodSeconds: 1})
	dedup := warndedup.New()
	return NewFetcher(cfg, pools, source, limiter, dedup)
}

func TestLoadPricesFetchesAndCachesWhenNoCoverage(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.CacheRoot = root

	pools := &fakePoolSource{pools: []Pool{{Address: "p1", ReserveInUSD: 100}}}
	source := &fakeCandleSource{pages: []page{
		{candles: []Candle{mkCandle(300, 3), mkCandle(200, 2), mkCandle(100, 1)}},
		{candles: nil},
	}}

	f := newTestFetcher(cfg, pools, source)

	start := time.Unix(100, 0).UTC()
	end := time.Unix(300, 0).UTC()
	series, err := f.LoadPrices(context.Background(), "tokenX", start, end)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, 1.0, series[0].Close)
	assert.Equal(t, 3.0, series[2].Close)

	cached, hit, err := loadFromCache(root, cfg.Timeframe, "tokenX")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, cached, 3)
}

func TestLoadPricesPreferCacheReturnsPartialWithoutNetworkCall(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, saveToCache(root, "1m", "tokenX", Series{mkCandle(200, 2), mkCandle(300, 3)}))

	cfg := DefaultConfig()
	cfg.CacheRoot = root
	cfg.PreferCacheIfExists = true

	source := &fakeCandleSource{} // would panic-equivalent if called: returns empty pages only
	f := newTestFetcher(cfg, &fakePoolSource{}, source)

	start := time.Unix(100, 0).UTC()
	end := time.Unix(300, 0).UTC()
	series, err := f.LoadPrices(context.Background(), "tokenX", start, end)
	require.NoError(t, err)
	assert.Len(t, series, 2)
	assert.Equal(t, 0, source.call, "prefer_cache_if_exists must never call the network")
}

func TestLoadPricesLegacyModeReturnsCacheWhenCoverageSufficient(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, saveToCache(root, "1m", "tokenX", Series{mkCandle(100, 1), mkCandle(200, 2), mkCandle(300, 3)}))

	cfg := DefaultConfig()
	cfg.CacheRoot = root
	cfg.PreferCacheIfExists = false

	source := &fakeCandleSource{}
	f := newTestFetcher(cfg, &fakePoolSource{}, source)

	series, err := f.LoadPrices(context.Background(), "tokenX", time.Unix(100, 0).UTC(), time.Unix(200, 0).UTC())
	require.NoError(t, err)
	assert.Len(t, series, 2)
	assert.Equal(t, 0, source.call)
}

func TestFetchFallsBackToCacheOn404(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, saveToCache(root, "1m", "tokenX", Series{mkCandle(100, 1)}))

	cfg := DefaultConfig()
	cfg.CacheRoot = root
	cfg.MaxRetries = 1

	source := &fakeCandleSource{statuses: []*httpStatusError{{StatusCode: http.StatusNotFound}}}
	f := newTestFetcher(cfg, &fakePoolSource{pools: []Pool{{Address: "p1"}}}, source)

	series, err := f.LoadPrices(context.Background(), "tokenX", time.Unix(100, 0).UTC(), time.Unix(500, 0).UTC())
	require.NoError(t, err)
	require.Len(t, series, 1)
}

func TestFetchOn429FailModeReturnsRateLimitError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheRoot = t.TempDir()
	cfg.On429 = On429Fail

	source := &fakeCandleSource{statuses: []*httpStatusError{{StatusCode: http.StatusTooManyRequests}}}
	f := newTestFetcher(cfg, &fakePoolSource{pools: []Pool{{Address: "p1"}}}, source)

	_, err := f.LoadPrices(context.Background(), "tokenX", time.Unix(100, 0).UTC(), time.Unix(500, 0).UTC())
	require.Error(t, err)
	var rlErr *RateLimitExceededError
	assert.ErrorAs(t, err, &rlErr)

	stats := f.Snapshot()
	assert.Equal(t, 1, stats.RateLimitFailures)
	assert.Equal(t, 1, stats.HTTP429)
}

func TestSnapshotReportsInstrumentation(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.CacheRoot = root

	pools := &fakePoolSource{pools: []Pool{{Address: "p1"}}}
	source := &fakeCandleSource{pages: []page{
		{candles: []Candle{mkCandle(100, 1)}},
	}}
	f := newTestFetcher(cfg, pools, source)

	_, err := f.LoadPrices(context.Background(), "tokenX", time.Unix(100, 0).UTC(), time.Unix(200, 0).UTC())
	require.NoError(t, err)

	stats := f.Snapshot()
	assert.Equal(t, On429Wait, stats.ModeOn429)
	assert.GreaterOrEqual(t, stats.TotalRequests, 1)
}
