package candles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/quantledger/backtester/internal/ratelimit"
	"github.com/quantledger/backtester/internal/warndedup"
)

// On429 selects the fetcher's behavior when the upstream source rate-limits
// a request.
type On429 string

const (
	On429Wait On429 = "wait"
	On429Fail On429 = "fail"
)

// RateLimitExceededError is raised in On429Fail mode; no retry is attempted.
type RateLimitExceededError struct {
	Contract string
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("candles: rate limit exceeded fetching %s (on_429=fail)", e.Contract)
}

const maxPaginationBatches = 1000

// Config configures a Fetcher.
type Config struct {
	CacheRoot          string
	Timeframe          string
	BaseURL            string
	APIKey             string
	HTTPTimeout        time.Duration
	PreferCacheIfExists bool

	MaxRetries    int
	BackoffFactor float64
	InitialWait   time.Duration

	On429 On429

	BatchSize int // candles per page, default 1000
}

// DefaultConfig fills in the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Timeframe:     "1m",
		HTTPTimeout:   10 * time.Second,
		MaxRetries:    3,
		BackoffFactor: 2.0,
		InitialWait:   2 * time.Second,
		On429:         On429Wait,
		BatchSize:     1000,
	}
}

// Stats is the instrumentation snapshot the loader reports at the end of a
// run.
type Stats struct {
	TotalRequests     int
	HTTP429           int
	RateLimitFailures int
	ModeOn429         On429
	BlockedEvents     int
	TotalWaitSeconds  float64
}

// PoolSource is queried for a contract's candidate liquidity pools. It is
// satisfied by the live HTTP pool-discovery endpoint in production and by a
// fixture in tests.
type PoolSource interface {
	Pools(ctx context.Context, contract string) ([]Pool, error)
}

// CandleSource fetches a page of candles for a (contract, pool) pair ending
// at beforeTimestamp. It is the seam mocked in fetcher tests.
type CandleSource interface {
	FetchPage(ctx context.Context, contract, poolAddress string, beforeTimestamp time.Time, limit int) ([]Candle, *httpStatusError, error)
}

// httpStatusError carries the HTTP status code of a failed request so the
// retry envelope can classify it.
type httpStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("candles: upstream returned status %d: %v", e.StatusCode, e.Err)
}

// Fetcher implements the rate-limited, cache-aware candle loader.
type Fetcher struct {
	cfg     Config
	pools   PoolSource
	source  CandleSource
	limiter *ratelimit.Limiter
	dedup   *warndedup.Dedup
	breaker *gobreaker.CircuitBreaker

	mu                sync.Mutex
	totalRequests     int
	http429           int
	rateLimitFailures int
}

// NewFetcher constructs a Fetcher. limiter and dedup are shared across all
// concurrent signal processors, per the concurrency model's "no hidden
// singletons" rule.
func NewFetcher(cfg Config, pools PoolSource, source CandleSource, limiter *ratelimit.Limiter, dedup *warndedup.Dedup) *Fetcher {
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxPaginationBatches {
		cfg.BatchSize = maxPaginationBatches
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "candles-source",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("candles: circuit breaker state change")
		},
	})
	return &Fetcher{cfg: cfg, pools: pools, source: source, limiter: limiter, dedup: dedup, breaker: breaker}
}

// LoadPrices implements the §4.A resolution algorithm: probe both cache
// layouts, honor prefer_cache_if_exists, otherwise fetch and union with
// cache.
func (f *Fetcher) LoadPrices(ctx context.Context, contract string, start, end time.Time) (Series, error) {
	cached, hit, err := loadFromCache(f.cfg.CacheRoot, f.cfg.Timeframe, contract)
	if err != nil {
		return nil, err
	}

	if hit && f.cfg.PreferCacheIfExists {
		slice := cached.Slice(start, end)
		if !cached.Covers(start, end) {
			min, max, _ := cached.Bounds()
			f.dedup.WarnOnce(
				"partial_cache:"+contract,
				fmt.Sprintf("candles: %s cache covers [%s,%s], requested [%s,%s]; returning partial slice, no network call in prefer_cache_if_exists mode", contract, min, max, start, end),
			)
		}
		return slice, nil
	}

	if hit && cached.Covers(start, end) {
		return cached.Slice(start, end), nil
	}

	fetched, err := f.fetchRange(ctx, contract, start, end)
	if err != nil {
		if hit {
			log.Warn().Err(err).Str("contract", contract).Msg("candles: fetch failed, falling back to cached slice")
			return cached.Slice(start, end), nil
		}
		return nil, err
	}

	merged := Union(cached, fetched)
	if err := saveToCache(f.cfg.CacheRoot, f.cfg.Timeframe, contract, merged); err != nil {
		log.Warn().Err(err).Str("contract", contract).Msg("candles: failed to persist cache")
	}
	return merged.Slice(start, end), nil
}

// fetchRange selects a pool and paginates backward from end until start is
// covered, a hard limit is hit, or the source signals exhaustion.
func (f *Fetcher) fetchRange(ctx context.Context, contract string, start, end time.Time) (Series, error) {
	pools, err := f.pools.Pools(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("candles: pool discovery failed for %s: %w", contract, err)
	}
	pool, err := SelectPool(pools)
	if err != nil {
		return nil, err
	}

	var all []Candle
	seen := make(map[int64]struct{})
	before := end

	for batch := 0; batch < maxPaginationBatches; batch++ {
		page, err := f.fetchPageWithPolicy(ctx, contract, pool.Address, before)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		newCount := 0
		earliest := page[0].Timestamp
		for _, c := range page {
			key := c.Timestamp.Unix()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, c)
			newCount++
			if c.Timestamp.Before(earliest) {
				earliest = c.Timestamp
			}
		}

		if newCount == 0 {
			break
		}
		if !earliest.After(start) {
			break
		}
		before = earliest
	}

	return SortAndDedup(all), nil
}

// fetchPageWithPolicy acquires a rate-limit token, applies the retry
// envelope and 429 policy, and calls through the circuit breaker.
func (f *Fetcher) fetchPageWithPolicy(ctx context.Context, contract, poolAddress string, before time.Time) ([]Candle, error) {
	backoff := f.cfg.InitialWait
	var lastErr error

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.totalRequests++
		f.mu.Unlock()

		result, err := f.breaker.Execute(func() (interface{}, error) {
			page, statusErr, callErr := f.source.FetchPage(ctx, contract, poolAddress, before, f.cfg.BatchSize)
			if callErr != nil {
				return nil, callErr
			}
			if statusErr != nil {
				return nil, statusErr
			}
			return page, nil
		})

		if err == nil {
			return result.([]Candle), nil
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, err
		}

		if statusErr, ok := err.(*httpStatusError); ok && statusErr.StatusCode == http.StatusTooManyRequests {
			f.mu.Lock()
			f.http429++
			f.mu.Unlock()

			if f.cfg.On429 == On429Fail {
				f.mu.Lock()
				f.rateLimitFailures++
				f.mu.Unlock()
				return nil, &RateLimitExceededError{Contract: contract}
			}

			wait := statusErr.RetryAfter
			if wait <= 0 {
				wait = backoff
			}
			log.Warn().Str("contract", contract).Dur("wait", wait).Int("attempt", attempt+1).Msg("candles: 429, waiting before retry")
			if err := sleepOrCancel(ctx, wait); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff, f.cfg.BackoffFactor)
			continue
		}

		if statusErr, ok := err.(*httpStatusError); ok && !isRetryableStatus(statusErr.StatusCode) {
			if statusErr.StatusCode == http.StatusNotFound {
				return nil, err
			}
			return nil, err
		}

		if attempt == f.cfg.MaxRetries {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Str("contract", contract).Msg("candles: transient fetch error, retrying")
		if err := sleepOrCancel(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = nextBackoff(backoff, f.cfg.BackoffFactor)
	}

	return nil, fmt.Errorf("candles: fetch failed for %s after %d attempts: %w", contract, f.cfg.MaxRetries+1, lastErr)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func nextBackoff(cur time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(cur) * factor)
	if next < cur {
		return cur
	}
	return next
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the instrumentation report described in §4.A.
func (f *Fetcher) Snapshot() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	rl := f.limiter.Snapshot()
	return Stats{
		TotalRequests:     f.totalRequests,
		HTTP429:           f.http429,
		RateLimitFailures: f.rateLimitFailures,
		ModeOn429:         f.cfg.On429,
		BlockedEvents:     rl.BlockedEvents,
		TotalWaitSeconds:  rl.TotalWaitSeconds,
	}
}

// httpPoolSource and httpCandleSource are the production implementations of
// PoolSource/CandleSource, talking to the configured DEX data API over HTTP.
type httpPoolSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPPoolSource builds a PoolSource backed by the live HTTP API.
func NewHTTPPoolSource(cfg Config) PoolSource {
	return &httpPoolSource{
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// poolsResponse mirrors GeckoTerminal's `GET /networks/solana/tokens/{address}/pools`
// shape: a top-level "data" array of JSON:API-style resources, each carrying
// its fields under "attributes". reserve_in_usd arrives as a decimal string.
type poolsResponse struct {
	Data []struct {
		Attributes struct {
			Address      string `json:"address"`
			Name         string `json:"name"`
			ReserveInUSD string `json:"reserve_in_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

func (s *httpPoolSource) Pools(ctx context.Context, contract string) ([]Pool, error) {
	u := fmt.Sprintf("%s/tokens/%s/pools", s.baseURL, contract)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candles: pool discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", string(body))}
	}

	var parsed poolsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("candles: decode pools response: %w", err)
	}

	out := make([]Pool, len(parsed.Data))
	for i, p := range parsed.Data {
		reserve, _ := strconv.ParseFloat(p.Attributes.ReserveInUSD, 64)
		out[i] = Pool{Address: p.Attributes.Address, Name: p.Attributes.Name, ReserveInUSD: reserve, Declared: i}
	}
	return out, nil
}

type httpCandleSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPCandleSource builds a CandleSource backed by the live HTTP API.
func NewHTTPCandleSource(cfg Config) CandleSource {
	return &httpCandleSource{
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// candlesResponse mirrors GeckoTerminal's `GET /networks/solana/pools/{pool}/ohlcv/{timeframe}`
// shape: a single "data" resource whose attributes carry ohlcv_list, an
// array of [unix_ts, open, high, low, close, volume] tuples.
type candlesResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]float64 `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}

func (s *httpCandleSource) FetchPage(ctx context.Context, contract, poolAddress string, before time.Time, limit int) ([]Candle, *httpStatusError, error) {
	q := url.Values{}
	q.Set("pool", poolAddress)
	q.Set("before_timestamp", strconv.FormatInt(before.Unix(), 10))
	q.Set("limit", strconv.Itoa(limit))

	u := fmt.Sprintf("%s/tokens/%s/ohlcv?%s", s.baseURL, contract, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("candles: ohlcv request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, RetryAfter: retryAfter, Err: fmt.Errorf("%s", string(body))}, nil
	}

	var parsed candlesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("candles: decode ohlcv response: %w", err)
	}

	ohlcv := parsed.Data.Attributes.OHLCVList
	out := make([]Candle, 0, len(ohlcv))
	for _, row := range ohlcv {
		if len(row) < 6 {
			continue
		}
		out = append(out, Candle{
			Timestamp: time.Unix(int64(row[0]), 0).UTC(),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
		})
	}
	return out, nil, nil
}
