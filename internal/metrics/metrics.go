package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. These keep label sets
// small and known in advance rather than letting free-form strings leak
// into Prometheus series.
const (
	// Circuit breaker / reset reasons (bounded set)
	ReasonMaxDrawdown    = "max_drawdown"
	ReasonHighVolatility = "high_volatility"
	ReasonRateLimit      = "rate_limit"
	ReasonManualHalt     = "manual_halt"
	ReasonOther          = "other"

	// Run validation failure reasons (bounded set)
	ValidationReasonSchemaInvalid   = "schema_invalid"
	ValidationReasonFieldMissing    = "field_missing"
	ValidationReasonValueOutOfRange = "value_out_of_range"
	ValidationReasonOther           = "other"
)

// NormalizeCircuitBreakerReason maps arbitrary reasons to a bounded set.
func NormalizeCircuitBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "drawdown"):
		return ReasonMaxDrawdown
	case strings.Contains(lower, "volatility"):
		return ReasonHighVolatility
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// NormalizeValidationReason maps arbitrary run-validation failures to a
// bounded set.
func NormalizeValidationReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "schema") || strings.Contains(lower, "version"):
		return ValidationReasonSchemaInvalid
	case strings.Contains(lower, "missing") || strings.Contains(lower, "required"):
		return ValidationReasonFieldMissing
	case strings.Contains(lower, "range") || strings.Contains(lower, "value") || strings.Contains(lower, "invalid"):
		return ValidationReasonValueOutOfRange
	default:
		return ValidationReasonOther
	}
}

// Portfolio replay metrics
var (
	// PortfolioTradesSkippedByRisk counts executions the engine skipped
	// because of an active risk-based reset.
	PortfolioTradesSkippedByRisk = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_portfolio_trades_skipped_by_risk_total",
		Help: "Total trades skipped because of an active risk-based portfolio reset",
	})

	// PortfolioTradesSkippedByResetCap counts executions skipped because
	// a capacity reset trigger had fired.
	PortfolioTradesSkippedByResetCap = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_portfolio_trades_skipped_by_reset_total",
		Help: "Total trades skipped because a capacity reset trigger had fired",
	})

	// PortfolioResetCount counts portfolio resets triggered during a run.
	PortfolioResetCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_portfolio_reset_total",
		Help: "Total portfolio resets by reason",
	}, []string{"reason"})

	// PortfolioFinalBalance records the ending balance of the most
	// recently completed run.
	PortfolioFinalBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_portfolio_final_balance_sol",
		Help: "Final balance in SOL of the most recently completed run",
	})

	// PortfolioMaxDrawdown records the max drawdown of the most recently
	// completed run.
	PortfolioMaxDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_portfolio_max_drawdown_ratio",
		Help: "Maximum drawdown ratio (0.0 to 1.0) of the most recently completed run",
	})

	// PortfolioTradesExecuted counts executed trades across all runs.
	PortfolioTradesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_portfolio_trades_executed_total",
		Help: "Total trades executed across all runs",
	})
)

// Selection / stability pipeline metrics
var (
	// SelectionPassRate records the fraction of strategies passing
	// selection per run.
	SelectionPassRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backtester_selection_pass_rate",
		Help: "Fraction of strategies passing selection, by strategy",
	}, []string{"strategy"})

	// StabilityRejectedWindows counts windows rejected by the level-shape
	// boundary check.
	StabilityRejectedWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_stability_rejected_windows_total",
		Help: "Total stability windows rejected by the level-shape boundary check",
	})
)

// Rate limiter metrics
var (
	// RateLimiterBlockedEvents counts requests the candle fetcher's rate
	// limiter blocked.
	RateLimiterBlockedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_ratelimiter_blocked_events_total",
		Help: "Total requests blocked by the rate limiter, by source",
	}, []string{"source"})

	// RateLimiterTotalWaitSeconds accumulates time spent waiting on the
	// rate limiter.
	RateLimiterTotalWaitSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_ratelimiter_total_wait_seconds_total",
		Help: "Total seconds spent waiting on the rate limiter, by source",
	}, []string{"source"})
)

// Job / run lifecycle metrics
var (
	// JobsCreated counts runs submitted.
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_jobs_created_total",
		Help: "Total backtest runs created",
	})

	// JobsCompleted counts runs by terminal status.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_jobs_completed_total",
		Help: "Total backtest runs reaching a terminal status, by status",
	}, []string{"status"})

	// ActiveRuns tracks runs currently in the running state.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_active_runs",
		Help: "Number of runs currently executing",
	})
)

// Candle fetch / cache metrics
var (
	// CandleCacheHits counts filesystem/redis cache hits vs misses.
	CandleCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_candle_cache_hits_total",
		Help: "Total candle cache lookups by layer and result",
	}, []string{"layer", "result"})

	// CandleFetchDuration records upstream DEX API fetch latency.
	CandleFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtester_candle_fetch_duration_ms",
		Help:    "Upstream candle fetch duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

// Ambient infrastructure metrics (db, redis, NATS, circuit breaker, API)
var (
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_database_connections_idle",
		Help: "Number of idle database connections",
	})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtester_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtester_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtester_nats_messages_published_total",
		Help: "Total number of NATS messages published",
	})

	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backtester_circuit_breaker_status",
		Help: "Circuit breaker status (1 = active/tripped, 0 = inactive)",
	}, []string{"breaker_type"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	}, []string{"breaker_type", "reason"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtester_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtester_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})
)

// Helper functions to update metrics

// UpdateDatabaseConnections updates database connection pool gauges.
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordAPIRequest records an API request with duration.
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error.
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query.
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordRedisOperation records a Redis operation.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// UpdateCircuitBreaker updates circuit breaker status.
func UpdateCircuitBreaker(breakerType string, active bool) {
	status := 0.0
	if active {
		status = 1.0
	}
	CircuitBreakerStatus.WithLabelValues(breakerType).Set(status)
}

// RecordCircuitBreakerTrip records a circuit breaker trip with normalized reason.
func RecordCircuitBreakerTrip(breakerType, reason string) {
	normalizedReason := NormalizeCircuitBreakerReason(reason)
	CircuitBreakerTrips.WithLabelValues(breakerType, normalizedReason).Inc()
}

// RecordPortfolioReset records a portfolio reset with normalized reason.
func RecordPortfolioReset(reason string) {
	PortfolioResetCount.WithLabelValues(NormalizeCircuitBreakerReason(reason)).Inc()
}

// RecordRunCreated records a new run submission.
func RecordRunCreated() {
	JobsCreated.Inc()
	ActiveRuns.Inc()
}

// RecordRunCompleted records a run reaching a terminal status.
func RecordRunCompleted(status string) {
	JobsCompleted.WithLabelValues(status).Inc()
	ActiveRuns.Dec()
}

// RecordCandleCacheLookup records a candle cache hit or miss by layer.
func RecordCandleCacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CandleCacheHits.WithLabelValues(layer, result).Inc()
}

// RecordRateLimiterBlock records a rate limiter block and the time spent
// waiting for the source that triggered it.
func RecordRateLimiterBlock(source string, waitSeconds float64) {
	RateLimiterBlockedEvents.WithLabelValues(source).Inc()
	RateLimiterTotalWaitSeconds.WithLabelValues(source).Add(waitSeconds)
}
