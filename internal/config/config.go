package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/quantledger/backtester/internal/candles"
	"github.com/quantledger/backtester/internal/execution"
	"github.com/quantledger/backtester/internal/portfolio"
	"github.com/quantledger/backtester/internal/warndedup"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Candles    CandlesConfig    `mapstructure:"candles"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings, used as the candle cache's L2 layer.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings for the portfolio event bus.
type NATSConfig struct {
	URL             string `mapstructure:"url"`
	EnableJetStream bool   `mapstructure:"enable_jetstream"`
}

// APIConfig contains the run-status / event-streaming HTTP server settings.
type APIConfig struct {
	Host string        `mapstructure:"host"`
	Port int           `mapstructure:"port"`
	Auth APIAuthConfig `mapstructure:"auth"`
}

// APIAuthConfig controls the runs group's API key middleware. Disabled by
// default; see internal/api's AuthMiddleware.
type APIAuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	HeaderName   string `mapstructure:"header_name"`
	RequireHTTPS bool   `mapstructure:"require_https"`
}

// MonitoringConfig contains monitoring settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// CandlesConfig configures the candle fetcher/cache.
type CandlesConfig struct {
	CacheRoot           string  `mapstructure:"cache_root"`
	Timeframe           string  `mapstructure:"timeframe"`
	BaseURL             string  `mapstructure:"base_url"`
	APIKey              string  `mapstructure:"api_key"`
	HTTPTimeoutMS       int     `mapstructure:"http_timeout_ms"`
	PreferCacheIfExists bool    `mapstructure:"prefer_cache_if_exists"`
	MaxRetries          int     `mapstructure:"max_retries"`
	BackoffFactor       float64 `mapstructure:"backoff_factor"`
	InitialWaitMS       int     `mapstructure:"initial_wait_ms"`
	BatchSize           int     `mapstructure:"batch_size"`
}

// ToFetcherConfig converts to internal/candles' own Config shape.
func (c CandlesConfig) ToFetcherConfig() candles.Config {
	return candles.Config{
		CacheRoot:           c.CacheRoot,
		Timeframe:           c.Timeframe,
		BaseURL:             c.BaseURL,
		APIKey:              c.APIKey,
		HTTPTimeout:         time.Duration(c.HTTPTimeoutMS) * time.Millisecond,
		PreferCacheIfExists: c.PreferCacheIfExists,
		MaxRetries:          c.MaxRetries,
		BackoffFactor:       c.BackoffFactor,
		InitialWait:         time.Duration(c.InitialWaitMS) * time.Millisecond,
		BatchSize:           c.BatchSize,
	}
}

// SlippageProfileConfig is the per-leg slippage multiplier breakdown under
// portfolio.fee.profiles.
type SlippageProfileConfig struct {
	Entry       float64 `mapstructure:"entry"`
	ExitTP      float64 `mapstructure:"exit_tp"`
	ExitSL      float64 `mapstructure:"exit_sl"`
	ExitTimeout float64 `mapstructure:"exit_timeout"`
	ExitManual  float64 `mapstructure:"exit_manual"`
}

// FeeConfig is the portfolio.fee section.
type FeeConfig struct {
	SwapFeePct    float64                `mapstructure:"swap_fee_pct"`
	LPFeePct      float64                `mapstructure:"lp_fee_pct"`
	SlippagePct   float64                `mapstructure:"slippage_pct"`
	NetworkFeeSOL float64                `mapstructure:"network_fee_sol"`
	Profiles      *SlippageProfileConfig `mapstructure:"profiles"`
}

// BacktestWindowConfig is the portfolio.backtest section.
type BacktestWindowConfig struct {
	StartAt *time.Time `mapstructure:"start_at"`
	EndAt   *time.Time `mapstructure:"end_at"`
}

// CapacityResetConfig is the portfolio.capacity_reset section.
type CapacityResetConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	WindowType      string  `mapstructure:"window_type"`
	WindowSize      int     `mapstructure:"window_size"`
	MaxBlockedRatio float64 `mapstructure:"max_blocked_ratio"`
	MaxAvgHoldDays  float64 `mapstructure:"max_avg_hold_days"`
}

// PortfolioConfig is the portfolio engine's recognized config surface.
type PortfolioConfig struct {
	InitialBalanceSOL float64              `mapstructure:"initial_balance_sol"`
	AllocationMode    string               `mapstructure:"allocation_mode"`
	PercentPerTrade   float64              `mapstructure:"percent_per_trade"`
	KellyFraction     float64              `mapstructure:"kelly_fraction"`
	MaxExposure       float64              `mapstructure:"max_exposure"`
	MaxOpenPositions  int                  `mapstructure:"max_open_positions"`
	Fee               FeeConfig            `mapstructure:"fee"`
	ExecutionProfile  string               `mapstructure:"execution_profile"`
	Backtest          BacktestWindowConfig `mapstructure:"backtest"`

	ProfitResetEnabled  bool    `mapstructure:"profit_reset_enabled"`
	ProfitResetMultiple float64 `mapstructure:"profit_reset_multiple"`

	// RunnerResetEnabled/RunnerResetMultiple are deprecated aliases kept for
	// backward compatibility; profit_reset_enabled/_multiple win when both
	// are set.
	RunnerResetEnabled  bool    `mapstructure:"runner_reset_enabled"`
	RunnerResetMultiple float64 `mapstructure:"runner_reset_multiple"`

	CapacityReset CapacityResetConfig `mapstructure:"capacity_reset"`

	UseReplayMode     bool    `mapstructure:"use_replay_mode"`
	MaxHoldMinutes    *int    `mapstructure:"max_hold_minutes"`
	ResetGraceMinutes float64 `mapstructure:"reset_grace_minutes"`
}

var deprecationDedup = warndedup.New()

// ToEngineConfig converts to internal/portfolio's Config, resolving the
// deprecated runner_reset_enabled/_multiple aliases and warning once if
// they were used.
func (p PortfolioConfig) ToEngineConfig() portfolio.Config {
	profitEnabled, profitMultiple := p.ProfitResetEnabled, p.ProfitResetMultiple
	if p.RunnerResetEnabled || p.RunnerResetMultiple != 0 {
		deprecationDedup.WarnOnce("portfolio.runner_reset_enabled",
			"config: portfolio.runner_reset_enabled/_multiple are deprecated, use profit_reset_enabled/_multiple")
		if !p.ProfitResetEnabled {
			profitEnabled = p.RunnerResetEnabled
		}
		if p.ProfitResetMultiple == 0 {
			profitMultiple = p.RunnerResetMultiple
		}
	}

	fee := execution.Config{
		SwapFeePct:    p.Fee.SwapFeePct,
		LPFeePct:      p.Fee.LPFeePct,
		SlippagePct:   p.Fee.SlippagePct,
		NetworkFeeSOL: p.Fee.NetworkFeeSOL,
	}
	if p.Fee.Profiles != nil {
		fee.Profile = &execution.SlippageProfile{
			Entry:       p.Fee.Profiles.Entry,
			ExitTP:      p.Fee.Profiles.ExitTP,
			ExitSL:      p.Fee.Profiles.ExitSL,
			ExitTimeout: p.Fee.Profiles.ExitTimeout,
			ExitManual:  p.Fee.Profiles.ExitManual,
		}
	}

	return portfolio.Config{
		InitialBalanceSOL:   p.InitialBalanceSOL,
		AllocationMode:      p.AllocationMode,
		PercentPerTrade:     p.PercentPerTrade,
		KellyFraction:       p.KellyFraction,
		MaxExposure:         p.MaxExposure,
		MaxOpenPositions:    p.MaxOpenPositions,
		BacktestStart:       p.Backtest.StartAt,
		BacktestEnd:         p.Backtest.EndAt,
		Fee:                 fee,
		ExecutionProfile:    p.ExecutionProfile,
		ProfitResetEnabled:  profitEnabled,
		ProfitResetMultiple: profitMultiple,
		RunnerResetEnabled:  p.RunnerResetEnabled,
		RunnerResetMultiple: p.RunnerResetMultiple,
		CapacityReset: portfolio.CapacityResetConfig{
			Enabled:         p.CapacityReset.Enabled,
			WindowType:      p.CapacityReset.WindowType,
			WindowSize:      p.CapacityReset.WindowSize,
			MaxBlockedRatio: p.CapacityReset.MaxBlockedRatio,
			MaxAvgHoldDays:  p.CapacityReset.MaxAvgHoldDays,
		},
		UseReplayMode:     p.UseReplayMode,
		MaxHoldMinutes:    p.MaxHoldMinutes,
		ResetGraceMinutes: p.ResetGraceMinutes,
	}
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("BACKTESTER")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration using comprehensive validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values, matching
// internal/portfolio.DefaultConfig()'s floors.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "backtester")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "backtester")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enable_jetstream", false)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.auth.enabled", false)
	v.SetDefault("api.auth.header_name", "X-API-Key")
	v.SetDefault("api.auth.require_https", true)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Candle fetcher defaults
	v.SetDefault("candles.cache_root", "./data/candles")
	v.SetDefault("candles.timeframe", "1m")
	v.SetDefault("candles.http_timeout_ms", 10000)
	v.SetDefault("candles.prefer_cache_if_exists", true)
	v.SetDefault("candles.max_retries", 3)
	v.SetDefault("candles.backoff_factor", 2.0)
	v.SetDefault("candles.initial_wait_ms", 500)
	v.SetDefault("candles.batch_size", 1000)

	// Portfolio defaults, mirroring internal/portfolio.DefaultConfig()
	v.SetDefault("portfolio.initial_balance_sol", 10.0)
	v.SetDefault("portfolio.allocation_mode", "dynamic")
	v.SetDefault("portfolio.percent_per_trade", 0.10)
	v.SetDefault("portfolio.kelly_fraction", 0.5)
	v.SetDefault("portfolio.max_exposure", 1.0)
	v.SetDefault("portfolio.max_open_positions", 5)
	v.SetDefault("portfolio.fee.swap_fee_pct", 0.0025)
	v.SetDefault("portfolio.fee.lp_fee_pct", 0.0025)
	v.SetDefault("portfolio.fee.slippage_pct", 0.01)
	v.SetDefault("portfolio.fee.network_fee_sol", 0.000005)
	v.SetDefault("portfolio.execution_profile", "realistic")
	v.SetDefault("portfolio.profit_reset_enabled", false)
	v.SetDefault("portfolio.profit_reset_multiple", 0.0)
	v.SetDefault("portfolio.capacity_reset.enabled", false)
	v.SetDefault("portfolio.capacity_reset.window_type", "days")
	v.SetDefault("portfolio.use_replay_mode", false)
	v.SetDefault("portfolio.reset_grace_minutes", 0.0)
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
