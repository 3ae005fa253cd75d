//nolint:goconst // Test files use repeated strings for clarity
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getValidConfig returns a valid configuration for testing
func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "backtester",
			Version:     "1.0.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "secure_password",
			Database: "backtester",
			SSLMode:  "disable",
			PoolSize: 10,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			EnableJetStream: false,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Monitoring: MonitoringConfig{
			PrometheusPort: 9100,
			EnableMetrics:  true,
		},
		Candles: CandlesConfig{
			CacheRoot: "./data/candles",
			Timeframe: "1m",
			MaxRetries: 3,
			BatchSize:  1000,
		},
		Portfolio: PortfolioConfig{
			InitialBalanceSOL: 10,
			AllocationMode:    "dynamic",
			PercentPerTrade:   0.10,
			MaxExposure:       1.0,
			MaxOpenPositions:  5,
			ExecutionProfile:  "realistic",
		},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := getValidConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidateApp(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.App.Name = ""
		errs := cfg.validateApp()
		assert.NotEmpty(t, errs)
	})

	t.Run("missing environment", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.App.Environment = ""
		errs := cfg.validateApp()
		assert.NotEmpty(t, errs)
	})

	t.Run("invalid environment", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.App.Environment = "bogus"
		errs := cfg.validateApp()
		assert.NotEmpty(t, errs)
	})

	t.Run("missing log level", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.App.LogLevel = ""
		errs := cfg.validateApp()
		assert.NotEmpty(t, errs)
	})
}

func TestValidateDatabase(t *testing.T) {
	t.Run("missing host", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Database.Host = ""
		assert.NotEmpty(t, cfg.validateDatabase())
	})

	t.Run("invalid port", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Database.Port = 99999
		assert.NotEmpty(t, cfg.validateDatabase())
	})

	t.Run("missing password outside development", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.App.Environment = "staging"
		cfg.Database.Password = ""
		assert.NotEmpty(t, cfg.validateDatabase())
	})

	t.Run("zero pool size", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Database.PoolSize = 0
		assert.NotEmpty(t, cfg.validateDatabase())
	})
}

func TestValidateRedis(t *testing.T) {
	t.Run("missing host", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Redis.Host = ""
		assert.NotEmpty(t, cfg.validateRedis())
	})

	t.Run("invalid port", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Redis.Port = -1
		assert.NotEmpty(t, cfg.validateRedis())
	})
}

func TestValidateNATS(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.NATS.URL = ""
		assert.NotEmpty(t, cfg.validateNATS())
	})

	t.Run("wrong scheme", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.NATS.URL = "http://localhost:4222"
		assert.NotEmpty(t, cfg.validateNATS())
	})
}

func TestValidateAPI(t *testing.T) {
	t.Run("zero port", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.API.Port = 0
		assert.NotEmpty(t, cfg.validateAPI())
	})

	t.Run("out of range port", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.API.Port = 70000
		assert.NotEmpty(t, cfg.validateAPI())
	})
}

func TestValidateCandles(t *testing.T) {
	t.Run("missing timeframe", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Candles.Timeframe = ""
		assert.NotEmpty(t, cfg.validateCandles())
	})

	t.Run("zero batch size", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Candles.BatchSize = 0
		assert.NotEmpty(t, cfg.validateCandles())
	})

	t.Run("negative max retries", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Candles.MaxRetries = -1
		assert.NotEmpty(t, cfg.validateCandles())
	})
}

func TestValidatePortfolio(t *testing.T) {
	t.Run("zero initial balance", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.InitialBalanceSOL = 0
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("invalid allocation mode", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.AllocationMode = "bogus"
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("kelly is a valid allocation mode", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.AllocationMode = "kelly"
		assert.Empty(t, cfg.validatePortfolio())
	})

	t.Run("percent_per_trade out of range", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.PercentPerTrade = 1.5
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("zero max_exposure", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.MaxExposure = 0
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("zero max_open_positions", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.MaxOpenPositions = 0
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("backtest window reversed", func(t *testing.T) {
		cfg := getValidConfig()
		end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		cfg.Portfolio.Backtest.StartAt = &start
		cfg.Portfolio.Backtest.EndAt = &end
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("profit reset enabled with multiple <= 1", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.ProfitResetEnabled = true
		cfg.Portfolio.ProfitResetMultiple = 1.0
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("capacity reset invalid window type", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.CapacityReset.Enabled = true
		cfg.Portfolio.CapacityReset.WindowType = "bogus"
		cfg.Portfolio.CapacityReset.WindowSize = 7
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("capacity reset zero window size", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.CapacityReset.Enabled = true
		cfg.Portfolio.CapacityReset.WindowType = "days"
		cfg.Portfolio.CapacityReset.WindowSize = 0
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("max_hold_minutes zero when set", func(t *testing.T) {
		cfg := getValidConfig()
		zero := 0
		cfg.Portfolio.MaxHoldMinutes = &zero
		assert.NotEmpty(t, cfg.validatePortfolio())
	})

	t.Run("nil max_hold_minutes is fine", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Portfolio.MaxHoldMinutes = nil
		assert.Empty(t, cfg.validatePortfolio())
	})
}

func TestValidateAndLoadReturnsError(t *testing.T) {
	_, err := ValidateAndLoad("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
