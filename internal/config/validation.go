package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateCandles()...)
	errors = append(errors, c.validatePortfolio()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "Database port is required",
		})
	} else if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	// Warn about missing password in non-development environments
	if c.Database.Password == "" && c.App.Environment != "development" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in non-development environments",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if c.Redis.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: "Redis port is required",
		})
	} else if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: "API port is required",
		})
	} else if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	return errors
}

func (c *Config) validateCandles() ValidationErrors {
	var errors ValidationErrors

	if c.Candles.Timeframe == "" {
		errors = append(errors, ValidationError{
			Field:   "candles.timeframe",
			Message: "Candle timeframe is required",
		})
	}

	if c.Candles.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "candles.batch_size",
			Message: "Candle batch size must be at least 1",
		})
	}

	if c.Candles.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "candles.max_retries",
			Message: "Candle max_retries must be non-negative",
		})
	}

	return errors
}

func (c *Config) validatePortfolio() ValidationErrors {
	var errors ValidationErrors

	p := c.Portfolio

	if p.InitialBalanceSOL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "portfolio.initial_balance_sol",
			Message: "Initial balance must be greater than 0",
		})
	}

	switch p.AllocationMode {
	case "fixed", "dynamic", "kelly":
	default:
		errors = append(errors, ValidationError{
			Field:   "portfolio.allocation_mode",
			Message: fmt.Sprintf("Invalid allocation_mode '%s'. Must be 'fixed', 'dynamic', or 'kelly'", p.AllocationMode),
		})
	}

	if p.PercentPerTrade <= 0 || p.PercentPerTrade > 1 {
		errors = append(errors, ValidationError{
			Field:   "portfolio.percent_per_trade",
			Message: fmt.Sprintf("Invalid percent_per_trade %.4f. Must be between 0-1", p.PercentPerTrade),
		})
	}

	if p.MaxExposure <= 0 {
		errors = append(errors, ValidationError{
			Field:   "portfolio.max_exposure",
			Message: "max_exposure must be greater than 0",
		})
	}

	if p.MaxOpenPositions < 1 {
		errors = append(errors, ValidationError{
			Field:   "portfolio.max_open_positions",
			Message: "max_open_positions must be at least 1",
		})
	}

	if p.Backtest.StartAt != nil && p.Backtest.EndAt != nil && !p.Backtest.StartAt.Before(*p.Backtest.EndAt) {
		errors = append(errors, ValidationError{
			Field:   "portfolio.backtest",
			Message: "backtest.start_at must be before backtest.end_at",
		})
	}

	if p.ProfitResetEnabled && p.ProfitResetMultiple <= 1 {
		errors = append(errors, ValidationError{
			Field:   "portfolio.profit_reset_multiple",
			Message: "profit_reset_multiple must be greater than 1 when profit_reset_enabled is true",
		})
	}

	if p.CapacityReset.Enabled {
		switch p.CapacityReset.WindowType {
		case "days", "signals":
		default:
			errors = append(errors, ValidationError{
				Field:   "portfolio.capacity_reset.window_type",
				Message: fmt.Sprintf("Invalid window_type '%s'. Must be 'days' or 'signals'", p.CapacityReset.WindowType),
			})
		}
		if p.CapacityReset.WindowSize < 1 {
			errors = append(errors, ValidationError{
				Field:   "portfolio.capacity_reset.window_size",
				Message: "capacity_reset.window_size must be at least 1",
			})
		}
	}

	if p.MaxHoldMinutes != nil && *p.MaxHoldMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "portfolio.max_hold_minutes",
			Message: "max_hold_minutes must be at least 1 when set",
		})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	// Production-specific validations
	if c.App.Environment == "production" {
		// Validate production secrets strength
		secretErrors := ValidateProductionSecrets(c)
		errors = append(errors, secretErrors...)

		// Ensure SSL for database in production
		if c.Database.SSLMode == "disable" {
			errors = append(errors, ValidationError{
				Field:   "database.ssl_mode",
				Message: "SSL must be enabled for database in production",
			})
		}
	}

	// Check critical environment variables
	criticalEnvVars := []string{
		"DATABASE_URL", // Can be constructed from config, but should be set
	}

	for _, envVar := range criticalEnvVars {
		if os.Getenv(envVar) == "" && c.App.Environment == "production" {
			// DATABASE_URL is optional if database config is complete
			if envVar == "DATABASE_URL" {
				if c.Database.Host != "" && c.Database.Database != "" {
					continue
				}
			}

			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("env.%s", envVar),
				Message: fmt.Sprintf("Environment variable %s is required in production", envVar),
			})
		}
	}

	return errors
}

// ValidateAndLoad loads and validates configuration
// Returns the loaded config and any validation errors
// configPath can be empty to use default config locations
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
