package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ValidatorOptions contains options for configuration validation
type ValidatorOptions struct {
	VerifyConnectivity bool // Check database/Redis connectivity
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		Timeout:            5 * time.Second,
	}
}

// Validator handles configuration validation at startup
type Validator struct {
	config  *Config
	options ValidatorOptions
}

// NewValidator creates a new configuration validator
func NewValidator(config *Config, options ValidatorOptions) *Validator {
	return &Validator{
		config:  config,
		options: options,
	}
}

// ValidateStartup performs comprehensive startup validation
// This should be called before starting any services
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Info().Msg("Validating configuration...")

	// Step 0: Check production environment requirements
	if err := v.validateProductionRequirements(); err != nil {
		return fmt.Errorf("production requirements validation failed: %w", err)
	}

	// Step 1: Validate required environment variables
	if err := v.validateEnvironmentVariables(); err != nil {
		return fmt.Errorf("environment variable validation failed: %w", err)
	}

	// Step 2: Check database connectivity (if enabled)
	if v.options.VerifyConnectivity {
		if err := v.checkDatabaseConnectivity(ctx); err != nil {
			return fmt.Errorf("database connectivity check failed: %w", err)
		}
	}

	// Step 3: Check Redis connectivity (if enabled)
	if v.options.VerifyConnectivity {
		if err := v.checkRedisConnectivity(ctx); err != nil {
			return fmt.Errorf("redis connectivity check failed: %w", err)
		}
	}

	log.Info().Msg("Configuration validation completed successfully")
	return nil
}

// validateProductionRequirements checks production-specific security requirements
func (v *Validator) validateProductionRequirements() error {
	appEnv := strings.ToLower(os.Getenv("BACKTESTER_APP_ENVIRONMENT"))
	isProduction := appEnv == "production" || appEnv == "prod"

	if !isProduction {
		log.Info().Str("environment", appEnv).Msg("Non-production environment detected, skipping production requirements")
		return nil
	}

	log.Info().Msg("Production environment detected - enforcing production security requirements")

	var errors []string

	// 1. Vault must be enabled in production
	vaultEnabled := strings.ToLower(os.Getenv("VAULT_ENABLED"))
	if vaultEnabled != "true" && vaultEnabled != "1" {
		errors = append(errors, "Vault must be enabled in production (set VAULT_ENABLED=true)")
	}

	// 2. Check that Vault configuration is provided
	if vaultEnabled == "true" || vaultEnabled == "1" {
		vaultAddr := os.Getenv("VAULT_ADDR")
		if vaultAddr == "" {
			errors = append(errors, "VAULT_ADDR must be set when Vault is enabled")
		}
		vaultToken := os.Getenv("VAULT_TOKEN")
		if vaultToken == "" {
			errors = append(errors, "VAULT_TOKEN must be set when Vault is enabled")
		}
	}

	// 3. TLS/SSL must be enforced for database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		if strings.Contains(databaseURL, "sslmode=disable") {
			errors = append(errors, "Database SSL cannot be disabled in production (sslmode=disable found in DATABASE_URL)")
		}
		if !strings.Contains(databaseURL, "sslmode=") {
			errors = append(errors, "Database SSL mode must be explicitly set in production (add sslmode=require to DATABASE_URL)")
		}
	}

	// 4. TLS/SSL must be enforced for Redis
	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		if strings.HasPrefix(redisURL, "redis://") && !strings.HasPrefix(redisURL, "rediss://") {
			errors = append(errors, "Redis TLS must be enabled in production (use rediss:// instead of redis://)")
		}
	}

	// 5. API key auth secret must not be a placeholder
	apiKeySecret := os.Getenv("API_KEY_SECRET")
	if apiKeySecret != "" && isPlaceholderValue(apiKeySecret) {
		errors = append(errors, "API_KEY_SECRET cannot be a placeholder value in production")
	}
	if apiKeySecret != "" && len(apiKeySecret) < 32 {
		errors = append(errors, "API_KEY_SECRET must be at least 32 characters in production")
	}

	// 6. Default credentials check
	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword != "" && isPlaceholderValue(postgresPassword) {
		errors = append(errors, "POSTGRES_PASSWORD cannot be a placeholder value in production")
	}

	grafanaPassword := os.Getenv("GRAFANA_ADMIN_PASSWORD")
	if grafanaPassword != "" && isPlaceholderValue(grafanaPassword) {
		errors = append(errors, "GRAFANA_ADMIN_PASSWORD cannot be a placeholder value in production")
	}

	if len(errors) > 0 {
		var errMsg strings.Builder
		errMsg.WriteString("\n==========================================================\n")
		errMsg.WriteString("PRODUCTION SECURITY REQUIREMENTS NOT MET\n")
		errMsg.WriteString("==========================================================\n\n")
		errMsg.WriteString("The following production security requirements must be addressed:\n\n")
		for i, err := range errors {
			errMsg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err))
		}
		errMsg.WriteString("\n")
		errMsg.WriteString("Production deployment cannot proceed until these issues are resolved.\n")
		errMsg.WriteString("==========================================================\n")
		return fmt.Errorf("%s", errMsg.String())
	}

	log.Info().Msg("Production security requirements validated successfully")
	return nil
}

// validateEnvironmentVariables checks that required environment variables are set
func (v *Validator) validateEnvironmentVariables() error {
	requiredVars := make(map[string]string)

	// Database connection (can be DATABASE_URL or individual components)
	if os.Getenv("DATABASE_URL") == "" && v.config.Database.Host == "" {
		requiredVars["DATABASE_HOST or DATABASE_URL"] = "Database host is not configured"
	}

	// Redis connection
	if v.config.Redis.Host == "" {
		requiredVars["REDIS_URL or REDIS_HOST"] = "Redis host is not configured"
	}

	// NATS connection
	if v.config.NATS.URL == "" {
		requiredVars["NATS_URL"] = "NATS URL is not configured"
	}

	if len(requiredVars) > 0 {
		var errMsg strings.Builder
		errMsg.WriteString("Required environment variables are missing:\n\n")
		for varName, description := range requiredVars {
			errMsg.WriteString(fmt.Sprintf("  - %s: %s\n", varName, description))
		}
		errMsg.WriteString("\nPlease set these environment variables and try again.\n")
		return fmt.Errorf("%s", errMsg.String())
	}

	log.Info().Msg("Environment variables validation passed")
	return nil
}

// checkDatabaseConnectivity tests database connection with timeout
func (v *Validator) checkDatabaseConnectivity(ctx context.Context) error {
	log.Info().Msg("Checking database connectivity...")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	var connString string
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		connString = dbURL
	} else {
		connString = v.config.Database.GetDSN()
	}

	pool, err := pgxpool.New(connCtx, connString)
	if err != nil {
		return fmt.Errorf("failed to create database connection pool: %w\n\nPlease check:\n  - Database is running\n  - Connection details are correct\n  - Network connectivity is available", err)
	}
	defer pool.Close()

	if err := pool.Ping(connCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w\n\nPlease check:\n  - Database is running and accepting connections\n  - Credentials are correct\n  - Network connectivity is available", err)
	}

	var dbName string
	if err := pool.QueryRow(connCtx, "SELECT current_database()").Scan(&dbName); err != nil {
		return fmt.Errorf("failed to verify database: %w", err)
	}

	log.Info().
		Str("database", dbName).
		Str("host", v.config.Database.Host).
		Int("port", v.config.Database.Port).
		Msg("Database connectivity check passed")

	return nil
}

// checkRedisConnectivity tests Redis connection with timeout
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	log.Info().Msg("Checking Redis connectivity...")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     v.config.Redis.GetRedisAddr(),
		Password: v.config.Redis.Password,
		DB:       v.config.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w\n\nPlease check:\n  - Redis is running and accepting connections\n  - Connection details are correct\n  - Network connectivity is available", err)
	}

	log.Info().
		Str("addr", v.config.Redis.GetRedisAddr()).
		Int("db", v.config.Redis.DB).
		Msg("Redis connectivity check passed")

	return nil
}

// isPlaceholderValue checks if a value is likely a placeholder
func isPlaceholderValue(value string) bool {
	lowerValue := strings.ToLower(value)
	placeholders := []string{
		"your_api_key",
		"your_secret",
		"changeme",
		"placeholder",
		"example",
		"test",
		"sample",
		"demo",
	}

	for _, placeholder := range placeholders {
		if strings.Contains(lowerValue, placeholder) {
			return true
		}
	}

	return false
}
