// Package config provides configuration management for the backtester.
// This file centralizes port constants to avoid duplication and ensure consistency.
package config

// Port Allocation Strategy:
//   8080-8099: API server
//   8200-8299: Infrastructure services (Vault, etc.)
//   9100-9199: Prometheus metrics endpoints

// API and Web Service Ports
const (
	// APIServerPort is the port for the run-status / event-streaming HTTP server.
	APIServerPort = 8080

	// WebSocketPort is the port for WebSocket connections (same as the API server).
	WebSocketPort = APIServerPort
)

// Infrastructure Service Ports
const (
	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222
)

// Monitoring Service Ports
const (
	// PrometheusPort is the default port for the backtester's own metrics server.
	PrometheusPort = 9100

	// GrafanaPort is the default port for Grafana.
	GrafanaPort = 3000
)
