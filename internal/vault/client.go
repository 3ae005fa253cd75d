// Package vault retrieves the backtester's secrets (Postgres DSN, DEX data
// API key, NATS URL) from HashiCorp Vault, falling back to environment
// variables when Vault is unreachable or the path is unset.
package vault

import (
	"context"
	"fmt"
	"os"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// mountPath is the KV v2 mount this module's secrets live under.
const mountPath = "backtester"

// Client wraps the official Vault API client for the small secret surface
// this module needs.
type Client struct {
	api *vaultapi.Client
}

// NewClientFromEnv builds a Client from VAULT_ADDR/VAULT_TOKEN, returning an
// error if either is unset so callers can fall back to env-only resolution.
func NewClientFromEnv() (*Client, error) {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	if addr == "" || token == "" {
		return nil, fmt.Errorf("vault: VAULT_ADDR/VAULT_TOKEN not set")
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr
	api, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create client: %w", err)
	}
	api.SetToken(token)
	return &Client{api: api}, nil
}

// getSecret reads one KV v2 secret and returns its data map.
func (c *Client) getSecret(ctx context.Context, name string) (map[string]interface{}, error) {
	secret, err := c.api.KVv2(mountPath).Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read %s/%s: %w", mountPath, name, err)
	}
	return secret.Data, nil
}

func stringField(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key].(string)
	return v, ok
}

// DatabaseDSN resolves the Postgres connection string from Vault's
// "database" secret.
func (c *Client) DatabaseDSN(ctx context.Context) (string, error) {
	data, err := c.getSecret(ctx, "database")
	if err != nil {
		return "", err
	}
	dsn, ok := stringField(data, "dsn")
	if !ok || dsn == "" {
		return "", fmt.Errorf("vault: database secret missing dsn field")
	}
	return dsn, nil
}

// DexAPIKey resolves the DEX data source API key from Vault's "dex" secret.
func (c *Client) DexAPIKey(ctx context.Context) (string, error) {
	data, err := c.getSecret(ctx, "dex")
	if err != nil {
		return "", err
	}
	key, ok := stringField(data, "api_key")
	if !ok {
		return "", fmt.Errorf("vault: dex secret missing api_key field")
	}
	return key, nil
}

// NATSURL resolves the event-bus URL from Vault's "nats" secret.
func (c *Client) NATSURL(ctx context.Context) (string, error) {
	data, err := c.getSecret(ctx, "nats")
	if err != nil {
		return "", err
	}
	url, ok := stringField(data, "url")
	if !ok {
		return "", fmt.Errorf("vault: nats secret missing url field")
	}
	return url, nil
}

// ResolveDatabaseDSN tries Vault first, then DATABASE_URL, logging which
// source won.
func ResolveDatabaseDSN(ctx context.Context) (string, error) {
	if client, err := NewClientFromEnv(); err == nil {
		if dsn, err := client.DatabaseDSN(ctx); err == nil {
			log.Info().Msg("vault: database dsn loaded from vault")
			return dsn, nil
		} else {
			log.Debug().Err(err).Msg("vault: falling back to DATABASE_URL env")
		}
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return "", fmt.Errorf("vault: DATABASE_URL not set and vault unavailable")
	}
	return dsn, nil
}

// ResolveDexAPIKey tries Vault first, then DEX_API_KEY.
func ResolveDexAPIKey(ctx context.Context) string {
	if client, err := NewClientFromEnv(); err == nil {
		if key, err := client.DexAPIKey(ctx); err == nil {
			return key
		}
	}
	return os.Getenv("DEX_API_KEY")
}

// ResolveNATSURL tries Vault first, then NATS_URL.
func ResolveNATSURL(ctx context.Context) string {
	if client, err := NewClientFromEnv(); err == nil {
		if url, err := client.NATSURL(ctx); err == nil {
			return url
		}
	}
	return os.Getenv("NATS_URL")
}
