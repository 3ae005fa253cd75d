package candles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geckoTerminalPoolsFixture = `{
	"data": [
		{
			"id": "solana_pool1",
			"type": "pool",
			"attributes": {
				"address": "Pool1111111111111111111111111111111111111",
				"name": "TOKEN / SOL",
				"reserve_in_usd": "125000.50"
			}
		},
		{
			"id": "solana_pool2",
			"type": "pool",
			"attributes": {
				"address": "Pool2222222222222222222222222222222222222",
				"name": "TOKEN / USDC",
				"reserve_in_usd": "9000.00"
			}
		}
	]
}`

const geckoTerminalOHLCVFixture = `{
	"data": {
		"id": "solana_pool1",
		"type": "ohlcv_request_response",
		"attributes": {
			"ohlcv_list": [
				[1700000000, 1.0, 1.2, 0.9, 1.1, 500.0],
				[1699999940, 0.95, 1.05, 0.9, 1.0, 300.0]
			]
		}
	}
}`

func TestHTTPPoolSourceDecodesGeckoTerminalShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(geckoTerminalPoolsFixture))
	}))
	defer server.Close()

	source := NewHTTPPoolSource(Config{BaseURL: server.URL, HTTPTimeout: 5 * time.Second})
	pools, err := source.Pools(context.Background(), "SomeContract")
	require.NoError(t, err)
	require.Len(t, pools, 2)

	assert.Equal(t, "Pool1111111111111111111111111111111111111", pools[0].Address)
	assert.Equal(t, "TOKEN / SOL", pools[0].Name)
	assert.Equal(t, 125000.50, pools[0].ReserveInUSD)
	assert.Equal(t, 9000.00, pools[1].ReserveInUSD)
}

func TestHTTPCandleSourceDecodesGeckoTerminalShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(geckoTerminalOHLCVFixture))
	}))
	defer server.Close()

	source := NewHTTPCandleSource(Config{BaseURL: server.URL, HTTPTimeout: 5 * time.Second})
	candles, statusErr, err := source.FetchPage(context.Background(), "SomeContract", "Pool1111111111111111111111111111111111111", time.Now(), 1000)
	require.NoError(t, err)
	require.Nil(t, statusErr)
	require.Len(t, candles, 2)

	assert.Equal(t, int64(1700000000), candles[0].Timestamp.Unix())
	assert.Equal(t, 1.0, candles[0].Open)
	assert.Equal(t, 1.2, candles[0].High)
	assert.Equal(t, 500.0, candles[0].Volume)
}
