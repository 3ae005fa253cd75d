// Command backtester runs the signal-to-portfolio backtest server: it
// serves the run-status/event API, polls for pending runs, and drives each
// one through candle acquisition, strategy evaluation, and portfolio
// replay.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/api"
	"github.com/quantledger/backtester/internal/candles"
	"github.com/quantledger/backtester/internal/config"
	"github.com/quantledger/backtester/internal/db"
	"github.com/quantledger/backtester/internal/events"
	"github.com/quantledger/backtester/internal/job"
	"github.com/quantledger/backtester/internal/metrics"
	"github.com/quantledger/backtester/internal/pipeline"
	"github.com/quantledger/backtester/internal/ratelimit"
	"github.com/quantledger/backtester/internal/registry"
	"github.com/quantledger/backtester/internal/warndedup"
	"github.com/quantledger/backtester/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	strategiesPath := flag.String("strategies", "", "path to strategies override file")
	outputDir := flag.String("output", "./runs", "directory each run's CSV artifacts are written under")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, "console")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator := config.NewValidator(cfg, config.DefaultValidatorOptions())
	if err := validator.ValidateStartup(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup validation failed")
	}

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	migrator := db.NewMigrator(database.Pool())
	if err := migrator.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	jobs := job.NewManagerWithPool(database.Pool())

	runID := time.Now().UTC().Format("20060102T150405Z")
	publisher := events.Connect(cfg.NATS.URL, runID)
	defer publisher.Close()

	reg, err := registry.Load(*strategiesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load strategy registry")
	}

	loader := buildPriceLoader(cfg)

	metricsServer := metrics.NewServer(cfg.Monitoring.PrometheusPort, config.NewLogger("metrics"))
	if err := metricsServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start metrics server")
	}

	apiServer := api.NewServer(api.Config{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		Jobs:      jobs,
		Publisher: publisher,
		DB:        database.Pool(),
		Auth: &api.AuthConfig{
			Enabled:      cfg.API.Auth.Enabled,
			HeaderName:   cfg.API.Auth.HeaderName,
			RequireHTTPS: cfg.API.Auth.RequireHTTPS,
		},
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("api server stopped")
		}
	}()

	w := worker.New(jobs, loader, publisher, reg, cfg.Portfolio, *outputDir)
	go w.Run(ctx)

	log.Info().Str("api_addr", cfg.API.GetAPIAddr()).Int("metrics_port", cfg.Monitoring.PrometheusPort).Msg("backtester started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown error")
	}
}

// buildPriceLoader wires the HTTP-backed candle fetcher, optionally fronted
// by Redis when BACKTESTER_CANDLES_REDIS_ENABLED is set, per §18.
func buildPriceLoader(cfg *config.Config) pipeline.PriceLoader {
	fetcherCfg := cfg.Candles.ToFetcherConfig()
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	dedup := warndedup.New()

	fetcher := candles.NewFetcher(
		fetcherCfg,
		candles.NewHTTPPoolSource(fetcherCfg),
		candles.NewHTTPCandleSource(fetcherCfg),
		limiter,
		dedup,
	)

	redisCacheCfg := candles.DefaultRedisCacheConfig()
	if os.Getenv("BACKTESTER_CANDLES_REDIS_ENABLED") == "true" {
		redisCacheCfg.Enabled = true
	}
	if !redisCacheCfg.Enabled {
		return fetcher
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return candles.NewRedisFrontedFetcher(fetcher, client, redisCacheCfg)
}
