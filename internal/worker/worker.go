// Package worker polls job.Manager for pending runs and drives them through
// the pipeline: the process half of the split the teacher's Celery workers
// modeled, reworked around a single in-process poll loop since the system
// has no external task queue.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/config"
	"github.com/quantledger/backtester/internal/events"
	"github.com/quantledger/backtester/internal/job"
	"github.com/quantledger/backtester/internal/pipeline"
	"github.com/quantledger/backtester/internal/portfolio"
	"github.com/quantledger/backtester/internal/registry"
	"github.com/quantledger/backtester/internal/signals"
)

// Worker claims and executes pending runs one at a time.
type Worker struct {
	jobs       *job.Manager
	loader     pipeline.PriceLoader
	publisher  *events.Publisher
	registry   *registry.Registry
	baseConfig config.PortfolioConfig
	outputRoot string
	pollEvery  time.Duration
}

// New builds a Worker. outputRoot is the parent directory each run's CSVs
// are written under, one subdirectory per run ID.
func New(jobs *job.Manager, loader pipeline.PriceLoader, publisher *events.Publisher, reg *registry.Registry, baseConfig config.PortfolioConfig, outputRoot string) *Worker {
	return &Worker{
		jobs:       jobs,
		loader:     loader,
		publisher:  publisher,
		registry:   reg,
		baseConfig: baseConfig,
		outputRoot: outputRoot,
		pollEvery:  2 * time.Second,
	}
}

// Run polls until ctx is cancelled, executing at most one run per tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	run, err := w.jobs.ClaimPendingRun(ctx)
	if err != nil {
		log.Error().Err(err).Msg("worker: failed to claim pending run")
		return
	}
	if run == nil {
		return
	}

	logger := log.With().Str("run_id", run.ID.String()).Str("name", run.Name).Logger()
	logger.Info().Msg("worker: claimed run")

	results, err := w.execute(ctx, run)
	if err != nil {
		logger.Error().Err(err).Msg("worker: run failed")
		if uerr := w.jobs.UpdateRunStatus(ctx, run.ID, job.StatusFailed, err.Error()); uerr != nil {
			logger.Error().Err(uerr).Msg("worker: failed to record failure status")
		}
		return
	}

	if err := w.jobs.SaveResults(ctx, run.ID, results); err != nil {
		logger.Error().Err(err).Msg("worker: failed to save results")
		return
	}
	logger.Info().Msg("worker: run completed")
}

func (w *Worker) execute(ctx context.Context, run *job.Run) (*job.RunResults, error) {
	sigs, err := signals.LoadCSV(run.SignalCSVPath)
	if err != nil {
		return nil, fmt.Errorf("loading signal csv: %w", err)
	}

	adapters, err := w.registry.Resolve(run.Strategies)
	if err != nil {
		return nil, err
	}
	specs := make([]pipeline.StrategySpec, len(run.Strategies))
	for i, name := range run.Strategies {
		specs[i] = pipeline.StrategySpec{Name: name, Adapter: adapters[i]}
	}

	engineCfg := w.engineConfig(run.PortfolioConfig)
	outDir := filepath.Join(w.outputRoot, run.ID.String())

	cfg := pipeline.DefaultConfig()
	cfg.OutputDir = outDir

	p := pipeline.New(w.loader, w.publisher, cfg)
	result, err := p.Run(ctx, sigs, specs, engineCfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline run: %w", err)
	}

	chosen := pickRepresentativeStrategy(result)
	return job.ConvertPortfolioToRunResults(chosen.Stats, chosen.Positions, chosen.EquityCurve), nil
}

// engineConfig layers a run's portfolio_config overrides on top of the
// server's configured portfolio defaults via mapstructure, so a run only
// needs to specify the fields it wants to change.
func (w *Worker) engineConfig(overrides map[string]interface{}) portfolio.Config {
	cfg := w.baseConfig
	if len(overrides) > 0 {
		if err := mapstructure.Decode(overrides, &cfg); err != nil {
			log.Warn().Err(err).Msg("worker: ignoring invalid portfolio_config overrides, using defaults")
			cfg = w.baseConfig
		}
	}
	return cfg.ToEngineConfig()
}

// pickRepresentativeStrategy chooses the strategy job.RunResults summarizes:
// the first strategy whose stability/selection verdict passed at every
// evaluated split_n, falling back to the first strategy run when none pass
// selection (a failed run still has a status worth inspecting).
func pickRepresentativeStrategy(result *pipeline.Result) pipeline.StrategyResult {
	passed := make(map[string]bool)
	failed := make(map[string]bool)
	for _, r := range result.Selection {
		if r.Passed {
			passed[r.Strategy] = true
		} else {
			failed[r.Strategy] = true
		}
	}

	for _, s := range result.Strategies {
		if passed[s.Strategy] && !failed[s.Strategy] {
			return s
		}
	}
	return result.Strategies[0]
}
