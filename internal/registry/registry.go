// Package registry resolves the strategy names a job.Run carries into
// concrete Runner ladder configurations: the YAML "strategies:" block the
// original Python driver read via create_runner_config_from_dict, now
// layered through viper like every other config surface.
package registry

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/quantledger/backtester/internal/runner"
)

// levelConfig mirrors one take_profit_levels entry.
type levelConfig struct {
	Xn       float64 `mapstructure:"xn"`
	Fraction float64 `mapstructure:"fraction"`
}

// strategyConfig mirrors one named entry under "strategies:".
type strategyConfig struct {
	TakeProfitLevels  []levelConfig `mapstructure:"take_profit_levels"`
	TimeStopMinutes   *float64      `mapstructure:"time_stop_minutes"`
	UseHighForTargets bool          `mapstructure:"use_high_for_targets"`
	ExitOnFirstTP     bool          `mapstructure:"exit_on_first_tp"`
	AllowPartialFills bool          `mapstructure:"allow_partial_fills"`
}

// Registry holds every named Runner adapter a run can reference by name.
type Registry struct {
	adapters map[string]*runner.Adapter
}

// Default returns the built-in ladder presets, used when no strategies file
// is configured: a conservative two-rung 2x/4x ladder and a three-rung
// 2x/5x/10x ladder.
func Default() *Registry {
	return &Registry{
		adapters: map[string]*runner.Adapter{
			"runner_conservative": runner.NewAdapter(runner.Config{
				Levels:            runner.Ladder{{Xn: 2, Fraction: 0.5}, {Xn: 4, Fraction: 0.5}},
				UseHighForTargets: true,
				AllowPartialFills: true,
			}),
			"runner_classic": runner.NewAdapter(runner.Config{
				Levels:            runner.Ladder{{Xn: 2, Fraction: 0.4}, {Xn: 5, Fraction: 0.4}, {Xn: 10, Fraction: 0.2}},
				UseHighForTargets: true,
				AllowPartialFills: true,
			}),
		},
	}
}

// Load reads a "strategies:" YAML block at path and builds one Adapter per
// named entry, merged over the built-in defaults so a partial file only
// needs to override what it changes.
func Load(path string) (*Registry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("registry: reading strategies file: %w", err)
	}

	var raw map[string]strategyConfig
	if err := v.UnmarshalKey("strategies", &raw); err != nil {
		return nil, fmt.Errorf("registry: parsing strategies block: %w", err)
	}

	for name, sc := range raw {
		cfg, err := sc.toRunnerConfig()
		if err != nil {
			return nil, fmt.Errorf("registry: strategy %q: %w", name, err)
		}
		reg.adapters[name] = runner.NewAdapter(cfg)
	}
	return reg, nil
}

func (sc strategyConfig) toRunnerConfig() (runner.Config, error) {
	levels := make(runner.Ladder, len(sc.TakeProfitLevels))
	for i, l := range sc.TakeProfitLevels {
		levels[i] = runner.Level{Xn: l.Xn, Fraction: l.Fraction}
	}
	cfg := runner.Config{
		Levels:            levels,
		TimeStopMinutes:   sc.TimeStopMinutes,
		UseHighForTargets: sc.UseHighForTargets,
		ExitOnFirstTP:     sc.ExitOnFirstTP,
		AllowPartialFills: sc.AllowPartialFills,
	}
	if err := cfg.Levels.Validate(); err != nil {
		return runner.Config{}, err
	}
	return cfg, nil
}

// Resolve looks up every requested strategy name, erroring on the first one
// not found rather than silently skipping it.
func (r *Registry) Resolve(names []string) ([]*runner.Adapter, error) {
	adapters := make([]*runner.Adapter, 0, len(names))
	for _, name := range names {
		adapter, ok := r.adapters[name]
		if !ok {
			return nil, fmt.Errorf("registry: unknown strategy %q", name)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// Names returns every registered strategy name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
