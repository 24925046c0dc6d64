package config

import (
	"fmt"
	"time"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/opt"
)

// Search strategies.
const (
	StrategySwarm    = "swarm"
	StrategyEnsemble = "ensemble"
	StrategyMayfly   = "mayfly"
)

// Config is one calibration run file.
type Config struct {
	Run        RunConfig          `yaml:"run"`
	Parameters []fit.Parameter    `yaml:"parameters"`
	Swarm      opt.SwarmConfig    `yaml:"swarm"`
	Ensemble   opt.EnsembleConfig `yaml:"ensemble"`
	Mayfly     MayflyConfig       `yaml:"mayfly"`
	Evaluation EvaluationConfig   `yaml:"evaluation"`
	Best       BestConfig         `yaml:"best"`
	Plot       PlotConfig         `yaml:"plot"`
	Serve      ServeConfig        `yaml:"serve"`
}

// RunConfig holds the run-level knobs.
type RunConfig struct {
	Name        string `yaml:"name"`
	OutputDir   string `yaml:"output_dir"`
	Strategy    string `yaml:"strategy"`
	Generations int    `yaml:"generations"`
	Seed        int64  `yaml:"seed"`

	// Workers caps concurrent evaluations; 0 means CPU count minus one.
	Workers int `yaml:"workers"`

	// PopulationFactor, when set, overrides swarm.population_factor and
	// ensemble.walker_factor.
	PopulationFactor float64 `yaml:"population_factor"`

	// Patience enables early stopping after this many generations without
	// a relative improvement of Threshold. 0 disables it.
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`

	// CheckpointEvery saves a checkpoint every N generations.
	CheckpointEvery int `yaml:"checkpoint_every"`
}

// MayflyConfig configures the mayfly strategy.
type MayflyConfig struct {
	Population int `yaml:"population"`
}

// CommandConfig is an external program with templated arguments.
type CommandConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// EvaluationConfig describes the per-candidate pipeline.
type EvaluationConfig struct {
	// ModelTemplate is a text/template rendered into generated/<ModelFile>.
	ModelTemplate string `yaml:"model_template"`
	ModelFile     string `yaml:"model_file"`

	Simulator   CommandConfig `yaml:"simulator"`
	Postprocess CommandConfig `yaml:"postprocess"`

	// Files are fixed inputs (options, protocol, ...) exposed to argument
	// templates as {{.Files.<name>}}.
	Files map[string]string `yaml:"files"`

	ResultFile string `yaml:"result_file"`

	// Timeout bounds each external command, e.g. "30m". Empty means none.
	Timeout string `yaml:"timeout"`
}

// GetTimeout parses the stage timeout.
func (e EvaluationConfig) GetTimeout() (time.Duration, error) {
	if e.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}

// BestConfig configures what happens on a new best.
type BestConfig struct {
	// Callback is run fire-and-forget after every new best.
	Callback []string `yaml:"callback"`
}

// PlotConfig configures the progress chart.
type PlotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServeConfig configures the live status server.
type ServeConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a configuration with every default filled in. Parse
// decodes on top of it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			OutputDir:       "out",
			Strategy:        StrategySwarm,
			Generations:     100,
			Seed:            1,
			CheckpointEvery: 1,
			Threshold:       fit.DefaultConvergenceConfig().Threshold,
		},
		Swarm:    opt.DefaultSwarmConfig(),
		Ensemble: opt.DefaultEnsembleConfig(),
		Mayfly:   MayflyConfig{Population: opt.MinMayflyPopulation},
		Evaluation: EvaluationConfig{
			ResultFile: "results.csv",
		},
		Plot: PlotConfig{Enabled: true},
	}
}

// Space returns the parameter space.
func (c *Config) Space() fit.Space {
	return fit.Space(c.Parameters)
}

// Convergence returns the early-stop settings.
func (c *Config) Convergence() fit.ConvergenceConfig {
	return fit.ConvergenceConfig{
		Enabled:   c.Run.Patience > 0,
		Patience:  c.Run.Patience,
		Threshold: c.Run.Threshold,
	}
}

// Population returns the population size the configured strategy will use.
func (c *Config) Population() int {
	dim := len(c.Parameters)
	switch c.Run.Strategy {
	case StrategyEnsemble:
		w := opt.PopulationSize(c.Ensemble.WalkerFactor, dim)
		return max(w, c.Ensemble.MinWalkers)
	case StrategyMayfly:
		return max(c.Mayfly.Population, opt.MinMayflyPopulation)
	default:
		return opt.PopulationSize(c.Swarm.PopulationFactor, dim)
	}
}
