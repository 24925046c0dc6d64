// Package config loads and validates the YAML run file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/swarmcal/internal/store"
)

// ConfigurationError reports an invalid or missing setting. It is fatal
// before the run starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Load reads and validates the run file at path. Relative paths inside the
// file (template, fixed inputs) are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	if cfg.Run.PopulationFactor > 0 {
		cfg.Swarm.PopulationFactor = cfg.Run.PopulationFactor
		cfg.Ensemble.WalkerFactor = cfg.Run.PopulationFactor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section. It returns the first *ConfigurationError.
func (c *Config) Validate() error {
	if len(c.Parameters) == 0 {
		return &ConfigurationError{Field: "parameters", Reason: "at least one parameter is required"}
	}
	seen := make(map[string]bool, len(c.Parameters))
	for i, p := range c.Parameters {
		if err := p.Validate(); err != nil {
			return &ConfigurationError{Field: fmt.Sprintf("parameters[%d]", i), Reason: err.Error()}
		}
		if seen[p.Name] {
			return &ConfigurationError{Field: fmt.Sprintf("parameters[%d]", i), Reason: fmt.Sprintf("duplicate name %q", p.Name)}
		}
		seen[p.Name] = true
	}

	if err := validateRun(c.Run); err != nil {
		return err
	}

	switch c.Run.Strategy {
	case StrategySwarm:
		if err := c.Swarm.Validate(); err != nil {
			return &ConfigurationError{Field: "swarm", Reason: err.Error()}
		}
	case StrategyEnsemble:
		if err := c.Ensemble.Validate(); err != nil {
			return &ConfigurationError{Field: "ensemble", Reason: err.Error()}
		}
	case StrategyMayfly:
		if c.Mayfly.Population < 0 {
			return &ConfigurationError{Field: "mayfly.population", Reason: "must not be negative"}
		}
	}

	if err := validateEvaluation(c.Evaluation); err != nil {
		return err
	}
	if len(c.Best.Callback) > 0 && c.Best.Callback[0] == "" {
		return &ConfigurationError{Field: "best.callback", Reason: "command cannot be empty"}
	}
	return nil
}

func validateRun(r RunConfig) error {
	switch r.Strategy {
	case StrategySwarm, StrategyEnsemble, StrategyMayfly:
	default:
		return &ConfigurationError{
			Field:  "run.strategy",
			Reason: fmt.Sprintf("unknown strategy %q (want %s)", r.Strategy, strings.Join([]string{StrategySwarm, StrategyEnsemble, StrategyMayfly}, ", ")),
		}
	}
	if r.Generations <= 0 {
		return &ConfigurationError{Field: "run.generations", Reason: fmt.Sprintf("must be positive, got %d", r.Generations)}
	}
	if r.Workers < 0 {
		return &ConfigurationError{Field: "run.workers", Reason: fmt.Sprintf("must not be negative, got %d", r.Workers)}
	}
	if r.PopulationFactor < 0 {
		return &ConfigurationError{Field: "run.population_factor", Reason: fmt.Sprintf("must not be negative, got %g", r.PopulationFactor)}
	}
	if r.Patience < 0 {
		return &ConfigurationError{Field: "run.patience", Reason: fmt.Sprintf("must not be negative, got %d", r.Patience)}
	}
	if r.Threshold < 0 {
		return &ConfigurationError{Field: "run.threshold", Reason: fmt.Sprintf("must not be negative, got %g", r.Threshold)}
	}
	if r.CheckpointEvery <= 0 {
		return &ConfigurationError{Field: "run.checkpoint_every", Reason: fmt.Sprintf("must be positive, got %d", r.CheckpointEvery)}
	}
	if r.OutputDir == "" {
		return &ConfigurationError{Field: "run.output_dir", Reason: "cannot be empty"}
	}
	return nil
}

func validateEvaluation(e EvaluationConfig) error {
	if e.Simulator.Command == "" {
		return &ConfigurationError{Field: "evaluation.simulator.command", Reason: "cannot be empty"}
	}
	if e.ResultFile == "" {
		return &ConfigurationError{Field: "evaluation.result_file", Reason: "cannot be empty"}
	}
	if filepath.IsAbs(e.ResultFile) {
		return &ConfigurationError{Field: "evaluation.result_file", Reason: "must be relative to the output directory"}
	}
	if _, err := e.GetTimeout(); err != nil {
		return &ConfigurationError{Field: "evaluation.timeout", Reason: err.Error()}
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Evaluation.ModelTemplate = resolve(c.Evaluation.ModelTemplate)
	for k, v := range c.Evaluation.Files {
		c.Evaluation.Files[k] = resolve(v)
	}
}

// CheckFiles verifies that the template and fixed input files exist.
func (c *Config) CheckFiles() error {
	var errs []error
	if c.Evaluation.ModelTemplate != "" {
		if _, err := os.Stat(c.Evaluation.ModelTemplate); err != nil {
			errs = append(errs, &ConfigurationError{Field: "evaluation.model_template", Reason: err.Error()})
		}
	}
	for name, path := range c.Evaluation.Files {
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, &ConfigurationError{Field: "evaluation.files." + name, Reason: err.Error()})
		}
	}
	return errors.Join(errs...)
}

// Summary is the part of the configuration stored with each checkpoint.
func (c *Config) Summary(configPath string) store.RunSummary {
	return store.RunSummary{
		Name:        c.Run.Name,
		Strategy:    c.Run.Strategy,
		Parameters:  c.Space().Names(),
		Generations: c.Run.Generations,
		Population:  c.Population(),
		Workers:     c.Run.Workers,
		Seed:        c.Run.Seed,
		ConfigPath:  configPath,
	}
}
