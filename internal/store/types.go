package store

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RunSummary is the part of the run configuration a checkpoint keeps so a
// resume can be checked for compatibility. It is a copy rather than the
// config type itself to avoid an import cycle with the config package.
type RunSummary struct {
	Name        string   `json:"name,omitempty"`
	Strategy    string   `json:"strategy"` // swarm, ensemble, mayfly
	Parameters  []string `json:"parameters"`
	Generations int      `json:"generations"`
	Population  int      `json:"population"`
	Workers     int      `json:"workers"`
	Seed        int64    `json:"seed"`
	ConfigPath  string   `json:"configPath,omitempty"`
}

// Checkpoint is the saved state of a run that can be resumed later.
//
// Only the incumbent is saved, not the population: the swarm's velocities
// and personal bests, or the ensemble's walker positions, are rebuilt on
// resume and the new population is seeded with BestParams. A resumed run is
// therefore a restart around the best point, not an exact continuation,
// but the best error never gets worse.
type Checkpoint struct {
	RunID string `json:"runId"`

	// BestParams is the normalized parameter vector with the lowest error.
	BestParams []float64 `json:"bestParams"`

	// BestValues holds the same point in physical units.
	BestValues []float64 `json:"bestValues,omitempty"`

	BestError float64 `json:"bestError"`

	// Generation is the number of completed generations.
	Generation int `json:"generation"`

	// Trials is the number of recorded evaluations.
	Trials int `json:"trials"`

	Timestamp time.Time  `json:"timestamp"`
	Config    RunSummary `json:"config"`
}

// CheckpointInfo contains checkpoint metadata without the parameter data.
type CheckpointInfo struct {
	RunID      string    `json:"runId"`
	BestError  float64   `json:"bestError"`
	Generation int       `json:"generation"`
	Trials     int       `json:"trials"`
	Timestamp  time.Time `json:"timestamp"`
	Strategy   string    `json:"strategy"`
	Dim        int       `json:"dim"`
	Name       string    `json:"name,omitempty"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(runID string, bestParams, bestValues []float64, bestError float64, generation, trials int, config RunSummary) *Checkpoint {
	return &Checkpoint{
		RunID:      runID,
		BestParams: bestParams,
		BestValues: bestValues,
		BestError:  bestError,
		Generation: generation,
		Trials:     trials,
		Timestamp:  time.Now(),
		Config:     config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:      c.RunID,
		BestError:  c.BestError,
		Generation: c.Generation,
		Trials:     c.Trials,
		Timestamp:  c.Timestamp,
		Strategy:   c.Config.Strategy,
		Dim:        len(c.Config.Parameters),
		Name:       c.Config.Name,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	for i, p := range c.BestParams {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return &ValidationError{Field: "BestParams", Reason: fmt.Sprintf("component %d out of [0,1]: %g", i, p)}
		}
	}
	if math.IsNaN(c.BestError) || math.IsInf(c.BestError, 0) {
		return &ValidationError{Field: "BestError", Reason: "must be finite"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if c.Trials < 0 {
		return &ValidationError{Field: "Trials", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Strategy == "" {
		return &ValidationError{Field: "Config.Strategy", Reason: "cannot be empty"}
	}
	if len(c.Config.Parameters) != len(c.BestParams) {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: expected %d params, got %d", len(c.Config.Parameters), len(c.BestParams)),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can seed a run with the given
// configuration. The parameter list must match by name and order.
func (c *Checkpoint) IsCompatible(config RunSummary) error {
	if c.Config.Strategy != config.Strategy {
		return &CompatibilityError{
			Field:    "Strategy",
			Expected: c.Config.Strategy,
			Actual:   config.Strategy,
		}
	}
	if strings.Join(c.Config.Parameters, ",") != strings.Join(config.Parameters, ",") {
		return &CompatibilityError{
			Field:    "Parameters",
			Expected: strings.Join(c.Config.Parameters, ","),
			Actual:   strings.Join(config.Parameters, ","),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
