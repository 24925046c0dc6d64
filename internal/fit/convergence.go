package fit

import (
	"log/slog"
	"math"
)

// ConvergenceConfig controls the optional early stop of a calibration run.
// The search strategies never stop on their own; the controller consults
// this tracker after each generation when it is enabled.
type ConvergenceConfig struct {
	// Enabled turns the check on. Runs use the plain generation budget otherwise.
	Enabled bool

	// Patience is the number of consecutive generations without a
	// significant improvement of the best error before stopping.
	Patience int

	// Threshold is the minimum relative improvement that counts as progress:
	// (lastSignificant - best) / lastSignificant.
	Threshold float64
}

// DefaultConvergenceConfig keeps early stopping off.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   false,
		Patience:  25,
		Threshold: 1e-3,
	}
}

// ConvergenceTracker watches the best-so-far error, one value per generation.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	lastSignificant float64
	staleCount      int
}

// NewConvergenceTracker creates a tracker with the given config.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		lastSignificant: math.Inf(1),
	}
}

// Update records the best error after a generation and reports whether the
// run has stalled for Patience generations.
func (c *ConvergenceTracker) Update(best float64) bool {
	c.history = append(c.history, best)
	if !c.config.Enabled {
		return false
	}

	// Nothing finite yet: failures do not count as stagnation.
	if math.IsInf(best, 1) {
		return false
	}

	if c.improved(best) {
		c.lastSignificant = best
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("No significant improvement",
		"best", best,
		"last_significant", c.lastSignificant,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)
	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected, stopping early",
			"stale_count", c.staleCount,
			"best_error", best,
		)
		return true
	}
	return false
}

func (c *ConvergenceTracker) improved(best float64) bool {
	if math.IsInf(c.lastSignificant, 1) {
		return true
	}
	if c.lastSignificant == 0 {
		return best < 0
	}
	return (c.lastSignificant-best)/math.Abs(c.lastSignificant) >= c.config.Threshold
}

// StaleCount returns the number of generations since the last significant improvement.
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// History returns a copy of every value passed to Update.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}
