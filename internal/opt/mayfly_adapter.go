package opt

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinMayflyPopulation is the smallest population mayfly accepts.
const MinMayflyPopulation = 20

// MayflyAdapter wraps the mayfly optimizer behind the Optimizer interface.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter. popSize below
// MinMayflyPopulation is raised to it.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	if popSize < MinMayflyPopulation {
		popSize = MinMayflyPopulation
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// PopulationSize returns the effective population.
func (m *MayflyAdapter) PopulationSize() int { return m.popSize }

// Run executes the optimization. Mayfly takes scalar bounds, so every
// dimension must share the same interval.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	if len(lower) != dim || len(upper) != dim {
		return nil, 0, fmt.Errorf("bounds have %d/%d entries, want %d", len(lower), len(upper), dim)
	}
	for i := 1; i < dim; i++ {
		if lower[i] != lower[0] || upper[i] != upper[0] {
			return nil, 0, fmt.Errorf("mayfly requires identical bounds on every dimension")
		}
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.seed))

	slog.Debug("Starting mayfly", "dim", dim, "iterations", m.maxIters, "population", m.popSize)
	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
