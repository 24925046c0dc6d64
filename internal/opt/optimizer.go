package opt

// Optimizer runs a complete black-box minimization in one call, for
// algorithms that own their iteration loop and cannot be driven
// generation by generation.
type Optimizer interface {
	// Run minimizes eval over the box [lower, upper] in dim dimensions and
	// returns the best parameters and cost.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error)
}
