package fit

import (
	"fmt"
	"math"
)

// Scale selects how a normalized value maps onto a parameter's range.
type Scale string

const (
	ScaleLinear Scale = "linear"
	ScaleLog    Scale = "log"
)

// Parameter describes one physical model constant under calibration.
type Parameter struct {
	Name  string  `json:"name" yaml:"name"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Scale Scale   `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// Value maps p in [0,1] to the parameter's physical range.
func (p Parameter) Value(x float64) float64 {
	x = clamp(x, 0, 1)
	if p.Scale == ScaleLog {
		lo, hi := math.Log10(p.Min), math.Log10(p.Max)
		return math.Pow(10, lo+x*(hi-lo))
	}
	return p.Min + x*(p.Max-p.Min)
}

// Validate rejects empty names and inverted or non-positive log ranges.
func (p Parameter) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if p.Min > p.Max {
		return fmt.Errorf("parameter %s: min %g > max %g", p.Name, p.Min, p.Max)
	}
	switch p.Scale {
	case "", ScaleLinear:
	case ScaleLog:
		if p.Min <= 0 {
			return fmt.Errorf("parameter %s: log scale needs min > 0, got %g", p.Name, p.Min)
		}
	default:
		return fmt.Errorf("parameter %s: unknown scale %q", p.Name, p.Scale)
	}
	return nil
}

// Space is the ordered list of parameters; its length is the search
// dimensionality D.
type Space []Parameter

// Names returns parameter names in order.
func (s Space) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// Denormalize maps a normalized vector to physical values.
func (s Space) Denormalize(x Vector) []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value(x[i])
	}
	return out
}

// Values returns the physical values keyed by parameter name.
func (s Space) Values(x Vector) map[string]float64 {
	out := make(map[string]float64, len(s))
	for i, p := range s {
		out[p.Name] = p.Value(x[i])
	}
	return out
}
