package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/cwbudde/swarmcal/internal/fit"
)

// SwarmConfig holds the particle-swarm tuning knobs.
type SwarmConfig struct {
	PopulationFactor float64 `yaml:"population_factor"`

	Inertia          float64 `yaml:"inertia"`
	SelfAttraction   float64 `yaml:"self_attraction"`
	FamilyAttraction float64 `yaml:"family_attraction"`
	Jitter           float64 `yaml:"jitter"`

	InitialMaxVelocity float64 `yaml:"initial_max_velocity"`
	VelocityDecay      float64 `yaml:"velocity_decay"`
	VelocityFloor      float64 `yaml:"velocity_floor"`

	// ResizeEvery re-centers the bounds on the global best every N
	// generations; 0 disables it.
	ResizeEvery  int     `yaml:"resize_every"`
	ShrinkFactor float64 `yaml:"shrink_factor"`

	// ThrowEvery re-randomizes the worst ThrowFraction of the population
	// every N generations; 0 disables it.
	ThrowEvery    int     `yaml:"throw_every"`
	ThrowFraction float64 `yaml:"throw_fraction"`
}

// DefaultSwarmConfig returns the default weights.
func DefaultSwarmConfig() SwarmConfig {
	return SwarmConfig{
		PopulationFactor:   2,
		Inertia:            0.7,
		SelfAttraction:     1.5,
		FamilyAttraction:   1.5,
		Jitter:             0.005,
		InitialMaxVelocity: 0.2,
		VelocityDecay:      0.98,
		VelocityFloor:      0.01,
		ResizeEvery:        50,
		ShrinkFactor:       0.5,
		ThrowEvery:         20,
		ThrowFraction:      1.0 / 3.0,
	}
}

// Validate checks the ranges the update rule relies on.
func (c SwarmConfig) Validate() error {
	switch {
	case c.PopulationFactor <= 0:
		return fmt.Errorf("population_factor must be positive, got %g", c.PopulationFactor)
	case c.Inertia < 0 || c.SelfAttraction < 0 || c.FamilyAttraction < 0:
		return fmt.Errorf("inertia and attraction weights must be non-negative")
	case c.Jitter < 0:
		return fmt.Errorf("jitter must be non-negative, got %g", c.Jitter)
	case c.InitialMaxVelocity <= 0:
		return fmt.Errorf("initial_max_velocity must be positive, got %g", c.InitialMaxVelocity)
	case c.VelocityDecay <= 0 || c.VelocityDecay > 1:
		return fmt.Errorf("velocity_decay must be in (0,1], got %g", c.VelocityDecay)
	case c.VelocityFloor < 0 || c.VelocityFloor > c.InitialMaxVelocity:
		return fmt.Errorf("velocity_floor must be in [0, initial_max_velocity], got %g", c.VelocityFloor)
	case c.ResizeEvery < 0 || c.ThrowEvery < 0:
		return fmt.Errorf("resize_every and throw_every must be non-negative")
	case c.ResizeEvery > 0 && (c.ShrinkFactor <= 0 || c.ShrinkFactor > 1):
		return fmt.Errorf("shrink_factor must be in (0,1], got %g", c.ShrinkFactor)
	case c.ThrowFraction < 0 || c.ThrowFraction >= 1:
		return fmt.Errorf("throw_fraction must be in [0,1), got %g", c.ThrowFraction)
	}
	return nil
}

// Swarm is the particle-swarm strategy. The global best is the all-time
// incumbent and survives bounds resizes and throws.
type Swarm struct {
	cfg SwarmConfig
	dim int
	rng *rand.Rand

	bounds     fit.Bounds
	candidates []fit.Candidate
	lastErrors []float64

	globalX    fit.Vector
	globalErr  float64
	generation int
}

// NewSwarm creates a population of round(PopulationFactor*dim) candidates
// spread uniformly over [0,1]^dim.
func NewSwarm(dim int, cfg SwarmConfig, rng *rand.Rand) (*Swarm, error) {
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Swarm{
		cfg:       cfg,
		dim:       dim,
		rng:       rng,
		bounds:    fit.UnitBounds(dim),
		globalErr: fit.Sentinel,
	}
	p := PopulationSize(cfg.PopulationFactor, dim)
	s.candidates = make([]fit.Candidate, p)
	s.lastErrors = make([]float64, p)
	for i := range s.candidates {
		s.candidates[i].ID = i
		s.randomize(&s.candidates[i])
		s.lastErrors[i] = fit.Sentinel
	}
	return s, nil
}

func (s *Swarm) Name() string { return "swarm" }

// Ask returns deep copies of the current population.
func (s *Swarm) Ask() []fit.Candidate {
	out := make([]fit.Candidate, len(s.candidates))
	for i, c := range s.candidates {
		out[i] = c.Clone()
	}
	return out
}

// Tell updates personal and global bests, then advances the population by
// one generation: a bounds resize when due, otherwise a velocity update
// followed by a throw when due.
func (s *Swarm) Tell(results []fit.Result) error {
	byID, err := indexResults(s.candidates, results)
	if err != nil {
		return err
	}

	for i := range s.candidates {
		c := &s.candidates[i]
		e := errorOf(byID[c.ID])
		s.lastErrors[i] = e
		if math.IsInf(e, 1) {
			continue
		}
		if e <= c.BestError {
			c.BestError = e
			c.BestX = c.X.Clone()
		}
		if e <= s.globalErr {
			s.globalErr = e
			s.globalX = c.X.Clone()
		}
	}

	s.generation++
	if s.cfg.ResizeEvery > 0 && s.generation%s.cfg.ResizeEvery == 0 && s.globalX != nil {
		s.resize()
		return nil
	}

	for i := range s.candidates {
		s.move(&s.candidates[i])
	}
	if s.cfg.ThrowEvery > 0 && s.generation%s.cfg.ThrowEvery == 0 {
		s.throw()
	}
	return nil
}

// Best returns the all-time best position and error.
func (s *Swarm) Best() (fit.Vector, float64) {
	return s.globalX.Clone(), s.globalErr
}

func (s *Swarm) Generation() int { return s.generation }

// Bounds returns a copy of the working bounds.
func (s *Swarm) Bounds() fit.Bounds { return s.bounds.Clone() }

// Candidates returns a copy of the population.
func (s *Swarm) Candidates() []fit.Candidate { return s.Ask() }

// Seed places the first candidate at x, clamped to the working bounds.
func (s *Swarm) Seed(x fit.Vector) error {
	if len(x) != s.dim {
		return fmt.Errorf("seed has dimension %d, want %d", len(x), s.dim)
	}
	c := &s.candidates[0]
	c.X = x.Clone()
	s.bounds.Clamp(c.X)
	for j := range c.V {
		c.V[j] = 0
	}
	return nil
}

func (s *Swarm) move(c *fit.Candidate) {
	for j := 0; j < s.dim; j++ {
		v := s.cfg.Inertia * c.V[j]
		if c.BestX != nil {
			v += s.cfg.SelfAttraction * s.rng.Float64() * (c.BestX[j] - c.X[j])
		}
		if s.globalX != nil {
			v += s.cfg.FamilyAttraction * s.rng.Float64() * (s.globalX[j] - c.X[j])
		}
		v = math.Max(-c.MaxVelocity, math.Min(c.MaxVelocity, v))
		c.V[j] = v
		c.X[j] += v + s.cfg.Jitter*(s.rng.Float64()-0.5)
	}
	s.bounds.Clamp(c.X)
	c.MaxVelocity = math.Max(s.cfg.VelocityFloor, c.MaxVelocity*s.cfg.VelocityDecay)
}

// resize shrinks the bounds around the incumbent and restarts the whole
// population inside them.
func (s *Swarm) resize() {
	old := s.bounds
	s.bounds = s.bounds.Resize(s.globalX, s.cfg.ShrinkFactor)
	slog.Debug("Swarm bounds resized",
		"generation", s.generation,
		"center", []float64(s.globalX),
		"old_width", old[0].Width(),
		"new_width", s.bounds[0].Width())
	for i := range s.candidates {
		s.randomize(&s.candidates[i])
		s.lastErrors[i] = fit.Sentinel
	}
}

// throw re-randomizes the worst performers of the last generation.
func (s *Swarm) throw() {
	n := int(math.Round(s.cfg.ThrowFraction * float64(len(s.candidates))))
	if n > len(s.candidates)-1 {
		n = len(s.candidates) - 1
	}
	if n <= 0 {
		return
	}
	order := make([]int, len(s.candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.lastErrors[order[a]] > s.lastErrors[order[b]]
	})
	for _, i := range order[:n] {
		s.randomize(&s.candidates[i])
	}
	slog.Debug("Swarm throw", "generation", s.generation, "count", n)
}

// randomize draws a fresh uniform position within the working bounds with
// zero velocity and no personal best.
func (s *Swarm) randomize(c *fit.Candidate) {
	c.X = make(fit.Vector, s.dim)
	c.V = make(fit.Vector, s.dim)
	for j, iv := range s.bounds {
		c.X[j] = iv.Low + s.rng.Float64()*iv.Width()
	}
	s.bounds.Clamp(c.X)
	c.BestX = nil
	c.BestError = fit.Sentinel
	c.MaxVelocity = s.cfg.InitialMaxVelocity
}
