package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/swarmcal/internal/fit"
)

// MinWalkers is the smallest ensemble the snooker move can work with: the
// moving walker plus three distinct partners.
const MinWalkers = 4

// EnsembleConfig configures the affine-invariant ensemble sampler.
type EnsembleConfig struct {
	WalkerFactor float64 `yaml:"walker_factor"`
	MinWalkers   int     `yaml:"min_walkers"`

	// SnookerProbability is the chance of a snooker move; the remainder
	// are differential moves.
	SnookerProbability float64 `yaml:"snooker_probability"`
	// GammaScale multiplies the 2.38/sqrt(2D) differential step.
	GammaScale float64 `yaml:"gamma_scale"`
	// Sigma is the relative noise applied to the differential step.
	Sigma float64 `yaml:"sigma"`
}

// DefaultEnsembleConfig returns the default move mixture.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		WalkerFactor:       2,
		MinWalkers:         MinWalkers,
		SnookerProbability: 0.1,
		GammaScale:         1,
		Sigma:              1e-5,
	}
}

func (c EnsembleConfig) Validate() error {
	switch {
	case c.WalkerFactor <= 0:
		return fmt.Errorf("walker_factor must be positive, got %g", c.WalkerFactor)
	case c.MinWalkers < MinWalkers:
		return fmt.Errorf("min_walkers must be at least %d, got %d", MinWalkers, c.MinWalkers)
	case c.SnookerProbability < 0 || c.SnookerProbability > 1:
		return fmt.Errorf("snooker_probability must be in [0,1], got %g", c.SnookerProbability)
	case c.GammaScale <= 0:
		return fmt.Errorf("gamma_scale must be positive, got %g", c.GammaScale)
	case c.Sigma < 0:
		return fmt.Errorf("sigma must be non-negative, got %g", c.Sigma)
	}
	return nil
}

// ChainRecorder persists every step of the chain.
type ChainRecorder interface {
	RecordSamples(samples []fit.ChainSample) error
}

type proposal struct {
	x         fit.Vector
	logFactor float64
	inBounds  bool
}

// Ensemble is a Markov-chain ensemble sampler over [0,1]^D with
// log-probability -error. All walkers propose from the same ensemble
// state, so each step is a single batch.
type Ensemble struct {
	cfg      EnsembleConfig
	dim      int
	rng      *rand.Rand
	recorder ChainRecorder

	walkers []fit.Vector
	logProb []float64
	started bool
	pending []proposal
	step    int

	accepted []int
	proposed []int

	bestX   fit.Vector
	bestErr float64
}

// NewEnsemble creates max(round(WalkerFactor*dim), MinWalkers) walkers at
// uniform positions. recorder may be nil.
func NewEnsemble(dim int, cfg EnsembleConfig, rng *rand.Rand, recorder ChainRecorder) (*Ensemble, error) {
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := PopulationSize(cfg.WalkerFactor, dim)
	if w < cfg.MinWalkers {
		w = cfg.MinWalkers
	}
	e := &Ensemble{
		cfg:      cfg,
		dim:      dim,
		rng:      rng,
		recorder: recorder,
		walkers:  make([]fit.Vector, w),
		logProb:  make([]float64, w),
		accepted: make([]int, w),
		proposed: make([]int, w),
		bestErr:  fit.Sentinel,
	}
	for k := range e.walkers {
		x := make(fit.Vector, dim)
		for j := range x {
			x[j] = rng.Float64()
		}
		e.walkers[k] = x
		e.logProb[k] = math.Inf(-1)
	}
	return e, nil
}

func (e *Ensemble) Name() string { return "ensemble" }

// Walkers returns the ensemble size.
func (e *Ensemble) Walkers() int { return len(e.walkers) }

// Ask returns the initial positions on the first call and one proposal per
// walker afterwards. Proposals outside [0,1]^D are rejected without being
// evaluated and are left out of the batch.
func (e *Ensemble) Ask() []fit.Candidate {
	e.pending = make([]proposal, len(e.walkers))
	if !e.started {
		out := make([]fit.Candidate, len(e.walkers))
		for k, x := range e.walkers {
			e.pending[k] = proposal{x: x.Clone(), inBounds: true}
			out[k] = fit.Candidate{ID: k, X: x.Clone(), BestError: fit.Sentinel}
		}
		return out
	}

	unit := fit.UnitBounds(e.dim)
	out := make([]fit.Candidate, 0, len(e.walkers))
	for k := range e.walkers {
		var p proposal
		if e.rng.Float64() < e.cfg.SnookerProbability {
			p = e.snooker(k)
		} else {
			p = e.differential(k)
		}
		p.inBounds = unit.Contains(p.x)
		e.pending[k] = p
		if p.inBounds {
			out = append(out, fit.Candidate{ID: k, X: p.x.Clone(), BestError: fit.Sentinel})
		}
	}
	return out
}

// Tell applies the Metropolis acceptance rule to every walker and records
// the resulting chain step.
func (e *Ensemble) Tell(results []fit.Result) error {
	if e.pending == nil {
		return fmt.Errorf("tell called without a pending ask")
	}
	asked := make([]fit.Candidate, 0, len(e.pending))
	for k, p := range e.pending {
		if p.inBounds {
			asked = append(asked, fit.Candidate{ID: k})
		}
	}
	byID, err := indexResults(asked, results)
	if err != nil {
		return err
	}

	samples := make([]fit.ChainSample, len(e.walkers))
	for k, p := range e.pending {
		accept := false
		if p.inBounds {
			r := byID[k]
			errVal := errorOf(r)
			if !math.IsInf(errVal, 1) && errVal <= e.bestErr {
				e.bestErr = errVal
				e.bestX = p.x.Clone()
			}
			lnp := -errVal
			if !e.started {
				e.logProb[k] = lnp
				accept = true
			} else {
				e.proposed[k]++
				accept = e.acceptProposal(e.logProb[k], lnp, p.logFactor)
				if accept {
					e.walkers[k] = p.x.Clone()
					e.logProb[k] = lnp
					e.accepted[k]++
				}
			}
		} else {
			e.proposed[k]++
		}
		samples[k] = fit.ChainSample{
			Step:     e.step,
			Walker:   k,
			X:        e.walkers[k].Clone(),
			LogProb:  e.logProb[k],
			Accepted: accept,
		}
	}
	e.started = true
	e.pending = nil
	e.step++

	if e.recorder != nil {
		if err := e.recorder.RecordSamples(samples); err != nil {
			return fmt.Errorf("failed to record chain step %d: %w", e.step-1, err)
		}
	}
	slog.Debug("Ensemble step", "step", e.step, "evaluated", len(results))
	return nil
}

func (e *Ensemble) acceptProposal(current, proposed, logFactor float64) bool {
	if math.IsInf(proposed, -1) {
		return false
	}
	if math.IsInf(current, -1) {
		return true
	}
	logRatio := proposed - current + logFactor
	if logRatio >= 0 {
		return true
	}
	return math.Log(e.rng.Float64()) < logRatio
}

func (e *Ensemble) Best() (fit.Vector, float64) {
	return e.bestX.Clone(), e.bestErr
}

// Generation returns the number of completed steps, the initial
// evaluation included.
func (e *Ensemble) Generation() int { return e.step }

// AcceptanceFractions returns accepted/proposed per walker.
func (e *Ensemble) AcceptanceFractions() []float64 {
	out := make([]float64, len(e.walkers))
	for k := range out {
		if e.proposed[k] > 0 {
			out[k] = float64(e.accepted[k]) / float64(e.proposed[k])
		}
	}
	return out
}

// Positions returns a copy of the current walker positions.
func (e *Ensemble) Positions() []fit.Vector {
	out := make([]fit.Vector, len(e.walkers))
	for k, x := range e.walkers {
		out[k] = x.Clone()
	}
	return out
}

// Seed moves the first walker to x before the first step.
func (e *Ensemble) Seed(x fit.Vector) error {
	if len(x) != e.dim {
		return fmt.Errorf("seed has dimension %d, want %d", len(x), e.dim)
	}
	if e.started {
		return fmt.Errorf("cannot seed a running ensemble")
	}
	e.walkers[0] = x.Clone()
	fit.UnitBounds(e.dim).Clamp(e.walkers[0])
	return nil
}

// differential proposes x_k + gamma*(x_a - x_b) for two other walkers.
func (e *Ensemble) differential(k int) proposal {
	partners := e.partners(k, 2)
	gamma := e.cfg.GammaScale * 2.38 / math.Sqrt(2*float64(e.dim))
	gamma *= 1 + e.cfg.Sigma*e.rng.NormFloat64()

	diff := make([]float64, e.dim)
	floats.SubTo(diff, e.walkers[partners[0]], e.walkers[partners[1]])
	q := make(fit.Vector, e.dim)
	floats.AddScaledTo(q, e.walkers[k], gamma, diff)
	return proposal{x: q}
}

// snooker proposes a move along the line through x_k and an anchor walker
// z, with the step length taken from the projection of x_a - x_b on it.
func (e *Ensemble) snooker(k int) proposal {
	partners := e.partners(k, 3)
	x := e.walkers[k]
	z := e.walkers[partners[0]]

	u := make([]float64, e.dim)
	floats.SubTo(u, x, z)
	norm := floats.Norm(u, 2)
	if norm == 0 {
		return e.differential(k)
	}
	floats.Scale(1/norm, u)

	diff := make([]float64, e.dim)
	floats.SubTo(diff, e.walkers[partners[1]], e.walkers[partners[2]])
	gamma := 1.7 / math.Sqrt2
	step := gamma * floats.Dot(u, diff)

	q := make(fit.Vector, e.dim)
	floats.AddScaledTo(q, x, step, u)

	qz := floats.Distance(q, z, 2)
	if qz == 0 {
		return proposal{x: q, logFactor: math.Inf(-1)}
	}
	logFactor := float64(e.dim-1) * (math.Log(qz) - math.Log(norm))
	return proposal{x: q, logFactor: logFactor}
}

// partners picks n distinct walkers other than k.
func (e *Ensemble) partners(k, n int) []int {
	perm := e.rng.Perm(len(e.walkers) - 1)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		idx := perm[i]
		if idx >= k {
			idx++
		}
		out[i] = idx
	}
	return out
}
