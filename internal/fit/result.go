package fit

import (
	"math"
	"time"
)

// Sentinel is the error value assigned to a failed evaluation. It ranks
// below every real result.
var Sentinel = math.Inf(1)

// Candidate is one population member. ID doubles as the workspace slot and
// stays fixed for the whole run; X and V are overwritten every generation.
type Candidate struct {
	ID          int     `json:"id"`
	X           Vector  `json:"x"`
	V           Vector  `json:"v,omitempty"`
	BestX       Vector  `json:"bestX,omitempty"`
	BestError   float64 `json:"bestError"`
	MaxVelocity float64 `json:"maxVelocity,omitempty"`
}

// Clone deep-copies the candidate so a dispatched snapshot cannot be
// mutated by the strategy.
func (c Candidate) Clone() Candidate {
	c.X = c.X.Clone()
	c.V = c.V.Clone()
	c.BestX = c.BestX.Clone()
	return c
}

// Result is the outcome of evaluating one candidate.
type Result struct {
	CandidateID int                `json:"candidateId"`
	Error       float64            `json:"errorTotal"`
	Components  map[string]float64 `json:"errorComponents,omitempty"`
	TestValues  map[string]float64 `json:"testValues,omitempty"`
	Duration    time.Duration      `json:"duration"`

	// Err is set when the evaluation failed; Error then holds Sentinel.
	Err error `json:"-"`
}

// Failed builds the sentinel result for a candidate whose evaluation errored.
func Failed(candidateID int, err error) Result {
	return Result{CandidateID: candidateID, Error: Sentinel, Err: err}
}

// OK reports whether the evaluation produced a usable error value.
func (r Result) OK() bool {
	return r.Err == nil && !math.IsInf(r.Error, 1) && !math.IsNaN(r.Error)
}

// TrialRecord is one immutable history entry.
type TrialRecord struct {
	Index      int       `json:"trial"`
	Generation int       `json:"generation"`
	Slot       int       `json:"slot"`
	X          Vector    `json:"p"`
	Values     []float64 `json:"values"`
	Result     Result    `json:"result"`
}

// Error returns the trial's total error.
func (t TrialRecord) Error() float64 {
	return t.Result.Error
}

// BestState is the single best-ever trial of a run.
type BestState struct {
	Error        float64      `json:"error"`
	X            Vector       `json:"p"`
	Trial        *TrialRecord `json:"trial,omitempty"`
	SnapshotPath string       `json:"snapshotPath,omitempty"`
}

// NewBestState returns the initial state with error +Inf.
func NewBestState() BestState {
	return BestState{Error: math.Inf(1)}
}

// Found reports whether any finite best has been recorded.
func (b BestState) Found() bool {
	return b.Trial != nil
}

// ChainSample is the state of one ensemble walker after one sampler step.
type ChainSample struct {
	Step     int     `json:"step"`
	Walker   int     `json:"walker"`
	X        Vector  `json:"p"`
	LogProb  float64 `json:"logProb"`
	Accepted bool    `json:"accepted"`
}
