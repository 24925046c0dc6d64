// Package eval turns one candidate into a scalar error.
//
// An Evaluator is the single blocking, expensive and failure-prone call the
// rest of the engine is built around. The production implementation is a
// Pipeline of named stages run inside the candidate's workspace; FuncEvaluator
// wraps an in-process objective for synthetic problems.
package eval

import (
	"context"
	"time"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/workspace"
)

// Evaluator evaluates a candidate inside a workspace. It returns an
// *EvaluationError or *ResultParseError on failure and never retries.
type Evaluator interface {
	Evaluate(ctx context.Context, c fit.Candidate, ws *workspace.Workspace) (fit.Result, error)
}

// ObjectiveFunc is an in-process error function over normalized parameters.
type ObjectiveFunc func(x fit.Vector) (float64, error)

// FuncEvaluator evaluates candidates with an in-process objective. The
// workspace is ignored.
type FuncEvaluator struct {
	Objective ObjectiveFunc
}

// NewFuncEvaluator wraps an error-free objective.
func NewFuncEvaluator(f func(x fit.Vector) float64) *FuncEvaluator {
	return &FuncEvaluator{Objective: func(x fit.Vector) (float64, error) {
		return f(x), nil
	}}
}

// Evaluate calls the objective.
func (e *FuncEvaluator) Evaluate(ctx context.Context, c fit.Candidate, ws *workspace.Workspace) (fit.Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return fit.Failed(c.ID, err), &EvaluationError{CandidateID: c.ID, Stage: "objective", Err: err}
	}
	value, err := e.Objective(c.X)
	if err != nil {
		return fit.Failed(c.ID, err), &EvaluationError{CandidateID: c.ID, Stage: "objective", Err: err}
	}
	return fit.Result{
		CandidateID: c.ID,
		Error:       value,
		Duration:    time.Since(start),
	}, nil
}
