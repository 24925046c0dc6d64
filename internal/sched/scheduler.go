// Package sched dispatches one generation of candidates across a bounded
// pool of concurrent evaluations.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/swarmcal/internal/eval"
	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/workspace"
)

// DefaultWorkers leaves one CPU for the controller process.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Scheduler runs evaluations with a parallelism cap that is independent of
// the population size; excess candidates queue until a worker frees up.
type Scheduler struct {
	workspaces *workspace.Manager
	evaluator  eval.Evaluator
	workers    int
}

// New creates a scheduler. workers <= 0 selects DefaultWorkers.
func New(workspaces *workspace.Manager, evaluator eval.Evaluator, workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Scheduler{
		workspaces: workspaces,
		evaluator:  evaluator,
		workers:    workers,
	}
}

// Workers returns the parallelism cap.
func (s *Scheduler) Workers() int { return s.workers }

// DispatchBatch evaluates every candidate and blocks until all of them have
// returned. result[i] always belongs to candidates[i] regardless of
// completion order. A failed evaluation yields fit.Sentinel and never
// affects its siblings.
//
// Every slot is wiped before any evaluation starts, so a batch never sees a
// previous generation's files in a slot it is about to use.
func (s *Scheduler) DispatchBatch(ctx context.Context, candidates []fit.Candidate) []fit.Result {
	results := make([]fit.Result, len(candidates))
	if len(candidates) == 0 {
		return results
	}

	slog.Info("Dispatching batch", "size", len(candidates), "workers", s.workers)
	start := time.Now()

	spaces := make([]*workspace.Workspace, len(candidates))
	inFlight := make(map[int]int, len(candidates))
	for i, c := range candidates {
		if prev, dup := inFlight[c.ID]; dup {
			err := fmt.Errorf("slot %d already used by batch position %d", c.ID, prev)
			slog.Error("Duplicate candidate slot in batch", "slot", c.ID, "error", err)
			results[i] = fit.Failed(c.ID, err)
			continue
		}
		inFlight[c.ID] = i

		ws, err := s.workspaces.Acquire(c.ID)
		if err != nil {
			// Non-fatal: the evaluation will most likely fail and be
			// recorded with the sentinel.
			slog.Warn("Workspace not ready", "slot", c.ID, "error", err)
		}
		spaces[i] = ws
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range candidates {
		if spaces[i] == nil {
			continue
		}
		c := candidates[i].Clone()
		ws := spaces[i]
		g.Go(func() error {
			results[i] = s.evaluate(ctx, c, ws)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	slog.Info("Batch complete", "size", len(candidates), "failed", failed, "elapsed", time.Since(start))
	return results
}

// evaluate runs one candidate and converts every failure mode, panics
// included, into a sentinel result.
func (s *Scheduler) evaluate(ctx context.Context, c fit.Candidate, ws *workspace.Workspace) (res fit.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("evaluator panic: %v", r)
			slog.Error("Candidate evaluation panicked", "slot", c.ID, "error", err)
			res = fit.Failed(c.ID, err)
		}
	}()

	res, err := s.evaluator.Evaluate(ctx, c, ws)
	if err != nil {
		slog.Warn("Candidate evaluation failed", "slot", c.ID, "error", err)
		return fit.Failed(c.ID, err)
	}
	res.CandidateID = c.ID
	return res
}
