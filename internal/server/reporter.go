package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/store"
)

// Reporter feeds one run's progress into the registry and the SSE
// broadcaster. It is the controller's observer.
type Reporter struct {
	rm    *RunManager
	runID string
}

// Reporter returns the observer for a registered run.
func (rm *RunManager) Reporter(runID string) *Reporter {
	return &Reporter{rm: rm, runID: runID}
}

// TrialRecorded updates counters; a new best is broadcast immediately.
func (r *Reporter) TrialRecorded(rec fit.TrialRecord, best fit.BestState, improved bool) {
	r.rm.UpdateRun(r.runID, func(run *Run) {
		run.Trials++
		if !rec.Result.OK() {
			run.Failed++
		}
		if improved {
			run.BestError = store.Finite(best.Error)
			run.BestParams = best.X.Clone()
			run.BestTrial = rec.Index
			if len(rec.Values) > 0 && len(rec.Values) == len(run.Info.Parameters) {
				run.BestValues = make(map[string]float64, len(rec.Values))
				for i, name := range run.Info.Parameters {
					run.BestValues[name] = rec.Values[i]
				}
			}
		}
	})
	if improved {
		r.broadcast(EventBest)
	}
}

// GenerationCompleted broadcasts the generation summary.
func (r *Reporter) GenerationCompleted(generation int, best fit.BestState) {
	r.rm.UpdateRun(r.runID, func(run *Run) {
		run.Generation = generation
		run.BestError = store.Finite(best.Error)
	})
	r.broadcast(EventGeneration)
}

// RunFinished marks the run completed, cancelled or failed.
func (r *Reporter) RunFinished(err error) {
	switch {
	case err == nil:
		markRun(r.rm, r.runID, StateCompleted, nil)
	case errors.Is(err, context.Canceled):
		markRun(r.rm, r.runID, StateCancelled, nil)
		slog.Info("Run cancelled", "run_id", r.runID)
	default:
		markRun(r.rm, r.runID, StateFailed, err)
		slog.Error("Run failed", "run_id", r.runID, "error", err)
	}
	r.broadcast(EventFinished)
}

func (r *Reporter) broadcast(kind EventKind) {
	run, ok := r.rm.GetRun(r.runID)
	if !ok {
		return
	}
	r.rm.broadcaster.Broadcast(newProgressEvent(kind, run))
}

// markRun sets a terminal state
func markRun(rm *RunManager, runID string, state RunState, err error) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(run *Run) {
		run.State = state
		run.EndTime = &endTime
		if err != nil {
			run.Error = err.Error()
		}
	})
}
