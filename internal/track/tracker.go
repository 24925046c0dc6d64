// Package track owns the run history and the best-so-far state.
package track

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/store"
	"github.com/cwbudde/swarmcal/internal/workspace"
)

// Plotter renders the progress chart from the full history.
type Plotter interface {
	Plot(records []fit.TrialRecord) error
}

// Observer is notified after every recorded trial.
type Observer interface {
	TrialRecorded(rec fit.TrialRecord, best fit.BestState, improved bool)
}

// Options configures a Tracker. Only HistoryPath is required.
type Options struct {
	HistoryPath string
	BestDir     string
	Space       fit.Space

	// Workspaces locates the winning slot's files for the best snapshot;
	// nil disables snapshots.
	Workspaces *workspace.Manager

	// PostBest is an optional command run after every new best.
	PostBest []string

	Plotter  Plotter
	Observer Observer
}

// BestInfo is written next to the best snapshot.
type BestInfo struct {
	Trial      int                `json:"trial"`
	Generation int                `json:"generation"`
	Slot       int                `json:"slot"`
	Error      float64            `json:"errorTotal"`
	P          []float64          `json:"p"`
	Values     map[string]float64 `json:"values,omitempty"`
	Components map[string]float64 `json:"errorComponents,omitempty"`
	TestValues map[string]float64 `json:"testValues,omitempty"`
}

// Tracker is the single owner of history and BestState. Record is called
// only from the controller, between batches; the lock exists for readers
// such as the status server.
type Tracker struct {
	opts Options

	mu      sync.RWMutex
	records []fit.TrialRecord
	best    fit.BestState
}

// New creates a tracker with an empty history.
func New(opts Options) (*Tracker, error) {
	if opts.HistoryPath == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}
	return &Tracker{
		opts: opts,
		best: fit.NewBestState(),
	}, nil
}

// Record appends rec to the history with the next trial index, rewrites the
// history table and updates the best state when rec's error is lower than
// or equal to the current best. It returns whether rec became the new best.
// Only persistence failures are returned; they are fatal for the run.
func (t *Tracker) Record(rec fit.TrialRecord) (bool, error) {
	t.mu.Lock()
	rec.Index = len(t.records)
	if rec.Values == nil && len(t.opts.Space) == len(rec.X) {
		rec.Values = t.opts.Space.Denormalize(rec.X)
	}
	t.records = append(t.records, rec)
	snapshot := append([]fit.TrialRecord(nil), t.records...)

	improved := rec.Result.OK() && rec.Error() <= t.best.Error
	if improved {
		stored := rec
		t.best = fit.BestState{
			Error:        rec.Error(),
			X:            rec.X.Clone(),
			Trial:        &stored,
			SnapshotPath: t.opts.BestDir,
		}
	}
	best := t.best
	t.mu.Unlock()

	var names []string
	if len(t.opts.Space) > 0 {
		names = t.opts.Space.Names()
	}
	if err := store.WriteHistory(t.opts.HistoryPath, names, snapshot); err != nil {
		return improved, fmt.Errorf("failed to persist history: %w", err)
	}

	if improved {
		slog.Info("New best",
			"trial", rec.Index,
			"generation", rec.Generation,
			"slot", rec.Slot,
			"error", rec.Error(),
			"p", []float64(rec.X),
			"values", rec.Values)
		if err := t.snapshot(rec); err != nil {
			return improved, err
		}
		t.runPostBest(rec)
	}

	if t.opts.Plotter != nil {
		if err := t.opts.Plotter.Plot(snapshot); err != nil {
			slog.Warn("Failed to update progress plot", "error", err)
		}
	}
	if t.opts.Observer != nil {
		t.opts.Observer.TrialRecorded(rec, best, improved)
	}
	return improved, nil
}

// Best returns a copy of the best state.
func (t *Tracker) Best() fit.BestState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.best
	b.X = b.X.Clone()
	return b
}

// Records returns a copy of the history.
func (t *Tracker) Records() []fit.TrialRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]fit.TrialRecord(nil), t.records...)
}

// Trials returns the number of recorded trials.
func (t *Tracker) Trials() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *Tracker) snapshot(rec fit.TrialRecord) error {
	if t.opts.BestDir == "" {
		return nil
	}
	sources := map[string]string{}
	if t.opts.Workspaces != nil {
		ws := t.opts.Workspaces.Workspace(rec.Slot)
		sources[workspace.GeneratedDir] = ws.Generated()
		sources[workspace.OutputDir] = ws.Output()
	}
	if err := store.ReplaceTree(t.opts.BestDir, sources); err != nil {
		return fmt.Errorf("failed to snapshot best: %w", err)
	}

	info := BestInfo{
		Trial:      rec.Index,
		Generation: rec.Generation,
		Slot:       rec.Slot,
		Error:      rec.Error(),
		P:          rec.X,
		Components: rec.Result.Components,
		TestValues: rec.Result.TestValues,
	}
	if len(t.opts.Space) == len(rec.X) {
		info.Values = t.opts.Space.Values(rec.X)
	}
	if err := store.WriteJSON(filepath.Join(t.opts.BestDir, store.BestInfoFile), info); err != nil {
		return fmt.Errorf("failed to write best info: %w", err)
	}
	return nil
}

// runPostBest starts the callback and does not wait for it.
func (t *Tracker) runPostBest(rec fit.TrialRecord) {
	if len(t.opts.PostBest) == 0 {
		return
	}
	cmd := exec.Command(t.opts.PostBest[0], t.opts.PostBest[1:]...)
	cmd.Dir = t.opts.BestDir
	cmd.Env = append(os.Environ(),
		"SWARMCAL_BEST_DIR="+t.opts.BestDir,
		"SWARMCAL_BEST_ERROR="+strconv.FormatFloat(rec.Error(), 'g', -1, 64),
		"SWARMCAL_BEST_TRIAL="+strconv.Itoa(rec.Index),
	)
	if err := cmd.Start(); err != nil {
		slog.Warn("Post-best callback failed to start", "command", t.opts.PostBest[0], "error", err)
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Warn("Post-best callback failed", "command", t.opts.PostBest[0], "error", err)
			return
		}
		slog.Debug("Post-best callback finished", "command", t.opts.PostBest[0], "trial", rec.Index)
	}()
}
