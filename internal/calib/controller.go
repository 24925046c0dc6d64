// Package calib drives a calibration run: ask the strategy, dispatch the
// batch, record every trial, tell the strategy, repeat.
package calib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/swarmcal/internal/config"
	"github.com/cwbudde/swarmcal/internal/eval"
	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/opt"
	"github.com/cwbudde/swarmcal/internal/report"
	"github.com/cwbudde/swarmcal/internal/sched"
	"github.com/cwbudde/swarmcal/internal/store"
	"github.com/cwbudde/swarmcal/internal/track"
	"github.com/cwbudde/swarmcal/internal/workspace"
)

// Reasons a run ends.
const (
	StopBudget    = "budget"
	StopConverged = "converged"
	StopCancelled = "cancelled"
)

// Observer follows a run from the outside, e.g. the status server.
type Observer interface {
	track.Observer
	GenerationCompleted(generation int, best fit.BestState)
	RunFinished(err error)
}

// Options configures a Controller.
type Options struct {
	Config     *config.Config
	ConfigPath string

	// RunID names the run directory; NewRunID is used when empty.
	RunID string

	// Evaluator replaces the pipeline built from Config.Evaluation.
	Evaluator eval.Evaluator

	// Resume seeds the new run with a checkpoint's best parameters.
	Resume *store.Checkpoint

	Observer Observer
}

// Summary describes a finished run.
type Summary struct {
	RunID    string `json:"runId"`
	RunDir   string `json:"runDir"`
	Strategy string `json:"strategy"`

	// Generations counts completed generations. For mayfly a generation
	// is a block of population-size trials.
	Generations int                 `json:"generations"`
	Trials      int                 `json:"trials"`
	Best        fit.BestState       `json:"best"`
	Stopped     string              `json:"stopped"`
	Elapsed     time.Duration       `json:"elapsed"`
	Chain       *store.ChainSummary `json:"chain,omitempty"`
}

// Controller owns every component of one run. It is single-threaded; the
// only concurrency is inside DispatchBatch.
type Controller struct {
	cfg        *config.Config
	configPath string
	runID      string
	runDir     string

	store       *store.FSStore
	workspaces  *workspace.Manager
	scheduler   *sched.Scheduler
	tracker     *track.Tracker
	trace       *store.TraceWriter
	chain       *store.ChainStore
	strategy    opt.Strategy
	convergence *fit.ConvergenceTracker
	observer    Observer
	resume      *store.Checkpoint

	generation int
}

// New prepares a run directory under cfg.Run.OutputDir and wires the
// strategy, scheduler and tracker. Nothing is evaluated yet.
func New(opts Options) (*Controller, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	summary := cfg.Summary(opts.ConfigPath)
	if opts.Resume != nil {
		if err := opts.Resume.Validate(); err != nil {
			return nil, fmt.Errorf("invalid checkpoint: %w", err)
		}
		if err := opts.Resume.IsCompatible(summary); err != nil {
			return nil, fmt.Errorf("cannot resume run %s: %w", opts.Resume.RunID, err)
		}
	}

	evaluator := opts.Evaluator
	if evaluator == nil {
		if err := cfg.CheckFiles(); err != nil {
			return nil, err
		}
		pipeline, err := NewPipeline(cfg)
		if err != nil {
			return nil, err
		}
		evaluator = pipeline
	}

	st, err := store.NewFSStore(cfg.Run.OutputDir)
	if err != nil {
		return nil, err
	}
	runID := opts.RunID
	if runID == "" {
		runID = NewRunID()
	}
	runDir := st.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	wm, err := workspace.NewManager(filepath.Join(runDir, store.WorkspacesDir))
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:         cfg,
		configPath:  opts.ConfigPath,
		runID:       runID,
		runDir:      runDir,
		store:       st,
		workspaces:  wm,
		scheduler:   sched.New(wm, evaluator, cfg.Run.Workers),
		convergence: fit.NewConvergenceTracker(cfg.Convergence()),
		observer:    opts.Observer,
		resume:      opts.Resume,
	}

	var plotter track.Plotter
	if cfg.Plot.Enabled {
		path := cfg.Plot.Path
		if path == "" {
			path = filepath.Join(runDir, report.DefaultFileName)
		}
		title := cfg.Run.Name
		if title == "" {
			title = runID
		}
		plotter = report.NewPlotter(path, title)
	}

	var observer track.Observer
	if opts.Observer != nil {
		observer = opts.Observer
	}
	c.tracker, err = track.New(track.Options{
		HistoryPath: filepath.Join(runDir, store.HistoryFile),
		BestDir:     filepath.Join(runDir, store.BestDir),
		Space:       cfg.Space(),
		Workspaces:  wm,
		PostBest:    cfg.Best.Callback,
		Plotter:     plotter,
		Observer:    observer,
	})
	if err != nil {
		return nil, err
	}

	if c.trace, err = store.NewTraceWriter(runDir, false); err != nil {
		return nil, err
	}
	if err := c.newStrategy(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Controller) newStrategy() error {
	dim := len(c.cfg.Parameters)
	rng := rand.New(rand.NewSource(c.cfg.Run.Seed))

	switch c.cfg.Run.Strategy {
	case config.StrategySwarm:
		s, err := opt.NewSwarm(dim, c.cfg.Swarm, rng)
		if err != nil {
			return err
		}
		c.strategy = s
	case config.StrategyEnsemble:
		chain, err := store.OpenChainStore(filepath.Join(c.runDir, store.ChainFile), c.runID)
		if err != nil {
			return err
		}
		c.chain = chain
		e, err := opt.NewEnsemble(dim, c.cfg.Ensemble, rng, chain)
		if err != nil {
			return err
		}
		c.strategy = e
	case config.StrategyMayfly:
		// Mayfly owns its loop; see runMayfly.
		return nil
	default:
		return &config.ConfigurationError{Field: "run.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.cfg.Run.Strategy)}
	}

	if c.resume == nil {
		return nil
	}
	seeder, ok := c.strategy.(opt.Seeder)
	if !ok {
		slog.Warn("Strategy cannot be seeded, ignoring checkpoint", "strategy", c.strategy.Name())
		return nil
	}
	if err := seeder.Seed(fit.Vector(c.resume.BestParams).Clone()); err != nil {
		return fmt.Errorf("failed to seed strategy: %w", err)
	}
	slog.Info("Seeded from checkpoint", "from_run", c.resume.RunID, "best_error", c.resume.BestError)
	return nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.New().String() }

// RunID returns the new run's identifier.
func (c *Controller) RunID() string { return c.runID }

// RunDir returns the run's directory.
func (c *Controller) RunDir() string { return c.runDir }

// Tracker exposes the run's history and best state.
func (c *Controller) Tracker() *track.Tracker { return c.tracker }

// Run executes the generation budget, or less when the optional early stop
// fires or ctx is cancelled between generations. A cancelled run returns
// its summary together with ctx's error.
func (c *Controller) Run(ctx context.Context) (summary *Summary, err error) {
	start := time.Now()
	slog.Info("Starting calibration",
		"run_id", c.runID,
		"strategy", c.cfg.Run.Strategy,
		"dim", len(c.cfg.Parameters),
		"population", c.cfg.Population(),
		"workers", c.scheduler.Workers(),
		"generations", c.cfg.Run.Generations,
		"run_dir", c.runDir)

	defer func() {
		if c.observer != nil {
			c.observer.RunFinished(err)
		}
	}()

	var stopped string
	if c.cfg.Run.Strategy == config.StrategyMayfly {
		stopped, err = c.runMayfly(ctx)
	} else {
		stopped, err = c.runStrategy(ctx)
	}
	if err != nil && stopped != StopCancelled {
		return nil, err
	}

	summary = &Summary{
		RunID:       c.runID,
		RunDir:      c.runDir,
		Strategy:    c.cfg.Run.Strategy,
		Generations: c.generation,
		Trials:      c.tracker.Trials(),
		Best:        c.tracker.Best(),
		Stopped:     stopped,
		Elapsed:     time.Since(start),
	}
	if c.chain != nil {
		chain, chainErr := c.chain.Summary(c.generation / 2)
		if chainErr != nil {
			slog.Warn("Failed to summarize chain", "error", chainErr)
		} else {
			summary.Chain = chain
			slog.Info("Chain summary",
				"steps", chain.Steps,
				"walkers", chain.Walkers,
				"acceptance", chain.Acceptance,
				"mean", chain.Mean,
				"std_dev", chain.StdDev)
		}
	}

	slog.Info("Calibration finished",
		"run_id", c.runID,
		"stopped", stopped,
		"generations", summary.Generations,
		"trials", summary.Trials,
		"best_error", summary.Best.Error,
		"elapsed", summary.Elapsed)
	return summary, err
}

func (c *Controller) runStrategy(ctx context.Context) (string, error) {
	for c.generation < c.cfg.Run.Generations {
		if err := ctx.Err(); err != nil {
			return StopCancelled, err
		}
		genStart := time.Now()

		candidates := c.strategy.Ask()
		results := c.scheduler.DispatchBatch(ctx, candidates)
		if err := ctx.Err(); err != nil {
			// Evaluations were killed; their sentinels say nothing about
			// the candidates.
			slog.Warn("Batch interrupted, discarding results", "generation", c.generation)
			return StopCancelled, err
		}

		batchBest, failed := math.Inf(1), 0
		for i, cand := range candidates {
			rec := fit.TrialRecord{
				Generation: c.generation,
				Slot:       cand.ID,
				X:          cand.X.Clone(),
				Result:     results[i],
			}
			if _, err := c.tracker.Record(rec); err != nil {
				return "", err
			}
			if results[i].OK() {
				batchBest = math.Min(batchBest, results[i].Error)
			} else {
				failed++
			}
		}

		if err := c.strategy.Tell(results); err != nil {
			return "", fmt.Errorf("strategy rejected results: %w", err)
		}

		converged, err := c.endGeneration(len(candidates), failed, batchBest, time.Since(genStart))
		if err != nil {
			return "", err
		}
		if converged {
			return StopConverged, nil
		}
	}
	return StopBudget, nil
}

// runMayfly hands the whole loop to the mayfly optimizer.
func (c *Controller) runMayfly(ctx context.Context) (string, error) {
	adapter := opt.NewMayfly(c.cfg.Run.Generations, c.cfg.Mayfly.Population, c.cfg.Run.Seed)
	if c.resume != nil {
		slog.Warn("Mayfly cannot be seeded, ignoring checkpoint", "from_run", c.resume.RunID)
	}
	return c.runOptimizer(ctx, adapter, adapter.PopulationSize())
}

// runOptimizer drives an optimizer that owns its loop. Its objective calls
// are sequential, so every call is a one-candidate batch in slot 0. A block
// of population trials counts as one generation; once the generation
// budget is spent the remaining calls return without evaluating.
func (c *Controller) runOptimizer(ctx context.Context, optimizer opt.Optimizer, population int) (string, error) {
	dim := len(c.cfg.Parameters)
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range upper {
		upper[i] = 1
	}
	bounds := fit.UnitBounds(dim)

	var (
		fatal     error
		stopped   string
		inBlock   int
		failed    int
		batchBest = math.Inf(1)
		blockTime = time.Now()
	)
	objective := func(p []float64) float64 {
		if fatal != nil || stopped != "" {
			return math.MaxFloat64
		}
		if err := ctx.Err(); err != nil {
			stopped, fatal = StopCancelled, err
			return math.MaxFloat64
		}

		x := fit.Vector(p).Clone()
		bounds.Clamp(x)
		cand := fit.Candidate{ID: 0, X: x}
		res := c.scheduler.DispatchBatch(ctx, []fit.Candidate{cand})[0]
		if err := ctx.Err(); err != nil {
			stopped, fatal = StopCancelled, err
			return math.MaxFloat64
		}

		rec := fit.TrialRecord{Generation: c.generation, Slot: cand.ID, X: x, Result: res}
		if _, err := c.tracker.Record(rec); err != nil {
			fatal = err
			return math.MaxFloat64
		}
		if res.OK() {
			batchBest = math.Min(batchBest, res.Error)
		} else {
			failed++
		}

		inBlock++
		if inBlock == population {
			converged, err := c.endGeneration(inBlock, failed, batchBest, time.Since(blockTime))
			switch {
			case err != nil:
				fatal = err
			case converged:
				stopped = StopConverged
			case c.generation >= c.cfg.Run.Generations:
				stopped = StopBudget
			}
			inBlock, failed, batchBest, blockTime = 0, 0, math.Inf(1), time.Now()
		}

		if !res.OK() {
			return math.MaxFloat64
		}
		return res.Error
	}

	_, _, err := optimizer.Run(objective, lower, upper, dim)
	if fatal != nil {
		return stopped, fatal
	}
	if err != nil {
		return "", err
	}
	if inBlock > 0 {
		if _, err := c.endGeneration(inBlock, failed, batchBest, time.Since(blockTime)); err != nil {
			return "", err
		}
	}
	if stopped == "" {
		stopped = StopBudget
	}
	return stopped, nil
}

// endGeneration writes the trace line and checkpoint for the generation
// just completed and reports whether the early stop fired.
func (c *Controller) endGeneration(batchSize, failed int, batchBest float64, elapsed time.Duration) (bool, error) {
	c.generation++
	best := c.tracker.Best()

	entry := store.TraceEntry{
		Generation: c.generation,
		BestError:  store.Finite(best.Error),
		BatchBest:  store.Finite(batchBest),
		BatchSize:  batchSize,
		Failed:     failed,
		Elapsed:    elapsed,
		Timestamp:  time.Now(),
		BestParams: best.X,
	}
	if err := c.trace.Write(entry); err != nil {
		slog.Warn("Failed to write trace entry", "generation", c.generation, "error", err)
	} else if err := c.trace.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "generation", c.generation, "error", err)
	}

	slog.Info("Generation complete",
		"run_id", c.runID,
		"generation", c.generation,
		"batch_size", batchSize,
		"failed", failed,
		"batch_best", batchBest,
		"best_error", best.Error,
		"elapsed", elapsed)

	last := c.generation >= c.cfg.Run.Generations
	if best.Found() && (c.generation%c.cfg.Run.CheckpointEvery == 0 || last) {
		if err := c.saveCheckpoint(best); err != nil {
			return false, err
		}
	}

	if c.observer != nil {
		c.observer.GenerationCompleted(c.generation, best)
	}
	return c.convergence.Update(best.Error), nil
}

func (c *Controller) saveCheckpoint(best fit.BestState) error {
	cp := store.NewCheckpoint(
		c.runID,
		best.X.Clone(),
		c.cfg.Space().Denormalize(best.X),
		best.Error,
		c.generation,
		c.tracker.Trials(),
		c.cfg.Summary(c.configPath),
	)
	if err := c.store.SaveCheckpoint(c.runID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Close flushes the trace and closes the chain database.
func (c *Controller) Close() error {
	var errs []error
	if c.trace != nil {
		errs = append(errs, c.trace.Close())
	}
	if c.chain != nil {
		errs = append(errs, c.chain.Close())
	}
	return errors.Join(errs...)
}
