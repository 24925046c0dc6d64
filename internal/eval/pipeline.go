package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/workspace"
)

// Job is what every stage sees: the candidate, its physical parameter
// values and the workspace it runs in.
type Job struct {
	Candidate fit.Candidate
	Values    map[string]float64
	Workspace *workspace.Workspace
}

// Stage is one blocking step of the evaluation pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, job *Job) error
}

// Pipeline runs its stages in order and then harvests the result table
// from the workspace's output directory. A failed stage stops the pipeline;
// there is no rollback and no retry.
type Pipeline struct {
	space      fit.Space
	stages     []Stage
	resultFile string
}

// NewPipeline builds a pipeline. resultFile is relative to the output directory.
func NewPipeline(space fit.Space, resultFile string, stages ...Stage) *Pipeline {
	return &Pipeline{
		space:      space,
		stages:     stages,
		resultFile: resultFile,
	}
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Evaluate runs every stage and parses the result table.
func (p *Pipeline) Evaluate(ctx context.Context, c fit.Candidate, ws *workspace.Workspace) (fit.Result, error) {
	start := time.Now()
	job := &Job{
		Candidate: c,
		Values:    p.space.Values(c.X),
		Workspace: ws,
	}

	for _, stage := range p.stages {
		stageStart := time.Now()
		if err := stage.Run(ctx, job); err != nil {
			evalErr := &EvaluationError{CandidateID: c.ID, Stage: stage.Name(), Err: err}
			return fit.Failed(c.ID, evalErr), evalErr
		}
		slog.Debug("Stage complete", "slot", ws.Slot, "stage", stage.Name(), "elapsed", time.Since(stageStart))
	}

	path := filepath.Join(ws.Output(), p.resultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		evalErr := &EvaluationError{CandidateID: c.ID, Stage: "harvest", Err: fmt.Errorf("result file %s not produced", path)}
		return fit.Failed(c.ID, evalErr), evalErr
	}

	result, err := ReadResultFile(path)
	if err != nil {
		return fit.Failed(c.ID, err), err
	}
	result.CandidateID = c.ID
	result.Duration = time.Since(start)
	return result, nil
}
