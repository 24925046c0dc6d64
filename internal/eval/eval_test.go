package eval

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/workspace"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    bool
		wantTotal  float64
		components map[string]float64
		testValues map[string]float64
	}{
		{
			name:      "total only",
			input:     "error_total\n0.125\n",
			wantTotal: 0.125,
		},
		{
			name:       "components and test values",
			input:      "error_total,error_cpt_force,error_cpt_ktr,test_value_pCa50,label\n1.5,1.0,0.5,5.8,ignored\n",
			wantTotal:  1.5,
			components: map[string]float64{"force": 1.0, "ktr": 0.5},
			testValues: map[string]float64{"pCa50": 5.8},
		},
		{
			name:       "tab separated",
			input:      "error_total\terror_cpt_a\n2\t1\n",
			wantTotal:  2,
			components: map[string]float64{"a": 1},
		},
		{name: "missing total", input: "error_cpt_force\n1\n", wantErr: true},
		{name: "no data row", input: "error_total\n", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "not a number", input: "error_total\nabc\n", wantErr: true},
		{name: "infinite total", input: "error_total\ninf\n", wantErr: true},
		{name: "nan total", input: "error_total\nNaN\n", wantErr: true},
		{name: "infinite component", input: "error_total,error_cpt_force\n0.1,inf\n", wantErr: true},
		{name: "negative infinite test value", input: "error_total,test_value_hill\n0.1,-Infinity\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, got.Error)
			for k, v := range tt.components {
				assert.Equal(t, v, got.Components[k], "component %s", k)
			}
			for k, v := range tt.testValues {
				assert.Equal(t, v, got.TestValues[k], "test value %s", k)
			}
		})
	}
}

func TestReadResultFileRejectsNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	require.NoError(t, os.WriteFile(path, []byte("error_total,error_cpt_force\n0.1,inf\n"), 0644))

	_, err := ReadResultFile(path)
	var parseErr *ResultParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "error_cpt_force")
}

func TestReadResultFileWrapsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	require.NoError(t, os.WriteFile(path, []byte("something_else\n1\n"), 0644))

	_, err := ReadResultFile(path)
	var parseErr *ResultParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, path, parseErr.Path)
}

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	m, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)
	ws, err := m.Acquire(0)
	require.NoError(t, err)
	return ws
}

func shellStage(t *testing.T, name, script string) Stage {
	t.Helper()
	stage, err := NewCommandStage(name, "sh", []string{"-c", script}, nil, 0)
	require.NoError(t, err)
	return stage
}

var testSpace = fit.Space{
	{Name: "k_on", Min: 0, Max: 10},
	{Name: "k_off", Min: 1, Max: 100, Scale: fit.ScaleLog},
}

func TestPipelineSuccess(t *testing.T) {
	ws := newTestWorkspace(t)

	tmplPath := filepath.Join(t.TempDir(), "model.tmpl")
	require.NoError(t, os.WriteFile(tmplPath, []byte(`{"k_on": {{index .Params "k_on"}}}`), 0644))
	materializer, err := NewTemplateMaterializer(tmplPath, "")
	require.NoError(t, err)

	p := NewPipeline(testSpace, DefaultResultFileName,
		materializer,
		shellStage(t, StageSimulate, `test -f "{{.Model}}" && cp "{{.Model}}" "{{.Output}}/sim.json"`),
		shellStage(t, StagePostprocess, `printf 'error_total,error_cpt_force,test_value_ktr\n0.25,0.2,3.5\n' > "{{.Output}}/results.csv"`),
	)
	assert.Equal(t, []string{StageMaterialize, StageSimulate, StagePostprocess}, p.Stages())

	res, err := p.Evaluate(context.Background(), fit.Candidate{ID: 7, X: fit.Vector{0.5, 0.5}}, ws)
	require.NoError(t, err)
	assert.Equal(t, 7, res.CandidateID)
	assert.Equal(t, 0.25, res.Error)
	assert.Equal(t, 0.2, res.Components["force"])
	assert.Equal(t, 3.5, res.TestValues["ktr"])

	model, err := os.ReadFile(filepath.Join(ws.Generated(), DefaultModelFile))
	require.NoError(t, err)
	assert.Equal(t, `{"k_on": 5}`, string(model))
	_, err = os.Stat(filepath.Join(ws.Generated(), "parameters.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws.Working(), StageSimulate+".log"))
	assert.NoError(t, err)
}

func TestPipelineStageFailure(t *testing.T) {
	ws := newTestWorkspace(t)
	p := NewPipeline(testSpace, DefaultResultFileName,
		shellStage(t, StageSimulate, "exit 3"),
		shellStage(t, StagePostprocess, `printf 'error_total\n1\n' > "{{.Output}}/results.csv"`),
	)

	res, err := p.Evaluate(context.Background(), fit.Candidate{ID: 1, X: fit.Vector{0, 0}}, ws)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, StageSimulate, evalErr.Stage)
	assert.True(t, math.IsInf(res.Error, 1))

	// The post-processing stage must not have run.
	_, statErr := os.Stat(filepath.Join(ws.Output(), DefaultResultFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineMissingResult(t *testing.T) {
	ws := newTestWorkspace(t)
	p := NewPipeline(testSpace, DefaultResultFileName, shellStage(t, StageSimulate, "true"))

	_, err := p.Evaluate(context.Background(), fit.Candidate{ID: 2, X: fit.Vector{0, 0}}, ws)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "harvest", evalErr.Stage)
}

func TestPipelineMalformedResult(t *testing.T) {
	ws := newTestWorkspace(t)
	p := NewPipeline(testSpace, DefaultResultFileName,
		shellStage(t, StagePostprocess, `printf 'score\n1\n' > "{{.Output}}/results.csv"`),
	)

	res, err := p.Evaluate(context.Background(), fit.Candidate{ID: 2, X: fit.Vector{0, 0}}, ws)
	var parseErr *ResultParseError
	require.ErrorAs(t, err, &parseErr)
	assert.False(t, res.OK())
}

func TestCommandStageTimeout(t *testing.T) {
	ws := newTestWorkspace(t)
	stage, err := NewCommandStage(StageSimulate, "sh", []string{"-c", "sleep 5"}, nil, 50*time.Millisecond)
	require.NoError(t, err)

	err = stage.Run(context.Background(), &Job{Candidate: fit.Candidate{X: fit.Vector{0, 0}}, Workspace: ws})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestFuncEvaluator(t *testing.T) {
	ev := NewFuncEvaluator(func(x fit.Vector) float64 { return x[0] * 2 })
	res, err := ev.Evaluate(context.Background(), fit.Candidate{ID: 4, X: fit.Vector{0.25}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.CandidateID)
	assert.Equal(t, 0.5, res.Error)

	failing := &FuncEvaluator{Objective: func(fit.Vector) (float64, error) { return 0, errors.New("diverged") }}
	res, err = failing.Evaluate(context.Background(), fit.Candidate{ID: 5, X: fit.Vector{0}}, nil)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.False(t, res.OK())
}
