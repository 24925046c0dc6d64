package report

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/swarmcal/internal/fit"
)

func records(errs ...float64) []fit.TrialRecord {
	out := make([]fit.TrialRecord, len(errs))
	for i, e := range errs {
		out[i] = fit.TrialRecord{Index: i, X: fit.Vector{0.5}, Result: fit.Result{Error: e}}
		if math.IsInf(e, 1) {
			out[i].Result = fit.Failed(0, errors.New("failed"))
		}
	}
	return out
}

func TestSeriesSkipsFailuresAndTracksMinimum(t *testing.T) {
	trials, best := series(records(0.5, math.Inf(1), 0.7, 0.1, 0.3))

	require.Len(t, trials, 4)
	require.Len(t, best, 4)
	assert.Equal(t, 2.0, trials[1].X)
	assert.Equal(t, []float64{0.5, 0.5, 0.1, 0.1}, []float64{best[0].Y, best[1].Y, best[2].Y, best[3].Y})
}

func TestPlotWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	p := NewPlotter(path, "progress")

	require.NoError(t, p.Plot(records(1, 0.5, math.Inf(1), 0.01, 0.02)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected a PNG file")
}

func TestPlotLinearScaleWithZeroError(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, NewPlotter(path, "").Plot(records(0.5, 0)))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestPlotNothingToDraw(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, NewPlotter(path, "").Plot(records(math.Inf(1))))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPlotSingleValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	assert.NoError(t, NewPlotter(path, "").Plot(records(0.5)))
}
