package store

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/swarmcal/internal/fit"
)

func openTestChain(t *testing.T) *ChainStore {
	t.Helper()
	cs, err := OpenChainStore(filepath.Join(t.TempDir(), ChainFile), "chain-run")
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestChainStoreRoundTrip(t *testing.T) {
	cs := openTestChain(t)

	step0 := []fit.ChainSample{
		{Step: 0, Walker: 0, X: fit.Vector{0.1, 0.2}, LogProb: -1.5, Accepted: true},
		{Step: 0, Walker: 1, X: fit.Vector{0.3, 0.4}, LogProb: math.Inf(-1), Accepted: true},
	}
	step1 := []fit.ChainSample{
		{Step: 1, Walker: 0, X: fit.Vector{0.15, 0.25}, LogProb: -1.0, Accepted: true},
		{Step: 1, Walker: 1, X: fit.Vector{0.3, 0.4}, LogProb: math.Inf(-1), Accepted: false},
	}
	require.NoError(t, cs.RecordSamples(step0))
	require.NoError(t, cs.RecordSamples(step1))

	got, err := cs.Samples(0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, step0[0], got[0])
	assert.True(t, math.IsInf(got[1].LogProb, -1))
	assert.Equal(t, step1[1].X, got[3].X)
	assert.False(t, got[3].Accepted)

	later, err := cs.Samples(1)
	require.NoError(t, err)
	assert.Len(t, later, 2)
}

func TestChainStoreRejectsDuplicateStep(t *testing.T) {
	cs := openTestChain(t)
	samples := []fit.ChainSample{{Step: 0, Walker: 0, X: fit.Vector{0.5}, LogProb: -1}}
	require.NoError(t, cs.RecordSamples(samples))
	assert.Error(t, cs.RecordSamples(samples))
}

func TestChainStoreSummary(t *testing.T) {
	cs := openTestChain(t)

	// Two walkers, three steps. Walker 0 accepts every move, walker 1
	// accepts one of two.
	require.NoError(t, cs.RecordSamples([]fit.ChainSample{
		{Step: 0, Walker: 0, X: fit.Vector{0.9}, LogProb: -5, Accepted: true},
		{Step: 0, Walker: 1, X: fit.Vector{0.9}, LogProb: -5, Accepted: true},
	}))
	require.NoError(t, cs.RecordSamples([]fit.ChainSample{
		{Step: 1, Walker: 0, X: fit.Vector{0.2}, LogProb: -1, Accepted: true},
		{Step: 1, Walker: 1, X: fit.Vector{0.9}, LogProb: -5, Accepted: false},
	}))
	require.NoError(t, cs.RecordSamples([]fit.ChainSample{
		{Step: 2, Walker: 0, X: fit.Vector{0.4}, LogProb: -1, Accepted: true},
		{Step: 2, Walker: 1, X: fit.Vector{0.6}, LogProb: -2, Accepted: true},
	}))

	summary, err := cs.Summary(1)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Steps)
	assert.Equal(t, 2, summary.Walkers)
	assert.InDeltaSlice(t, []float64{1, 0.5}, summary.Acceptance, 1e-12)

	// Samples after burn-in: 0.2, 0.9, 0.4, 0.6.
	assert.InDelta(t, 0.525, summary.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(0.0891666666666667), summary.StdDev[0], 1e-9)
}

func TestChainStoreSummaryEmpty(t *testing.T) {
	summary, err := openTestChain(t).Summary(0)
	require.NoError(t, err)
	assert.Zero(t, summary.Steps)
}
