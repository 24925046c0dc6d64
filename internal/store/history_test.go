package store

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/swarmcal/internal/fit"
)

func sampleRecords() []fit.TrialRecord {
	return []fit.TrialRecord{
		{
			Index: 0, Generation: 0, Slot: 0,
			X:      fit.Vector{0.1, 1.0 / 3.0},
			Values: []float64{1, 4.641588833612779},
			Result: fit.Result{
				CandidateID: 0,
				Error:       0.123456789012345,
				Components:  map[string]float64{"force": 0.1, "ktr": 0.023456789012345},
				TestValues:  map[string]float64{"pCa50": 5.8},
			},
		},
		{
			Index: 1, Generation: 0, Slot: 1,
			X:      fit.Vector{0.9, 0.2},
			Values: []float64{9, 2.51188643150958},
			Result: fit.Failed(1, assert.AnError),
		},
		{
			Index: 2, Generation: 1, Slot: 0,
			X:      fit.Vector{1e-12, 1},
			Values: []float64{1e-11, 100},
			Result: fit.Result{
				CandidateID: 0,
				Error:       7.25e-9,
				Components:  map[string]float64{"force": 7e-9},
				TestValues:  map[string]float64{"hill": 2.5},
			},
		},
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), HistoryFile)
	records := sampleRecords()

	require.NoError(t, WriteHistory(path, []string{"k_on", "k_off"}, records))
	got, err := ReadHistory(path)
	require.NoError(t, err)
	require.Len(t, got, len(records))

	for i, want := range records {
		assert.Equal(t, want.Index, got[i].Index)
		assert.Equal(t, want.Generation, got[i].Generation)
		assert.Equal(t, want.Slot, got[i].Slot)
		assert.Equal(t, want.X, got[i].X, "trial %d parameters", i)
		assert.Equal(t, want.Values, got[i].Values, "trial %d values", i)
		if math.IsInf(want.Error(), 1) {
			assert.True(t, math.IsInf(got[i].Error(), 1))
		} else {
			assert.Equal(t, want.Error(), got[i].Error(), "trial %d error", i)
		}
		for k, v := range want.Result.Components {
			assert.Equal(t, v, got[i].Result.Components[k])
		}
		for k, v := range want.Result.TestValues {
			assert.Equal(t, v, got[i].Result.TestValues[k])
		}
		// Columns a trial did not report stay absent.
		assert.Len(t, got[i].Result.Components, len(want.Result.Components))
	}
}

func TestHistoryHeader(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, EncodeHistory(&buf, []string{"k_on", "k_off"}, sampleRecords()))

	header := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t,
		"trial,generation,slot,p_1,p_2,value_k_on,value_k_off,error_total,error_cpt_force,error_cpt_ktr,test_value_hill,test_value_pCa50",
		header)
}

func TestHistoryWithoutNames(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, EncodeHistory(&buf, nil, sampleRecords()))
	header := strings.Split(strings.SplitN(buf.String(), "\n", 2)[0], ",")
	for _, cell := range header {
		assert.False(t, strings.HasPrefix(cell, PrefixValue), "unexpected column %s", cell)
	}
	assert.Contains(t, header, "test_value_hill")

	records, err := DecodeHistory(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestHistoryRejectsNameMismatch(t *testing.T) {
	var buf strings.Builder
	assert.Error(t, EncodeHistory(&buf, []string{"only_one"}, sampleRecords()))
}

func TestHistoryOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), HistoryFile)
	records := sampleRecords()

	require.NoError(t, WriteHistory(path, nil, records))
	require.NoError(t, WriteHistory(path, nil, records[:1]))

	got, err := ReadHistory(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReadHistoryMissing(t *testing.T) {
	_, err := ReadHistory(filepath.Join(t.TempDir(), "none.csv"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadHistoryMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), HistoryFile)
	require.NoError(t, os.WriteFile(path, []byte("trial,error_total\nx,1\n"), 0644))
	_, err := ReadHistory(path)
	assert.Error(t, err)
}
