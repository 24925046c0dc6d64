package sched

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/workspace"
)

// fakeEvaluator sleeps a random amount and reports x[0] as the error.
type fakeEvaluator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	failIDs  map[int]bool
	panicIDs map[int]bool

	running atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		rng:      rand.New(rand.NewSource(1)),
		failIDs:  map[int]bool{},
		panicIDs: map[int]bool{},
	}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, c fit.Candidate, ws *workspace.Workspace) (fit.Result, error) {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	delay := time.Duration(f.rng.Intn(20)) * time.Millisecond
	f.mu.Unlock()
	time.Sleep(delay)

	if f.panicIDs[c.ID] {
		panic("simulator crashed")
	}
	if f.failIDs[c.ID] {
		return fit.Failed(c.ID, errors.New("boom")), errors.New("boom")
	}
	return fit.Result{CandidateID: c.ID, Error: c.X[0]}, nil
}

func newScheduler(t *testing.T, ev *fakeEvaluator, workers int) *Scheduler {
	t.Helper()
	wm, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)
	return New(wm, ev, workers)
}

func candidates(n int) []fit.Candidate {
	out := make([]fit.Candidate, n)
	for i := range out {
		out[i] = fit.Candidate{ID: i, X: fit.Vector{float64(i) / 10}}
	}
	return out
}

func TestDispatchBatchReturnsOneResultPerCandidate(t *testing.T) {
	ev := newFakeEvaluator()
	s := newScheduler(t, ev, 3)

	cands := candidates(12)
	results := s.DispatchBatch(context.Background(), cands)

	require.Len(t, results, len(cands))
	assert.Equal(t, int32(len(cands)), ev.calls.Load())
	assert.Equal(t, int32(0), ev.running.Load(), "batch returned with evaluations still running")
	for i, r := range results {
		assert.Equal(t, cands[i].ID, r.CandidateID)
		assert.Equal(t, cands[i].X[0], r.Error)
	}
}

func TestDispatchBatchRespectsWorkerLimit(t *testing.T) {
	ev := newFakeEvaluator()
	s := newScheduler(t, ev, 2)

	s.DispatchBatch(context.Background(), candidates(10))
	assert.LessOrEqual(t, ev.peak.Load(), int32(2))
	assert.Equal(t, 2, s.Workers())
}

func TestDispatchBatchIsolatesFailures(t *testing.T) {
	ev := newFakeEvaluator()
	ev.failIDs[2] = true
	ev.panicIDs[4] = true
	s := newScheduler(t, ev, 4)

	results := s.DispatchBatch(context.Background(), candidates(6))
	for i, r := range results {
		if i == 2 || i == 4 {
			assert.True(t, math.IsInf(r.Error, 1), "slot %d should carry the sentinel", i)
			assert.Error(t, r.Err)
			continue
		}
		assert.True(t, r.OK(), "slot %d should have succeeded", i)
	}
}

func TestDispatchBatchDuplicateSlot(t *testing.T) {
	ev := newFakeEvaluator()
	s := newScheduler(t, ev, 2)

	cands := []fit.Candidate{
		{ID: 0, X: fit.Vector{0.1}},
		{ID: 0, X: fit.Vector{0.2}},
	}
	results := s.DispatchBatch(context.Background(), cands)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, int32(1), ev.calls.Load())
}

func TestDispatchBatchEmpty(t *testing.T) {
	s := newScheduler(t, newFakeEvaluator(), 1)
	assert.Empty(t, s.DispatchBatch(context.Background(), nil))
}

func TestNewDefaultsWorkers(t *testing.T) {
	s := New(nil, nil, 0)
	assert.Equal(t, DefaultWorkers(), s.Workers())
	assert.GreaterOrEqual(t, s.Workers(), 1)
}
