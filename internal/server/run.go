package server

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RunState represents the current state of a run
type RunState string

const (
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// RunInfo is the static description of a registered run.
type RunInfo struct {
	Name        string   `json:"name,omitempty"`
	Strategy    string   `json:"strategy"`
	Parameters  []string `json:"parameters"`
	Population  int      `json:"population"`
	Generations int      `json:"generations"`
	Workers     int      `json:"workers"`
	RunDir      string   `json:"runDir,omitempty"`
}

// Run is the live status of one calibration run.
type Run struct {
	ID    string   `json:"id"`
	State RunState `json:"state"`
	Info  RunInfo  `json:"info"`

	Generation int `json:"generation"`
	Trials     int `json:"trials"`
	Failed     int `json:"failed"`

	// BestError is nil until a finite best exists.
	BestError  *float64           `json:"bestError"`
	BestParams []float64          `json:"bestParams,omitempty"`
	BestValues map[string]float64 `json:"bestValues,omitempty"`
	BestTrial  int                `json:"bestTrial"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RunManager is the registry of runs known to the status server.
type RunManager struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	broadcaster *EventBroadcaster
}

// NewRunManager creates an empty registry
func NewRunManager() *RunManager {
	return &RunManager{
		runs:        make(map[string]*Run),
		broadcaster: NewEventBroadcaster(),
	}
}

// Register adds a running run under id.
func (rm *RunManager) Register(id string, info RunInfo) *Run {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run := &Run{
		ID:        id,
		State:     StateRunning,
		Info:      info,
		BestTrial: -1,
		StartTime: time.Now(),
	}
	rm.runs[id] = run
	return run
}

// GetRun returns a copy of the run's status.
func (rm *RunManager) GetRun(id string) (Run, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	run, exists := rm.runs[id]
	if !exists {
		return Run{}, false
	}
	return *run, true
}

// ListRuns returns copies of all runs, oldest first.
func (rm *RunManager) ListRuns() []Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	runs := make([]Run, 0, len(rm.runs))
	for _, run := range rm.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
	return runs
}

// UpdateRun atomically updates a run using the provided function
func (rm *RunManager) UpdateRun(id string, updateFn func(*Run)) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run, exists := rm.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}

	updateFn(run)
	return nil
}
