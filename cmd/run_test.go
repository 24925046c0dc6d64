package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/swarmcal/internal/calib"
	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/store"
)

const testRunFile = `
run:
  strategy: swarm
  generations: 30
  seed: 7
  workers: 3
parameters:
  - name: a
    min: 0
    max: 1
evaluation:
  model_template: model.tmpl
  simulator:
    command: simulate
`

func writeRunFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(testRunFile), 0644); err != nil {
		t.Fatalf("Failed to write run file: %v", err)
	}
	return path
}

func TestLoadRunConfig_FlagOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	addRunFlags(cmd)
	configPath = writeRunFile(t)

	if err := cmd.Flags().Set("workers", "5"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cmd.Flags().Set("listen", "127.0.0.1:0"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		t.Fatalf("loadRunConfig failed: %v", err)
	}
	if cfg.Run.Workers != 5 {
		t.Errorf("Expected workers 5, got %d", cfg.Run.Workers)
	}
	if cfg.Run.Generations != 30 || cfg.Run.Seed != 7 {
		t.Errorf("Unset flags must keep file values, got %+v", cfg.Run)
	}
	if cfg.Serve.Listen != "127.0.0.1:0" {
		t.Errorf("Expected listen override, got %q", cfg.Serve.Listen)
	}
}

func TestLoadRunConfig_InvalidOverride(t *testing.T) {
	cmd := &cobra.Command{}
	addRunFlags(cmd)
	configPath = writeRunFile(t)

	if err := cmd.Flags().Set("generations", "0"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := loadRunConfig(cmd); err == nil {
		t.Error("Expected validation error for zero generations")
	}
}

func TestSelectTrials(t *testing.T) {
	records := []fit.TrialRecord{
		{Index: 0, Result: fit.Result{Error: 3}},
		{Index: 1, Result: fit.Failed(1, os.ErrNotExist)},
		{Index: 2, Result: fit.Result{Error: 1}},
		{Index: 3, Result: fit.Result{Error: 2}},
	}

	if got := selectTrials(records, 0); len(got) != 4 || got[1].Index != 1 {
		t.Errorf("Expected all trials in order, got %+v", got)
	}

	top := selectTrials(records, 2)
	if len(top) != 2 || top[0].Index != 2 || top[1].Index != 3 {
		t.Errorf("Expected trials 2 and 3, got %+v", top)
	}

	if got := selectTrials(records, 10); len(got) != 4 || got[3].Index != 1 {
		t.Error("Expected failed trial to sort last")
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	fsStore, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	records := []fit.TrialRecord{
		{Index: 0, X: fit.Vector{0.5}, Result: fit.Result{Error: 2}},
		{Index: 1, Slot: 1, X: fit.Vector{0.3}, Result: fit.Result{Error: 1}},
	}
	if err := store.WriteHistory(filepath.Join(fsStore.RunDir("run-a"), store.HistoryFile), []string{"a"}, records); err != nil {
		t.Fatalf("WriteHistory failed: %v", err)
	}

	originalDataDir, originalTop := historyDataDir, historyTop
	historyDataDir, historyTop = dir, 1
	defer func() { historyDataDir, historyTop = originalDataDir, originalTop }()

	if err := runHistory(nil, []string{"run-a"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := runHistory(nil, []string{"missing"}); err == nil {
		t.Error("Expected error for unknown run")
	}
}

func TestHistoryCommand_Trace(t *testing.T) {
	dir := t.TempDir()
	fsStore, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	runDir := fsStore.RunDir("run-a")

	writer, err := store.NewTraceWriter(runDir, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	for gen := 1; gen <= 3; gen++ {
		entry := store.TraceEntry{
			Generation: gen,
			BestError:  store.Finite(1 / float64(gen)),
			BatchBest:  store.Finite(math.Inf(1)),
			BatchSize:  4,
			Timestamp:  time.Now(),
		}
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	originalDataDir, originalTrace := historyDataDir, historyTrace
	historyDataDir, historyTrace = dir, true
	defer func() { historyDataDir, historyTrace = originalDataDir, originalTrace }()

	// No history.csv exists; the trace alone is enough.
	if err := runHistory(nil, []string{"run-a"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := runHistory(nil, []string{"missing"}); err == nil {
		t.Error("Expected error for run without trace")
	}
}

func TestFormatOptional(t *testing.T) {
	if got := formatOptional(nil); got != "-" {
		t.Errorf("Expected -, got %s", got)
	}
	if got := formatOptional(store.Finite(0.25)); got != "0.25" {
		t.Errorf("Expected 0.25, got %s", got)
	}
}

func TestInterruptMessage(t *testing.T) {
	configPath = "run.yaml"

	summary := &calib.Summary{RunID: "run-a", Best: fit.NewBestState()}
	if got := interruptMessage(summary); strings.Contains(got, "resume") {
		t.Errorf("Expected no resume hint without a best, got %q", got)
	}

	summary.Best = fit.BestState{Error: 0.1, X: fit.Vector{0.5}, Trial: &fit.TrialRecord{}}
	got := interruptMessage(summary)
	if !strings.Contains(got, "swarmcal resume run-a --config run.yaml") {
		t.Errorf("Expected resume hint, got %q", got)
	}
}
