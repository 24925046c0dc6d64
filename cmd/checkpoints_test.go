package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/swarmcal/internal/store"
)

func testSummary() store.RunSummary {
	return store.RunSummary{
		Strategy:    "swarm",
		Parameters:  []string{"a", "b", "c"},
		Generations: 100,
		Population:  30,
		Workers:     4,
		Seed:        1,
	}
}

func TestSelectCheckpointsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectCheckpointsForDeletion(infos, 0, 7)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
	ids := map[string]bool{}
	for _, info := range toDelete {
		ids[info.RunID] = true
	}
	if !ids["run1"] || !ids["run4"] {
		t.Error("Expected run1 and run4 to be selected for deletion")
	}
}

func TestSelectCheckpointsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectCheckpointsForDeletion(infos, 2, 0)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 checkpoints to delete, got %d", len(toDelete))
	}
	// Oldest first.
	if toDelete[0].RunID != "run4" || toDelete[1].RunID != "run1" {
		t.Errorf("Expected run4 and run1, got %s and %s", toDelete[0].RunID, toDelete[1].RunID)
	}
}

func TestSelectCheckpointsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// Age selects run1 and run4; keeping 3 selects the same two.
	toDelete := selectCheckpointsForDeletion(infos, 3, 7)
	if len(toDelete) != 2 {
		t.Errorf("Expected 2 checkpoints to delete without duplicates, got %d", len(toDelete))
	}

	// Keeping 2 adds run2.
	toDelete = selectCheckpointsForDeletion(infos, 2, 7)
	if len(toDelete) != 3 {
		t.Errorf("Expected 3 checkpoints to delete, got %d", len(toDelete))
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	content := []byte("Hello, World!")
	if err := os.WriteFile(filepath.Join(tmpDir, "test.txt"), content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("Expected abc, got %s", got)
	}
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("Unexpected truncation %s", got)
	}
}

func TestCheckpointsListCommand_NoCheckpoints(t *testing.T) {
	originalDataDir := checkpointDataDir
	checkpointDataDir = t.TempDir()
	defer func() { checkpointDataDir = originalDataDir }()

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestCheckpointsListCommand_WithCheckpoints(t *testing.T) {
	tmpDir := t.TempDir()

	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	checkpoint := store.NewCheckpoint("test-run-id", []float64{0.1, 0.2, 0.3}, []float64{1, 2, 3}, 0.5, 10, 300, testSummary())
	if err := checkpointStore.SaveCheckpoint("test-run-id", checkpoint); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestCheckpointsCleanCommand_NoFlags(t *testing.T) {
	originalDataDir := checkpointDataDir
	checkpointDataDir = t.TempDir()
	defer func() { checkpointDataDir = originalDataDir }()

	keepLast = 0
	olderThanDays = 0

	if err := runCleanCheckpoints(nil, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestCheckpointsCleanCommand_WithForce(t *testing.T) {
	tmpDir := t.TempDir()

	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	old := store.NewCheckpoint("old-run", []float64{0.1, 0.2, 0.3}, []float64{1, 2, 3}, 0.5, 10, 300, testSummary())
	old.Timestamp = time.Now().AddDate(0, 0, -30)
	if err := checkpointStore.SaveCheckpoint("old-run", old); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}
	recent := store.NewCheckpoint("new-run", []float64{0.1, 0.2, 0.3}, []float64{1, 2, 3}, 0.4, 10, 300, testSummary())
	if err := checkpointStore.SaveCheckpoint("new-run", recent); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() {
		checkpointDataDir = originalDataDir
		keepLast, olderThanDays, forceClean = 0, 0, false
	}()

	keepLast = 0
	olderThanDays = 7
	forceClean = true

	if err := runCleanCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if _, err := checkpointStore.LoadCheckpoint("old-run"); err == nil {
		t.Error("Expected old run to be deleted")
	}
	if _, err := checkpointStore.LoadCheckpoint("new-run"); err != nil {
		t.Errorf("Expected recent run to survive, got %v", err)
	}
	if _, err := os.Stat(checkpointStore.RunDir("old-run")); !os.IsNotExist(err) {
		t.Error("Expected old run directory to be removed")
	}
}
