// Package workspace manages the per-slot scratch directories candidates are
// evaluated in.
//
// Every population position k owns the directory <root>/slot_<k>. The slot
// index is the only source of path uniqueness; together with the scheduler's
// barrier (no two generations overlap) that guarantees no two in-flight
// evaluations share a directory.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Sub-directory names inside a workspace.
const (
	WorkingDir   = "working"
	GeneratedDir = "generated"
	OutputDir    = "output"
)

// Workspace is the handle to one slot's directory tree.
type Workspace struct {
	Slot int
	Root string
}

// Working is where external processes run and write their logs.
func (w *Workspace) Working() string { return filepath.Join(w.Root, WorkingDir) }

// Generated holds the materialized model description.
func (w *Workspace) Generated() string { return filepath.Join(w.Root, GeneratedDir) }

// Output holds the simulation output tree and the result table.
func (w *Workspace) Output() string { return filepath.Join(w.Root, OutputDir) }

// Error reports a workspace cleanup or creation failure. It is logged by
// callers and never aborts a run.
type Error struct {
	Slot int
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace slot %d: %s %s: %v", e.Slot, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Manager allocates workspaces under a root directory.
type Manager struct {
	root string

	// removeAll is swapped in tests to simulate locked files.
	removeAll func(string) error
}

// NewManager creates the root directory if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Manager{root: root, removeAll: os.RemoveAll}, nil
}

// Root returns the directory all slots live under.
func (m *Manager) Root() string { return m.root }

// Workspace returns the handle for a slot without touching the filesystem.
func (m *Manager) Workspace(slot int) *Workspace {
	return &Workspace{
		Slot: slot,
		Root: filepath.Join(m.root, fmt.Sprintf("slot_%03d", slot)),
	}
}

// Acquire wipes the slot's directory and recreates its tree. A failed wipe
// (for example a file still held by a slow-exiting process) is logged and
// tolerated; stale files from the previous generation are acceptable. A
// failure to create the tree is returned as *Error together with the handle.
func (m *Manager) Acquire(slot int) (*Workspace, error) {
	ws := m.Workspace(slot)

	if err := m.removeAll(ws.Root); err != nil {
		slog.Warn("Failed to wipe workspace, continuing with stale contents",
			"slot", slot, "path", ws.Root, "error", err)
	}

	for _, dir := range []string{ws.Working(), ws.Generated(), ws.Output()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return ws, &Error{Slot: slot, Op: "create", Path: dir, Err: err}
		}
	}

	slog.Debug("Workspace acquired", "slot", slot, "path", ws.Root)
	return ws, nil
}
