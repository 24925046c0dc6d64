package store

// Store defines the interface for run checkpoint persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the checkpoint doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveCheckpoint atomically saves the checkpoint of a run, overwriting
	// any previous one (temp file + rename).
	SaveCheckpoint(runID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint of a run.
	// Returns ErrNotFound if no checkpoint exists for this runID.
	LoadCheckpoint(runID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for all available checkpoints.
	// The returned slice may be empty if no checkpoints exist.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the run directory and every artifact in it:
	// checkpoint, history, trace, best snapshot, chain and workspaces.
	// Returns ErrNotFound if the run does not exist.
	DeleteCheckpoint(runID string) error

	// RunDir returns the directory holding every artifact of a run.
	RunDir(runID string) string
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "checkpoint not found: " + e.RunID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// PersistError is returned when a progress file could not be written even
// after removing the target and retrying once. It is fatal for the run.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return "persist " + e.Path + ": " + e.Err.Error()
}

func (e *PersistError) Unwrap() error { return e.Err }
