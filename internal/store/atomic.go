package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// writeFile is swapped in tests to inject write failures.
var writeFile = os.WriteFile

// WriteFileAtomic replaces path with data via a temp file and rename, so
// readers see either the old or the new content. A failed attempt is
// retried once after removing the target; a second failure is returned as
// a *PersistError.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &PersistError{Path: path, Err: err}
	}

	err := writeAndRename(path, data)
	if err == nil {
		return nil
	}
	slog.Warn("Write failed, retrying", "path", path, "error", err)

	if rmErr := os.RemoveAll(path); rmErr != nil {
		slog.Warn("Failed to remove target before retry", "path", path, "error", rmErr)
	}
	if err := writeAndRename(path, data); err != nil {
		return &PersistError{Path: path, Err: err}
	}
	return nil
}

func writeAndRename(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := writeFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
