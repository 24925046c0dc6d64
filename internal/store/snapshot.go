package store

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// BestInfoFile describes the trial stored in a best snapshot.
const BestInfoFile = "best.json"

// removeAll is swapped in tests to inject removal failures.
var removeAll = os.RemoveAll

// ReplaceTree makes dst an exact copy of the given sources: every entry of
// sources maps a name under dst to a directory to copy there. Existing
// contents of dst are removed first, never merged. A failed attempt is
// retried once from scratch; a second failure is a *PersistError.
func ReplaceTree(dst string, sources map[string]string) error {
	err := replaceTree(dst, sources)
	if err == nil {
		return nil
	}
	slog.Warn("Snapshot failed, retrying", "path", dst, "error", err)
	if err := replaceTree(dst, sources); err != nil {
		return &PersistError{Path: dst, Err: err}
	}
	return nil
}

func replaceTree(dst string, sources map[string]string) error {
	if err := removeAll(dst); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dst, err)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	for name, src := range sources {
		if err := CopyTree(src, filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

// CopyTree copies the directory src to dst recursively. A missing src
// produces an empty dst.
func CopyTree(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return os.MkdirAll(dst, 0755)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// WriteJSON atomically writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}
