package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesTree(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws, err := m.Acquire(2)
	require.NoError(t, err)

	assert.Equal(t, 2, ws.Slot)
	for _, dir := range []string{ws.Working(), ws.Generated(), ws.Output()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestAcquireWipesPreviousContents(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ws, err := m.Acquire(0)
	require.NoError(t, err)
	stale := filepath.Join(ws.Output(), "results.csv")
	require.NoError(t, os.WriteFile(stale, []byte("error_total\n1\n"), 0644))

	ws, err = m.Acquire(0)
	require.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale result must be removed before reuse")
	_, err = os.Stat(ws.Output())
	assert.NoError(t, err)
}

func TestAcquireToleratesWipeFailure(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	m.removeAll = func(string) error { return errors.New("file locked") }

	ws, err := m.Acquire(1)
	require.NoError(t, err, "a failed wipe must not abort acquisition")
	_, err = os.Stat(ws.Working())
	assert.NoError(t, err)
}

func TestAcquireCreateFailure(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)
	m.removeAll = func(string) error { return nil }

	// A regular file where the slot directory should be blocks creation.
	ws := m.Workspace(4)
	require.NoError(t, os.WriteFile(ws.Root, []byte("x"), 0644))

	_, err = m.Acquire(4)
	var wsErr *Error
	require.ErrorAs(t, err, &wsErr)
	assert.Equal(t, 4, wsErr.Slot)
	assert.Equal(t, "create", wsErr.Op)
}

func TestSlotPathsAreDistinct(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	seen := make(map[string]int)
	for slot := 0; slot < 64; slot++ {
		root := m.Workspace(slot).Root
		prev, dup := seen[root]
		require.False(t, dup, "slots %d and %d share %s", prev, slot, root)
		seen[root] = slot
	}
}
