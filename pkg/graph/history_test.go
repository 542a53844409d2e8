package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(id string, nodeCount int) GraphSnapshot {
	s := GraphSnapshot{GraphID: id, Nodes: make(map[string]NodeSnapshot)}
	for i := 0; i < nodeCount; i++ {
		s.Nodes[string(rune('a'+i))] = NodeSnapshot{Type: "manual_input"}
	}
	return s
}

func TestHistoryManager_CaptureDedupsIdenticalSnapshot(t *testing.T) {
	h := NewHistoryManager(10)
	assert.True(t, h.CaptureIfChanged(snap("f", 1), "add_node", "first"))
	assert.False(t, h.CaptureIfChanged(snap("f", 1), "add_node", "duplicate"))
	assert.Equal(t, 1, h.Len())
}

func TestHistoryManager_CaptureSkippedWhileRestoring(t *testing.T) {
	h := NewHistoryManager(10)
	h.BeginRestore()
	assert.False(t, h.CaptureIfChanged(snap("f", 1), "add_node", "x"))
	h.EndRestore()
	assert.Equal(t, 0, h.Len())
}

func TestHistoryManager_BoundedSize(t *testing.T) {
	h := NewHistoryManager(2)
	h.CaptureIfChanged(snap("f", 1), "a", "1")
	h.CaptureIfChanged(snap("f", 2), "a", "2")
	h.CaptureIfChanged(snap("f", 3), "a", "3")
	assert.Equal(t, 2, h.Len())
}

func TestHistoryManager_UndoRedoRoundTrip(t *testing.T) {
	h := NewHistoryManager(10)
	require.True(t, h.CaptureIfChanged(snap("f", 1), "add_node", "one node"))
	require.True(t, h.CaptureIfChanged(snap("f", 2), "add_node", "two nodes"))

	result, err := h.Undo(snap("f", 2))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Snapshot.Nodes, 1)
	assert.Equal(t, 1, h.Len())

	redone, err := h.Redo(snap("f", 1))
	require.NoError(t, err)
	assert.True(t, redone.Success)
	assert.Len(t, redone.Snapshot.Nodes, 2)
}

func TestHistoryManager_NonSkippedCaptureClearsRedo(t *testing.T) {
	h := NewHistoryManager(10)
	h.CaptureIfChanged(snap("f", 1), "a", "1")
	h.CaptureIfChanged(snap("f", 2), "a", "2")
	_, err := h.Undo(snap("f", 2))
	require.NoError(t, err)

	h.CaptureIfChanged(snap("f", 3), "a", "3")
	redone, err := h.Redo(snap("f", 3))
	require.NoError(t, err)
	assert.False(t, redone.Success, "redo stack should have been cleared by the new capture")
}

func TestHistoryManager_UndoOnEmptyStackReturnsFailure(t *testing.T) {
	h := NewHistoryManager(10)
	result, err := h.Undo(snap("f", 0))
	require.NoError(t, err)
	assert.False(t, result.Success)
}
