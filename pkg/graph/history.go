package graph

import (
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flowgraph/graphengine/pkg/models"
)

// DefaultHistorySize is the default bounded-deque capacity (§4.2.5).
const DefaultHistorySize = 50

// zlibCompressionLevel matches §4.2.5's "zlib level 6".
const zlibCompressionLevel = 6

// NodeSnapshot is the serializable projection of a Node used by history
// snapshots; runtime-only fields (hash, schema callback, cache handle)
// are intentionally excluded, matching the teacher's checkpoint shape of
// persisting reconstructible state rather than derived state.
type NodeSnapshot struct {
	Type     string      `json:"type"`
	Settings interface{} `json:"settings"`
	Promise  bool        `json:"promise"`
}

// EdgeSnapshot is the serializable projection of one graph edge.
type EdgeSnapshot struct {
	From string            `json:"from"`
	To   string            `json:"to"`
	Slot models.InputSlot  `json:"slot"`
}

// GraphSnapshot is a full-graph snapshot as captured by the history
// manager (§3.1 "HistoryEntry").
type GraphSnapshot struct {
	GraphID string                  `json:"graph_id"`
	Nodes   map[string]NodeSnapshot `json:"nodes"`
	Edges   []EdgeSnapshot          `json:"edges"`
}

// HistoryEntry is one compressed snapshot plus its action metadata.
type HistoryEntry struct {
	Compressed []byte
	ContentSHA string
	ActionKind string
	Description string
	Timestamp  time.Time
}

// HistoryManager is the bounded-deque undo/redo stack of §4.2.5.
type HistoryManager struct {
	mu sync.Mutex

	maxSize     int
	undo        []*HistoryEntry
	redo        []*HistoryEntry
	isRestoring bool
}

// NewHistoryManager builds a history manager with the given bounded size.
func NewHistoryManager(maxSize int) *HistoryManager {
	if maxSize <= 0 {
		maxSize = DefaultHistorySize
	}
	return &HistoryManager{maxSize: maxSize}
}

// compressSnapshot serializes and zlib-compresses a GraphSnapshot,
// returning the compressed bytes and their SHA-256 hex digest.
func compressSnapshot(snap GraphSnapshot) (*HistoryEntry, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlibCompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("graph: init zlib writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("graph: compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("graph: close zlib writer: %w", err)
	}

	sum := sha256.Sum256(raw)
	return &HistoryEntry{
		Compressed: buf.Bytes(),
		ContentSHA: hex.EncodeToString(sum[:]),
	}, nil
}

// decompressSnapshot reverses compressSnapshot.
func decompressSnapshot(entry *HistoryEntry) (GraphSnapshot, error) {
	r, err := zlib.NewReader(bytes.NewReader(entry.Compressed))
	if err != nil {
		return GraphSnapshot{}, fmt.Errorf("graph: init zlib reader: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return GraphSnapshot{}, fmt.Errorf("graph: decompress snapshot: %w", err)
	}

	var snap GraphSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return GraphSnapshot{}, fmt.Errorf("graph: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// CaptureIfChanged captures snap onto the undo stack unless its content
// hash matches the top-of-undo-stack entry (dedup), or the manager is
// currently restoring a snapshot (§3.2 invariant 5). Any non-skipped
// capture clears the redo stack. Returns whether a capture happened.
func (h *HistoryManager) CaptureIfChanged(snap GraphSnapshot, actionKind, description string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isRestoring {
		return false
	}

	entry, err := compressSnapshot(snap)
	if err != nil {
		return false
	}
	entry.ActionKind = actionKind
	entry.Description = description
	entry.Timestamp = time.Now()

	if len(h.undo) > 0 && h.undo[len(h.undo)-1].ContentSHA == entry.ContentSHA {
		return false
	}

	h.undo = append(h.undo, entry)
	if len(h.undo) > h.maxSize {
		h.undo = h.undo[len(h.undo)-h.maxSize:]
	}
	h.redo = nil
	return true
}

// UndoRedoResult is returned by Undo and Redo.
type UndoRedoResult struct {
	Success           bool
	ActionDescription string
	ActionKind        string
	Snapshot          GraphSnapshot
}

// Undo pops the top undo entry, pushes the given current snapshot onto
// redo, and returns the popped entry's decompressed snapshot for the
// caller to restore.
func (h *HistoryManager) Undo(current GraphSnapshot) (UndoRedoResult, error) {
	return h.swap(&h.undo, &h.redo, current)
}

// Redo is the mirror of Undo.
func (h *HistoryManager) Redo(current GraphSnapshot) (UndoRedoResult, error) {
	return h.swap(&h.redo, &h.undo, current)
}

func (h *HistoryManager) swap(from, to *[]*HistoryEntry, current GraphSnapshot) (UndoRedoResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(*from) == 0 {
		return UndoRedoResult{Success: false}, nil
	}

	popped := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]

	currentEntry, err := compressSnapshot(current)
	if err != nil {
		return UndoRedoResult{}, fmt.Errorf("graph: snapshot current state: %w", err)
	}
	*to = append(*to, currentEntry)

	snap, err := decompressSnapshot(popped)
	if err != nil {
		return UndoRedoResult{}, err
	}

	return UndoRedoResult{
		Success:           true,
		ActionDescription: popped.Description,
		ActionKind:        popped.ActionKind,
		Snapshot:          snap,
	}, nil
}

// BeginRestore sets is_restoring so captures are suppressed while the
// caller rebuilds graph state from a snapshot.
func (h *HistoryManager) BeginRestore() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isRestoring = true
}

// EndRestore clears is_restoring.
func (h *HistoryManager) EndRestore() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isRestoring = false
}

// IsRestoring reports the current restore flag.
func (h *HistoryManager) IsRestoring() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isRestoring
}

// Len returns the number of undo entries currently retained.
func (h *HistoryManager) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo)
}

// RestoreFromSnapshot rebuilds a graph from a decompressed snapshot. The
// graph's own id is preserved, never overwritten from the snapshot
// (§4.2.5).
func RestoreFromSnapshot(g *Graph, snap GraphSnapshot) error {
	g.History().BeginRestore()
	defer g.History().EndRestore()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]*Node, len(snap.Nodes))
	g.edges = make(map[edgeKey]bool, len(snap.Edges))

	for id, ns := range snap.Nodes {
		template, ok := g.registry.Lookup(ns.Type)
		if !ok {
			return fmt.Errorf("%w: %q", models.ErrInvalidNodeType, ns.Type)
		}
		node := NewPromisedNode(id, ns.Type, template)
		if !ns.Promise {
			node.CommitSettings(ns.Settings)
		}
		g.nodes[id] = node
	}

	for _, e := range snap.Edges {
		key := edgeKey{from: e.From, to: e.To, slot: e.Slot}
		g.edges[key] = true
		to, ok := g.nodes[e.To]
		if !ok {
			continue
		}
		switch e.Slot {
		case models.InputSlotLeft:
			to.leftInput = e.From
		case models.InputSlotRight:
			to.rightInput = e.From
		default:
			to.mainInputs = append(to.mainInputs, e.From)
		}
		if from, ok := g.nodes[e.From]; ok {
			from.leadsTo = append(from.leadsTo, e.To)
		}
	}

	return nil
}
