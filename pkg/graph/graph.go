package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flowgraph/graphengine/pkg/dataframe"
	"github.com/flowgraph/graphengine/pkg/engine"
	"github.com/flowgraph/graphengine/pkg/models"
)

// edgeKey identifies one (from, to, slot) connection; §4.2.3 edges are
// otherwise unordered within a slot except for the main slot's list.
type edgeKey struct {
	from string
	to   string
	slot models.InputSlot
}

// Graph is the aggregate root of §3.1: a FlowSettings record, the
// node_id -> Node mapping, edges, and a HistoryManager. It enforces
// acyclicity at edge-add time.
type Graph struct {
	mu sync.RWMutex

	id       string
	uuid     string
	settings models.FlowSettings
	registry *Registry

	nodes map[string]*Node
	edges map[edgeKey]bool

	history *HistoryManager
}

// NewGraph creates an empty graph with a fresh graph_uuid (§4.2.1: "a
// per-graph random 128-bit value assigned at graph creation").
func NewGraph(id string, settings models.FlowSettings, registry *Registry) *Graph {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Graph{
		id:       id,
		uuid:     uuid.NewString(),
		settings: settings,
		registry: registry,
		nodes:    make(map[string]*Node),
		edges:    make(map[edgeKey]bool),
		history:  NewHistoryManager(DefaultHistorySize),
	}
}

func (g *Graph) ID() string               { return g.id }
func (g *Graph) UUID() string             { return g.uuid }
func (g *Graph) History() *HistoryManager { return g.history }

// ExecutionMode implements engine.SchedulableGraph.
func (g *Graph) ExecutionMode() models.ExecutionMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings.ExecutionMode
}

// ExecutionLocation implements engine.SchedulableGraph.
func (g *Graph) ExecutionLocation() models.ExecutionLocation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings.ExecutionLocation
}

// AddNodePromise reserves nodeID with a placeholder settings object
// (§3.3's two-step node creation).
func (g *Graph) AddNodePromise(nodeID, nodeType string) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[nodeID]; exists {
		return nil, fmt.Errorf("graph: node %q already exists", nodeID)
	}
	template, ok := g.registry.Lookup(nodeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidNodeType, nodeType)
	}

	node := NewPromisedNode(nodeID, nodeType, template)
	g.nodes[nodeID] = node
	g.captureHistory("add_node_promise", fmt.Sprintf("promise node %s (%s)", nodeID, nodeType))
	return node, nil
}

// AddNode installs concrete settings on a promised node (add_<type>(settings)),
// validating them against the registry's struct tags before committing.
func (g *Graph) AddNode(nodeID string, settings interface{}) error {
	g.mu.Lock()
	node, ok := g.nodes[nodeID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNodeNotFound, nodeID)
	}

	if err := g.registry.ValidateSettings(settings); err != nil {
		return err
	}

	node.CommitSettings(settings)
	g.resetTransitively(nodeID)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureHistory("update_settings", fmt.Sprintf("commit settings for %s", nodeID))
	return nil
}

// Node returns a node by id.
func (g *Graph) Node(nodeID string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[nodeID]
	return n, ok
}

// Nodes implements engine.SchedulableGraph, returning a stable snapshot.
func (g *Graph) Nodes() []engine.SchedulableNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]engine.SchedulableNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

var _ engine.SchedulableGraph = (*Graph)(nil)

// AddEdge connects from's output to to's slot, rejecting the edge if it
// would introduce a cycle (§3.2 invariant 1). Both endpoints are reset.
func (g *Graph) AddEdge(fromID, toID string, slot models.InputSlot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[fromID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrNodeNotFound, fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNodeNotFound, toID)
	}
	if fromID == toID {
		return fmt.Errorf("%w: self-loop on %s", models.ErrCyclicDependency, fromID)
	}
	if g.pathExistsLocked(toID, fromID) {
		return fmt.Errorf("%w: %s -> %s would close a cycle", models.ErrCyclicDependency, fromID, toID)
	}

	key := edgeKey{from: fromID, to: toID, slot: slot}
	if g.edges[key] {
		return nil
	}
	g.edges[key] = true

	switch slot {
	case models.InputSlotLeft:
		to.leftInput = fromID
	case models.InputSlotRight:
		to.rightInput = fromID
	default:
		to.mainInputs = append(to.mainInputs, fromID)
	}
	g.nodes[fromID].leadsTo = append(g.nodes[fromID].leadsTo, toID)

	g.resetLocked(fromID)
	g.resetLocked(toID)
	g.captureHistory("add_edge", fmt.Sprintf("%s -[%s]-> %s", fromID, slot, toID))
	return nil
}

// DeleteEdge symmetrically removes an edge; the target is reset.
func (g *Graph) DeleteEdge(fromID, toID string, slot models.InputSlot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{from: fromID, to: toID, slot: slot}
	if !g.edges[key] {
		return fmt.Errorf("%w: %s -[%s]-> %s", models.ErrEdgeNotFound, fromID, slot, toID)
	}
	delete(g.edges, key)

	if to, ok := g.nodes[toID]; ok {
		switch slot {
		case models.InputSlotLeft:
			to.leftInput = ""
		case models.InputSlotRight:
			to.rightInput = ""
		default:
			to.mainInputs = removeString(to.mainInputs, fromID)
		}
	}
	if from, ok := g.nodes[fromID]; ok {
		from.leadsTo = removeString(from.leadsTo, toID)
	}

	g.resetLocked(toID)
	g.captureHistory("delete_edge", fmt.Sprintf("%s -[%s]-> %s", fromID, slot, toID))
	return nil
}

// DeleteNode removes a node and every incident edge, resetting nodes that
// depended on it.
func (g *Graph) DeleteNode(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNodeNotFound, nodeID)
	}

	for key := range g.edges {
		if key.from == nodeID || key.to == nodeID {
			delete(g.edges, key)
		}
	}
	for _, other := range g.nodes {
		other.mainInputs = removeString(other.mainInputs, nodeID)
		if other.leftInput == nodeID {
			other.leftInput = ""
		}
		if other.rightInput == nodeID {
			other.rightInput = ""
		}
	}

	downstream := node.leadsTo
	delete(g.nodes, nodeID)

	for _, id := range downstream {
		g.resetLocked(id)
	}
	g.captureHistory("delete_node", fmt.Sprintf("delete %s", nodeID))
	return nil
}

// ParentIDs implements engine.SchedulableGraph: every upstream node id
// feeding any of a node's input slots.
func (g *Graph) ParentIDs(nodeID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil
	}
	out := append([]string(nil), n.mainInputs...)
	if n.leftInput != "" {
		out = append(out, n.leftInput)
	}
	if n.rightInput != "" {
		out = append(out, n.rightInput)
	}
	return out
}

// CollectInputs gathers a node's upstream LazyFrames by resolving each
// parent's cached output into its slot family.
func (g *Graph) CollectInputs(nodeID string, outputs map[string]*dataframe.LazyFrame) (NodeInputs, error) {
	g.mu.RLock()
	n, ok := g.nodes[nodeID]
	g.mu.RUnlock()
	if !ok {
		return NodeInputs{}, fmt.Errorf("%w: %s", models.ErrNodeNotFound, nodeID)
	}

	var in NodeInputs
	for _, parentID := range n.mainInputs {
		lf, ok := outputs[parentID]
		if !ok {
			return NodeInputs{}, fmt.Errorf("graph: missing output for upstream node %s", parentID)
		}
		in.Main = append(in.Main, lf)
	}
	if n.leftInput != "" {
		lf, ok := outputs[n.leftInput]
		if !ok {
			return NodeInputs{}, fmt.Errorf("graph: missing output for upstream node %s", n.leftInput)
		}
		in.Left = lf
	}
	if n.rightInput != "" {
		lf, ok := outputs[n.rightInput]
		if !ok {
			return NodeInputs{}, fmt.Errorf("graph: missing output for upstream node %s", n.rightInput)
		}
		in.Right = lf
	}
	return in, nil
}

// ComputeHash implements §4.2.1's hash formula for one node, given the
// already-computed hashes of its parents.
func (g *Graph) ComputeHash(nodeID string) (Hash128, error) {
	g.mu.RLock()
	n, ok := g.nodes[nodeID]
	g.mu.RUnlock()
	if !ok {
		return Hash128{}, fmt.Errorf("%w: %s", models.ErrNodeNotFound, nodeID)
	}

	parentIDs := g.ParentIDs(nodeID)
	parentHashes := make([]Hash128, 0, len(parentIDs))
	for _, pid := range parentIDs {
		if p, ok := g.Node(pid); ok {
			parentHashes = append(parentHashes, p.Hash())
		}
	}

	canonical, err := CanonicalizeSettings(n.Settings())
	if err != nil {
		return Hash128{}, fmt.Errorf("graph: canonicalize settings for %s: %w", nodeID, err)
	}

	hash := HashNode(parentHashes, canonical, g.uuid)
	n.SetHash(hash)
	return hash, nil
}

// resetTransitively resets nodeID and every node reachable downstream of
// it (§3.3: "invalidates dependent nodes transitively").
func (g *Graph) resetTransitively(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetTransitivelyLocked(nodeID)
}

func (g *Graph) resetTransitivelyLocked(nodeID string) {
	visited := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		g.resetLocked(id)
		if n, ok := g.nodes[id]; ok {
			for _, child := range n.leadsTo {
				walk(child)
			}
		}
	}
	walk(nodeID)
}

func (g *Graph) resetLocked(nodeID string) {
	if n, ok := g.nodes[nodeID]; ok {
		n.Reset()
	}
}

// pathExistsLocked reports whether a directed path exists from -> to
// using a plain BFS over leadsTo; caller must hold g.mu.
func (g *Graph) pathExistsLocked(from, to string) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for _, next := range n.leadsTo {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func (g *Graph) captureHistory(actionKind, description string) {
	if g.history == nil {
		return
	}
	g.history.CaptureIfChanged(g.snapshotLocked(), actionKind, description)
}

// snapshotLocked builds a minimal serializable snapshot of the graph for
// the history manager; caller must hold g.mu.
func (g *Graph) snapshotLocked() GraphSnapshot {
	snap := GraphSnapshot{
		GraphID: g.id,
		Nodes:   make(map[string]NodeSnapshot, len(g.nodes)),
		Edges:   make([]EdgeSnapshot, 0, len(g.edges)),
	}
	for id, n := range g.nodes {
		snap.Nodes[id] = NodeSnapshot{
			Type:     n.Type(),
			Settings: n.Settings(),
			Promise:  n.IsPromise(),
		}
	}
	for key := range g.edges {
		snap.Edges = append(snap.Edges, EdgeSnapshot{From: key.from, To: key.to, Slot: key.slot})
	}
	return snap
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, item := range s {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
