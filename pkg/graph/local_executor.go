package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowgraph/graphengine/pkg/dataframe"
	"github.com/flowgraph/graphengine/pkg/engine"
)

// exampleSampleSize bounds the UI "example data" preview taken after a
// node runs in non-performance mode (§4.3.2).
const exampleSampleSize = 100

// RemoteClient dispatches a node's lazy plan to the worker RPC protocol
// of §4.3.3. pkg/worker provides the HTTP-backed implementation; tests
// and local-only deployments can leave it nil, in which case Executor
// runs remote-eligible nodes locally instead.
type RemoteClient interface {
	Run(ctx context.Context, node *Node, settings interface{}, inputs NodeInputs, resetCache bool) (*dataframe.LazyFrame, error)
}

// Executor runs a Graph's nodes locally (§4.3.2) or, when a RemoteClient
// is configured, dispatches to it for remote-eligible nodes. It holds
// the run-scoped table of already-materialized node outputs the
// scheduler consumes across waves.
type Executor struct {
	graph    *Graph
	remote   RemoteClient
	mode     func() bool // returns true when running in performance mode

	mu      sync.Mutex
	outputs map[string]*dataframe.LazyFrame
}

// NewExecutor builds an Executor bound to graph. performanceMode is
// consulted per run to decide whether to take a UI sample after a node
// executes (§4.3.2).
func NewExecutor(g *Graph, remote RemoteClient, performanceMode func() bool) *Executor {
	if performanceMode == nil {
		performanceMode = func() bool { return false }
	}
	return &Executor{
		graph:   g,
		remote:  remote,
		mode:    performanceMode,
		outputs: make(map[string]*dataframe.LazyFrame),
	}
}

var _ engine.NodeExecutor = (*Executor)(nil)

// ExecuteLocal implements engine.NodeExecutor, running a node's transform
// in-process.
func (e *Executor) ExecuteLocal(ctx context.Context, nodeID string, resetCache bool) error {
	return e.run(ctx, nodeID, resetCache, false)
}

// ExecuteRemote implements engine.NodeExecutor, dispatching to the
// configured RemoteClient when one is set; otherwise it runs locally,
// which the scheduler's OOM-fallback path treats identically to a
// successful remote run.
func (e *Executor) ExecuteRemote(ctx context.Context, nodeID string, resetCache bool) error {
	return e.run(ctx, nodeID, resetCache, true)
}

func (e *Executor) run(ctx context.Context, nodeID string, resetCache, preferRemote bool) error {
	node, ok := e.graph.Node(nodeID)
	if !ok {
		return fmt.Errorf("graph: node %s not found", nodeID)
	}

	if resetCache {
		node.Reset()
	}

	e.mu.Lock()
	snapshot := make(map[string]*dataframe.LazyFrame, len(e.outputs))
	for k, v := range e.outputs {
		snapshot[k] = v
	}
	e.mu.Unlock()

	inputs, err := e.graph.CollectInputs(nodeID, snapshot)
	if err != nil {
		node.SetLastError(err)
		return err
	}

	node.SetStatus(NodeStatusRunning)

	var lf *dataframe.LazyFrame
	if preferRemote && e.remote != nil {
		lf, err = e.remote.Run(ctx, node, node.Settings(), inputs, resetCache)
	} else {
		lf, err = e.transform(node, inputs)
	}
	if err != nil {
		node.SetLastError(err)
		return err
	}

	if _, hashErr := e.graph.ComputeHash(nodeID); hashErr == nil {
		node.SetCachedResultKey(node.Hash().String())
	}

	node.SetPredictedSchema(dataframe.CollectSchema(lf))

	if !e.mode() {
		if sample, sampleErr := dataframe.SampleTopN(lf, exampleSampleSize); sampleErr == nil {
			node.SetExampleData(sample)
		}
	}

	e.mu.Lock()
	e.outputs[nodeID] = lf
	e.mu.Unlock()

	node.SetStatus(NodeStatusComplete)
	return nil
}

func (e *Executor) transform(node *Node, inputs NodeInputs) (*dataframe.LazyFrame, error) {
	template := node.template
	if template == nil || template.Transform == nil {
		return nil, fmt.Errorf("graph: node type %q has no transform", node.Type())
	}
	return template.Transform(node.Settings(), inputs)
}

// Output returns the materialized lazy output of a node that has already
// run in this executor's lifetime.
func (e *Executor) Output(nodeID string) (*dataframe.LazyFrame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lf, ok := e.outputs[nodeID]
	return lf, ok
}

// Reset drops every remembered output, used between independent runs of
// the same graph (e.g. after reset_cache on the whole graph).
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs = make(map[string]*dataframe.LazyFrame)
}
