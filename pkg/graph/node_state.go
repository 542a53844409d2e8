package graph

import (
	"fmt"
	"sync"

	"github.com/flowgraph/graphengine/pkg/dataframe"
)

// NodeStatus is a node's last-run status (§3.1 "Node state").
type NodeStatus string

const (
	NodeStatusNotRun   NodeStatus = "not_run"
	NodeStatusRunning  NodeStatus = "running"
	NodeStatusComplete NodeStatus = "completed"
	NodeStatusError    NodeStatus = "error"
	NodeStatusCanceled NodeStatus = "canceled"
)

// Node is one instance of a registered node type, plus all the runtime
// state §3.1 attaches to it: hash, predicted schema, status, cache
// handle, and setup errors.
type Node struct {
	mu sync.RWMutex

	id       string
	nodeType string
	template *NodeTemplate

	promise  bool // true until add_<type>(settings) installs concrete settings
	settings interface{}

	mainInputs []string // ordered, for multi-slot main
	leftInput  string
	rightInput string
	leadsTo    []string

	cacheResultsOptIn bool

	hash           Hash128
	schema         dataframe.Schema
	schemaCallback *SchemaCallback
	status         NodeStatus
	cachedResult   string // content-addressed cache key, empty if none
	exampleData    *dataframe.Frame
	setupErrors    []string
	lastError      string
}

// NewPromisedNode creates a node in the "promise" state: it has an id and
// a type, but no concrete settings yet (§3.3 "two-step" creation).
func NewPromisedNode(id, nodeType string, template *NodeTemplate) *Node {
	return &Node{
		id:       id,
		nodeType: nodeType,
		template: template,
		promise:  true,
		status:   NodeStatusNotRun,
	}
}

func (n *Node) ID() string      { return n.id }
func (n *Node) Type() string    { return n.nodeType }
func (n *Node) IsPromise() bool { n.mu.RLock(); defer n.mu.RUnlock(); return n.promise }
func (n *Node) IsWide() bool    { return n.template.IsWide }
func (n *Node) IsStart() bool   { return n.template.IsStart }

// CommitSettings installs concrete settings, turning a promised node into
// a real one (add_<type>(settings), §3.3).
func (n *Node) CommitSettings(settings interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settings = settings
	n.promise = false
}

// Settings returns the node's current settings value.
func (n *Node) Settings() interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.settings
}

// SetCacheResultsOptIn records whether this node explicitly opted into
// caching its result (§4.3.1 needs_run rule: "cached and cache_results=true").
func (n *Node) SetCacheResultsOptIn(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cacheResultsOptIn = v
}

// CacheResultsEnabled implements engine.SchedulableNode.
func (n *Node) CacheResultsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cacheResultsOptIn
}

// HasCachedResult implements engine.SchedulableNode.
func (n *Node) HasCachedResult() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cachedResult != "" && n.status != NodeStatusError
}

// IsCorrect reports whether the node's input slots satisfy its template's
// arity and it carries no setup errors (§3.1 edge invariant).
func (n *Node) IsCorrect() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.promise || len(n.setupErrors) > 0 {
		return false
	}
	switch n.template.Arity {
	case Arity0:
		return true
	case Arity1:
		return len(n.mainInputs) == 1
	case Arity2:
		return n.leftInput != "" && n.rightInput != ""
	case ArityMany:
		return len(n.mainInputs) >= 1
	default:
		return false
	}
}

// Hash returns the node's last-computed content hash.
func (n *Node) Hash() Hash128 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hash
}

// SetHash records a freshly computed content hash.
func (n *Node) SetHash(h Hash128) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hash = h
}

// PredictedSchema returns the last schema computed by the schema callback.
func (n *Node) PredictedSchema() dataframe.Schema {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.schema
}

// SetPredictedSchema records the schema callback's latest result.
func (n *Node) SetPredictedSchema(s dataframe.Schema) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.schema = s
}

// SetSchemaCallback installs the node's schema-prediction future.
func (n *Node) SetSchemaCallback(cb *SchemaCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.schemaCallback = cb
}

// SchemaCallback returns the node's schema-prediction future, if set.
func (n *Node) SchemaCallback() *SchemaCallback {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.schemaCallback
}

// Status returns the node's last-run status.
func (n *Node) Status() NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// SetStatus records a node's run status.
func (n *Node) SetStatus(s NodeStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = s
}

// SetupErrors returns the node's current setup errors, e.g. from a failed
// schema callback.
func (n *Node) SetupErrors() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.setupErrors...)
}

// AddSetupError appends a setup error, e.g. on schema-callback failure
// (§4.2.2: "flags setup_errors on the node").
func (n *Node) AddSetupError(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setupErrors = append(n.setupErrors, msg)
}

// ClearSetupErrors wipes the node's setup errors, e.g. after a successful
// reconciliation.
func (n *Node) ClearSetupErrors() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setupErrors = nil
}

// CachedResultKey returns the content-addressed cache key of the node's
// last successful result, if any.
func (n *Node) CachedResultKey() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cachedResult
}

// SetCachedResultKey records the cache key of a freshly computed result.
func (n *Node) SetCachedResultKey(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cachedResult = key
}

// ExampleData returns the node's last UI sample, if any.
func (n *Node) ExampleData() *dataframe.Frame {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.exampleData
}

// SetExampleData records a fresh UI sample.
func (n *Node) SetExampleData(f *dataframe.Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exampleData = f
}

// Reset clears all derived state so the node is treated as never having
// run: cached result, schema, schema callback memo, and status (§3.3
// "Settings change" / scheduler's reset_cache policy).
func (n *Node) Reset() {
	n.mu.Lock()
	cb := n.schemaCallback
	n.cachedResult = ""
	n.status = NodeStatusNotRun
	n.exampleData = nil
	n.lastError = ""
	n.mu.Unlock()
	if cb != nil {
		cb.Reset()
	}
}

// LastError returns the node's last recorded run error text.
func (n *Node) LastError() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastError
}

// SetLastError records a run error and flips status to error.
func (n *Node) SetLastError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		n.lastError = ""
		return
	}
	n.lastError = err.Error()
	n.status = NodeStatusError
}

// String implements fmt.Stringer for debug logging.
func (n *Node) String() string {
	return fmt.Sprintf("Node{id=%s type=%s status=%s}", n.id, n.nodeType, n.Status())
}
