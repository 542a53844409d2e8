package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/graphengine/pkg/models"
)

type fakeNode struct {
	id       string
	correct  bool
	wide     bool
	cacheOn  bool
	hasCache bool
}

func (n *fakeNode) ID() string               { return n.id }
func (n *fakeNode) IsCorrect() bool           { return n.correct }
func (n *fakeNode) IsWide() bool              { return n.wide }
func (n *fakeNode) CacheResultsEnabled() bool { return n.cacheOn }
func (n *fakeNode) HasCachedResult() bool     { return n.hasCache }

type fakeGraph struct {
	nodes   []SchedulableNode
	parents map[string][]string
	mode    models.ExecutionMode
	loc     models.ExecutionLocation
}

func (g *fakeGraph) Nodes() []SchedulableNode { return g.nodes }
func (g *fakeGraph) ParentIDs(id string) []string {
	return g.parents[id]
}
func (g *fakeGraph) ExecutionMode() models.ExecutionMode         { return g.mode }
func (g *fakeGraph) ExecutionLocation() models.ExecutionLocation { return g.loc }

type fakeExecutor struct {
	mu         sync.Mutex
	failIDs    map[string]error
	failRemote map[string]error
	local      []string
	remote     []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{failIDs: map[string]error{}, failRemote: map[string]error{}}
}

func (e *fakeExecutor) ExecuteLocal(ctx context.Context, nodeID string, resetCache bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = append(e.local, nodeID)
	return e.failIDs[nodeID]
}

func (e *fakeExecutor) ExecuteRemote(ctx context.Context, nodeID string, resetCache bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remote = append(e.remote, nodeID)
	if err, ok := e.failRemote[nodeID]; ok {
		return err
	}
	return e.failIDs[nodeID]
}

func TestScheduler_LinearChainRunsInOrder(t *testing.T) {
	a := &fakeNode{id: "a", correct: true}
	b := &fakeNode{id: "b", correct: true}
	c := &fakeNode{id: "c", correct: true}

	graph := &fakeGraph{
		nodes:   []SchedulableNode{a, b, c},
		parents: map[string][]string{"b": {"a"}, "c": {"b"}},
		mode:    models.ExecutionModeDevelopment,
		loc:     models.ExecutionLocationLocal,
	}
	exec := newFakeExecutor()
	sched := NewScheduler(graph, exec)

	info, err := sched.Run(context.Background(), RunConfig{Mode: graph.mode, Location: graph.loc})
	require.NoError(t, err)
	assert.True(t, info.Success)
	assert.Len(t, info.NodeRuns, 3)
	assert.Equal(t, []string{"a", "b", "c"}, exec.local)
}

func TestScheduler_NotSetupNodeExcludedWithError(t *testing.T) {
	a := &fakeNode{id: "a", correct: false}
	graph := &fakeGraph{nodes: []SchedulableNode{a}, parents: map[string][]string{}}
	sched := NewScheduler(graph, newFakeExecutor())

	info, err := sched.Run(context.Background(), RunConfig{})
	require.NoError(t, err)
	assert.False(t, info.Success)
	require.Len(t, info.NodeRuns, 1)
	assert.Equal(t, "node not setup", info.NodeRuns[0].Error)
}

func TestScheduler_UpstreamFailureSkipsDownstream(t *testing.T) {
	a := &fakeNode{id: "a", correct: true}
	b := &fakeNode{id: "b", correct: true}

	graph := &fakeGraph{
		nodes:   []SchedulableNode{a, b},
		parents: map[string][]string{"b": {"a"}},
		loc:     models.ExecutionLocationLocal,
	}
	exec := newFakeExecutor()
	exec.failIDs["a"] = errors.New("boom")
	sched := NewScheduler(graph, exec)

	info, err := sched.Run(context.Background(), RunConfig{Location: graph.loc})
	require.NoError(t, err)
	assert.False(t, info.Success)

	result, ok := info.NodeResult("b")
	require.True(t, ok)
	assert.Equal(t, "upstream failed", result.Error)
	assert.NotContains(t, exec.local, "b")
}

func TestScheduler_CyclicGraphErrors(t *testing.T) {
	a := &fakeNode{id: "a", correct: true}
	b := &fakeNode{id: "b", correct: true}
	graph := &fakeGraph{
		nodes:   []SchedulableNode{a, b},
		parents: map[string][]string{"a": {"b"}, "b": {"a"}},
	}
	sched := NewScheduler(graph, newFakeExecutor())

	_, err := sched.Run(context.Background(), RunConfig{})
	require.Error(t, err)
}

func TestNeedsRun(t *testing.T) {
	cases := []struct {
		name       string
		node       *fakeNode
		cfg        RunConfig
		resetCache bool
		want       bool
	}{
		{"reset forces rerun", &fakeNode{hasCache: true}, RunConfig{}, true, true},
		{"local always reruns", &fakeNode{hasCache: true}, RunConfig{Location: models.ExecutionLocationLocal}, false, true},
		{"no cache reruns", &fakeNode{hasCache: false}, RunConfig{}, false, true},
		{"cached with caching enabled skips", &fakeNode{hasCache: true, cacheOn: true}, RunConfig{}, false, false},
		{"cached in performance mode skips", &fakeNode{hasCache: true}, RunConfig{Mode: models.ExecutionModePerformance}, false, false},
		{"cached development mode reruns", &fakeNode{hasCache: true}, RunConfig{Mode: models.ExecutionModeDevelopment}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, needsRun(tc.node, tc.cfg, tc.resetCache))
		})
	}
}

func TestScheduler_ShouldUseRemote(t *testing.T) {
	sched := &Scheduler{}
	assert.True(t, sched.shouldUseRemote(&fakeNode{}, RunConfig{Location: models.ExecutionLocationRemote}))
	assert.True(t, sched.shouldUseRemote(&fakeNode{wide: true}, RunConfig{}))
	assert.True(t, sched.shouldUseRemote(&fakeNode{cacheOn: true}, RunConfig{}))
	assert.False(t, sched.shouldUseRemote(&fakeNode{}, RunConfig{}))
}

func TestScheduler_RemoteOOMFallsBackToLocal(t *testing.T) {
	a := &fakeNode{id: "a", correct: true, wide: true}
	graph := &fakeGraph{nodes: []SchedulableNode{a}, parents: map[string][]string{}}
	exec := newFakeExecutor()
	exec.failRemote["a"] = fmt.Errorf("worker failed: error_code=-1")
	sched := NewScheduler(graph, exec)

	info, err := sched.Run(context.Background(), RunConfig{})
	require.NoError(t, err)
	assert.True(t, info.Success)
	result, ok := info.NodeResult("a")
	require.True(t, ok)
	assert.Contains(t, result.Warnings[0], "out of memory")
	assert.Contains(t, exec.remote, "a")
	assert.Contains(t, exec.local, "a")
}

// concurrencyTrackingExecutor records the highest number of ExecuteLocal
// calls observed in flight at once.
type concurrencyTrackingExecutor struct {
	inFlight int32
	peak     int32
}

func (e *concurrencyTrackingExecutor) ExecuteLocal(ctx context.Context, nodeID string, resetCache bool) error {
	n := atomic.AddInt32(&e.inFlight, 1)
	for {
		peak := atomic.LoadInt32(&e.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&e.peak, peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&e.inFlight, -1)
	return nil
}

func (e *concurrencyTrackingExecutor) ExecuteRemote(ctx context.Context, nodeID string, resetCache bool) error {
	return e.ExecuteLocal(ctx, nodeID, resetCache)
}

func TestScheduler_MaxConcurrencyLimitsWaveParallelism(t *testing.T) {
	nodes := make([]SchedulableNode, 0, 5)
	for i := 0; i < 5; i++ {
		nodes = append(nodes, &fakeNode{id: fmt.Sprintf("n%d", i), correct: true})
	}
	graph := &fakeGraph{nodes: nodes, parents: map[string][]string{}}
	exec := &concurrencyTrackingExecutor{}
	sched := NewScheduler(graph, exec)

	info, err := sched.Run(context.Background(), RunConfig{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.True(t, info.Success)
	assert.LessOrEqual(t, atomic.LoadInt32(&exec.peak), int32(2))
}

// blockingExecutor never returns until its context is canceled, letting
// tests exercise per-node timeout enforcement.
type blockingExecutor struct{}

func (blockingExecutor) ExecuteLocal(ctx context.Context, nodeID string, resetCache bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingExecutor) ExecuteRemote(ctx context.Context, nodeID string, resetCache bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestScheduler_NodeTimeoutCancelsSlowDispatch(t *testing.T) {
	a := &fakeNode{id: "a", correct: true}
	graph := &fakeGraph{nodes: []SchedulableNode{a}, parents: map[string][]string{}}
	sched := NewScheduler(graph, blockingExecutor{})

	info, err := sched.Run(context.Background(), RunConfig{NodeTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, info.Success)
	result, ok := info.NodeResult("a")
	require.True(t, ok)
	assert.Contains(t, result.Error, "deadline exceeded")
}

// flakyRemoteExecutor fails its first N remote calls per node, then
// succeeds, to exercise the scheduler's transient-failure retry policy.
type flakyRemoteExecutor struct {
	mu         sync.Mutex
	failsLeft  map[string]int
	remoteHits map[string]int
}

func (e *flakyRemoteExecutor) ExecuteLocal(ctx context.Context, nodeID string, resetCache bool) error {
	return nil
}

func (e *flakyRemoteExecutor) ExecuteRemote(ctx context.Context, nodeID string, resetCache bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteHits[nodeID]++
	if e.failsLeft[nodeID] > 0 {
		e.failsLeft[nodeID]--
		return errors.New("connection reset by peer")
	}
	return nil
}

func TestScheduler_RemoteDispatchRetriesTransientFailure(t *testing.T) {
	a := &fakeNode{id: "a", correct: true, wide: true}
	graph := &fakeGraph{nodes: []SchedulableNode{a}, parents: map[string][]string{}}
	exec := &flakyRemoteExecutor{failsLeft: map[string]int{"a": 1}, remoteHits: map[string]int{}}
	sched := NewScheduler(graph, exec)

	info, err := sched.Run(context.Background(), RunConfig{})
	require.NoError(t, err)
	assert.True(t, info.Success)
	result, ok := info.NodeResult("a")
	require.True(t, ok)
	assert.True(t, result.RanOnWorker)
	assert.Equal(t, 2, exec.remoteHits["a"])
}
