package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowgraph/graphengine/pkg/models"
)

// SchedulableNode is a single node as the scheduler sees it. pkg/graph's
// Node wrapper implements this, keeping pkg/engine free of a dependency on
// pkg/graph's registry and hashing concerns.
type SchedulableNode interface {
	ID() string
	IsCorrect() bool
	IsWide() bool
	CacheResultsEnabled() bool
	HasCachedResult() bool
}

// SchedulableGraph is the view of a graph the scheduler needs to compute
// topological order and per-node run decisions.
type SchedulableGraph interface {
	Nodes() []SchedulableNode
	ParentIDs(nodeID string) []string
	ExecutionMode() models.ExecutionMode
	ExecutionLocation() models.ExecutionLocation
}

// NodeExecutor runs a single node locally or remotely. Implementations
// live in pkg/graph (local, calling the node's transform function against
// pkg/dataframe) and pkg/worker (remote RPC).
type NodeExecutor interface {
	ExecuteLocal(ctx context.Context, nodeID string, resetCache bool) error
	ExecuteRemote(ctx context.Context, nodeID string, resetCache bool) error
}

// missingInputCacheSubstring is the error text a NodeExecutor returns when
// an upstream cache blob has disappeared out from under it, triggering the
// scheduler's one-shot reset-and-retry policy (§4.3.1 step 4).
const missingInputCacheSubstring = "No such file or directory"

// RunConfig is the scheduler's run configuration (spec.md §4.3.1's
// "mode, location, performance flag, reset-cache flag").
type RunConfig struct {
	Mode       models.ExecutionMode
	Location   models.ExecutionLocation
	ResetCache bool
	Notifier   ExecutionNotifier

	// Timeout bounds the whole run; zero means no limit.
	Timeout time.Duration
	// NodeTimeout bounds a single node's dispatch; zero means no limit.
	NodeTimeout time.Duration
	// MaxConcurrency caps how many nodes in a wave run at once; zero means
	// unbounded (the errgroup runs the whole wave concurrently).
	MaxConcurrency int
}

// Scheduler executes a graph's nodes to completion in topological waves.
type Scheduler struct {
	graph    SchedulableGraph
	executor NodeExecutor

	mu        sync.Mutex
	canceled  bool
	cancelFns map[string]context.CancelFunc

	remoteRetry *InternalRetryPolicy
}

// NewScheduler builds a Scheduler over graph, dispatching node execution
// through executor. Remote dispatch gets a short exponential-backoff retry
// for transient worker connectivity failures; the OOM and
// missing-input-cache error strings are excluded so their dedicated
// handling in runNode still sees the first occurrence untouched.
func NewScheduler(graph SchedulableGraph, executor NodeExecutor) *Scheduler {
	retry := DefaultInternalRetryPolicy()
	retry.MaxAttempts = 2
	retry.InitialDelay = 200 * time.Millisecond
	return &Scheduler{
		graph:       graph,
		executor:    executor,
		cancelFns:   make(map[string]context.CancelFunc),
		remoteRetry: retry,
	}
}

// Cancel sets the run-level cancel flag. The scheduler stops launching new
// work; in-flight local executions run to completion (§4.3.4).
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
	for _, cancel := range s.cancelFns {
		cancel()
	}
}

func (s *Scheduler) isCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Run executes every schedulable node in the graph and returns a
// RunInformation summarizing the outcome of each.
func (s *Scheduler) Run(ctx context.Context, cfg RunConfig) (*models.RunInformation, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	info := &models.RunInformation{Success: true, StartedAt: started}

	nodes := s.graph.Nodes()
	byID := make(map[string]SchedulableNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID()] = n
	}

	runnable, notSetup := partitionByCorrectness(nodes)
	for _, n := range notSetup {
		info.NodeRuns = append(info.NodeRuns, &models.NodeRunResult{
			NodeID:  n.ID(),
			Success: false,
			Error:   "node not setup",
		})
		info.Success = false
	}

	waves, err := s.topologicalWaves(runnable)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	status := make(map[string]models.NodeExecutionStatus, len(nodes))
	for _, n := range notSetup {
		status[n.ID()] = models.NodeExecutionStatusFailed
	}

	s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeRunStarted, Timestamp: started})

	for waveIndex, wave := range waves {
		if s.isCanceled() {
			break
		}
		s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeWaveStarted, WaveIndex: waveIndex, NodeCount: len(wave)})

		results := s.runWave(ctx, wave, status, cfg, waveIndex)
		for _, r := range results {
			info.NodeRuns = append(info.NodeRuns, r)
			if !r.Success {
				info.Success = false
			}
		}

		s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeWaveCompleted, WaveIndex: waveIndex})
	}

	info.EndedAt = time.Now()
	s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeRunCompleted, Timestamp: info.EndedAt, Status: successLabel(info.Success)})
	return info, nil
}

func successLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// partitionByCorrectness splits nodes into those eligible for scheduling
// (`is_correct`) and those excluded with "node not setup" (§4.3.1 step 1).
func partitionByCorrectness(nodes []SchedulableNode) (runnable, notSetup []SchedulableNode) {
	for _, n := range nodes {
		if n.IsCorrect() {
			runnable = append(runnable, n)
		} else {
			notSetup = append(notSetup, n)
		}
	}
	return runnable, notSetup
}

// topologicalWaves groups runnable nodes into levels via Kahn's algorithm,
// considering only edges whose source is itself runnable.
func (s *Scheduler) topologicalWaves(runnable []SchedulableNode) ([][]SchedulableNode, error) {
	eligible := make(map[string]SchedulableNode, len(runnable))
	for _, n := range runnable {
		eligible[n.ID()] = n
	}

	inDegree := make(map[string]int, len(runnable))
	for _, n := range runnable {
		count := 0
		for _, pid := range s.graph.ParentIDs(n.ID()) {
			if _, ok := eligible[pid]; ok {
				count++
			}
		}
		inDegree[n.ID()] = count
	}

	children := make(map[string][]string)
	for _, n := range runnable {
		for _, pid := range s.graph.ParentIDs(n.ID()) {
			if _, ok := eligible[pid]; ok {
				children[pid] = append(children[pid], n.ID())
			}
		}
	}

	var waves [][]SchedulableNode
	processed := 0
	for processed < len(runnable) {
		var wave []SchedulableNode
		for id, degree := range inDegree {
			if degree == 0 {
				wave = append(wave, eligible[id])
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("cycle detected among runnable nodes")
		}
		for _, n := range wave {
			delete(inDegree, n.ID())
			processed++
			for _, child := range children[n.ID()] {
				inDegree[child]--
			}
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// runWave executes one topological level concurrently, applying
// AND-semantics for upstream completion: a node only runs if every parent
// that itself attempted to run completed successfully. A node whose
// parent failed is marked failed with "upstream failed" and never
// dispatched to the executor.
func (s *Scheduler) runWave(ctx context.Context, wave []SchedulableNode, status map[string]models.NodeExecutionStatus, cfg RunConfig, waveIndex int) []*models.NodeRunResult {
	results := make([]*models.NodeRunResult, len(wave))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}
	for i, node := range wave {
		i, node := i, node
		g.Go(func() error {
			result := s.runNode(gctx, node, status, cfg, waveIndex)
			mu.Lock()
			results[i] = result
			status[node.ID()] = statusFromResult(result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func statusFromResult(r *models.NodeRunResult) models.NodeExecutionStatus {
	if r.Success {
		return models.NodeExecutionStatusCompleted
	}
	return models.NodeExecutionStatusFailed
}

// runNode applies the AND-semantics parent check, then the needs_run
// decision, executor choice, and the one-shot missing-input-cache retry
// policy from §4.3.1.
func (s *Scheduler) runNode(ctx context.Context, node SchedulableNode, status map[string]models.NodeExecutionStatus, cfg RunConfig, waveIndex int) *models.NodeRunResult {
	start := time.Now()
	result := &models.NodeRunResult{NodeID: node.ID()}

	if s.isCanceled() {
		result.Error = "canceled"
		s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeCanceled, NodeID: node.ID(), WaveIndex: waveIndex})
		return result
	}

	for _, pid := range s.graph.ParentIDs(node.ID()) {
		if st, ok := status[pid]; ok && st == models.NodeExecutionStatusFailed {
			result.Error = "upstream failed"
			s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeSkipped, NodeID: node.ID(), WaveIndex: waveIndex, Message: result.Error})
			return result
		}
	}

	resetCache := cfg.ResetCache
	if !needsRun(node, cfg, resetCache) {
		result.Success = true
		result.RunTimeMS = 0
		s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeSkipped, NodeID: node.ID(), WaveIndex: waveIndex, Message: "cached"})
		return result
	}

	s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeStarted, NodeID: node.ID(), WaveIndex: waveIndex})

	remote := s.shouldUseRemote(node, cfg)
	err := s.dispatchWithTimeout(ctx, node, remote, resetCache, cfg.NodeTimeout)

	if err != nil && strings.Contains(err.Error(), missingInputCacheSubstring) {
		s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeRetrying, NodeID: node.ID(), WaveIndex: waveIndex, Message: "missing_input_cache: resetting upstream"})
		for _, pid := range s.graph.ParentIDs(node.ID()) {
			_ = s.executor.ExecuteLocal(ctx, pid, true)
		}
		err = s.dispatchWithTimeout(ctx, node, remote, false, cfg.NodeTimeout)
	}

	result.RunTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		if remote && isOOM(err) {
			s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeRemoteFallback, NodeID: node.ID(), WaveIndex: waveIndex, Message: err.Error()})
			if fallbackErr := s.dispatchWithTimeout(ctx, node, false, resetCache, cfg.NodeTimeout); fallbackErr == nil {
				result.Success = true
				result.Warnings = append(result.Warnings, "remote executor ran out of memory, fell back to local")
				s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeCompleted, NodeID: node.ID(), WaveIndex: waveIndex})
				return result
			} else {
				err = fallbackErr
			}
		}
		result.Error = err.Error()
		s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeFailed, NodeID: node.ID(), WaveIndex: waveIndex, Error: err})
		return result
	}

	result.Success = true
	result.RanOnWorker = remote
	s.notify(cfg.Notifier, ExecutionEvent{Type: EventTypeNodeCompleted, NodeID: node.ID(), WaveIndex: waveIndex, DurationMs: result.RunTimeMS})
	return result
}

// dispatchWithTimeout bounds a single node's dispatch to nodeTimeout, when
// set, independently of the run-level deadline.
func (s *Scheduler) dispatchWithTimeout(ctx context.Context, node SchedulableNode, remote bool, resetCache bool, nodeTimeout time.Duration) error {
	if nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nodeTimeout)
		defer cancel()
	}
	return s.dispatch(ctx, node, remote, resetCache)
}

func (s *Scheduler) dispatch(ctx context.Context, node SchedulableNode, remote bool, resetCache bool) error {
	if !remote {
		return s.executor.ExecuteLocal(ctx, node.ID(), resetCache)
	}

	var lastErr error
	_ = s.remoteRetry.Execute(ctx, func() error {
		lastErr = s.executor.ExecuteRemote(ctx, node.ID(), resetCache)
		if lastErr != nil && (isOOM(lastErr) || strings.Contains(lastErr.Error(), missingInputCacheSubstring)) {
			return nil // special-cased upstream in runNode; don't retry here
		}
		return lastErr
	})
	return lastErr
}

// needsRun implements §4.3.1 step 4's needs_run rule.
func needsRun(node SchedulableNode, cfg RunConfig, resetCache bool) bool {
	if resetCache {
		return true
	}
	if cfg.Location == models.ExecutionLocationLocal {
		return true
	}
	if !node.HasCachedResult() {
		return true
	}
	if node.CacheResultsEnabled() {
		return false
	}
	if cfg.Mode == models.ExecutionModePerformance {
		return false
	}
	return true
}

// shouldUseRemote implements §4.3.1 step 4's executor choice.
func (s *Scheduler) shouldUseRemote(node SchedulableNode, cfg RunConfig) bool {
	return cfg.Location == models.ExecutionLocationRemote || node.IsWide() || node.CacheResultsEnabled()
}

func isOOM(err error) bool {
	return strings.Contains(err.Error(), "error_code=-1") || strings.Contains(err.Error(), "out of memory")
}

func (s *Scheduler) notify(n ExecutionNotifier, event ExecutionEvent) {
	if n == nil {
		return
	}
	defer func() { _ = recover() }()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	n.Notify(event)
}
