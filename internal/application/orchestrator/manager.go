package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aestiv/flowd/internal/application/scheduler"
	"github.com/aestiv/flowd/internal/capability"
	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
)

// upstreamKey is the single config key filled from upstream results: when a
// node's config omits it, the artifact locator of the first satisfied
// upstream edge (in submission order) is wired in.
const upstreamKey = "path"

// defaultListLimit caps List results when the caller passes no limit.
const defaultListLimit = 20

var (
	// ErrAlreadyFinished is returned by Cancel for executions in a
	// terminal state.
	ErrAlreadyFinished = errors.New("execution already finished")

	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// Queue hands a run function to a worker. Enqueue must not block: it returns
// an error when no queue slot is free.
type Queue interface {
	Enqueue(run func(ctx context.Context)) error
}

// Options tune one submission. The zero value runs the graph ad hoc with
// continue-on-error semantics and no extra inputs.
type Options struct {
	// GraphRef labels the execution with the definition it came from.
	// Empty means an ad-hoc submission.
	GraphRef string

	// ContinueOnError controls whether a failed node aborts the rest of
	// the schedule. Nil means true: file-processing nodes are expected to
	// fail independently without invalidating unrelated branches.
	ContinueOnError *bool

	// Inputs are global defaults filled into any node config key that is
	// still absent after upstream wiring.
	Inputs map[string]interface{}
}

// execution is the in-flight state for one submitted graph. The record
// inside is owned by the run loop; everyone else reads snapshots from the
// store.
type execution struct {
	id     string
	graph  *domain.Graph
	order  []string
	nodes  map[string]domain.Node
	inputs map[string]interface{}

	mu     sync.Mutex
	record *domain.ExecutionRecord

	cancelled atomic.Bool
}

// Manager coordinates graph execution: it validates and schedules
// submissions, drives the per-execution run loop on the worker queue, and
// mediates all status reads and cancellations.
type Manager struct {
	hub       ports.EventHub
	store     ports.ExecutionStore
	metrics   ports.MetricsCollector
	registry  *capability.Registry
	validator *Validator
	queue     Queue
	logger    *zap.Logger

	nodeTimeout time.Duration

	// Track active executions for cancellation
	executions sync.Map // map[string]*execution
	active     atomic.Int64

	runCtx    context.Context
	runCancel context.CancelFunc
	closed    atomic.Bool
}

// NewManager creates a new orchestrator manager. nodeTimeout bounds a single
// capability invocation; zero disables the deadline.
func NewManager(
	hub ports.EventHub,
	store ports.ExecutionStore,
	metrics ports.MetricsCollector,
	registry *capability.Registry,
	validator *Validator,
	queue Queue,
	logger *zap.Logger,
	nodeTimeout time.Duration,
) *Manager {
	runCtx, runCancel := context.WithCancel(context.Background())

	return &Manager{
		hub:         hub,
		store:       store,
		metrics:     metrics,
		registry:    registry,
		validator:   validator,
		queue:       queue,
		logger:      logger,
		nodeTimeout: nodeTimeout,
		runCtx:      runCtx,
		runCancel:   runCancel,
	}
}

// Submit validates the graph, computes its execution order, persists a
// pending record, and enqueues the run. It returns the execution id
// immediately; the graph runs asynchronously on the worker pool.
func (m *Manager) Submit(ctx context.Context, graph *domain.Graph, opts Options) (string, error) {
	if m.closed.Load() {
		return "", ErrShuttingDown
	}

	if err := m.validator.Validate(graph); err != nil {
		m.logger.Warn("graph validation failed", zap.Error(err))
		return "", err
	}

	order, err := scheduler.Order(graph.Nodes, graph.Edges)
	if err != nil {
		m.logger.Warn("graph scheduling failed", zap.Error(err))
		return "", err
	}

	continueOnError := true
	if opts.ContinueOnError != nil {
		continueOnError = *opts.ContinueOnError
	}

	graphRef := opts.GraphRef
	if graphRef == "" {
		graphRef = "adhoc"
	}

	id := uuid.New().String()
	record := &domain.ExecutionRecord{
		ID:              id,
		GraphRef:        graphRef,
		Status:          domain.StatusPending,
		ContinueOnError: continueOnError,
		ExecutionOrder:  order,
		NodeResults:     make(map[string]domain.NodeResult, len(order)),
		StartedAt:       time.Now().UTC(),
	}

	if err := m.store.Save(ctx, record); err != nil {
		m.logger.Error("failed to save initial record",
			zap.String("execution_id", id),
			zap.Error(err))
		return "", fmt.Errorf("failed to save execution record: %w", err)
	}

	nodes := make(map[string]domain.Node, len(graph.Nodes))
	for _, n := range graph.Nodes {
		nodes[n.ID] = n
	}

	exec := &execution{
		id:     id,
		graph:  graph,
		order:  order,
		nodes:  nodes,
		inputs: opts.Inputs,
		record: record,
	}
	m.executions.Store(id, exec)

	if err := m.queue.Enqueue(func(context.Context) { m.run(exec) }); err != nil {
		m.executions.Delete(id)

		// The pending record is already visible; mark it rejected so
		// pollers do not see an execution that will never run.
		record.Status = domain.StatusFailed
		record.Error = "rejected: worker queue full"
		now := time.Now().UTC()
		record.CompletedAt = &now
		if saveErr := m.store.Save(ctx, record); saveErr != nil {
			m.logger.Error("failed to mark rejected execution",
				zap.String("execution_id", id),
				zap.Error(saveErr))
		}

		m.metrics.RecordExecutionSubmitted(string(domain.StatusFailed))
		return "", fmt.Errorf("failed to enqueue execution: %w", err)
	}

	m.metrics.RecordExecutionSubmitted(string(domain.StatusPending))
	m.metrics.SetActiveExecutions(int(m.active.Add(1)))
	m.logger.Info("execution submitted",
		zap.String("execution_id", id),
		zap.String("graph_ref", graphRef),
		zap.Int("nodes", len(order)),
		zap.Bool("continue_on_error", continueOnError))

	return id, nil
}

// Get returns a snapshot of the execution record. A read after any node
// commit observes that commit: the run loop saves to the store before
// publishing the node's events.
func (m *Manager) Get(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	return m.store.Get(ctx, id)
}

// List returns recent executions, most recent first. A limit <= 0 applies
// the default.
func (m *Manager) List(ctx context.Context, limit int) ([]*domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return m.store.List(ctx, limit)
}

// Cancel requests cooperative cancellation. The in-flight node is allowed to
// finish and commit its result; no further node starts. Returns true when
// the request was accepted, false with ErrAlreadyFinished for terminal
// executions and ports.ErrExecutionNotFound for unknown ids.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	val, ok := m.executions.Load(id)
	if !ok {
		// Not in flight: either unknown or already finished.
		record, err := m.store.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if record.Status.IsTerminal() {
			return false, fmt.Errorf("%w: %s", ErrAlreadyFinished, record.Status)
		}
		// Finalization raced the lookup; treat it as finished.
		return false, ErrAlreadyFinished
	}

	exec := val.(*execution)
	exec.cancelled.Store(true)

	// The cancelled state is reserved for the terminal event: watchers must
	// never see it while the in-flight node is still committing.
	m.publish(domain.NewStatusEvent(id, "", domain.StateCancelling, "cancellation requested"))
	m.logger.Info("execution cancellation requested", zap.String("execution_id", id))
	return true, nil
}

// Shutdown stops accepting submissions and cancels the run context shared by
// in-flight capabilities. Waiting for workers to drain is the pool's job.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")
	m.closed.Store(true)
	m.runCancel()
	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

// run drives one execution from pending to a terminal state. It runs on a
// pool worker; nodes execute strictly sequentially in scheduled order.
func (m *Manager) run(exec *execution) {
	logger := m.logger.With(zap.String("execution_id", exec.id))

	// A cancel that lands while the execution is still queued finalizes
	// it before any node runs.
	if exec.cancelled.Load() {
		m.finalize(exec, domain.StatusCancelled, "cancelled before start")
		return
	}

	exec.mu.Lock()
	exec.record.Status = domain.StatusRunning
	m.commitLocked(exec)
	exec.mu.Unlock()

	m.publish(domain.NewStatusEvent(exec.id, "", domain.StateRunning, "execution started"))
	m.publish(domain.NewLogEvent(exec.id, "", domain.LogLevelInfo,
		fmt.Sprintf("execution order: %s", strings.Join(exec.order, ", "))))
	logger.Info("execution started", zap.Strings("order", exec.order))

	failed := false
	for _, nodeID := range exec.order {
		if exec.cancelled.Load() {
			m.finalize(exec, domain.StatusCancelled, "cancelled by user")
			return
		}

		node := exec.nodes[nodeID]
		cfg := m.effectiveConfig(exec, node)

		m.publish(domain.NewStatusEvent(exec.id, nodeID, domain.StateRunning,
			fmt.Sprintf("running %s", node.Capability)))

		start := time.Now()
		result := m.runNode(exec, node, cfg)
		result.DurationMs = time.Since(start).Milliseconds()

		// Commit before publishing so a poller reacting to the node
		// event always observes the result.
		exec.mu.Lock()
		exec.record.NodeResults[nodeID] = result
		m.commitLocked(exec)
		exec.mu.Unlock()

		m.metrics.RecordNodeExecuted(node.Capability, nodeStatus(result), time.Since(start))

		if result.Success {
			m.publish(domain.NewStatusEvent(exec.id, nodeID, domain.StateCompleted, result.Message))
			logger.Info("node completed",
				zap.String("node_id", nodeID),
				zap.String("capability", node.Capability),
				zap.Int64("duration_ms", result.DurationMs))
			continue
		}

		failed = true
		m.publish(domain.NewStatusEvent(exec.id, nodeID, domain.StateError, result.Message))
		logger.Warn("node failed",
			zap.String("node_id", nodeID),
			zap.String("capability", node.Capability),
			zap.String("message", result.Message))

		exec.mu.Lock()
		continueOnError := exec.record.ContinueOnError
		exec.mu.Unlock()
		if !continueOnError {
			m.finalize(exec, domain.StatusFailed,
				fmt.Sprintf("node %s failed: %s", nodeID, result.Message))
			return
		}
	}

	// Continue-on-error runs reach completed even with mixed results;
	// callers inspect per-node success to detect partial failure.
	message := "execution completed"
	if failed {
		message = "execution completed with failed nodes"
	}
	m.finalize(exec, domain.StatusCompleted, message)
}

// runNode resolves and invokes one capability, converting every failure
// mode into a NodeResult. Panics and hard errors become Success=false; the
// run loop itself never dies.
func (m *Manager) runNode(exec *execution, node domain.Node, cfg capability.Config) (result domain.NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("capability panicked",
				zap.String("execution_id", exec.id),
				zap.String("node_id", node.ID),
				zap.String("capability", node.Capability),
				zap.Any("panic", r))
			result = domain.NodeResult{
				Success: false,
				Message: fmt.Sprintf("internal error while running %s", node.Capability),
			}
		}
	}()

	unit, err := m.registry.Resolve(node.Capability)
	if err != nil {
		return domain.NodeResult{Success: false, Message: err.Error()}
	}

	ctx := m.runCtx
	if m.nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.nodeTimeout)
		defer cancel()
	}

	emit := &hubEmitter{manager: m, executionID: exec.id, nodeID: node.ID}
	out, err := unit.Execute(ctx, cfg, emit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NodeResult{
				Success: false,
				Message: fmt.Sprintf("node timed out after %s", m.nodeTimeout),
			}
		}
		return domain.NodeResult{
			Success: false,
			Message: fmt.Sprintf("capability %s failed: %v", node.Capability, err),
		}
	}
	if out == nil {
		return domain.NodeResult{Success: false, Message: "capability returned no result"}
	}

	return domain.NodeResult{
		Success:         out.Success,
		Message:         out.Message,
		ArtifactLocator: out.ArtifactLocator,
		Stats:           out.Stats,
	}
}

// effectiveConfig builds the config a node actually runs with: the node's
// own map, then the upstream artifact locator for the well-known key if
// absent, then submission inputs for any keys still absent. Upstream wiring
// is fill-if-absent, first satisfied edge wins; it is best-effort, so a
// failed upstream simply contributes nothing.
func (m *Manager) effectiveConfig(exec *execution, node domain.Node) capability.Config {
	cfg := make(capability.Config, len(node.Config)+1)
	for k, v := range node.Config {
		cfg[k] = v
	}

	if _, ok := cfg[upstreamKey]; !ok {
		exec.mu.Lock()
		for _, edge := range exec.graph.Edges {
			if edge.Target != node.ID {
				continue
			}
			upstream, done := exec.record.NodeResults[edge.Source]
			if done && upstream.Success && upstream.ArtifactLocator != "" {
				cfg[upstreamKey] = upstream.ArtifactLocator
				break
			}
		}
		exec.mu.Unlock()
	}

	for k, v := range exec.inputs {
		if _, ok := cfg[k]; !ok {
			cfg[k] = v
		}
	}

	return cfg
}

// finalize moves the execution to a terminal state, publishes the terminal
// status event, and closes the hub topic.
func (m *Manager) finalize(exec *execution, status domain.Status, message string) {
	now := time.Now().UTC()

	exec.mu.Lock()
	exec.record.Status = status
	exec.record.CompletedAt = &now
	if status == domain.StatusFailed {
		exec.record.Error = message
	}
	duration := now.Sub(exec.record.StartedAt)
	m.commitLocked(exec)
	exec.mu.Unlock()

	m.executions.Delete(exec.id)

	m.publish(domain.NewStatusEvent(exec.id, "", string(status), message))
	m.hub.Complete(exec.id)

	m.metrics.RecordExecutionCompleted(string(status), duration)
	m.metrics.SetActiveExecutions(int(m.active.Add(-1)))

	m.logger.Info("execution finished",
		zap.String("execution_id", exec.id),
		zap.String("status", string(status)),
		zap.Duration("duration", duration))
}

// commitLocked persists the current record snapshot. Callers hold exec.mu.
// A store failure is logged, not fatal: the in-memory record stays
// authoritative for the rest of the run.
func (m *Manager) commitLocked(exec *execution) {
	if err := m.store.Save(context.Background(), exec.record); err != nil {
		m.logger.Error("failed to save execution record",
			zap.String("execution_id", exec.id),
			zap.Error(err))
	}
}

// publish sends an event to the hub. Publishing is fire-and-forget for the
// run loop; hub errors are logged and swallowed.
func (m *Manager) publish(event domain.Event) {
	if err := m.hub.Publish(context.Background(), event); err != nil {
		m.logger.Debug("event publish failed",
			zap.String("execution_id", event.ExecutionID),
			zap.Error(err))
		return
	}
	m.metrics.RecordEventPublished(string(event.Type))
}

func nodeStatus(result domain.NodeResult) string {
	if result.Success {
		return domain.StateCompleted
	}
	return domain.StateError
}

// hubEmitter forwards a capability's progress and log output into the hub,
// tagged with the owning execution and node. Capabilities never see the hub
// itself.
type hubEmitter struct {
	manager     *Manager
	executionID string
	nodeID      string
}

func (e *hubEmitter) Progress(percent int, message string) {
	e.manager.publish(domain.NewProgressEvent(e.executionID, e.nodeID, percent, message))
}

func (e *hubEmitter) Log(message string) {
	e.manager.publish(domain.NewLogEvent(e.executionID, e.nodeID, domain.LogLevelInfo, message))
}

func (e *hubEmitter) Logf(format string, args ...interface{}) {
	e.Log(fmt.Sprintf(format, args...))
}
