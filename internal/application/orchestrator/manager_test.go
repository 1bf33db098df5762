package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aestiv/flowd/internal/application/scheduler"
	"github.com/aestiv/flowd/internal/application/workers"
	"github.com/aestiv/flowd/internal/capability"
	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
	eventsmem "github.com/aestiv/flowd/pkg/adapters/events/memory"
	"github.com/aestiv/flowd/pkg/adapters/metrics/noop"
	storagemem "github.com/aestiv/flowd/pkg/adapters/storage/memory"
)

type execFn func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error)

type fakeCapability struct {
	fn execFn
}

func (f *fakeCapability) Execute(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
	return f.fn(ctx, cfg, emit)
}

type harness struct {
	mgr      *Manager
	hub      *eventsmem.Hub
	store    *storagemem.Store
	registry *capability.Registry
	pool     *workers.Pool

	mu      sync.Mutex
	configs map[string]capability.Config
}

func newHarness(t *testing.T) *harness {
	return newHarnessTimeout(t, 0)
}

func newHarnessTimeout(t *testing.T, nodeTimeout time.Duration) *harness {
	t.Helper()

	hub := eventsmem.NewHub(50, 64, noop.NewCollector(), zap.NewNop())
	store := storagemem.NewStore()
	registry := capability.NewRegistry()

	pool := workers.NewPool(2, 16, noop.NewCollector(), zap.NewNop(), time.Minute)
	require.NoError(t, pool.Start())

	mgr := NewManager(hub, store, noop.NewCollector(), registry, NewValidator(), pool, zap.NewNop(), nodeTimeout)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
		_ = pool.Shutdown(ctx)
		_ = hub.Close()
	})

	return &harness{
		mgr:      mgr,
		hub:      hub,
		store:    store,
		registry: registry,
		pool:     pool,
		configs:  make(map[string]capability.Config),
	}
}

func (h *harness) register(name string, fn execFn) {
	h.registry.Register(
		capability.Descriptor{Name: name, DisplayName: name, Category: "test"},
		func() (capability.Capability, error) {
			return &fakeCapability{fn: fn}, nil
		},
	)
}

// registerRecording registers a capability that records the effective config
// it ran with, keyed by the node's "tag" config value, and succeeds with the
// locator given in "emit_locator" (if any).
func (h *harness) registerRecording(name string) {
	h.register(name, func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		h.mu.Lock()
		h.configs[cfg.String("tag", "")] = cfg
		h.mu.Unlock()
		return &capability.Result{
			Success:         true,
			Message:         "done",
			ArtifactLocator: cfg.String("emit_locator", ""),
		}, nil
	})
}

func (h *harness) configFor(tag string) capability.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configs[tag]
}

func waitTerminal(t *testing.T, mgr *Manager, id string) *domain.ExecutionRecord {
	t.Helper()
	var rec *domain.ExecutionRecord
	require.Eventually(t, func() bool {
		r, err := mgr.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.Status.IsTerminal()
	}, 3*time.Second, 5*time.Millisecond)
	return rec
}

func node(id, cap string, cfg map[string]interface{}) domain.Node {
	return domain.Node{ID: id, Capability: cap, Config: cfg}
}

func boolPtr(v bool) *bool { return &v }

func TestSubmit_RejectsCyclicGraph(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	graph := &domain.Graph{
		Nodes: []domain.Node{node("x", "ok", nil), node("y", "ok", nil)},
		Edges: []domain.Edge{{Source: "x", Target: "y"}, {Source: "y", Target: "x"}},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.Error(t, err)
	require.Empty(t, id)

	var cycleErr *scheduler.CycleError
	require.True(t, errors.As(err, &cycleErr))

	// No execution record was created.
	records, err := h.mgr.List(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSubmit_RejectsDuplicateNodeID(t *testing.T) {
	h := newHarness(t)

	graph := &domain.Graph{
		Nodes: []domain.Node{node("a", "ok", nil), node("a", "ok", nil)},
	}

	_, err := h.mgr.Submit(context.Background(), graph, Options{})
	var validationErr *scheduler.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestSubmit_RejectsEmptyGraph(t *testing.T) {
	h := newHarness(t)

	_, err := h.mgr.Submit(context.Background(), &domain.Graph{}, Options{})
	var validationErr *scheduler.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestRun_AllNodesSucceed(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("a", "ok", map[string]interface{}{"tag": "a"}),
			node("b", "ok", map[string]interface{}{"tag": "b"}),
		},
		Edges: []domain.Edge{{Source: "a", Target: "b"}},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.Equal(t, []string{"a", "b"}, rec.ExecutionOrder)
	require.Len(t, rec.NodeResults, 2)
	require.True(t, rec.NodeResults["a"].Success)
	require.True(t, rec.NodeResults["b"].Success)
	require.NotNil(t, rec.CompletedAt)
	require.Equal(t, "adhoc", rec.GraphRef)
}

func TestRun_UpstreamArtifactWiring(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("a", "ok", map[string]interface{}{"tag": "a", "emit_locator": "/tmp/a.out"}),
			node("b", "ok", map[string]interface{}{"tag": "b"}),
			node("c", "ok", map[string]interface{}{"tag": "c", "path": "/explicit"}),
		},
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
		},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCompleted, rec.Status)

	// b had no path: it receives a's artifact locator.
	require.Equal(t, "/tmp/a.out", h.configFor("b").String("path", ""))
	// c set its own path: fill-if-absent never overwrites.
	require.Equal(t, "/explicit", h.configFor("c").String("path", ""))
}

func TestRun_FirstSatisfiedEdgeWins(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("first", "ok", map[string]interface{}{"tag": "first", "emit_locator": "/out/first"}),
			node("second", "ok", map[string]interface{}{"tag": "second", "emit_locator": "/out/second"}),
			node("sink", "ok", map[string]interface{}{"tag": "sink"}),
		},
		Edges: []domain.Edge{
			{Source: "first", Target: "sink"},
			{Source: "second", Target: "sink"},
		},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	waitTerminal(t, h.mgr, id)
	require.Equal(t, "/out/first", h.configFor("sink").String("path", ""))
}

func TestRun_DiamondWithFailedRoot(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")
	h.register("fail", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		return &capability.Result{Success: false, Message: "no such path"}, nil
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("a", "fail", nil),
			node("b", "ok", map[string]interface{}{"tag": "b"}),
			node("c", "ok", map[string]interface{}{"tag": "c"}),
			node("d", "ok", map[string]interface{}{"tag": "d"}),
		},
		Edges: []domain.Edge{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "d"},
			{Source: "c", Target: "d"},
		},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	rec := waitTerminal(t, h.mgr, id)
	// Continue-on-error is the default: the run reaches completed with
	// mixed per-node results.
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.Len(t, rec.NodeResults, 4)
	require.False(t, rec.NodeResults["a"].Success)
	require.True(t, rec.NodeResults["b"].Success)
	require.True(t, rec.NodeResults["c"].Success)
	require.True(t, rec.NodeResults["d"].Success)

	// Artifact wiring is best-effort: b and c got nothing from a, and b
	// produced no locator, so d got nothing either.
	require.Equal(t, "", h.configFor("b").String("path", ""))
	require.Equal(t, "", h.configFor("c").String("path", ""))
	require.Equal(t, "", h.configFor("d").String("path", ""))
}

func TestRun_AbortsWhenContinueOnErrorDisabled(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")
	h.register("fail", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		return &capability.Result{Success: false, Message: "broken"}, nil
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("a", "fail", nil),
			node("b", "ok", map[string]interface{}{"tag": "b"}),
		},
		Edges: []domain.Edge{{Source: "a", Target: "b"}},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{ContinueOnError: boolPtr(false)})
	require.NoError(t, err)

	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusFailed, rec.Status)
	require.NotEmpty(t, rec.Error)

	// The failed node committed its result; the rest never started.
	require.Len(t, rec.NodeResults, 1)
	require.False(t, rec.NodeResults["a"].Success)
	require.Nil(t, h.configFor("b"))
}

func TestRun_UnknownCapabilityFailsNodeOnly(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("bad", "not-registered", nil),
			node("good", "ok", map[string]interface{}{"tag": "good"}),
		},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.False(t, rec.NodeResults["bad"].Success)
	require.Contains(t, rec.NodeResults["bad"].Message, "unknown capability")
	require.True(t, rec.NodeResults["good"].Success)
}

func TestRun_PanickingCapabilityBecomesNodeFailure(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")
	h.register("explode", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		panic("boom")
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("bang", "explode", nil),
			node("after", "ok", map[string]interface{}{"tag": "after"}),
		},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.False(t, rec.NodeResults["bang"].Success)
	require.True(t, rec.NodeResults["after"].Success)
}

func TestRun_CapabilityErrorBecomesNodeFailure(t *testing.T) {
	h := newHarness(t)
	h.register("hardfail", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		return nil, errors.New("disk on fire")
	})

	graph := &domain.Graph{Nodes: []domain.Node{node("n", "hardfail", nil)}}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.False(t, rec.NodeResults["n"].Success)
	require.Contains(t, rec.NodeResults["n"].Message, "disk on fire")
}

func TestRun_InputsFillAbsentKeys(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("a", "ok", map[string]interface{}{"tag": "a"}),
			node("b", "ok", map[string]interface{}{"tag": "b", "mode": "own"}),
		},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{
		Inputs: map[string]interface{}{"path": "/global/input", "mode": "shared"},
	})
	require.NoError(t, err)

	waitTerminal(t, h.mgr, id)
	require.Equal(t, "/global/input", h.configFor("a").String("path", ""))
	require.Equal(t, "shared", h.configFor("a").String("mode", ""))
	// Node-level config wins over submission inputs.
	require.Equal(t, "own", h.configFor("b").String("mode", ""))
}

func TestCancel_StopsAfterInFlightNode(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	started := make(chan struct{})
	release := make(chan struct{})
	h.register("block", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		close(started)
		<-release
		return &capability.Result{Success: true, Message: "finished"}, nil
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("slow", "block", nil),
			node("next", "ok", map[string]interface{}{"tag": "next"}),
		},
		Edges: []domain.Edge{{Source: "slow", Target: "next"}},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	<-started
	accepted, err := h.mgr.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.True(t, accepted)

	// The in-flight node finishes and commits before the execution goes
	// terminal.
	close(release)
	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCancelled, rec.Status)
	require.Len(t, rec.NodeResults, 1)
	require.True(t, rec.NodeResults["slow"].Success)
	require.Nil(t, h.configFor("next"))
}

func TestCancel_WatcherSeesCancelledOnlyAsTerminalEvent(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	release := make(chan struct{})
	h.register("block", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		close(started)
		<-release
		return &capability.Result{Success: true, Message: "finished"}, nil
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("slow", "block", nil),
			node("next", "block", nil),
		},
		Edges: []domain.Edge{{Source: "slow", Target: "next"}},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	sub, err := h.hub.Subscribe(context.Background(), id)
	require.NoError(t, err)

	<-started
	accepted, err := h.mgr.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.True(t, accepted)
	close(release)

	var events []domain.Event
	for event := range sub.Events() {
		events = append(events, event)
	}
	require.NoError(t, sub.Err())

	// The cancel request surfaces as a cancelling event; the cancelled
	// state appears exactly once, as the final event, after the in-flight
	// node's own completion event.
	var cancellingAt, nodeDoneAt, cancelledAt int
	cancelledCount := 0
	for i, event := range events {
		switch {
		case event.Status == domain.StateCancelling:
			cancellingAt = i
		case event.NodeID == "slow" && event.Status == domain.StateCompleted:
			nodeDoneAt = i
		case event.Status == domain.StateCancelled:
			cancelledAt = i
			cancelledCount++
		}
	}
	require.Equal(t, 1, cancelledCount)
	require.Equal(t, len(events)-1, cancelledAt)
	require.Greater(t, cancelledAt, nodeDoneAt)
	require.Greater(t, cancelledAt, cancellingAt)

	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCancelled, rec.Status)
}

func TestRun_NodeTimeoutFailsNodeOnly(t *testing.T) {
	h := newHarnessTimeout(t, 50*time.Millisecond)
	h.registerRecording("ok")
	h.register("hang", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("stuck", "hang", nil),
			node("after", "ok", map[string]interface{}{"tag": "after"}),
		},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	// The deadline fails the node, not the execution.
	rec := waitTerminal(t, h.mgr, id)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	require.False(t, rec.NodeResults["stuck"].Success)
	require.Contains(t, rec.NodeResults["stuck"].Message, "timed out")
	require.True(t, rec.NodeResults["after"].Success)
}

type fullQueue struct{}

func (fullQueue) Enqueue(func(ctx context.Context)) error { return workers.ErrQueueFull }

func TestSubmit_QueueFullMarksRecordRejected(t *testing.T) {
	hub := eventsmem.NewHub(50, 64, noop.NewCollector(), zap.NewNop())
	store := storagemem.NewStore()
	registry := capability.NewRegistry()
	mgr := NewManager(hub, store, noop.NewCollector(), registry, NewValidator(), fullQueue{}, zap.NewNop(), 0)
	t.Cleanup(func() {
		_ = mgr.Shutdown(context.Background())
		_ = hub.Close()
	})

	graph := &domain.Graph{Nodes: []domain.Node{node("a", "anything", nil)}}

	id, err := mgr.Submit(context.Background(), graph, Options{})
	require.ErrorIs(t, err, workers.ErrQueueFull)
	require.Empty(t, id)

	// The pending record was already visible, so it is rewritten as a
	// rejection rather than left pending forever.
	records, err := mgr.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, domain.StatusFailed, records[0].Status)
	require.Equal(t, "rejected: worker queue full", records[0].Error)
	require.NotNil(t, records[0].CompletedAt)
}

func TestCancel_UnknownExecution(t *testing.T) {
	h := newHarness(t)

	accepted, err := h.mgr.Cancel(context.Background(), "nope")
	require.False(t, accepted)
	require.ErrorIs(t, err, ports.ErrExecutionNotFound)
}

func TestCancel_FinishedExecution(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	graph := &domain.Graph{Nodes: []domain.Node{node("a", "ok", map[string]interface{}{"tag": "a"})}}
	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)
	waitTerminal(t, h.mgr, id)

	accepted, err := h.mgr.Cancel(context.Background(), id)
	require.False(t, accepted)
	require.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestList_MostRecentFirst(t *testing.T) {
	h := newHarness(t)
	h.registerRecording("ok")

	var ids []string
	for i := 0; i < 3; i++ {
		graph := &domain.Graph{Nodes: []domain.Node{node("a", "ok", map[string]interface{}{"tag": "a"})}}
		id, err := h.mgr.Submit(context.Background(), graph, Options{})
		require.NoError(t, err)
		ids = append(ids, id)
		waitTerminal(t, h.mgr, id)
		time.Sleep(2 * time.Millisecond)
	}

	records, err := h.mgr.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, ids[2], records[0].ID)
	require.Equal(t, ids[1], records[1].ID)
}

func TestRun_EventsReachSubscriberInOrder(t *testing.T) {
	h := newHarness(t)
	h.register("chatty", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		emit.Log("starting work")
		emit.Progress(50, "halfway")
		emit.Progress(100, "done")
		return &capability.Result{Success: true, Message: "ok"}, nil
	})

	// Hold the run until the subscriber is attached.
	gate := make(chan struct{})
	h.register("gate", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		<-gate
		return &capability.Result{Success: true}, nil
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{
			node("wait", "gate", nil),
			node("talk", "chatty", nil),
		},
		Edges: []domain.Edge{{Source: "wait", Target: "talk"}},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	sub, err := h.hub.Subscribe(context.Background(), id)
	require.NoError(t, err)
	close(gate)

	var events []domain.Event
	for event := range sub.Events() {
		events = append(events, event)
	}
	require.NoError(t, sub.Err())

	// Progress events arrive in publish order and carry the node id.
	var progress []int
	for _, event := range events {
		if event.Type == domain.EventTypeProgress && event.NodeID == "talk" {
			progress = append(progress, *event.Progress)
		}
	}
	require.Equal(t, []int{50, 100}, progress)

	// The stream ends with the terminal status event.
	last := events[len(events)-1]
	require.Equal(t, domain.EventTypeStatus, last.Type)
	require.Equal(t, string(domain.StatusCompleted), last.Status)

	// A node-scoped error status is published for failed nodes; none here.
	for _, event := range events {
		require.NotEqual(t, domain.StateError, event.Status)
	}
}

func TestGet_ReadAfterWriteSeesCommittedResults(t *testing.T) {
	h := newHarness(t)

	committed := make(chan struct{})
	release := make(chan struct{})
	first := true
	var mu sync.Mutex
	h.register("step", func(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
		mu.Lock()
		wasFirst := first
		first = false
		mu.Unlock()
		if !wasFirst {
			close(committed)
			<-release
		}
		return &capability.Result{Success: true}, nil
	})

	graph := &domain.Graph{
		Nodes: []domain.Node{node("one", "step", nil), node("two", "step", nil)},
		Edges: []domain.Edge{{Source: "one", Target: "two"}},
	}

	id, err := h.mgr.Submit(context.Background(), graph, Options{})
	require.NoError(t, err)

	// When the second node is running, the first node's result is
	// already visible to a status query.
	<-committed
	rec, err := h.mgr.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, rec.Status)
	require.True(t, rec.NodeResults["one"].Success)

	close(release)
	waitTerminal(t, h.mgr, id)
}
