// Package memory implements the event hub in process: per-execution topics
// with a bounded backlog and independently locked subscriber sets.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
)

const (
	defaultBacklogSize = 50
	defaultQueueSize   = 64
)

// Hub fans out events per execution. Publish never blocks: every subscriber
// has a bounded queue, and one that overflows is disconnected with
// ports.ErrSlowSubscriber instead of stalling the publisher. Each topic
// locks independently, so publishing to one execution never contends with
// another.
type Hub struct {
	backlogSize int
	queueSize   int
	metrics     ports.MetricsCollector
	logger      *zap.Logger

	mu     sync.RWMutex
	topics map[string]*topic
	closed bool

	globalMu sync.Mutex
	global   map[*subscription]struct{}
}

type topic struct {
	mu      sync.Mutex
	backlog []domain.Event
	subs    map[*subscription]struct{}
	done    bool
}

// NewHub creates an in-memory hub. Non-positive sizes fall back to the
// defaults.
func NewHub(backlogSize, queueSize int, metrics ports.MetricsCollector, logger *zap.Logger) *Hub {
	if backlogSize <= 0 {
		backlogSize = defaultBacklogSize
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		backlogSize: backlogSize,
		queueSize:   queueSize,
		metrics:     metrics,
		logger:      logger,
		topics:      make(map[string]*topic),
		global:      make(map[*subscription]struct{}),
	}
}

// Publish appends the event to the topic backlog and offers it to every
// attached subscriber.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	t, err := h.topicFor(event.ExecutionID, true)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.done {
		// The execution already completed; nothing left to deliver.
		t.mu.Unlock()
		return nil
	}

	t.backlog = append(t.backlog, event)
	if len(t.backlog) > h.backlogSize {
		t.backlog = t.backlog[len(t.backlog)-h.backlogSize:]
	}

	for sub := range t.subs {
		if !sub.offer(event) {
			delete(t.subs, sub)
			sub.fail(ports.ErrSlowSubscriber)
			h.metrics.RecordSubscriberDropped()
			h.logger.Warn("subscriber dropped for falling behind",
				zap.String("execution_id", event.ExecutionID))
		}
	}
	t.mu.Unlock()

	h.globalMu.Lock()
	for sub := range h.global {
		if !sub.offer(event) {
			delete(h.global, sub)
			sub.fail(ports.ErrSlowSubscriber)
			h.metrics.RecordSubscriberDropped()
			h.logger.Warn("global subscriber dropped for falling behind")
		}
	}
	h.globalMu.Unlock()

	return nil
}

// Subscribe attaches a consumer to one execution's stream: the backlog is
// replayed first, then live events follow in publish order. Subscribing to
// a finished execution replays the backlog and closes the channel.
func (h *Hub) Subscribe(ctx context.Context, executionID string) (ports.Subscription, error) {
	t, err := h.topicFor(executionID, true)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	// Queue headroom covers the replay so the backlog alone can never
	// overflow a fresh subscriber.
	sub := newSubscription(h.queueSize + len(t.backlog))
	for _, event := range t.backlog {
		sub.ch <- event
	}
	if t.done {
		sub.fail(nil)
	} else {
		t.subs[sub] = struct{}{}
		sub.detach = func() {
			t.mu.Lock()
			if _, ok := t.subs[sub]; ok {
				delete(t.subs, sub)
				sub.fail(nil)
			}
			t.mu.Unlock()
		}
	}
	t.mu.Unlock()

	sub.watch(ctx)
	return sub, nil
}

// SubscribeAll attaches a consumer to every execution's live events. There
// is no replay: the stream starts at subscription time.
func (h *Hub) SubscribeAll(ctx context.Context) (ports.Subscription, error) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil, ports.ErrHubClosed
	}

	sub := newSubscription(h.queueSize)

	h.globalMu.Lock()
	h.global[sub] = struct{}{}
	h.globalMu.Unlock()

	sub.detach = func() {
		h.globalMu.Lock()
		if _, ok := h.global[sub]; ok {
			delete(h.global, sub)
			sub.fail(nil)
		}
		h.globalMu.Unlock()
	}

	sub.watch(ctx)
	return sub, nil
}

// Complete marks the execution finished: attached subscribers are closed
// after pending deliveries, and the backlog stays available for late
// subscribers.
func (h *Hub) Complete(executionID string) {
	t, err := h.topicFor(executionID, false)
	if err != nil || t == nil {
		return
	}

	t.mu.Lock()
	t.done = true
	for sub := range t.subs {
		delete(t.subs, sub)
		sub.fail(nil)
	}
	t.mu.Unlock()
}

// Close shuts down the hub and disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	topics := h.topics
	h.topics = make(map[string]*topic)
	h.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		t.done = true
		for sub := range t.subs {
			delete(t.subs, sub)
			sub.fail(nil)
		}
		t.mu.Unlock()
	}

	h.globalMu.Lock()
	for sub := range h.global {
		delete(h.global, sub)
		sub.fail(nil)
	}
	h.globalMu.Unlock()

	return nil
}

func (h *Hub) topicFor(executionID string, create bool) (*topic, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ports.ErrHubClosed
	}
	t := h.topics[executionID]
	h.mu.RUnlock()
	if t != nil || !create {
		return t, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ports.ErrHubClosed
	}
	if t = h.topics[executionID]; t == nil {
		t = &topic{subs: make(map[*subscription]struct{})}
		h.topics[executionID] = t
	}
	return t, nil
}

// subscription is one attached consumer. The channel is closed exactly once
// by fail, which is only ever called while holding the owning topic (or
// global set) lock, so offer and close never race.
type subscription struct {
	ch     chan domain.Event
	detach func()

	mu     sync.Mutex
	closed bool
	err    error
}

func newSubscription(queueSize int) *subscription {
	return &subscription{ch: make(chan domain.Event, queueSize)}
}

// offer attempts a non-blocking delivery. False means the queue is full.
func (s *subscription) offer(event domain.Event) bool {
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// fail records the terminal error and closes the channel.
func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// watch detaches the subscription when ctx ends.
func (s *subscription) watch(ctx context.Context) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
}

// Events returns the delivery channel. It is closed when the execution
// finishes, the subscriber context ends, or the subscriber is dropped.
func (s *subscription) Events() <-chan domain.Event {
	return s.ch
}

// Err reports why the channel closed: nil for a normal close,
// ports.ErrSlowSubscriber after an overflow disconnect.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription from the hub.
func (s *subscription) Close() {
	if s.detach != nil {
		s.detach()
		return
	}
	s.fail(nil)
}
