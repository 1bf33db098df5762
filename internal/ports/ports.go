package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aestiv/flowd/internal/domain"
)

var (
	// ErrExecutionNotFound is returned by ExecutionStore.Get for unknown ids.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrGraphNotFound is returned by GraphStore lookups for unknown ids.
	ErrGraphNotFound = errors.New("graph definition not found")

	// ErrSlowSubscriber is reported by a Subscription that was disconnected
	// because its queue overflowed.
	ErrSlowSubscriber = errors.New("subscriber queue overflow")

	// ErrHubClosed is returned when publishing to or subscribing on a hub
	// that has been shut down.
	ErrHubClosed = errors.New("event hub closed")
)

// Subscription is one attached consumer of an event stream. Events is closed
// when the execution finishes, the subscriber context is cancelled, or the
// subscriber is dropped for falling behind; Err distinguishes the overflow
// case (ErrSlowSubscriber) from a normal close (nil).
type Subscription interface {
	Events() <-chan domain.Event
	Err() error
	Close()
}

// EventHub fans out per-execution progress/log/status events. Publish must
// never block on slow consumers: each subscriber has a bounded queue, and a
// subscriber whose queue is full is disconnected with ErrSlowSubscriber
// rather than stalling the publisher. A bounded backlog per execution is
// replayed to late subscribers, including after the execution has finished.
type EventHub interface {
	Publish(ctx context.Context, event domain.Event) error
	Subscribe(ctx context.Context, executionID string) (Subscription, error)
	SubscribeAll(ctx context.Context) (Subscription, error)
	Complete(executionID string)
	Close() error
}

// ExecutionStore persists execution records. Implementations deep-copy on
// save and read so callers and the run loop never share mutable state.
type ExecutionStore interface {
	Save(ctx context.Context, record *domain.ExecutionRecord) error
	Get(ctx context.Context, id string) (*domain.ExecutionRecord, error)
	// List returns records sorted by StartedAt, most recent first. A limit
	// <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*domain.ExecutionRecord, error)
}

// GraphStore persists reusable graph definitions.
type GraphStore interface {
	Save(ctx context.Context, def *domain.GraphDefinition) error
	Get(ctx context.Context, id string) (*domain.GraphDefinition, error)
	List(ctx context.Context) ([]*domain.GraphDefinition, error)
	Delete(ctx context.Context, id string) error
}

// MetricsCollector records engine metrics. Implementations must be safe for
// concurrent use.
type MetricsCollector interface {
	RecordExecutionSubmitted(status string)
	RecordExecutionCompleted(status string, duration time.Duration)
	RecordNodeExecuted(capability, status string, duration time.Duration)
	RecordEventPublished(eventType string)
	RecordSubscriberDropped()
	SetActiveExecutions(count int)
	SetQueueDepth(depth int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
