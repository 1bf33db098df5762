package domain

import "time"

// EventType discriminates the three kinds of updates streamed during an
// execution.
type EventType string

const (
	EventTypeLog      EventType = "log"
	EventTypeProgress EventType = "progress"
	EventTypeStatus   EventType = "status"
)

// LogLevel is the severity attached to log events.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Event states carried by status events. Node-scoped status events use
// running/completed/error; execution-scoped ones additionally use the
// terminal record statuses. StateCancelling acknowledges a cancel request
// while the in-flight node is still running; StateCancelled is reserved for
// the terminal event. StateOverflow is the disconnect notice sent to a
// subscriber that fell too far behind.
const (
	StateRunning    = "running"
	StateCompleted  = "completed"
	StateError      = "error"
	StateFailed     = "failed"
	StateCancelling = "cancelling"
	StateCancelled  = "cancelled"
	StateOverflow   = "overflow"
)

// Event is a single progress, log, or status update published while an
// execution runs. NodeID is empty for execution-scoped events. Progress is
// set only on progress events (0-100); Status only on status events.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id,omitempty"`
	Level       LogLevel  `json:"level,omitempty"`
	Message     string    `json:"message,omitempty"`
	Progress    *int      `json:"progress,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewLogEvent builds a log event at the given level.
func NewLogEvent(executionID, nodeID string, level LogLevel, message string) Event {
	return Event{
		Type:        EventTypeLog,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}
}

// NewProgressEvent builds a progress event. Percent is clamped to 0-100.
func NewProgressEvent(executionID, nodeID string, percent int, message string) Event {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Event{
		Type:        EventTypeProgress,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Message:     message,
		Progress:    &percent,
		Timestamp:   time.Now().UTC(),
	}
}

// NewStatusEvent builds a status event. NodeID may be empty for
// execution-scoped states.
func NewStatusEvent(executionID, nodeID, state, message string) Event {
	return Event{
		Type:        EventTypeStatus,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Message:     message,
		Status:      state,
		Timestamp:   time.Now().UTC(),
	}
}
