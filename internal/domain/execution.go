package domain

import "time"

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NodeResult is the committed outcome of one node. A false Success is an
// expected capability failure, not an engine error; Message explains it
// either way.
type NodeResult struct {
	Success         bool             `json:"success"`
	Message         string           `json:"message,omitempty"`
	ArtifactLocator string           `json:"artifact_locator,omitempty"`
	Stats           map[string]int64 `json:"stats,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
}

// ExecutionRecord is the queryable state of one submitted graph. Records are
// snapshots: the store deep-copies on save and read, so a record held by a
// caller never mutates under it.
type ExecutionRecord struct {
	ID              string                `json:"id"`
	GraphRef        string                `json:"graph_ref"`
	Status          Status                `json:"status"`
	ContinueOnError bool                  `json:"continue_on_error"`
	ExecutionOrder  []string              `json:"execution_order,omitempty"`
	NodeResults     map[string]NodeResult `json:"node_results"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	Error           string                `json:"error,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}

	cp := *r

	if r.ExecutionOrder != nil {
		cp.ExecutionOrder = make([]string, len(r.ExecutionOrder))
		copy(cp.ExecutionOrder, r.ExecutionOrder)
	}

	if r.NodeResults != nil {
		cp.NodeResults = make(map[string]NodeResult, len(r.NodeResults))
		for id, res := range r.NodeResults {
			if res.Stats != nil {
				stats := make(map[string]int64, len(res.Stats))
				for k, v := range res.Stats {
					stats[k] = v
				}
				res.Stats = stats
			}
			cp.NodeResults[id] = res
		}
	}

	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		cp.CompletedAt = &completed
	}

	return &cp
}
