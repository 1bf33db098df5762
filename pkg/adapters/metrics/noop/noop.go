// Package noop provides a metrics collector that discards everything. It
// backs tests and deployments that run with metrics disabled.
package noop

import "time"

// Collector implements ports.MetricsCollector with no-ops.
type Collector struct{}

// NewCollector creates a new no-op collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (*Collector) RecordExecutionSubmitted(status string)                         {}
func (*Collector) RecordExecutionCompleted(status string, duration time.Duration) {}
func (*Collector) RecordNodeExecuted(capability, status string, d time.Duration)  {}
func (*Collector) RecordEventPublished(eventType string)                          {}
func (*Collector) RecordSubscriberDropped()                                       {}
func (*Collector) SetActiveExecutions(count int)                                  {}
func (*Collector) SetQueueDepth(depth int)                                        {}
func (*Collector) RecordWorkerPoolStatus(idle, busy, stopped int)                 {}
