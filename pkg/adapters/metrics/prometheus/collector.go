package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	executionsSubmitted *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   prometheus.Histogram
	nodesExecuted       *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	eventsPublished     *prometheus.CounterVec
	subscribersDropped  prometheus.Counter
	activeExecutions    prometheus.Gauge
	queueDepth          prometheus.Gauge
	workerPoolIdle      prometheus.Gauge
	workerPoolBusy      prometheus.Gauge
	workerPoolStopped   prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on the
// default registry.
func NewCollector() *Collector {
	return &Collector{
		executionsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowd_executions_submitted_total",
				Help: "Total number of executions submitted",
			},
			[]string{"status"},
		),
		executionsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowd_executions_completed_total",
				Help: "Total number of executions reaching a terminal state",
			},
			[]string{"status"},
		),
		executionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowd_execution_duration_seconds",
				Help:    "Execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		nodesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowd_nodes_executed_total",
				Help: "Total number of nodes executed",
			},
			[]string{"capability", "status"},
		),
		nodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowd_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"capability"},
		),
		eventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowd_events_published_total",
				Help: "Total number of events published to the hub",
			},
			[]string{"type"},
		),
		subscribersDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flowd_subscribers_dropped_total",
				Help: "Total number of subscribers dropped for falling behind",
			},
		),
		activeExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowd_active_executions",
				Help: "Number of currently active executions",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowd_worker_queue_depth",
				Help: "Current depth of the worker submit queue",
			},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowd_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowd_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowd_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordExecutionSubmitted increments the count of submitted executions.
func (c *Collector) RecordExecutionSubmitted(status string) {
	c.executionsSubmitted.WithLabelValues(status).Inc()
}

// RecordExecutionCompleted records a terminal execution and its duration.
func (c *Collector) RecordExecutionCompleted(status string, duration time.Duration) {
	c.executionsCompleted.WithLabelValues(status).Inc()
	c.executionDuration.Observe(duration.Seconds())
}

// RecordNodeExecuted records one node invocation.
func (c *Collector) RecordNodeExecuted(capability, status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(capability, status).Inc()
	c.nodeDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordEventPublished counts hub publishes by event type.
func (c *Collector) RecordEventPublished(eventType string) {
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordSubscriberDropped counts subscribers disconnected for overflowing.
func (c *Collector) RecordSubscriberDropped() {
	c.subscribersDropped.Inc()
}

// SetActiveExecutions sets the number of currently active executions.
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// SetQueueDepth sets the current depth of the worker submit queue.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordWorkerPoolStatus records worker pool occupancy.
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
