// Package workers implements the bounded worker pool that runs executions.
//
// The pool manages a fixed number of goroutines draining an in-process
// submit queue:
//   - Enqueue never blocks; a full queue is reported to the caller
//   - one worker drives one execution run loop at a time
//   - shutdown cancels the shared job context and waits for workers
//
// The health monitor samples worker status and queue depth for logs and
// metrics.
package workers
