// Package orchestrator implements the execution lifecycle of flow graphs.
//
// The manager coordinates each execution by:
//   - Validating graph structure and computing a deterministic order
//   - Running nodes sequentially, wiring upstream artifact locators into
//     downstream configuration
//   - Publishing progress/log/status events to the event hub
//   - Committing node results and status transitions to the execution store
//
// Cancellation is cooperative: the flag is checked between nodes and the
// in-flight node is allowed to finish. Failed nodes do not abort the rest of
// the schedule unless the submission disabled continue-on-error.
package orchestrator
