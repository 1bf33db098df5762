// Package domain defines the core types shared across the engine:
//
//   - Graph, Node, Edge: the user-assembled flow
//   - ExecutionRecord, NodeResult, Status: queryable execution state
//   - Event: progress/log/status updates streamed while a flow runs
//
// The package has no dependencies on adapters or application logic.
package domain
