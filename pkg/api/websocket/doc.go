// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/executions/:id/events to follow one execution
// (backlog replay included) or to /api/v1/events for the all-executions
// firehose.
package websocket
