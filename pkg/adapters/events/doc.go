// Package events provides event hub implementations.
//
// Implementations:
//   - memory: per-execution fan-out with a bounded backlog (default)
//   - redis: Redis Streams mirror for multi-process reads
package events
