// Package scheduler computes deterministic execution orders for flow graphs.
//
// Ordering uses Kahn's algorithm with node submission order as the
// tie-break, so the same graph always schedules the same way. Cyclic graphs
// fail with a CycleError naming the nodes that could not be ordered.
package scheduler
