package domain

import "time"

// Node is a single unit of work in a flow: a named capability plus the
// configuration map it will be executed with.
type Node struct {
	ID         string                 `json:"id"`
	Capability string                 `json:"capability"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

// Edge is a directed dependency between two nodes. The artifact locator of
// the source node may be wired into the target node's configuration.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is a user-assembled flow. Node and edge order is submission order,
// which the scheduler uses as the deterministic tie-break, so both are kept
// as slices.
type Graph struct {
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges,omitempty"`
}

// GraphDefinition is a stored, reusable graph with an identity. Definitions
// are managed by the graph store and can be submitted for execution by id.
type GraphDefinition struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Graph       Graph     `json:"graph"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
