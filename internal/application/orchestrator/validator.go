package orchestrator

import (
	"fmt"

	"github.com/aestiv/flowd/internal/application/scheduler"
	"github.com/aestiv/flowd/internal/domain"
)

// Validator checks submitted graphs for structural problems before an
// execution id is ever created. It is strict where the scheduler is lenient:
// edges must reference existing nodes here, because a submission with a
// dangling edge is a caller bug rather than a pruned subset.
type Validator struct{}

// NewValidator creates a new graph validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a graph structure. All failures are reported as
// *scheduler.ValidationError so the API layer can classify them uniformly.
func (v *Validator) Validate(g *domain.Graph) error {
	if g == nil {
		return &scheduler.ValidationError{Field: "graph", Message: "graph is required"}
	}

	if len(g.Nodes) == 0 {
		return &scheduler.ValidationError{Field: "nodes", Message: "graph must have at least one node"}
	}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i, node := range g.Nodes {
		if node.ID == "" {
			return &scheduler.ValidationError{
				Field:   fmt.Sprintf("nodes[%d].id", i),
				Message: "node id is required",
			}
		}
		if node.Capability == "" {
			return &scheduler.ValidationError{
				Field:   fmt.Sprintf("nodes[%d].capability", i),
				Message: fmt.Sprintf("node %s has no capability name", node.ID),
			}
		}
		if nodeIDs[node.ID] {
			return &scheduler.ValidationError{
				Field:   fmt.Sprintf("nodes[%d].id", i),
				Message: fmt.Sprintf("duplicate node id: %s", node.ID),
			}
		}
		nodeIDs[node.ID] = true
	}

	for i, edge := range g.Edges {
		if !nodeIDs[edge.Source] {
			return &scheduler.ValidationError{
				Field:   fmt.Sprintf("edges[%d].source", i),
				Message: fmt.Sprintf("edge references unknown source node: %s", edge.Source),
			}
		}
		if !nodeIDs[edge.Target] {
			return &scheduler.ValidationError{
				Field:   fmt.Sprintf("edges[%d].target", i),
				Message: fmt.Sprintf("edge references unknown target node: %s", edge.Target),
			}
		}
	}

	return nil
}
