package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aestiv/flowd/internal/domain"
)

// ValidationError reports a structural problem with a submitted graph.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CycleError reports that the edge relation induces a cycle. Remaining holds
// the node ids that could not be ordered, sorted for stable messages.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph contains a cycle among nodes: %s", strings.Join(e.Remaining, ", "))
}

// Order computes a topological ordering of the graph using Kahn's algorithm.
//
// Edges referencing unknown node ids are ignored rather than rejected, so a
// partially pruned graph still schedules its valid subset. The ordering is
// deterministic: the ready queue is seeded in node submission order and
// successors are released in edge submission order, so an edgeless graph
// comes back exactly as submitted and two runs over the same input always
// produce the same order.
//
// If any nodes cannot be ordered a *CycleError naming them is returned.
func Order(nodes []domain.Node, edges []domain.Edge) ([]string, error) {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	inDegree := make(map[string]int, len(known))
	adjacency := make(map[string][]string, len(known))
	for id := range known {
		inDegree[id] = 0
	}
	for _, e := range edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}

	queue := make([]string, 0, len(known))
	seen := make(map[string]bool, len(known))
	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(known))
	for head := 0; head < len(queue); head++ {
		id := queue[head]
		order = append(order, id)

		for _, succ := range adjacency[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) < len(known) {
		ordered := make(map[string]bool, len(order))
		for _, id := range order {
			ordered[id] = true
		}
		remaining := make([]string, 0, len(known)-len(order))
		for id := range known {
			if !ordered[id] {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Remaining: remaining}
	}

	return order, nil
}
