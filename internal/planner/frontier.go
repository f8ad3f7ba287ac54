package planner

import (
	"fmt"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// ReadyNodes returns every pending node whose dependency set is a subset of
// completed. The executor calls this once per iteration instead of computing
// a static topological order, because a retried node stays pending across
// iterations while its siblings complete.
func ReadyNodes(graph *domain.TaskGraph, completed map[string]struct{}) []*domain.DAGNode {
	var ready []*domain.DAGNode
	for _, node := range graph.Nodes {
		if node.Status != domain.NodePending {
			continue
		}
		if _, done := completed[node.ID]; done {
			continue
		}
		satisfied := true
		for _, dep := range node.DependsOn {
			if _, ok := completed[dep]; !ok {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, node)
		}
	}
	return ready
}

// Validate checks the structural invariants a planned graph must hold:
// unique node ids, every dependency referencing a node in the graph, actions
// from the closed set, and acyclicity.
func Validate(graph *domain.TaskGraph) error {
	ids := make(map[string]*domain.DAGNode, len(graph.Nodes))
	for _, n := range graph.Nodes {
		if n.ID == "" {
			return &domain.InvalidGraphError{Reason: "node with empty id"}
		}
		if _, dup := ids[n.ID]; dup {
			return &domain.InvalidGraphError{Reason: "duplicate node id " + n.ID}
		}
		ids[n.ID] = n
	}

	for _, n := range graph.Nodes {
		if !n.Action.Known() {
			return &domain.UnknownActionError{NodeID: n.ID, Action: n.Action}
		}
		for _, dep := range n.DependsOn {
			if _, ok := ids[dep]; !ok {
				return &domain.InvalidGraphError{
					Reason: fmt.Sprintf("node %s depends on missing node %s", n.ID, dep),
				}
			}
		}
	}

	return checkAcyclic(graph, ids)
}

// checkAcyclic runs a three-color depth-first search over the dependency
// edges.
func checkAcyclic(graph *domain.TaskGraph, ids map[string]*domain.DAGNode) error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(graph.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return &domain.InvalidGraphError{Reason: "cycle through node " + id}
		case black:
			return nil
		}
		color[id] = grey
		for _, dep := range ids[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range graph.Nodes {
		if err := visit(n.ID); err != nil {
			return err
		}
	}
	return nil
}
