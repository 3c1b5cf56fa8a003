// Package validate checks a workflow's dependency graph for structural
// soundness and answers runnability queries against a set of completed
// nodes, grounded on the teacher's DAG.Validate/BuildDAG/TopologicalSort
// but reshaped around the spec's Dependencies-first wire format.
package validate

import (
	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
)

// Validate checks that every dependency refers to a real node and that the
// dependency graph contains no cycle. It runs in O(V+E) via a single
// depth-first traversal with a three-color visited set.
func Validate(w *workflow.Workflow) error {
	byID := make(map[string]*workflow.Node, len(w.Nodes))
	for _, n := range w.Nodes {
		byID[n.ID] = n
	}

	for _, n := range w.Nodes {
		for _, dep := range n.Dependencies {
			if _, ok := byID[dep]; !ok {
				return &errs.ValidationError{NodeID: n.ID, DepID: dep, Kind: "dangling_dependency"}
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(w.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return &errs.ValidationError{NodeID: id, Kind: "cycle"}
		}
		state[id] = visiting
		for _, dep := range byID[id].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, n := range w.Nodes {
		if err := visit(n.ID); err != nil {
			return err
		}
	}
	return nil
}

// Runnable returns the nodes whose dependencies are all present in
// completed, excluding nodes already in completed or running themselves.
// The scheduler calls this after every completion to recompute the
// dispatchable set, rather than batching by DAG level (§4.4).
func Runnable(w *workflow.Workflow, completed, running map[string]bool) []*workflow.Node {
	var out []*workflow.Node
	for _, n := range w.Nodes {
		if completed[n.ID] || running[n.ID] {
			continue
		}
		ready := true
		for _, dep := range n.Dependencies {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, n)
		}
	}
	return out
}
