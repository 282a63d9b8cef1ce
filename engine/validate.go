package engine

import (
	"fmt"

	"github.com/mhyatt000/flowcore/model"
)

// ValidateFlow checks that a Flow is well-formed before it is ever
// scheduled: every node referenced by an edge or the entry point must
// exist, subflows must be similarly self-consistent, and the node graph
// (ignoring control-flow jumps back into subflows, which are not edges)
// must be acyclic.
func ValidateFlow(flow model.Flow, registry *PluginRegistry) error {
	if flow.EntryNodeID == "" {
		return model.NewError(model.CodeDAGInvalid, "flow has no entry node")
	}
	if _, ok := flow.Nodes[flow.EntryNodeID]; !ok {
		return model.NewError(model.CodeDAGInvalid, fmt.Sprintf("entry node %q not found", flow.EntryNodeID))
	}

	adjacency := make(map[string][]string)
	for _, edge := range flow.Edges {
		if _, ok := flow.Nodes[edge.From]; !ok {
			return model.NewError(model.CodeDAGInvalid, fmt.Sprintf("edge references unknown source node %q", edge.From))
		}
		if _, ok := flow.Nodes[edge.To]; !ok {
			return model.NewError(model.CodeDAGInvalid, fmt.Sprintf("edge references unknown target node %q", edge.To))
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	if registry != nil {
		for id, node := range flow.Nodes {
			if node.Disabled {
				continue
			}
			if _, err := registry.Lookup(node.Kind); err != nil {
				return model.Wrap(model.CodeUnsupportedNode, fmt.Sprintf("node %q", id), err)
			}
		}
	}

	if cycleNode, found := findCycle(adjacency); found {
		return model.NewError(model.CodeDAGCycle, fmt.Sprintf("cycle detected at node %q", cycleNode))
	}

	for name, sub := range flow.Subflows {
		if err := validateSubflow(name, sub); err != nil {
			return err
		}
	}

	return nil
}

func validateSubflow(name string, sub model.Subflow) error {
	if sub.EntryNodeID == "" {
		return model.NewError(model.CodeDAGInvalid, fmt.Sprintf("subflow %q has no entry node", name))
	}
	if _, ok := sub.Nodes[sub.EntryNodeID]; !ok {
		return model.NewError(model.CodeDAGInvalid, fmt.Sprintf("subflow %q entry node not found", name))
	}
	adjacency := make(map[string][]string)
	for _, edge := range sub.Edges {
		if _, ok := sub.Nodes[edge.From]; !ok {
			return model.NewError(model.CodeDAGInvalid, fmt.Sprintf("subflow %q edge references unknown source %q", name, edge.From))
		}
		if _, ok := sub.Nodes[edge.To]; !ok {
			return model.NewError(model.CodeDAGInvalid, fmt.Sprintf("subflow %q edge references unknown target %q", name, edge.To))
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}
	if cycleNode, found := findCycle(adjacency); found {
		return model.NewError(model.CodeDAGCycle, fmt.Sprintf("cycle detected in subflow %q at node %q", name, cycleNode))
	}
	return nil
}

// findCycle runs a DFS with a recursion-stack marker to detect a cycle
// in adjacency, returning the node it was revisiting when the cycle was
// found.
func findCycle(adjacency map[string][]string) (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(node string) (string, bool)
	visit = func(node string) (string, bool) {
		color[node] = gray
		for _, next := range adjacency[node] {
			switch color[next] {
			case gray:
				return next, true
			case white:
				if n, found := visit(next); found {
					return n, true
				}
			}
		}
		color[node] = black
		return "", false
	}

	for node := range adjacency {
		if color[node] == white {
			if n, found := visit(node); found {
				return n, true
			}
		}
	}
	return "", false
}
