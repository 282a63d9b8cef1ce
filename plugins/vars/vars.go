// Package vars registers the "vars.set" node kind: a pure variable
// mutation node with no external effect, used to seed or transform the
// run's Vars bag between other nodes without a round trip through a
// tool call.
package vars

import (
	"context"
	"fmt"

	"github.com/mhyatt000/flowcore/engine"
	"github.com/mhyatt000/flowcore/model"
)

// Kind is the node kind string flows reference.
const Kind = "vars.set"

// Definition returns the NodeDefinition to register against a
// *engine.PluginRegistry.
func Definition() engine.NodeDefinition {
	return engine.NodeDefinition{
		Kind:    Kind,
		Execute: execute,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"set": map[string]any{
					"type":        "object",
					"description": "map of var name to literal value to assign",
				},
				"delete": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "var names to delete",
				},
			},
		},
	}
}

func execute(_ context.Context, node model.Node, _ model.Vars) (model.NodeResult, error) {
	var ops []model.VarOp

	if raw, ok := node.Config["set"]; ok {
		set, ok := raw.(map[string]any)
		if !ok {
			return model.NodeResult{}, model.NewError(model.CodeValidationError, "vars.set config.set must be an object")
		}
		for name, value := range set {
			ops = append(ops, model.VarOp{Op: model.VarOpSet, Name: name, Value: value})
		}
	}

	if raw, ok := node.Config["delete"]; ok {
		names, ok := raw.([]any)
		if !ok {
			return model.NodeResult{}, model.NewError(model.CodeValidationError, "vars.set config.delete must be an array of strings")
		}
		for _, n := range names {
			name, ok := n.(string)
			if !ok {
				return model.NodeResult{}, model.NewError(model.CodeValidationError, fmt.Sprintf("vars.set config.delete entry %v is not a string", n))
			}
			ops = append(ops, model.VarOp{Op: model.VarOpDelete, Name: name})
		}
	}

	return model.NodeResult{
		Status:    model.NodeSucceeded,
		VarsPatch: ops,
		Next:      &model.Next{Kind: model.NextDefault},
	}, nil
}
