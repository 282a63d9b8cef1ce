// Package testkind registers the "test" node kind: a deterministic node
// whose only behavior is dictated by its own config, used to exercise the
// walker's control and event-emission paths without any real side effect.
// It exists purely as a harness kind, the way the teacher's graph_test.go
// builds throwaway Node implementations inline for engine tests — except
// here it is registered once, by kind string, for any flow to reference.
package testkind

import (
	"context"
	"fmt"

	"github.com/mhyatt000/flowcore/engine"
	"github.com/mhyatt000/flowcore/model"
)

// Kind is the node kind string flows reference.
const Kind = "test"

// Action selects what a "test" node does when it runs.
type Action string

const (
	// ActionSucceed reports success and falls off the default edge.
	ActionSucceed Action = "succeed"
	// ActionFail reports a TOOL_ERROR node failure.
	ActionFail Action = "fail"
	// ActionEcho copies config["value"] into vars[config["varName"]] and
	// succeeds, for scenarios that need to observe a vars patch without
	// pulling in the vars.set kind.
	ActionEcho Action = "echo"
)

// Definition returns the NodeDefinition to register against a
// *engine.PluginRegistry.
func Definition() engine.NodeDefinition {
	return engine.NodeDefinition{
		Kind:    Kind,
		Execute: execute,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":  map[string]any{"type": "string", "enum": []string{"succeed", "fail", "echo"}},
				"message": map[string]any{"type": "string"},
				"varName": map[string]any{"type": "string"},
				"value":   map[string]any{},
			},
			"required": []string{"action"},
		},
	}
}

func execute(_ context.Context, node model.Node, _ model.Vars) (model.NodeResult, error) {
	action, _ := node.Config["action"].(string)

	switch Action(action) {
	case ActionSucceed:
		return model.NodeResult{
			Status: model.NodeSucceeded,
			Next:   &model.Next{Kind: model.NextDefault},
		}, nil

	case ActionFail:
		message, _ := node.Config["message"].(string)
		if message == "" {
			message = "test node configured to fail"
		}
		return model.NodeResult{
			Status: model.NodeFailed,
			Error: &model.NodeError{
				Code:    string(model.CodeToolError),
				Message: message,
			},
		}, nil

	case ActionEcho:
		varName, _ := node.Config["varName"].(string)
		if varName == "" {
			return model.NodeResult{}, model.NewError(model.CodeValidationError, "test node action=echo requires config.varName")
		}
		return model.NodeResult{
			Status:    model.NodeSucceeded,
			VarsPatch: []model.VarOp{{Op: model.VarOpSet, Name: varName, Value: node.Config["value"]}},
			Next:      &model.Next{Kind: model.NextDefault},
		}, nil

	default:
		return model.NodeResult{}, model.NewError(model.CodeValidationError, fmt.Sprintf("test node has unknown action %q", action))
	}
}
