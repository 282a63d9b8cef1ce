// Package llm registers the "llm.chat" node kind, one per supported
// provider. It adapts the teacher's graph/model.ChatModel interface and
// its anthropic/openai/google implementations to the flowcore node
// shape: a node's config carries the conversation (no tool specs are
// passed to the model), and the result carries the model's text and any
// tool calls as plain Vars rather than a typed ChatOut.
package llm

import (
	"context"
	"fmt"

	"github.com/mhyatt000/flowcore/engine"
	"github.com/mhyatt000/flowcore/model"
)

// ChatModel is the provider-agnostic interface every adapter in this
// package implements, mirroring the teacher's graph/model.ChatModel.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation sent to a ChatModel.
type Message struct {
	Role    string
	Content string
}

// Standard roles, matching the teacher's graph/model role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool a ChatModel may call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatOut is a ChatModel's response.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one tool invocation requested by a ChatModel.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// Kind is the node kind string flows reference.
const Kind = "llm.chat"

// Plugin dispatches "llm.chat" nodes to one of several registered
// providers by node.Config["provider"].
type Plugin struct {
	providers map[string]ChatModel
	defaultP  string
}

// New builds a Plugin. providers maps a provider name (e.g. "anthropic",
// "openai", "google") to a configured ChatModel; defaultProvider is used
// when a node doesn't set config.provider.
func New(providers map[string]ChatModel, defaultProvider string) *Plugin {
	return &Plugin{providers: providers, defaultP: defaultProvider}
}

// Definition returns the NodeDefinition to register against a
// *engine.PluginRegistry.
func (p *Plugin) Definition() engine.NodeDefinition {
	return engine.NodeDefinition{
		Kind:    Kind,
		Execute: p.execute,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider": map[string]any{"type": "string"},
				"system":   map[string]any{"type": "string"},
				"messages": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "object"},
				},
				"outputVar": map[string]any{"type": "string"},
			},
			"required": []string{"messages"},
		},
	}
}

func (p *Plugin) execute(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error) {
	providerName, _ := node.Config["provider"].(string)
	if providerName == "" {
		providerName = p.defaultP
	}
	chatModel, ok := p.providers[providerName]
	if !ok {
		return model.NodeResult{}, model.NewError(model.CodeValidationError, fmt.Sprintf("llm.chat: no provider registered for %q", providerName))
	}

	messages, err := decodeMessages(node.Config)
	if err != nil {
		return model.NodeResult{}, err
	}
	if system, ok := node.Config["system"].(string); ok && system != "" {
		messages = append([]Message{{Role: RoleSystem, Content: system}}, messages...)
	}

	out, err := chatModel.Chat(ctx, messages, nil)
	if err != nil {
		return model.NodeResult{
			Status: model.NodeFailed,
			Error: &model.NodeError{
				Code:      string(model.CodeToolError),
				Message:   fmt.Sprintf("llm.chat: %s provider call failed", providerName),
				Retryable: true,
				Cause:     err,
			},
		}, nil
	}

	toolCalls := make([]any, len(out.ToolCalls))
	for i, tc := range out.ToolCalls {
		toolCalls[i] = map[string]any{"name": tc.Name, "input": tc.Input}
	}

	var ops []model.VarOp
	if outputVar, ok := node.Config["outputVar"].(string); ok && outputVar != "" {
		ops = []model.VarOp{{Op: model.VarOpSet, Name: outputVar, Value: out.Text}}
	}

	return model.NodeResult{
		Status:    model.NodeSucceeded,
		VarsPatch: ops,
		Outputs: model.Vars{
			"text":      out.Text,
			"toolCalls": toolCalls,
		},
		Next: &model.Next{Kind: model.NextDefault},
	}, nil
}

func decodeMessages(config map[string]any) ([]Message, error) {
	raw, ok := config["messages"].([]any)
	if !ok {
		return nil, model.NewError(model.CodeValidationError, "llm.chat config.messages must be an array of {role, content}")
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, model.NewError(model.CodeValidationError, "llm.chat config.messages entries must be objects")
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		out = append(out, Message{Role: role, Content: content})
	}
	return out, nil
}
