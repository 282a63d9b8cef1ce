package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/mhyatt000/flowcore/model"
)

// ExecuteFunc is the behavior a node kind contributes. It receives the
// node's own Config, the run's current Vars (read-only — mutations go
// through the returned NodeResult.VarsPatch), and must return within ctx
// or be canceled by the walker's timeout wrapper.
type ExecuteFunc func(ctx context.Context, node model.Node, vars model.Vars) (model.NodeResult, error)

// NodeDefinition is what a plugin registers for one Kind string: the
// behavior to run, an optional JSON-schema-shaped description of Config
// for authoring tools, and the policy defaults applied when a Node of
// this kind doesn't set its own.
type NodeDefinition struct {
	Kind          string
	Schema        map[string]any
	Execute       ExecuteFunc
	DefaultPolicy *model.NodePolicy
}

// PluginRegistry maps node kind strings to their NodeDefinition. There is
// no inheritance or fallback: an unregistered kind is always an
// UNSUPPORTED_NODE error (model.CodeUnsupportedNode), by design — flows must declare exactly the kinds
// the running engine binary understands.
type PluginRegistry struct {
	mu    sync.RWMutex
	kinds map[string]NodeDefinition
}

func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{kinds: make(map[string]NodeDefinition)}
}

// Register adds def under def.Kind, overwriting any prior registration
// for that kind.
func (r *PluginRegistry) Register(def NodeDefinition) error {
	if def.Kind == "" {
		return model.NewError(model.CodeValidationError, "node definition must have a non-empty kind")
	}
	if def.Execute == nil {
		return model.NewError(model.CodeValidationError, fmt.Sprintf("node kind %q has no Execute function", def.Kind))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[def.Kind] = def
	return nil
}

// Lookup returns the NodeDefinition for kind, or an UNSUPPORTED_NODE
// error (model.CodeUnsupportedNode).
func (r *PluginRegistry) Lookup(kind string) (NodeDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.kinds[kind]
	if !ok {
		return NodeDefinition{}, model.NewError(model.CodeUnsupportedNode, fmt.Sprintf("no plugin registered for node kind %q", kind))
	}
	return def, nil
}

// Kinds returns every registered kind, for validation and introspection.
func (r *PluginRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	return out
}

// ValidateNodeConfig checks config against a NodeDefinition's declared
// Schema before the walker dispatches to Execute, per spec.md §4.6: a
// nil schema (a plugin that declares none) always passes. Schema is the
// same lightweight JSON-schema-shaped map every reference plugin
// registers (type/properties/required/enum) — this checks required keys
// are present, declared property types match (when a value is present),
// and enum membership, without pulling in a general-purpose validator
// for a shape this constrained.
func ValidateNodeConfig(schema map[string]any, config map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, name := range toStringSlice(schema["required"]) {
		if _, ok := config[name]; !ok {
			return model.NewError(model.CodeValidationError, fmt.Sprintf("config missing required field %q", name))
		}
	}
	properties, _ := schema["properties"].(map[string]any)
	for name, value := range config {
		propSchema, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		if wantType, ok := propSchema["type"].(string); ok {
			if !matchesSchemaType(wantType, value) {
				return model.NewError(model.CodeValidationError, fmt.Sprintf("config field %q must be of type %q", name, wantType))
			}
		}
		if enum := toStringSlice(propSchema["enum"]); len(enum) > 0 {
			if s, ok := value.(string); ok && !contains(enum, s) {
				return model.NewError(model.CodeValidationError, fmt.Sprintf("config field %q value %q is not one of %v", name, s, enum))
			}
		}
	}
	return nil
}

func matchesSchemaType(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		switch value.(type) {
		case map[string]any, model.Vars:
			return true
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
