package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhyatt000/flowcore/model"
)

func TestPluginRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewPluginRegistry()
	require.NoError(t, reg.Register(NodeDefinition{Kind: "echo", Execute: noopExecute}))

	def, err := reg.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", def.Kind)

	assert.Contains(t, reg.Kinds(), "echo")
}

func TestPluginRegistry_LookupUnregistered(t *testing.T) {
	reg := NewPluginRegistry()
	_, err := reg.Lookup("missing")
	require.Error(t, err)
	var engineErr *model.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, model.CodeUnsupportedNode, engineErr.Code)
}

func TestPluginRegistry_RegisterRejectsEmptyKind(t *testing.T) {
	reg := NewPluginRegistry()
	err := reg.Register(NodeDefinition{Execute: noopExecute})
	assert.Error(t, err)
}

func TestPluginRegistry_RegisterRejectsNilExecute(t *testing.T) {
	reg := NewPluginRegistry()
	err := reg.Register(NodeDefinition{Kind: "broken"})
	assert.Error(t, err)
}

func TestPluginRegistry_RegisterOverwrites(t *testing.T) {
	reg := NewPluginRegistry()
	require.NoError(t, reg.Register(NodeDefinition{Kind: "k", Execute: noopExecute, Schema: map[string]any{"v": 1}}))
	require.NoError(t, reg.Register(NodeDefinition{Kind: "k", Execute: noopExecute, Schema: map[string]any{"v": 2}}))

	def, err := reg.Lookup("k")
	require.NoError(t, err)
	assert.Equal(t, 2, def.Schema["v"])
}
