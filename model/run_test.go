package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBreakpointState(t *testing.T) {
	state := NewBreakpointState([]string{"a", "b"})

	assert.Equal(t, StepNone, state.StepMode)
	assert.True(t, state.NodeIDs["a"])
	assert.True(t, state.NodeIDs["b"])
	assert.False(t, state.NodeIDs["c"])
}

func TestNewBreakpointState_Empty(t *testing.T) {
	state := NewBreakpointState(nil)
	assert.NotNil(t, state.NodeIDs)
	assert.Empty(t, state.NodeIDs)
}
