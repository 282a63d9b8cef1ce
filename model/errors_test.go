package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := NewError(CodeTimeout, "node took too long")
	assert.Equal(t, "TIMEOUT: node took too long", err.Error())

	wrapped := Wrap(CodeToolError, "request failed", errors.New("dial tcp: refused"))
	assert.Equal(t, "TOOL_ERROR: request failed: dial tcp: refused", wrapped.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(CodeInternal, "wrapped", cause)

	assert.True(t, errors.Is(wrapped, cause))

	var target *Error
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, CodeInternal, target.Code)
}
