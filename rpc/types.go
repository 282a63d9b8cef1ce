// Package rpc implements the RpcTransport component: a chi-routed
// method-dispatch HTTP surface for request/response calls plus a
// gorilla/websocket push transport for the run event stream, matching
// the request/response-plus-subscription shape the teacher's
// examples/*/main.go processes expose over plain net/http.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/model"
	"github.com/mhyatt000/flowcore/store"
)

// Request is one method-dispatched call: an opaque ID the caller
// correlates against its Response, a method name drawn from the RPC
// surface, and method-specific params as raw JSON.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request by ID; Result and Error are
// mutually exclusive.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorEnvelope  `json:"error,omitempty"`
}

// ErrorEnvelope is the error shape from spec.md §6:
// {code, message, data?, retryable?, cause?}.
type ErrorEnvelope struct {
	Code      model.Code     `json:"code"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Cause     string         `json:"cause,omitempty"`
}

// errorEnvelope translates any error into ErrorEnvelope, preserving the
// engine's Code/Data/Retryable/Cause when it is a *model.Error, mapping
// store.ErrNotFound to CodeFlowNotFound, and falling back to CodeInternal
// otherwise. The transport never retries;
// it only relays.
func errorEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	var engineErr *model.Error
	if errors.As(err, &engineErr) {
		return &ErrorEnvelope{Code: engineErr.Code, Message: engineErr.Message, Data: engineErr.Data, Retryable: engineErr.Retryable, Cause: causeString(engineErr.Cause)}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &ErrorEnvelope{Code: model.CodeFlowNotFound, Message: err.Error()}
	}
	return &ErrorEnvelope{Code: model.CodeInternal, Message: err.Error()}
}

func causeString(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// EventEnvelope is the push message shape from spec.md §6:
// {type: 'event', event: RunEvent}.
type EventEnvelope struct {
	Type  string     `json:"type"`
	Event emit.Event `json:"event"`
}
