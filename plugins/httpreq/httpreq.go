// Package httpreq registers the "http.request" node kind, adapted from
// the teacher's graph/tool.HTTPTool: the same method/url/headers/body
// input shape and a statusCode/headers/body output shape, but wired
// through NodeResult.Outputs rather than a tool.Call return value, and
// with network failures mapped to NETWORK_REQUEST_FAILED node errors.
package httpreq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mhyatt000/flowcore/engine"
	"github.com/mhyatt000/flowcore/model"
)

// Kind is the node kind string flows reference.
const Kind = "http.request"

// Plugin holds the shared *http.Client every "http.request" node uses.
type Plugin struct {
	client *http.Client
}

// New builds a Plugin with the given request timeout. A zero timeout
// means the node relies entirely on the walker's own timeout wrapper to
// bound the call.
func New(timeout time.Duration) *Plugin {
	return &Plugin{client: &http.Client{Timeout: timeout}}
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
				"method":  map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
				"url":     map[string]any{"type": "string"},
				"headers": map[string]any{"type": "object"},
				"body":    map[string]any{"type": "string"},
			},
			"required": []string{"url"},
		},
	}
}

func (p *Plugin) execute(ctx context.Context, node model.Node, _ model.Vars) (model.NodeResult, error) {
	urlStr, ok := node.Config["url"].(string)
	if !ok || urlStr == "" {
		return model.NodeResult{}, model.NewError(model.CodeValidationError, "http.request config.url is required")
	}

	method := "GET"
	if m, ok := node.Config["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if bodyStr, ok := node.Config["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return model.NodeResult{}, model.Wrap(model.CodeValidationError, "building http request", err)
	}
	if headers, ok := node.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return model.NodeResult{
			Status: model.NodeFailed,
			Error: &model.NodeError{
				Code:      string(model.CodeNetworkRequestFailed),
				Message:   fmt.Sprintf("http request to %s failed", urlStr),
				Retryable: true,
				Cause:     err,
			},
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NodeResult{
			Status: model.NodeFailed,
			Error: &model.NodeError{
				Code:      string(model.CodeNetworkRequestFailed),
				Message:   "reading http response body",
				Retryable: true,
				Cause:     err,
			},
		}, nil
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return model.NodeResult{
		Status: model.NodeSucceeded,
		Outputs: model.Vars{
			"statusCode": resp.StatusCode,
			"headers":    respHeaders,
			"body":       string(respBody),
		},
		Next: &model.Next{Kind: model.NextDefault},
	}, nil
}
