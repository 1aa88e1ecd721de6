// Package call implements the Call Operator: the mcp_call capability,
// forwarding one tool invocation to its owning capability server through a
// fresh transport session.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/toolrouter/toolrouter/pkg/config"
	"github.com/toolrouter/toolrouter/pkg/logger"
	"github.com/toolrouter/toolrouter/pkg/mcpclient"
)

// TransportClient is the subset of mcpclient.Client the call operator
// drives. Defined as an interface so tests can substitute a fake transport.
type TransportClient interface {
	Connect(ctx context.Context, opts mcpclient.ConnectOptions) error
	CallTool(ctx context.Context, name string, params map[string]any) mcpclient.CallResult
	Disconnect()
}

// Registry is the subset of the Capability Registry the call operator
// consults to find a tool's owning server.
type Registry interface {
	ResolveServer(tool string) (config.ServerConfig, bool)
}

// ClientFactory builds a fresh TransportClient for a server descriptor.
type ClientFactory func(desc config.ServerConfig) TransportClient

// DefaultClientFactory builds real mcpclient.Client instances.
func DefaultClientFactory(desc config.ServerConfig) TransportClient {
	return mcpclient.New(desc)
}

// Request is the mcp_call parameter set.
type Request struct {
	ToolName   string
	ParamsJSON string
}

// Response is the mcp_call return value.
type Response struct {
	Content []string
	IsError bool
}

// Operator answers mcp_call calls.
type Operator struct {
	Registry       Registry
	ConnectTimeout time.Duration
	ClientFactory  ClientFactory
}

// Call runs one mcp_call invocation end to end.
func (o *Operator) Call(ctx context.Context, req Request) Response {
	toolName := strings.TrimSpace(req.ToolName)
	if toolName == "" {
		return errorResponse("tool_name is required")
	}

	paramsJSON := req.ParamsJSON
	if paramsJSON == "" {
		paramsJSON = "{}"
	}
	params, err := decodeObjectParams(paramsJSON)
	if err != nil {
		return errorResponse("invalid params_json: must decode to a JSON object")
	}

	desc, ok := o.Registry.ResolveServer(toolName)
	if !ok {
		return errorResponse(fmt.Sprintf("unknown tool %q — use search first", toolName))
	}

	factory := o.ClientFactory
	if factory == nil {
		factory = DefaultClientFactory
	}
	transportClient := factory(desc)
	defer transportClient.Disconnect()

	if err := transportClient.Connect(ctx, mcpclient.ConnectOptions{Timeout: o.ConnectTimeout}); err != nil {
		logger.Warnf("call operator failed to connect to server %s for tool %s: %v", desc.Name, toolName, err)
		return errorResponse(fmt.Sprintf("could not reach server %q: %v", desc.Name, err))
	}

	result := transportClient.CallTool(ctx, toolName, params)
	if result.IsError {
		logger.Warnf("tool %s on server %s returned an error: %v", toolName, desc.Name, result.Content)
	}
	return Response{Content: result.Content, IsError: result.IsError}
}

func errorResponse(text string) Response {
	return Response{Content: []string{text}, IsError: true}
}

// decodeObjectParams parses params_json, rejecting anything that is not a
// JSON object: arrays, null, numbers, strings, and booleans are all invalid.
func decodeObjectParams(paramsJSON string) (map[string]any, error) {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(paramsJSON), &raw); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("params_json must be a JSON object")
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}
