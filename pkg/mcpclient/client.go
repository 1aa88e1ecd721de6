// Package mcpclient implements the Transport Client: opening, driving, and
// tearing down a session with one capability server over one of three
// transports (child process, SSE, streaming HTTP).
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolrouter/toolrouter/pkg/config"
	"github.com/toolrouter/toolrouter/pkg/errkind"
	"github.com/toolrouter/toolrouter/pkg/logger"
)

// ToolInfo is one capability advertised by a server's tools/list response.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CallResult is the outcome of a callTool invocation. Content is always
// populated: a transport-level failure is folded into a single text item
// with IsError set, rather than propagated as a Go error.
type CallResult struct {
	Content []string
	IsError bool
}

// ConnectOptions bounds a connect attempt.
type ConnectOptions struct {
	Timeout time.Duration
}

// Client drives one session with one capability server.
type Client struct {
	desc config.ServerConfig

	mu        sync.Mutex
	inner     *client.Client
	connected bool
}

// New builds a Client for the given server descriptor. It does not connect.
func New(desc config.ServerConfig) *Client {
	return &Client{desc: desc}
}

// headerRoundTripper attaches fixed headers to every outgoing request, the
// same pattern the teacher uses to layer concerns onto http.RoundTripper.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range h.headers {
		clone.Header.Set(k, v)
	}
	return h.base.RoundTrip(clone)
}

func httpClientWithHeaders(headers map[string]string, timeout time.Duration) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if len(headers) > 0 {
		rt = &headerRoundTripper{base: rt, headers: headers}
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

// Connect opens the transport and performs the MCP initialization handshake.
// The context's cancellation and opts.Timeout are both forwarded to the
// underlying transport.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	inner, err := c.buildTransport(opts.Timeout)
	if err != nil {
		return errkind.Wrap(errkind.Configuration, "building transport for server "+c.desc.Name, err)
	}

	if err := inner.Start(ctx); err != nil {
		return errkind.Wrap(errkind.ServerUnavailable, "starting transport for server "+c.desc.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "toolrouter",
		Version: "0.1.0",
	}
	if _, err := inner.Initialize(ctx, initReq); err != nil {
		_ = inner.Close()
		return errkind.Wrap(errkind.ServerUnavailable, "initializing session with server "+c.desc.Name, err)
	}

	c.inner = inner
	c.connected = true
	return nil
}

func (c *Client) buildTransport(timeout time.Duration) (*client.Client, error) {
	switch c.desc.Transport {
	case config.TransportChildProc:
		env := make([]string, 0, len(c.desc.Env))
		for k, v := range c.desc.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(c.desc.Command, env, c.desc.Args...)

	case config.TransportSSE:
		httpClient := httpClientWithHeaders(c.desc.Headers, timeout)
		return client.NewSSEMCPClient(c.desc.URL, transport.WithHTTPClient(httpClient))

	case config.TransportStreamingHTTP:
		httpClient := httpClientWithHeaders(c.desc.Headers, timeout)
		return client.NewStreamableHttpClient(c.desc.URL, transport.WithHTTPBasicClient(httpClient))

	default:
		return nil, fmt.Errorf("unsupported transport %q", c.desc.Transport)
	}
}

// ListTools returns the server's advertised tools. A missing description
// becomes an empty string; a missing input schema becomes an empty object.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.mu.Lock()
	inner := c.inner
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil, errkind.New(errkind.ServerUnavailable, "listTools called before connect on server "+c.desc.Name)
	}

	result, err := inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errkind.Wrap(errkind.ServerUnavailable, "listing tools from server "+c.desc.Name, err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := map[string]any{}
		if t.InputSchema.Type != "" {
			schema["type"] = t.InputSchema.Type
		}
		if t.InputSchema.Properties != nil {
			schema["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes name with params. A transport-level error is folded into
// a single-item error content rather than returned, matching the contract:
// callTool never surfaces a Go error to the caller.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]any) CallResult {
	c.mu.Lock()
	inner := c.inner
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return CallResult{Content: []string{"tool call failed: not connected to server " + c.desc.Name}, IsError: true}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	result, err := inner.CallTool(ctx, req)
	if err != nil {
		return CallResult{Content: []string{fmt.Sprintf("tool call failed: %v", err)}, IsError: true}
	}

	content := make([]string, 0, len(result.Content))
	for _, item := range result.Content {
		if text, ok := mcp.AsTextContent(item); ok {
			content = append(content, text.Text)
		}
	}
	return CallResult{Content: content, IsError: result.IsError}
}

// Disconnect tears down the session. It is idempotent and never returns an
// error, so it is always safe from a cleanup path, including one following
// a failed Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inner == nil {
		return
	}
	if err := c.inner.Close(); err != nil {
		logger.Debugf("error closing transport for server %s: %v", c.desc.Name, err)
	}
	c.inner = nil
	c.connected = false
}
