package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"fleetmcp/pkg/logging"
)

// RemoteClient implements Client for mode=remote providers: a long-lived
// MCP server reachable over streamable HTTP. Unlike StdioClient it does not
// own a child process or a correlation table of its own; mark3labs/mcp-go
// already does request/response matching internally, so RemoteClient's job
// is to translate the uniform Call(method, params) shape the Provider
// aggregate uses into the SDK's typed ListTools/CallTool/Ping calls.
type RemoteClient struct {
	mu        sync.RWMutex
	url       string
	headers   map[string]string
	inner     client.MCPClient
	connected bool
}

// NewRemoteClient creates an unconnected RemoteClient for url. Call
// Connect before issuing any RPCs.
func NewRemoteClient(url string, headers map[string]string) *RemoteClient {
	return &RemoteClient{url: url, headers: headers}
}

// Connect performs the streamable-HTTP transport setup and the MCP
// initialize handshake.
func (c *RemoteClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	var opts []transport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("create streamable-http client: %w", err)
	}

	_, err = mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "fleetmcpd",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("initialize handshake: %w", err)
	}

	c.inner = mcpClient
	c.connected = true
	return nil
}

// Call translates method into the corresponding typed SDK call. Supported
// methods are "tools/list", "tools/call", "ping" and "shutdown"; any other
// method (including "initialize", which Connect already performed) is
// rejected since streamable-HTTP providers only ever receive these from the
// tool invocation pipeline.
func (c *RemoteClient) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (*RPCResponse, error) {
	c.mu.RLock()
	inner := c.inner
	connected := c.connected
	c.mu.RUnlock()

	if !connected || inner == nil {
		return nil, fmt.Errorf("client not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch method {
	case "tools/list":
		result, err := inner.ListTools(callCtx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		return marshalResult(result)

	case "tools/call":
		name, args, err := splitToolCallParams(params)
		if err != nil {
			return nil, err
		}
		result, err := inner.CallTool(callCtx, mcp.CallToolRequest{
			Params: struct {
				Name      string    `json:"name"`
				Arguments any       `json:"arguments,omitempty"`
				Meta      *mcp.Meta `json:"_meta,omitempty"`
			}{
				Name:      name,
				Arguments: args,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("call tool: %w", err)
		}
		return marshalResult(result)

	case "ping":
		if err := inner.Ping(callCtx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return &RPCResponse{Result: json.RawMessage(`{}`)}, nil

	case "shutdown":
		// Remote providers are long-lived and owned by someone else;
		// there is no process for this client to terminate.
		return &RPCResponse{Result: json.RawMessage(`{}`)}, nil

	default:
		return nil, fmt.Errorf("unsupported method for remote transport: %s", method)
	}
}

func splitToolCallParams(params interface{}) (string, map[string]interface{}, error) {
	raw, ok := params.(map[string]interface{})
	if !ok {
		return "", nil, fmt.Errorf("tools/call params must be an object")
	}
	name, _ := raw["name"].(string)
	if name == "" {
		return "", nil, fmt.Errorf("tools/call params missing name")
	}
	args, _ := raw["arguments"].(map[string]interface{})
	return name, args, nil
}

func marshalResult(v interface{}) (*RPCResponse, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &RPCResponse{Result: raw}, nil
}

// IsAlive reports whether the handshake has completed and not been closed.
func (c *RemoteClient) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close tears down the underlying HTTP transport. Idempotent.
func (c *RemoteClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.inner == nil {
		return nil
	}

	err := c.inner.Close()
	c.connected = false
	c.inner = nil
	if err != nil {
		logging.Debug("RemoteClient", "close returned error: %v", err)
	}
	return err
}
