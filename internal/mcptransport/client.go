// Package mcptransport supervises one MCP provider's wire connection. In
// subprocess/container mode it owns a hand-rolled newline-delimited
// JSON-RPC framing layer with a correlation-id rendezvous table (the
// "StdioClient" named in the core's component design); in remote mode it
// delegates framing to mark3labs/mcp-go's streamable-HTTP client, which
// already implements the same MCP handshake against a long-lived server.
package mcptransport

import (
	"context"
	"encoding/json"
	"time"
)

// RPCResponse is the full JSON-RPC response object: exactly one of Result
// or Error is populated.
type RPCResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError mirrors a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client is the transport-agnostic interface the Provider aggregate
// dispatches RPCs through, regardless of whether the backing mode is
// subprocess, container, or remote.
type Client interface {
	// Call issues method with params and blocks for a response up to
	// timeout. Returns the full response object (Result or Error set).
	Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (*RPCResponse, error)

	// IsAlive reports whether the underlying transport is still usable.
	IsAlive() bool

	// Close idempotently shuts the client down: attempts a best-effort
	// "shutdown" RPC, then tears down the transport.
	Close() error
}
