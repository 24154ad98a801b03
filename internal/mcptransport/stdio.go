package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"fleetmcp/pkg/logging"
)

// request is the outbound JSON-RPC 2.0 envelope.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// wireResponse is the shape a line of stdout is decoded into before being
// routed by ID. A message with no ID is an unsolicited notification.
type wireResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type pendingCall struct {
	replyTo chan *RPCResponse
}

// StdioClient frames newline-delimited JSON-RPC over a child process's
// stdin/stdout. Thread-safe: multiple goroutines may call Call
// concurrently, but the reader goroutine is the sole consumer of stdout,
// matching the concurrency contract in the core's component design.
type StdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool

	writeMu sync.Mutex
}

// NewStdioClient wraps an already-spawned child process whose Stdin/Stdout
// have been set to pipes, and launches the dedicated reader goroutine.
func NewStdioClient(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader) *StdioClient {
	c := &StdioClient{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		pending: make(map[string]*pendingCall),
	}
	go c.readerLoop()
	return c
}

// Call generates a fresh correlation id, registers a one-shot rendezvous
// channel under it, writes the request, and blocks for a response up to
// timeout. A late response arriving after the timeout finds no pending
// entry and is silently dropped by the reader loop.
func (c *StdioClient) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (*RPCResponse, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client closed")
	}
	c.mu.Unlock()

	return c.callInternal(ctx, method, params, timeout)
}

func (c *StdioClient) callInternal(ctx context.Context, method string, params interface{}, timeout time.Duration) (*RPCResponse, error) {
	id := uuid.NewString()
	replyTo := make(chan *RPCResponse, 1)

	c.mu.Lock()
	c.pending[id] = &pendingCall{replyTo: replyTo}
	c.mu.Unlock()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		c.deregister(id)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if writeErr := c.writeLine(line); writeErr != nil {
		c.deregister(id)
		return nil, fmt.Errorf("write_failed: %w", writeErr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-replyTo:
		return resp, nil
	case <-timer.C:
		c.deregister(id)
		return nil, fmt.Errorf("timeout: %s after %s", method, timeout)
	case <-ctx.Done():
		c.deregister(id)
		return nil, ctx.Err()
	}
}

func (c *StdioClient) writeLine(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (c *StdioClient) deregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// readerLoop reads lines until EOF or close, dispatching each well-formed
// response to its registered rendezvous channel. It is the sole consumer
// of stdout.
func (c *StdioClient) readerLoop() {
	for {
		line, err := c.stdout.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			if err != io.EOF {
				logging.Warn("StdioClient", "reader loop error: %v", err)
			}
			break
		}
	}
	c.drainPending(fmt.Errorf("reader_died"))
}

func (c *StdioClient) handleLine(line []byte) {
	var msg wireResponse
	if err := json.Unmarshal(line, &msg); err != nil {
		logging.Warn("StdioClient", "malformed JSON from provider, dropping: %v", err)
		return
	}

	if msg.ID == "" {
		logging.Debug("StdioClient", "unsolicited notification, dropping")
		return
	}

	c.mu.Lock()
	pending, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		logging.Warn("StdioClient", "response for unknown or expired request id %s, dropping", msg.ID)
		return
	}

	pending.replyTo <- &RPCResponse{Result: msg.Result, Error: msg.Error}
}

func (c *StdioClient) drainPending(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, p := range c.pending {
		p.replyTo <- &RPCResponse{Error: &RPCError{Code: -1, Message: cause.Error()}}
		delete(c.pending, id)
	}
}

// IsAlive reports whether the child process is still running.
func (c *StdioClient) IsAlive() bool {
	if c.cmd == nil || c.cmd.Process == nil {
		return false
	}
	return c.cmd.ProcessState == nil
}

// Close is idempotent: it attempts a best-effort shutdown RPC, then sends
// SIGTERM and escalates to SIGKILL after a grace period, then drains any
// pending rendezvous with a synthetic error so no caller hangs.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := c.callInternal(ctx, "shutdown", nil, 3*time.Second); err != nil {
			logging.Debug("StdioClient", "shutdown RPC failed (expected): %v", err)
		}
	}()

	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			_, _ = c.cmd.Process.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logging.Warn("StdioClient", "process did not terminate, killing")
			_ = c.cmd.Process.Kill()
			<-done
		}
	}

	_ = c.stdin.Close()
	c.drainPending(fmt.Errorf("client_closed"))
	return nil
}
