package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChild wires a StdioClient to an in-memory pipe pair, standing in for
// a real child process's stdin/stdout without spawning one.
type fakeChild struct {
	toChild   *io.PipeReader // what the "child" reads (client's stdin)
	fromChild *io.PipeWriter // what the "child" writes (client's stdout)
	reader    *bufio.Reader
}

func newStdioClientWithFakeChild() (*StdioClient, *fakeChild) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	fc := &fakeChild{toChild: stdinR, fromChild: stdoutW, reader: bufio.NewReader(stdinR)}
	c := NewStdioClient(nil, stdinW, stdoutR)
	return c, fc
}

// readRequest reads and decodes the next newline-delimited request the
// client wrote to its "stdin".
func (fc *fakeChild) readRequest(t *testing.T) request {
	t.Helper()
	line, err := fc.reader.ReadBytes('\n')
	require.NoError(t, err)
	var req request
	require.NoError(t, json.Unmarshal(line, &req))
	return req
}

func (fc *fakeChild) reply(t *testing.T, id string, result interface{}) {
	t.Helper()
	resp := wireResponse{ID: id}
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	resp.Result = raw
	line, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = fc.fromChild.Write(append(line, '\n'))
	require.NoError(t, err)
}

func TestStdioClient_CallRoundTrip(t *testing.T) {
	c, fc := newStdioClientWithFakeChild()

	done := make(chan struct{})
	var resp *RPCResponse
	var callErr error
	go func() {
		resp, callErr = c.Call(context.Background(), "tools/list", nil, time.Second)
		close(done)
	}()

	req := fc.readRequest(t)
	assert.Equal(t, "tools/list", req.Method)
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.NotEmpty(t, req.ID)

	fc.reply(t, req.ID, map[string]string{"ok": "yes"})

	<-done
	require.NoError(t, callErr)
	require.NotNil(t, resp)
	assert.JSONEq(t, `{"ok":"yes"}`, string(resp.Result))
}

func TestStdioClient_TimeoutDropsLateResponse(t *testing.T) {
	c, fc := newStdioClientWithFakeChild()

	_, err := c.Call(context.Background(), "slow_method", nil, 20*time.Millisecond)
	assert.Error(t, err)

	req := fc.readRequest(t)

	// Reply after the caller has already timed out and deregistered; the
	// reader loop should find no pending entry and drop it without
	// panicking or blocking.
	fc.reply(t, req.ID, map[string]string{"too": "late"})

	c.mu.Lock()
	_, stillPending := c.pending[req.ID]
	c.mu.Unlock()
	assert.False(t, stillPending)
}

func TestStdioClient_CloseDrainsPending(t *testing.T) {
	c, fc := newStdioClientWithFakeChild()

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "tools/call", nil, 5*time.Second)
		resultCh <- err
	}()

	// Drain the shutdown RPC Close() issues plus the in-flight call's
	// request so the writer side never blocks on a full pipe.
	go func() {
		for i := 0; i < 2; i++ {
			if _, err := fc.reader.ReadBytes('\n'); err != nil {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-resultCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain pending call")
	}

	// A second Close must be a no-op.
	assert.NoError(t, c.Close())
}

func TestStdioClient_MalformedLineIsDropped(t *testing.T) {
	c, fc := newStdioClientWithFakeChild()

	done := make(chan struct{})
	var callErr error
	go func() {
		_, callErr = c.Call(context.Background(), "tools/list", nil, time.Second)
		close(done)
	}()

	req := fc.readRequest(t)

	_, err := fc.fromChild.Write([]byte("not json\n"))
	require.NoError(t, err)

	fc.reply(t, req.ID, map[string]string{"ok": "yes"})

	<-done
	assert.NoError(t, callErr)
}
