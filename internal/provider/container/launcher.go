// Package container launches provider processes inside containerd-managed
// containers for mode=docker providers, wiring the task's stdio into the
// same newline-delimited JSON-RPC framing used for subprocess mode.
package container

import (
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"fleetmcp/internal/mcptransport"
	"fleetmcp/pkg/logging"
)

// DefaultNamespace is the containerd namespace fleetmcpd's provider
// containers run under, kept separate from other containerd tenants on the
// same host.
const DefaultNamespace = "fleetmcp"

// DefaultSocketPath is the default containerd control socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Launcher creates and tears down containerd-backed providers.
type Launcher struct {
	client    *containerd.Client
	namespace string
}

// NewLauncher connects to the containerd socket. The connection is shared
// across every container-mode provider the launcher starts.
func NewLauncher(socketPath string) (*Launcher, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &Launcher{client: client, namespace: DefaultNamespace}, nil
}

// Close disconnects from containerd. It does not stop any running
// containers; callers are expected to have already stopped each provider's
// container via Client.Close.
func (l *Launcher) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Spec describes the container to launch for one provider.
type Spec struct {
	ProviderID string
	Image      string
	Env        map[string]string
	Resources  *Resources
}

// Resources mirrors the coarse CPU/memory limits the config schema exposes.
type Resources struct {
	CPULimit    float64 // cores
	MemoryLimit int64   // bytes
}

// Launch pulls (if needed) and starts a container for spec, wiring its
// stdio to an mcptransport.Client. The image is expected to run an MCP
// provider binary that speaks newline-delimited JSON-RPC on stdin/stdout.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*Client, error) {
	ctx = namespaces.WithNamespace(ctx, l.namespace)

	image, err := l.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = l.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return nil, fmt.Errorf("pull image %s: %w", spec.Image, err)
		}
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if spec.Resources != nil {
		if spec.Resources.CPULimit > 0 {
			shares := uint64(spec.Resources.CPULimit * 1024)
			quota := int64(spec.Resources.CPULimit * 100000)
			opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
		}
		if spec.Resources.MemoryLimit > 0 {
			opts = append(opts, oci.WithMemoryLimit(uint64(spec.Resources.MemoryLimit)))
		}
	}

	containerID := fmt.Sprintf("fleetmcp-%s", spec.ProviderID)
	ctrdContainer, err := l.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	task, err := ctrdContainer.NewTask(ctx, cio.NewCreator(cio.WithStreams(stdinR, stdoutW, nil)))
	if err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("start task: %w", err)
	}

	stdio := mcptransport.NewStdioClient(nil, stdinW, stdoutR)

	return &Client{
		stdio:     stdio,
		container: ctrdContainer,
		task:      task,
		ctx:       context.Background(),
	}, nil
}

// Client implements mcptransport.Client for a container-mode provider: RPC
// framing is delegated to an embedded StdioClient wired to the task's
// stdio, while Close additionally stops and removes the containerd task.
type Client struct {
	mu        sync.Mutex
	stdio     *mcptransport.StdioClient
	container containerd.Container
	task      containerd.Task
	ctx       context.Context
	closed    bool
}

func (c *Client) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (*mcptransport.RPCResponse, error) {
	return c.stdio.Call(ctx, method, params, timeout)
}

// IsAlive reports the containerd task's own running status rather than the
// embedded StdioClient's (which has no *exec.Cmd of its own to inspect,
// since the child runs inside the container, not as a direct child
// process).
func (c *Client) IsAlive() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}

	ctx := namespaces.WithNamespace(context.Background(), DefaultNamespace)
	status, err := c.task.Status(ctx)
	if err != nil {
		return false
	}
	return status.Status == containerd.Running
}

// Close stops the stdio framing, then signals the task and waits for it to
// exit, escalating to SIGKILL, and finally removes the container and its
// snapshot.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.stdio.Close()

	ctx := namespaces.WithNamespace(c.ctx, DefaultNamespace)
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		logging.Debug("container.Client", "SIGTERM failed (task may already be gone): %v", err)
	} else {
		statusC, err := c.task.Wait(stopCtx)
		if err == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				_ = c.task.Kill(ctx, syscall.SIGKILL)
			}
		}
	}

	_, _ = c.task.Delete(ctx)
	if err := c.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	return nil
}
