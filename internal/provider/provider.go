// Package provider implements the Provider aggregate: the state machine
// and hot-path tool-invocation logic for one managed MCP server, in any of
// its three launch modes.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/health"
	"fleetmcp/internal/mcptransport"
	"fleetmcp/internal/provider/container"
	"fleetmcp/pkg/ferrors"
	"fleetmcp/pkg/logging"
)

// initializeParams is the MCP initialize request every subprocess/container
// client sends before tools/list, mirroring the protocol version and
// client identity RemoteClient.Connect negotiates over streamable HTTP.
var initializeParams = map[string]interface{}{
	"protocolVersion": "2024-11-05",
	"capabilities":    map[string]interface{}{},
	"clientInfo": map[string]interface{}{
		"name":    "fleetmcpd",
		"version": "1.0.0",
	},
}

// ContainerLauncher starts and tears down a docker-mode provider's
// container. Satisfied by *container.Launcher; narrowed to an interface so
// Provider can be exercised without a live containerd socket in tests.
type ContainerLauncher interface {
	Launch(ctx context.Context, spec container.Spec) (*container.Client, error)
}

// Provider is the aggregate root for one managed MCP server: it owns the
// transport client, the tool catalog, the health tracker, and the
// lifecycle state machine. All mutable fields are guarded by mu; state
// changes and the events they produce happen under the same lock, so
// CollectEvents is the only path events leave by.
type Provider struct {
	mu sync.Mutex

	spec    Spec
	state   State
	client  mcptransport.Client
	catalog *ToolCatalog
	health  *health.Tracker
	meta    map[string]interface{}

	lastUsed time.Time
	events   []bus.Event

	containerLauncher ContainerLauncher
}

// New builds a COLD Provider from spec. containerLauncher may be nil for
// providers that never use ModeDocker.
func New(spec Spec, containerLauncher ContainerLauncher) *Provider {
	if spec.IdleTTL == 0 {
		spec.IdleTTL = DefaultIdleTTL
	}
	if spec.HealthCheckInterval == 0 {
		spec.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if spec.MaxConsecutiveFailures == 0 {
		spec.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	return &Provider{
		spec:              spec,
		state:             Cold,
		catalog:           newToolCatalog(),
		health:            health.New(spec.MaxConsecutiveFailures),
		meta:              make(map[string]interface{}),
		containerLauncher: containerLauncher,
	}
}

// ID returns the provider's configured identifier.
func (p *Provider) ID() string {
	return p.spec.ProviderID
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsAlive reports whether the underlying transport client considers itself
// connected. False for a Provider that has never been started.
func (p *Provider) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsAlive()
}

// GetToolNames returns the currently known tool names.
func (p *Provider) GetToolNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.catalog.names()
}

// Tools returns the full catalog of currently known tools, schemas
// included. Empty until the first successful handshake or re-listing.
func (p *Provider) Tools() []ToolSchema {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := p.catalog.names()
	tools := make([]ToolSchema, 0, len(names))
	for _, n := range names {
		if t, ok := p.catalog.get(n); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// CollectEvents drains and returns every event the aggregate has produced
// since the last call. This is the only way events leave the aggregate.
func (p *Provider) CollectEvents() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.events
	p.events = nil
	return drained
}

func (p *Provider) emit(evt bus.Event) {
	p.events = append(p.events, evt)
}

// transitionLocked moves the aggregate to next, emitting ProviderStateChanged.
// Caller must hold mu. Returns InvalidStateTransitionError (and applies
// nothing) if the transition isn't in the allowed-set table.
func (p *Provider) transitionLocked(next State) error {
	if !isLegalTransition(p.state, next) {
		return ferrors.NewInvalidStateTransitionError(p.spec.ProviderID, p.state.String(), next.String())
	}
	if next == p.state {
		return nil
	}
	old := p.state
	p.state = next
	p.emit(bus.NewProviderStateChanged(p.spec.ProviderID, old.String(), next.String()))
	return nil
}

// ToStatusDict returns a diagnostic snapshot suitable for status queries.
func (p *Provider) ToStatusDict() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.health.ToDict()
	meta := make(map[string]interface{}, len(p.meta))
	for k, v := range p.meta {
		meta[k] = v
	}
	return map[string]interface{}{
		"provider_id":          p.spec.ProviderID,
		"metadata":             meta,
		"mode":                 string(p.spec.Mode),
		"state":                p.state.String(),
		"tools_count":          p.catalog.size(),
		"last_used":            p.lastUsed,
		"consecutive_failures": snap.ConsecutiveFailures,
		"total_invocations":    snap.TotalInvocations,
		"total_failures":       snap.TotalFailures,
		"success_rate":         snap.SuccessRate,
		"can_retry":            snap.CanRetry,
		"description":          p.spec.Description,
	}
}

// EnsureReady idempotently brings the provider to READY. See
// legalTransitions in state.go for the allowed state transitions.
func (p *Provider) EnsureReady(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureReadyLocked(ctx)
}

func (p *Provider) ensureReadyLocked(ctx context.Context) error {
	switch p.state {
	case Ready:
		return nil

	case Degraded:
		if !p.health.CanRetry() {
			return ferrors.NewCannotStartProviderError(p.spec.ProviderID, p.health.TimeUntilRetry())
		}
		return p.startLocked(ctx)

	case Cold:
		return p.startLocked(ctx)

	case Starting:
		return fmt.Errorf("provider %s is already starting", p.spec.ProviderID)

	case Dead:
		// DEAD is terminal only for the current child process, not for the
		// provider: once the backoff clock clears, the next call lifts it
		// back to STARTING for a fresh launch attempt, possibly with a
		// different child PID.
		if !p.health.CanRetry() {
			return ferrors.NewCannotStartProviderError(p.spec.ProviderID, p.health.TimeUntilRetry())
		}
		return p.startLocked(ctx)

	default:
		return fmt.Errorf("provider %s in unknown state", p.spec.ProviderID)
	}
}

func (p *Provider) startLocked(ctx context.Context) error {
	if err := p.transitionLocked(Starting); err != nil {
		return err
	}

	client, err := p.launchClientLocked(ctx)
	if err != nil {
		p.health.RecordFailure()
		_ = p.transitionLocked(Dead)
		startErr := ferrors.NewProviderStartError(p.spec.ProviderID, err.Error())
		p.emit(bus.NewProviderStopped(p.spec.ProviderID, "start_failed"))
		return startErr
	}

	return p.handshakeLocked(ctx, client)
}

// handshakeLocked runs the required MCP handshake against an already-launched
// client: initialize (subprocess and container modes only; for remote mode
// RemoteClient.Connect has already performed it), then tools/list. Caller
// must hold mu and have already transitioned to Starting.
func (p *Provider) handshakeLocked(ctx context.Context, client mcptransport.Client) error {
	startedAt := time.Now()

	if p.spec.Mode != ModeRemote {
		initResp, err := client.Call(ctx, "initialize", initializeParams, 10*time.Second)
		if err != nil || initResp.Error != nil {
			_ = client.Close()
			p.health.RecordFailure()
			_ = p.transitionLocked(Dead)
			reason := rpcErrorReason(initResp, err)
			return ferrors.NewProviderStartError(p.spec.ProviderID, reason)
		}
	}

	toolsResp, err := client.Call(ctx, "tools/list", nil, 10*time.Second)
	if err != nil || toolsResp.Error != nil {
		_ = client.Close()
		p.health.RecordFailure()
		_ = p.transitionLocked(Dead)
		reason := rpcErrorReason(toolsResp, err)
		return ferrors.NewProviderStartError(p.spec.ProviderID, reason)
	}

	tools, err := decodeTools(toolsResp.Result)
	if err != nil {
		_ = client.Close()
		p.health.RecordFailure()
		_ = p.transitionLocked(Dead)
		return ferrors.NewProviderStartError(p.spec.ProviderID, err.Error())
	}

	p.client = client
	p.catalog.replace(tools)
	p.lastUsed = time.Now()
	p.health.Reset()

	if err := p.transitionLocked(Ready); err != nil {
		return err
	}
	p.emit(bus.NewProviderStarted(p.spec.ProviderID, string(p.spec.Mode), p.catalog.size(), time.Since(startedAt)))
	return nil
}

func (p *Provider) launchClientLocked(ctx context.Context) (mcptransport.Client, error) {
	switch p.spec.Mode {
	case ModeSubprocess:
		return mcptransport.SpawnSubprocess(p.spec.Command, p.spec.Env)

	case ModeDocker:
		if p.containerLauncher == nil {
			return nil, fmt.Errorf("docker mode requires a container launcher")
		}
		var resources *container.Resources
		if p.spec.Resources != nil {
			resources = &container.Resources{CPULimit: p.spec.Resources.CPULimit, MemoryLimit: p.spec.Resources.MemoryLimit}
		}
		return p.containerLauncher.Launch(ctx, container.Spec{
			ProviderID: p.spec.ProviderID,
			Image:      p.spec.Image,
			Env:        p.spec.Env,
			Resources:  resources,
		})

	case ModeRemote:
		remote := mcptransport.NewRemoteClient(p.spec.Endpoint, p.spec.Headers)
		if err := remote.Connect(ctx); err != nil {
			return nil, err
		}
		return remote, nil

	default:
		return nil, fmt.Errorf("unsupported provider mode: %s", p.spec.Mode)
	}
}

func decodeTools(raw json.RawMessage) ([]ToolSchema, error) {
	var payload struct {
		Tools []struct {
			Name         string                 `json:"name"`
			Description  string                 `json:"description"`
			InputSchema  map[string]interface{} `json:"inputSchema"`
			OutputSchema map[string]interface{} `json:"outputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	tools := make([]ToolSchema, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		tools = append(tools, ToolSchema{
			Name:         t.Name,
			Description:  t.Description,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
		})
	}
	return tools, nil
}

func rpcErrorReason(resp *mcptransport.RPCResponse, callErr error) string {
	if callErr != nil {
		return callErr.Error()
	}
	if resp != nil && resp.Error != nil {
		return resp.Error.Message
	}
	return "unknown error"
}

// InvokeTool is the hot path: ensure readiness, validate the tool exists,
// dispatch the RPC, and translate the outcome into health-tracker updates,
// events, and a stable error taxonomy.
func (p *Provider) InvokeTool(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	p.mu.Lock()
	if err := p.ensureReadyLocked(ctx); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	if !p.catalog.has(name) {
		p.mu.Unlock()
		return nil, ferrors.NewToolNotFoundError(p.spec.ProviderID, name)
	}

	correlationID := uuid.NewString()
	p.emit(bus.NewToolInvocationRequested(p.spec.ProviderID, name, correlationID))
	client := p.client
	p.mu.Unlock()

	startedAt := time.Now()
	resp, err := client.Call(ctx, "tools/call", map[string]interface{}{"name": name, "arguments": args}, timeout)
	duration := time.Since(startedAt)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case err != nil:
		return p.handleTransportFailureLocked(name, correlationID, err, timeout)

	case resp.Error != nil:
		p.health.RecordInvocationFailure()
		p.emit(bus.NewToolInvocationFailed(p.spec.ProviderID, name, correlationID, resp.Error.Message, "tool_invocation_error"))
		return nil, ferrors.NewToolInvocationError(p.spec.ProviderID, name, resp.Error.Code, resp.Error.Message)

	default:
		p.health.RecordSuccess()
		p.lastUsed = time.Now()
		p.emit(bus.NewToolInvocationCompleted(p.spec.ProviderID, name, correlationID, duration, len(resp.Result)))
		return resp.Result, nil
	}
}

func (p *Provider) handleTransportFailureLocked(toolName, correlationID string, callErr error, timeout time.Duration) (json.RawMessage, error) {
	if p.client != nil && !p.client.IsAlive() {
		p.health.RecordFailure()
		p.emit(bus.NewToolInvocationFailed(p.spec.ProviderID, toolName, correlationID, callErr.Error(), "transport_failure"))
		_ = p.transitionLocked(Dead)
		return nil, fmt.Errorf("provider %s transport died: %w", p.spec.ProviderID, callErr)
	}

	p.health.RecordFailure()
	p.emit(bus.NewToolInvocationFailed(p.spec.ProviderID, toolName, correlationID, callErr.Error(), "timeout"))

	if p.health.ShouldDegrade() {
		snap := p.health.ToDict()
		if err := p.transitionLocked(Degraded); err == nil {
			p.emit(bus.NewProviderDegraded(p.spec.ProviderID, snap.ConsecutiveFailures, snap.TotalFailures, "consecutive_failures"))
		}
	}
	return nil, ferrors.NewToolTimeoutError(p.spec.ProviderID, toolName, timeout)
}

// HealthCheck performs a lightweight liveness probe and updates the health
// tracker and state machine accordingly. Returns whether the provider is
// currently healthy.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Ready && p.state != Degraded {
		return false
	}
	if p.client == nil {
		return false
	}

	startedAt := time.Now()
	resp, err := p.client.Call(ctx, "ping", nil, 5*time.Second)
	duration := time.Since(startedAt)

	if err != nil || (resp != nil && resp.Error != nil) {
		p.health.RecordFailure()
		reason := rpcErrorReason(resp, err)
		snap := p.health.ToDict()
		p.emit(bus.NewHealthCheckFailed(p.spec.ProviderID, snap.ConsecutiveFailures, reason))

		if p.health.ShouldDegrade() && p.state == Ready {
			if tErr := p.transitionLocked(Degraded); tErr == nil {
				p.emit(bus.NewProviderDegraded(p.spec.ProviderID, snap.ConsecutiveFailures, snap.TotalFailures, "health_check_failed"))
			}
		}
		return false
	}

	p.health.RecordSuccess()
	p.emit(bus.NewHealthCheckPassed(p.spec.ProviderID, duration))

	if p.state == Degraded {
		_ = p.transitionLocked(Ready)
	}
	return true
}

// MaybeShutdownIdle stops the provider if it is READY and has been idle
// past its configured TTL, using wall-clock time to match operator
// expectations across host suspend/resume.
func (p *Provider) MaybeShutdownIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Ready {
		return false
	}
	idleFor := time.Since(p.lastUsed)
	if idleFor <= p.spec.IdleTTL {
		return false
	}

	p.emit(bus.NewProviderIdleDetected(p.spec.ProviderID, idleFor, p.lastUsed))
	p.stopLocked("idle")
	return true
}

// Stop transitions the provider to COLD, closing its transport client.
func (p *Provider) Stop(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(reason)
	return nil
}

func (p *Provider) stopLocked(reason string) {
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			logging.Warn("Provider", "error closing client for %s: %v", p.spec.ProviderID, err)
		}
		p.client = nil
	}
	if p.state != Cold {
		_ = p.transitionLocked(Cold)
	}
	p.emit(bus.NewProviderStopped(p.spec.ProviderID, reason))
}

// Shutdown is the explicit, always-final stop: same effect as Stop, but
// intended for provider removal where no further ensure_ready is expected.
func (p *Provider) Shutdown() error {
	return p.Stop("shutdown")
}
