// Package bus implements the in-process event bus and the command/query
// buses: the only approved way for outer layers to observe and mutate the
// state owned by the provider and group aggregates.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is the common interface every domain event satisfies. EventID and
// OccurredAt are stamped once, at construction, and never change.
type Event interface {
	EventID() string
	OccurredAt() time.Time
}

type base struct {
	id         string
	occurredAt time.Time
}

func newBase() base {
	return base{id: uuid.NewString(), occurredAt: time.Now()}
}

func (b base) EventID() string        { return b.id }
func (b base) OccurredAt() time.Time  { return b.occurredAt }

// --- Lifecycle events ---

type ProviderStarted struct {
	base
	ProviderID        string
	Mode              string
	ToolsCount        int
	StartupDurationMs int64
}

func NewProviderStarted(providerID, mode string, toolsCount int, startupDuration time.Duration) ProviderStarted {
	return ProviderStarted{base: newBase(), ProviderID: providerID, Mode: mode, ToolsCount: toolsCount, StartupDurationMs: startupDuration.Milliseconds()}
}

type ProviderStopped struct {
	base
	ProviderID string
	Reason     string
}

func NewProviderStopped(providerID, reason string) ProviderStopped {
	return ProviderStopped{base: newBase(), ProviderID: providerID, Reason: reason}
}

type ProviderDegraded struct {
	base
	ProviderID          string
	ConsecutiveFailures int
	TotalFailures       int
	Reason              string
}

func NewProviderDegraded(providerID string, consecutive, total int, reason string) ProviderDegraded {
	return ProviderDegraded{base: newBase(), ProviderID: providerID, ConsecutiveFailures: consecutive, TotalFailures: total, Reason: reason}
}

type ProviderStateChanged struct {
	base
	ProviderID string
	OldState   string
	NewState   string
}

func NewProviderStateChanged(providerID, oldState, newState string) ProviderStateChanged {
	return ProviderStateChanged{base: newBase(), ProviderID: providerID, OldState: oldState, NewState: newState}
}

type ProviderIdleDetected struct {
	base
	ProviderID    string
	IdleDuration  time.Duration
	LastUsedAt    time.Time
}

func NewProviderIdleDetected(providerID string, idleDuration time.Duration, lastUsedAt time.Time) ProviderIdleDetected {
	return ProviderIdleDetected{base: newBase(), ProviderID: providerID, IdleDuration: idleDuration, LastUsedAt: lastUsedAt}
}

// --- Invocation events ---

type ToolInvocationRequested struct {
	base
	ProviderID    string
	ToolName      string
	CorrelationID string
}

func NewToolInvocationRequested(providerID, toolName, correlationID string) ToolInvocationRequested {
	return ToolInvocationRequested{base: newBase(), ProviderID: providerID, ToolName: toolName, CorrelationID: correlationID}
}

type ToolInvocationCompleted struct {
	base
	ProviderID       string
	ToolName         string
	CorrelationID    string
	DurationMs       int64
	ResultSizeBytes  int
}

func NewToolInvocationCompleted(providerID, toolName, correlationID string, duration time.Duration, resultSizeBytes int) ToolInvocationCompleted {
	return ToolInvocationCompleted{base: newBase(), ProviderID: providerID, ToolName: toolName, CorrelationID: correlationID, DurationMs: duration.Milliseconds(), ResultSizeBytes: resultSizeBytes}
}

type ToolInvocationFailed struct {
	base
	ProviderID    string
	ToolName      string
	CorrelationID string
	ErrorMessage  string
	ErrorType     string
}

func NewToolInvocationFailed(providerID, toolName, correlationID, errMessage, errType string) ToolInvocationFailed {
	return ToolInvocationFailed{base: newBase(), ProviderID: providerID, ToolName: toolName, CorrelationID: correlationID, ErrorMessage: errMessage, ErrorType: errType}
}

// --- Health events ---

type HealthCheckPassed struct {
	base
	ProviderID string
	DurationMs int64
}

func NewHealthCheckPassed(providerID string, duration time.Duration) HealthCheckPassed {
	return HealthCheckPassed{base: newBase(), ProviderID: providerID, DurationMs: duration.Milliseconds()}
}

type HealthCheckFailed struct {
	base
	ProviderID          string
	ConsecutiveFailures int
	ErrorMessage        string
}

func NewHealthCheckFailed(providerID string, consecutive int, errMessage string) HealthCheckFailed {
	return HealthCheckFailed{base: newBase(), ProviderID: providerID, ConsecutiveFailures: consecutive, ErrorMessage: errMessage}
}

// --- Configuration events ---

type ConfigurationReloadRequested struct {
	base
	Path string
}

func NewConfigurationReloadRequested(path string) ConfigurationReloadRequested {
	return ConfigurationReloadRequested{base: newBase(), Path: path}
}

type ConfigurationReloaded struct {
	base
	Added      []string
	Removed    []string
	Updated    []string
	Unchanged  []string
	DurationMs int64
}

func NewConfigurationReloaded(added, removed, updated, unchanged []string, duration time.Duration) ConfigurationReloaded {
	return ConfigurationReloaded{base: newBase(), Added: added, Removed: removed, Updated: updated, Unchanged: unchanged, DurationMs: duration.Milliseconds()}
}

type ConfigurationReloadFailed struct {
	base
	Reason string
}

func NewConfigurationReloadFailed(reason string) ConfigurationReloadFailed {
	return ConfigurationReloadFailed{base: newBase(), Reason: reason}
}

// --- Group events ---

type GroupMemberAdded struct {
	base
	GroupID    string
	ProviderID string
}

func NewGroupMemberAdded(groupID, providerID string) GroupMemberAdded {
	return GroupMemberAdded{base: newBase(), GroupID: groupID, ProviderID: providerID}
}

type GroupMemberRemoved struct {
	base
	GroupID    string
	ProviderID string
}

func NewGroupMemberRemoved(groupID, providerID string) GroupMemberRemoved {
	return GroupMemberRemoved{base: newBase(), GroupID: groupID, ProviderID: providerID}
}

type GroupRotationFlipped struct {
	base
	GroupID    string
	ProviderID string
	InRotation bool
}

func NewGroupRotationFlipped(groupID, providerID string, inRotation bool) GroupRotationFlipped {
	return GroupRotationFlipped{base: newBase(), GroupID: groupID, ProviderID: providerID, InRotation: inRotation}
}

type CircuitOpened struct {
	base
	GroupID    string
	ProviderID string
}

func NewCircuitOpened(groupID, providerID string) CircuitOpened {
	return CircuitOpened{base: newBase(), GroupID: groupID, ProviderID: providerID}
}

type CircuitClosed struct {
	base
	GroupID    string
	ProviderID string
}

func NewCircuitClosed(groupID, providerID string) CircuitClosed {
	return CircuitClosed{base: newBase(), GroupID: groupID, ProviderID: providerID}
}
