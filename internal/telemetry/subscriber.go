package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"fleetmcp/internal/bus"
)

// Subscribe wires m to eventBus so every lifecycle, health, and circuit
// event the fleet publishes is reflected in the registered instruments
// without any other component having to remember to call a Record* method
// itself. Tool-invocation outcomes are recorded straight from the
// already-classified event fields rather than through RecordToolInvocation,
// which expects a live Go error rather than a stored ErrorType string.
func Subscribe(eventBus *bus.EventBus, m *Metrics) {
	ctx := context.Background()

	eventBus.Subscribe(bus.ToolInvocationCompleted{}, func(evt bus.Event) {
		e := evt.(bus.ToolInvocationCompleted)
		attrs := metric.WithAttributes(attribute.String("provider", e.ProviderID), attribute.String("tool", e.ToolName))
		m.ToolInvocations.Add(ctx, 1, attrs)
		m.ToolInvocationDuration.Record(ctx, float64(e.DurationMs)/1000, attrs)
	})
	eventBus.Subscribe(bus.ToolInvocationFailed{}, func(evt bus.Event) {
		e := evt.(bus.ToolInvocationFailed)
		m.ToolInvocations.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", e.ProviderID), attribute.String("tool", e.ToolName)))
		m.ToolInvocationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", e.ProviderID),
			attribute.String("tool", e.ToolName),
			attribute.String("error_type", e.ErrorType),
		))
	})
	eventBus.Subscribe(bus.ProviderStarted{}, func(evt bus.Event) {
		m.ActiveProviders.Add(ctx, 1)
	})
	eventBus.Subscribe(bus.ProviderStopped{}, func(evt bus.Event) {
		e := evt.(bus.ProviderStopped)
		if e.Reason == "start_failed" {
			// never counted as active in the first place, nothing to undo
			return
		}
		m.ActiveProviders.Add(ctx, -1)
		if e.Reason == "idle" {
			m.RecordGCShutdown(ctx, e.ProviderID)
		}
	})
	eventBus.Subscribe(bus.HealthCheckPassed{}, func(evt bus.Event) {
		m.RecordHealthCheck(ctx, evt.(bus.HealthCheckPassed).ProviderID, true)
	})
	eventBus.Subscribe(bus.HealthCheckFailed{}, func(evt bus.Event) {
		m.RecordHealthCheck(ctx, evt.(bus.HealthCheckFailed).ProviderID, false)
	})
	eventBus.Subscribe(bus.CircuitOpened{}, func(evt bus.Event) {
		e := evt.(bus.CircuitOpened)
		m.RecordCircuitOpened(ctx, e.GroupID, e.ProviderID)
	})
	eventBus.Subscribe(bus.CircuitClosed{}, func(evt bus.Event) {
		e := evt.(bus.CircuitClosed)
		m.RecordCircuitClosed(ctx, e.GroupID, e.ProviderID)
	})
}
