// Package telemetry registers the OTel instruments the fleet records
// against, and nothing else: no exporter is wired here, so a process that
// never calls otel.SetMeterProvider gets the OTel no-op meter and every
// Record* call below is a cheap no-op too.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fleetmcp/fleet"

// Metrics holds every instrument the fleet records against. All fields are
// safe for concurrent use; the underlying OTel instruments handle their
// own synchronization.
type Metrics struct {
	ToolInvocationDuration metric.Float64Histogram
	ToolInvocations        metric.Int64Counter
	ToolInvocationFailures metric.Int64Counter

	GCShutdowns      metric.Int64Counter
	HealthChecks     metric.Int64Counter
	HealthCheckFails metric.Int64Counter

	CircuitOpened metric.Int64Counter
	CircuitClosed metric.Int64Counter

	ActiveProviders metric.Int64UpDownCounter
}

// New creates a fully initialized Metrics using mp. Pass
// otel.GetMeterProvider() for the global (possibly no-op) provider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolInvocationDuration, err = m.Float64Histogram("fleet.tool.invocation.duration",
		metric.WithDescription("Latency of a tool invocation, end to end."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ToolInvocations, err = m.Int64Counter("fleet.tool.invocations",
		metric.WithDescription("Total tool invocations by provider and tool."),
	); err != nil {
		return nil, err
	}
	if met.ToolInvocationFailures, err = m.Int64Counter("fleet.tool.invocation_failures",
		metric.WithDescription("Total tool invocation failures by provider, tool, and error type."),
	); err != nil {
		return nil, err
	}
	if met.GCShutdowns, err = m.Int64Counter("fleet.gc.shutdowns",
		metric.WithDescription("Total providers shut down for idleness by the GC worker."),
	); err != nil {
		return nil, err
	}
	if met.HealthChecks, err = m.Int64Counter("fleet.health.checks",
		metric.WithDescription("Total active health checks performed."),
	); err != nil {
		return nil, err
	}
	if met.HealthCheckFails, err = m.Int64Counter("fleet.health.check_failures",
		metric.WithDescription("Total active health checks that failed."),
	); err != nil {
		return nil, err
	}
	if met.CircuitOpened, err = m.Int64Counter("fleet.group.circuit_opened",
		metric.WithDescription("Total per-member circuit breaker trips across all groups."),
	); err != nil {
		return nil, err
	}
	if met.CircuitClosed, err = m.Int64Counter("fleet.group.circuit_closed",
		metric.WithDescription("Total per-member circuit breaker resets across all groups."),
	); err != nil {
		return nil, err
	}
	if met.ActiveProviders, err = m.Int64UpDownCounter("fleet.providers.active",
		metric.WithDescription("Number of providers currently in READY state."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Default returns a Metrics built on the process-wide global meter
// provider. Safe to call even if no exporter was ever configured: OTel's
// global provider defaults to a no-op implementation.
func Default() (*Metrics, error) {
	return New(otel.GetMeterProvider())
}

func (m *Metrics) RecordToolInvocation(ctx context.Context, providerID, toolName string, duration float64, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("tool", toolName),
	)
	m.ToolInvocations.Add(ctx, 1, attrs)
	m.ToolInvocationDuration.Record(ctx, duration, attrs)
	if err != nil {
		m.ToolInvocationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", providerID),
			attribute.String("tool", toolName),
			attribute.String("error_type", errorType(err)),
		))
	}
}

func (m *Metrics) RecordGCShutdown(ctx context.Context, providerID string) {
	m.GCShutdowns.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", providerID)))
}

func (m *Metrics) RecordHealthCheck(ctx context.Context, providerID string, healthy bool) {
	m.HealthChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", providerID)))
	if !healthy {
		m.HealthCheckFails.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", providerID)))
	}
}

func (m *Metrics) RecordCircuitOpened(ctx context.Context, groupID, providerID string) {
	m.CircuitOpened.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group", groupID),
		attribute.String("provider", providerID),
	))
}

func (m *Metrics) RecordCircuitClosed(ctx context.Context, groupID, providerID string) {
	m.CircuitClosed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group", groupID),
		attribute.String("provider", providerID),
	))
}

func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}
