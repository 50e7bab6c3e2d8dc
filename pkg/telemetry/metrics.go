// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for agora: slog configuration,
// OpenTelemetry exporters and the metric instruments used by the core.
package telemetry

import (
	"context"
	stderrors "errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/agora/pkg/errors"
)

// TaskMetrics records task lifecycle, routing and catalog health metrics.
type TaskMetrics struct {
	executions  metric.Int64Counter
	durationMs  metric.Float64Histogram
	transitions metric.Int64Counter
	selections  metric.Int64Counter
	health      metric.Int64Gauge
	errors      metric.Int64Counter
}

// NewTaskMetrics creates the instruments on the global meter provider.
// Instrument creation errors leave a no-op instrument in place.
func NewTaskMetrics() *TaskMetrics {
	meter := otel.Meter("agora/task")
	m := &TaskMetrics{}
	m.executions, _ = meter.Int64Counter("agora.task.executions",
		metric.WithDescription("Task executions by adapter and final state"))
	m.durationMs, _ = meter.Float64Histogram("agora.task.duration_ms",
		metric.WithDescription("Task execution latency in milliseconds"))
	m.transitions, _ = meter.Int64Counter("agora.task.transitions",
		metric.WithDescription("State transitions by source and target state"))
	m.selections, _ = meter.Int64Counter("agora.routing.selections",
		metric.WithDescription("Routing decisions by strategy and agent"))
	m.health, _ = meter.Int64Gauge("agora.catalog.agent.healthy",
		metric.WithDescription("Agent health as last checked (0=unhealthy, 1=healthy)"))
	m.errors, _ = meter.Int64Counter("agora.errors.total",
		metric.WithDescription("Errors by code and component"))
	return m
}

// RecordExecution counts a finished execution and its latency.
func (m *TaskMetrics) RecordExecution(ctx context.Context, adapter, state string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAgentName, adapter),
		attribute.String(AttrTaskState, state),
	)
	m.executions.Add(ctx, 1, attrs)
	m.durationMs.Record(ctx, durationMs, attrs)
}

// RecordTransition counts a state transition.
func (m *TaskMetrics) RecordTransition(ctx context.Context, from, to string, forced bool) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(TransitionAttributes(from, to, forced)...))
}

// RecordSelection counts a routing decision.
func (m *TaskMetrics) RecordSelection(ctx context.Context, strategy, agent string) {
	if m == nil {
		return
	}
	m.selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRoutingStrategy, strategy),
		attribute.String(AttrAgentName, agent),
	))
}

// RecordHealth records the checked health of an agent.
func (m *TaskMetrics) RecordHealth(ctx context.Context, agent string, healthy bool) {
	if m == nil {
		return
	}
	var v int64
	if healthy {
		v = 1
	}
	m.health.Record(ctx, v, metric.WithAttributes(attribute.String(AttrAgentName, agent)))
}

// RecordError increments the error counter for the given error and component.
func (m *TaskMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	var ae *errors.AgoraError
	if stderrors.As(err, &ae) {
		code = string(ae.Code)
		recoverable = ae.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}
