// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/jllopis/agora/pkg/errors"
)

func TestTaskMetricsRecord(t *testing.T) {
	m := NewTaskMetrics()
	ctx := context.Background()

	m.RecordExecution(ctx, "mock", "completed", 3.2)
	m.RecordTransition(ctx, "submitted", "working", false)
	m.RecordTransition(ctx, "working", "failed", true)
	m.RecordSelection(ctx, "round_robin", "mock")
	m.RecordHealth(ctx, "mock", true)
	m.RecordHealth(ctx, "mock", false)
	m.RecordError(ctx, errors.NewTaskNotFound("t1"), "jsonrpc")
	m.RecordError(ctx, stderrors.New("plain"), "jsonrpc")
	m.RecordError(ctx, nil, "jsonrpc")
}

func TestTaskMetricsNilSafe(t *testing.T) {
	var m *TaskMetrics
	ctx := context.Background()
	m.RecordExecution(ctx, "a", "b", 1)
	m.RecordTransition(ctx, "a", "b", false)
	m.RecordSelection(ctx, "a", "b")
	m.RecordHealth(ctx, "a", true)
	m.RecordError(ctx, stderrors.New("x"), "c")
}
