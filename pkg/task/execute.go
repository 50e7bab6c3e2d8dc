// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
	"github.com/jllopis/agora/pkg/telemetry"
)

// InputRequiredKey in a provider result's metadata makes the task wait for
// more input instead of completing. The content becomes the status message.
const InputRequiredKey = "input_required"

// outcome is what a provider run produced.
type outcome struct {
	content       string
	metadata      map[string]any
	failure       string
	inputRequired bool
}

// Execute starts a streaming execution and returns its event channel. The
// channel yields a WORKING status, then artifact events, then exactly one
// StatusEvent with Final set, and is then closed. Cancelling ctx stops the
// execution and the provider.
func (m *Manager) Execute(ctx context.Context, taskID string) (<-chan Event, error) {
	return m.start(ctx, taskID, true)
}

// ExecuteSync runs the task with a single non-streaming provider call and
// returns the final snapshot. It shares the execution path of Execute.
func (m *Manager) ExecuteSync(ctx context.Context, taskID string) (*a2a.Task, error) {
	events, err := m.start(ctx, taskID, false)
	if err != nil {
		return nil, err
	}
	for range events {
	}
	return m.GetTask(taskID)
}

func (m *Manager) start(ctx context.Context, taskID string, streaming bool) (<-chan Event, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.NewTaskNotFound(taskID)
	}
	if _, busy := m.running[taskID]; busy {
		m.mu.Unlock()
		return nil, errors.New(errors.CodeConflict, "task is already executing", nil).
			WithContext("task_id", taskID)
	}
	if _, err := m.machines[taskID].TransitionTo(a2a.TaskStateWorking, "execution started"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	task.Status = a2a.TaskStatus{State: a2a.TaskStateWorking, Timestamp: m.now()}

	runCtx, cancel := context.WithCancel(ctx)
	if m.timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, m.timeout)
		parentCancel := cancel
		cancel = func() {
			cancelTimeout()
			parentCancel()
		}
	}
	m.running[taskID] = cancel

	working := &StatusEvent{TaskID: taskID, ContextID: task.ContextID, Status: cloneStatus(task.Status)}
	snapshot := task.Clone()
	history := m.contextSnapshot(task.ContextID, promptMessage(task))
	m.mu.Unlock()

	out := make(chan Event, 4)
	go m.run(ctx, runCtx, snapshot, history, streaming, working, out)
	return out, nil
}

// run is the single execution routine behind Execute and ExecuteSync.
// Events are sent on ctx, the consumer's context, so the final status still
// reaches the consumer after the execution timeout fires on runCtx.
func (m *Manager) run(ctx, runCtx context.Context, task *a2a.Task, history []*a2a.Message, streaming bool, working *StatusEvent, out chan<- Event) {
	defer close(out)
	started := time.Now()
	runCtx, span := m.tracer.Start(runCtx, "task.execute",
		trace.WithAttributes(telemetry.TaskAttributes(task.ID, task.ContextID, "")...),
	)
	defer span.End()

	emit := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	emit(working)

	prompt := extractPrompt(task)
	span.SetAttributes(attribute.Int(telemetry.AttrPromptLen, len(prompt)))
	m.log.InfoContext(runCtx, "task.execute.start",
		slog.String("task_id", task.ID),
		slog.String("context_id", task.ContextID),
		slog.Bool("streaming", streaming),
	)

	adapter, res := m.invoke(runCtx, task, prompt, history, streaming)
	span.SetAttributes(attribute.String(telemetry.AttrAgentName, adapter))

	switch {
	case ctx.Err() != nil:
		res = outcome{failure: "execution aborted: " + ctx.Err().Error()}
	case stderrors.Is(runCtx.Err(), context.DeadlineExceeded):
		res = outcome{failure: fmt.Sprintf("task exceeded timeout of %s", m.timeout)}
	}

	events, final := m.finish(runCtx, task.ID, adapter, res)
	if final.Status.State == a2a.TaskStateFailed {
		span.SetStatus(codes.Error, res.failure)
	}
	span.SetAttributes(attribute.String(telemetry.AttrTaskState, string(final.Status.State)))
	m.metrics.RecordExecution(runCtx, adapter, string(final.Status.State), float64(time.Since(started).Milliseconds()))

	for _, ev := range events {
		emit(ev)
	}
	emit(final)
}

// invoke resolves the provider and runs it, streaming when both the caller
// and the provider support it. A panic in the selector or the provider
// fails the run.
func (m *Manager) invoke(ctx context.Context, task *a2a.Task, prompt string, history []*a2a.Message, streaming bool) (name string, res outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorContext(ctx, "task.execute.panic",
				slog.String("task_id", task.ID),
				slog.String("adapter", name),
				slog.Any("panic", r),
			)
			res = outcome{failure: fmt.Sprintf("provider panicked: %v", r)}
		}
	}()
	if m.selector == nil {
		return "", outcome{failure: "no provider selector configured"}
	}
	name, p, err := m.selector.Select(ctx, task, prompt)
	if err != nil {
		return name, outcome{failure: errMessage(err)}
	}
	if p == nil {
		return name, outcome{failure: "no agent available"}
	}

	if !streaming || !p.SupportsStreaming() {
		result, err := p.Execute(ctx, prompt, history)
		if err != nil {
			return name, outcome{failure: errMessage(err)}
		}
		if result == nil {
			return name, outcome{failure: "provider returned no result"}
		}
		if !result.Success {
			msg := result.Error
			if msg == "" {
				msg = "execution failed"
			}
			return name, outcome{failure: msg, metadata: result.Metadata}
		}
		return name, outcome{content: result.Content, metadata: result.Metadata, inputRequired: wantsInput(result.Metadata)}
	}

	stream, err := p.ExecuteStream(ctx, prompt, history)
	if err != nil {
		return name, outcome{failure: errMessage(err)}
	}
	var b strings.Builder
	meta := map[string]any{}
	for {
		select {
		case <-ctx.Done():
			return name, outcome{}
		case chunk, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return name, outcome{}
				}
				return name, outcome{content: b.String(), metadata: meta, inputRequired: wantsInput(meta)}
			}
			for k, v := range chunk.Metadata {
				meta[k] = v
			}
			switch chunk.Type {
			case provider.ChunkError:
				return name, outcome{failure: chunkError(chunk), metadata: meta}
			case provider.ChunkMetadata:
			default:
				b.WriteString(chunk.Content)
			}
			if chunk.IsFinal {
				return name, outcome{content: b.String(), metadata: meta, inputRequired: wantsInput(meta)}
			}
		}
	}
}

// finish applies the outcome of a run to the task. It is the only place
// where executions complete or fail. It returns the events to emit before
// the final status event.
func (m *Manager) finish(ctx context.Context, taskID, adapter string, res outcome) ([]Event, *StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, ok := m.running[taskID]; ok {
		cancel()
		delete(m.running, taskID)
	}
	task := m.tasks[taskID]
	sm := m.machines[taskID]
	var events []Event

	if st := sm.State(); st != a2a.TaskStateWorking {
		m.log.WarnContext(ctx, "task.execute.late_result",
			slog.String("task_id", taskID),
			slog.String("state", string(st)),
			slog.String("adapter", adapter),
		)
		return nil, m.finalEvent(task)
	}

	switch {
	case res.failure != "":
		status := a2a.NewMessage(a2a.RoleAgent, a2a.TextPart("Error: "+res.failure))
		status.TaskID, status.ContextID = taskID, task.ContextID
		if _, err := sm.TransitionTo(a2a.TaskStateFailed, res.failure); err != nil {
			m.log.ErrorContext(ctx, "task.execute.transition", slog.String("task_id", taskID), telemetry.ErrorAttr(err))
			break
		}
		task.Status = a2a.TaskStatus{State: a2a.TaskStateFailed, Message: status, Timestamp: m.now()}
		m.log.WarnContext(ctx, "task.execute.failed",
			slog.String("task_id", taskID),
			slog.String("adapter", adapter),
			slog.String("error", res.failure),
		)

	case res.inputRequired:
		reply := m.agentMessage(task, res.content)
		if _, err := sm.TransitionTo(a2a.TaskStateInputRequired, "provider requested input"); err != nil {
			m.log.ErrorContext(ctx, "task.execute.transition", slog.String("task_id", taskID), telemetry.ErrorAttr(err))
			break
		}
		m.appendHistory(task, reply)
		task.Status = a2a.TaskStatus{State: a2a.TaskStateInputRequired, Message: reply.Clone(), Timestamp: m.now()}
		m.log.InfoContext(ctx, "task.execute.input_required",
			slog.String("task_id", taskID),
			slog.String("adapter", adapter),
		)

	default:
		reply := m.agentMessage(task, res.content)
		metadata := map[string]any{}
		for k, v := range res.metadata {
			metadata[k] = v
		}
		metadata["adapter"] = adapter
		metadata["generated_at"] = m.now().Format(time.RFC3339Nano)
		artifact := &a2a.Artifact{
			ArtifactID: uuid.NewString(),
			Name:       "response",
			Parts:      []a2a.Part{a2a.TextPart(res.content)},
			Metadata:   metadata,
		}
		if _, err := sm.TransitionTo(a2a.TaskStateCompleted, "execution completed"); err != nil {
			m.log.ErrorContext(ctx, "task.execute.transition", slog.String("task_id", taskID), telemetry.ErrorAttr(err))
			break
		}
		m.appendHistory(task, reply)
		task.Artifacts = append(task.Artifacts, artifact)
		task.Status = a2a.TaskStatus{State: a2a.TaskStateCompleted, Timestamp: m.now()}
		events = append(events, &ArtifactEvent{TaskID: taskID, ContextID: task.ContextID, Artifact: artifact.Clone()})
		m.log.InfoContext(ctx, "task.execute.complete",
			slog.String("task_id", taskID),
			slog.String("adapter", adapter),
			slog.Int("content_length", len(res.content)),
		)
	}
	return events, m.finalEvent(task)
}

// finalEvent must be called with m.mu held.
func (m *Manager) finalEvent(task *a2a.Task) *StatusEvent {
	return &StatusEvent{TaskID: task.ID, ContextID: task.ContextID, Status: cloneStatus(task.Status), Final: true}
}

func (m *Manager) agentMessage(task *a2a.Task, content string) *a2a.Message {
	msg := a2a.NewMessage(a2a.RoleAgent, a2a.TextPart(content))
	msg.TaskID = task.ID
	msg.ContextID = task.ContextID
	return msg
}

// appendHistory must be called with m.mu held.
func (m *Manager) appendHistory(task *a2a.Task, msg *a2a.Message) {
	task.History = append(task.History, msg)
	m.contexts[task.ContextID] = append(m.contexts[task.ContextID], msg)
}

// contextSnapshot returns the prior turns of a context, leaving out current,
// the message being executed. It must be called with m.mu held.
func (m *Manager) contextSnapshot(contextID string, current *a2a.Message) []*a2a.Message {
	msgs := m.contexts[contextID]
	out := make([]*a2a.Message, 0, len(msgs))
	for _, msg := range msgs {
		if current != nil && msg.MessageID == current.MessageID {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out
}

// promptMessage is the last user message, or the last message when no user
// message exists.
func promptMessage(task *a2a.Task) *a2a.Message {
	for i := len(task.History) - 1; i >= 0; i-- {
		if task.History[i].Role == a2a.RoleUser {
			return task.History[i]
		}
	}
	if n := len(task.History); n > 0 {
		return task.History[n-1]
	}
	return nil
}

func extractPrompt(task *a2a.Task) string {
	return provider.PromptFromMessage(promptMessage(task))
}

func cloneStatus(st a2a.TaskStatus) a2a.TaskStatus {
	out := st
	if st.Message != nil {
		out.Message = st.Message.Clone()
	}
	return out
}

func wantsInput(meta map[string]any) bool {
	v, _ := meta[InputRequiredKey].(bool)
	return v
}

func chunkError(chunk provider.Chunk) string {
	if chunk.Content != "" {
		return chunk.Content
	}
	if msg, ok := chunk.Metadata["error"].(string); ok && msg != "" {
		return msg
	}
	return "unknown error"
}

func errMessage(err error) string {
	var ae *errors.AgoraError
	if stderrors.As(err, &ae) {
		if ae.Err != nil {
			return fmt.Sprintf("%s: %v", ae.Message, ae.Err)
		}
		return ae.Message
	}
	return err.Error()
}
