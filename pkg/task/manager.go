// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/telemetry"
)

const (
	// DefaultTimeout bounds a single execution.
	DefaultTimeout = 10 * time.Minute
	// DefaultListLimit caps ListTasks when no limit is given.
	DefaultListLimit = 100
)

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the per-execution timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithTransitionObserver receives every state transition of every task.
func WithTransitionObserver(fn TransitionObserver) Option {
	return func(m *Manager) { m.observer = fn }
}

// WithMetrics records execution and transition metrics.
func WithMetrics(metrics *telemetry.TaskMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger overrides slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// Manager owns task storage and binds state machines to provider executions.
// It is safe for concurrent use.
type Manager struct {
	selector Selector
	timeout  time.Duration
	observer TransitionObserver
	metrics  *telemetry.TaskMetrics
	log      *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.RWMutex
	tasks    map[string]*a2a.Task
	machines map[string]*StateMachine
	contexts map[string][]*a2a.Message
	running  map[string]context.CancelFunc
}

// NewManager creates a manager that resolves providers through selector.
func NewManager(selector Selector, opts ...Option) *Manager {
	m := &Manager{
		selector: selector,
		timeout:  DefaultTimeout,
		log:      slog.Default(),
		tracer:   otel.Tracer("agora/task"),
		now:      func() time.Time { return time.Now().UTC() },
		tasks:    make(map[string]*a2a.Task),
		machines: make(map[string]*StateMachine),
		contexts: make(map[string][]*a2a.Message),
		running:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTask stores a new SUBMITTED task whose history holds msg. The
// context is contextID, else msg.ContextID, else a fresh id.
func (m *Manager) CreateTask(ctx context.Context, msg *a2a.Message, contextID string) (*a2a.Task, error) {
	if err := a2a.ValidateMessage(msg); err != nil {
		return nil, err
	}
	if contextID == "" {
		contextID = msg.ContextID
	}
	if contextID == "" {
		contextID = uuid.NewString()
	}
	taskID := uuid.NewString()

	stored := msg.Clone()
	if stored.MessageID == "" {
		stored.MessageID = uuid.NewString()
	}
	if stored.Kind == "" {
		stored.Kind = "message"
	}
	stored.TaskID = taskID
	stored.ContextID = contextID

	task := &a2a.Task{
		ID:        taskID,
		ContextID: contextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: m.now()},
		History:   []*a2a.Message{stored},
		Artifacts: []*a2a.Artifact{},
		Metadata:  map[string]any{},
		Kind:      "task",
	}

	m.mu.Lock()
	m.tasks[taskID] = task
	m.machines[taskID] = NewStateMachine(taskID, m.observe)
	m.contexts[contextID] = append(m.contexts[contextID], stored)
	snapshot := task.Clone()
	m.mu.Unlock()

	m.log.InfoContext(ctx, "task.create",
		slog.String("task_id", taskID),
		slog.String("context_id", contextID),
	)
	return snapshot, nil
}

// GetTask returns a snapshot of the task.
func (m *Manager) GetTask(taskID string) (*a2a.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, errors.NewTaskNotFound(taskID)
	}
	return task.Clone(), nil
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	ContextID string
	State     a2a.TaskState
	Limit     int
}

// ListTasks returns snapshots ordered by last status update, newest first.
func (m *Manager) ListTasks(filter TaskFilter) []*a2a.Task {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	out := make([]*a2a.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if filter.ContextID != "" && task.ContextID != filter.ContextID {
			continue
		}
		if filter.State != "" && task.Status.State != filter.State {
			continue
		}
		out = append(out, task.Clone())
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Status.Timestamp.Equal(out[j].Status.Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Status.Timestamp.After(out[j].Status.Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ContextHistory returns the messages accumulated for a context.
func (m *Manager) ContextHistory(contextID string) []*a2a.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.contexts[contextID]
	out := make([]*a2a.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Clone())
	}
	return out
}

// StateHistory returns the transition records of a task.
func (m *Manager) StateHistory(taskID string) ([]Record, error) {
	m.mu.RLock()
	sm, ok := m.machines[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NewTaskNotFound(taskID)
	}
	return sm.History(), nil
}

// AppendMessage adds a user message to a task waiting for input or auth so
// that the next execution can continue it.
func (m *Manager) AppendMessage(ctx context.Context, taskID string, msg *a2a.Message) (*a2a.Task, error) {
	if err := a2a.ValidateMessage(msg); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, errors.NewTaskNotFound(taskID)
	}
	if !m.machines[taskID].IsWaiting() {
		return nil, errors.New(errors.CodeInvalidTransition, "task is not waiting for input", nil).
			WithContext("task_id", taskID).
			WithContext("state", string(task.Status.State))
	}
	stored := msg.Clone()
	if stored.MessageID == "" {
		stored.MessageID = uuid.NewString()
	}
	if stored.Kind == "" {
		stored.Kind = "message"
	}
	stored.TaskID = taskID
	stored.ContextID = task.ContextID
	task.History = append(task.History, stored)
	m.contexts[task.ContextID] = append(m.contexts[task.ContextID], stored)

	m.log.InfoContext(ctx, "task.message.append",
		slog.String("task_id", taskID),
		slog.String("state", string(task.Status.State)),
	)
	return task.Clone(), nil
}

// CancelTask moves the task to CANCELED and interrupts any running
// execution. Terminal tasks fail with errors.CodeNotCancelable.
func (m *Manager) CancelTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.NewTaskNotFound(taskID)
	}
	sm := m.machines[taskID]
	if _, err := sm.TransitionTo(a2a.TaskStateCanceled, "canceled by client"); err != nil {
		state := sm.State()
		m.mu.Unlock()
		return nil, errors.NewNotCancelable(taskID, string(state), err)
	}
	task.Status = a2a.TaskStatus{State: a2a.TaskStateCanceled, Timestamp: m.now()}
	cancel := m.running[taskID]
	snapshot := task.Clone()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.log.InfoContext(ctx, "task.cancel",
		slog.String("task_id", taskID),
		slog.Bool("interrupted", cancel != nil),
	)
	return snapshot, nil
}

// CleanupCompleted removes terminal tasks whose last status update is older
// than maxAge, together with their state machines and the history of any
// context no remaining task belongs to. It returns the number of tasks
// removed. Non-terminal tasks are never removed.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	now := m.now()
	m.mu.Lock()
	removed := 0
	for id, task := range m.tasks {
		if !m.machines[id].IsTerminal() {
			continue
		}
		if _, busy := m.running[id]; busy {
			continue
		}
		if maxAge > 0 && now.Sub(task.Status.Timestamp) <= maxAge {
			continue
		}
		delete(m.tasks, id)
		delete(m.machines, id)
		removed++
	}
	if removed > 0 {
		live := make(map[string]struct{}, len(m.tasks))
		for _, task := range m.tasks {
			live[task.ContextID] = struct{}{}
		}
		for contextID := range m.contexts {
			if _, ok := live[contextID]; !ok {
				delete(m.contexts, contextID)
			}
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.log.Info("task.cleanup",
			slog.Int("removed", removed),
			slog.Duration("max_age", maxAge),
		)
	}
	return removed
}

// Len returns the number of stored tasks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Stats summarizes the task store.
type Stats struct {
	Total    int                   `json:"total"`
	Running  int                   `json:"running"`
	Contexts int                   `json:"contexts"`
	ByState  map[a2a.TaskState]int `json:"byState"`
}

// Stats returns task counts per state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{
		Total:    len(m.tasks),
		Running:  len(m.running),
		Contexts: len(m.contexts),
		ByState:  make(map[a2a.TaskState]int),
	}
	for _, task := range m.tasks {
		st.ByState[task.Status.State]++
	}
	return st
}

func (m *Manager) observe(taskID string, rec Record) {
	m.metrics.RecordTransition(context.Background(), string(rec.From), string(rec.To), rec.Forced)
	if m.observer != nil {
		m.observer(taskID, rec)
	}
}
