// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package task implements the task lifecycle: a per-task state machine and
// the Manager that stores tasks, drives provider executions and emits
// ordered status and artifact events.
package task

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
)

// ForcedPrefix marks the reason of a transition applied by ForceTransition.
const ForcedPrefix = "[FORCED]"

var validTransitions = map[a2a.TaskState][]a2a.TaskState{
	a2a.TaskStateSubmitted: {
		a2a.TaskStateWorking,
		a2a.TaskStateCompleted,
		a2a.TaskStateFailed,
		a2a.TaskStateRejected,
		a2a.TaskStateCanceled,
	},
	a2a.TaskStateWorking: {
		a2a.TaskStateCompleted,
		a2a.TaskStateFailed,
		a2a.TaskStateCanceled,
		a2a.TaskStateInputRequired,
		a2a.TaskStateAuthRequired,
	},
	a2a.TaskStateInputRequired: {
		a2a.TaskStateWorking,
		a2a.TaskStateCompleted,
		a2a.TaskStateFailed,
		a2a.TaskStateCanceled,
	},
	a2a.TaskStateAuthRequired: {
		a2a.TaskStateWorking,
		a2a.TaskStateFailed,
		a2a.TaskStateCanceled,
	},
	a2a.TaskStateCompleted: {},
	a2a.TaskStateFailed:    {},
	a2a.TaskStateCanceled:  {},
	a2a.TaskStateRejected:  {},
	a2a.TaskStateUnknown:   {},
}

// ValidTransitions returns the states reachable from state. Terminal and
// unknown states return an empty slice.
func ValidTransitions(state a2a.TaskState) []a2a.TaskState {
	return append([]a2a.TaskState{}, validTransitions[state]...)
}

// IsTerminalState reports whether no transition leaves state.
func IsTerminalState(state a2a.TaskState) bool {
	return len(validTransitions[state]) == 0
}

// Record is one entry of a task's transition audit trail.
type Record struct {
	From      a2a.TaskState `json:"from"`
	To        a2a.TaskState `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason,omitempty"`
	Forced    bool          `json:"forced"`
}

// TransitionObserver is notified of every record appended to a machine.
// It runs with the machine lock released.
type TransitionObserver func(taskID string, rec Record)

// StateMachine enforces legal lifecycle transitions for one task.
type StateMachine struct {
	taskID   string
	observer TransitionObserver
	log      *slog.Logger

	mu      sync.RWMutex
	state   a2a.TaskState
	history []Record
}

// NewStateMachine returns a machine in SUBMITTED whose history holds the
// initial UNKNOWN -> SUBMITTED record.
func NewStateMachine(taskID string, observer TransitionObserver) *StateMachine {
	sm := &StateMachine{
		taskID:   taskID,
		observer: observer,
		log:      slog.Default(),
		state:    a2a.TaskStateSubmitted,
	}
	rec := Record{
		From:      a2a.TaskStateUnknown,
		To:        a2a.TaskStateSubmitted,
		Timestamp: time.Now().UTC(),
		Reason:    "initial state",
	}
	sm.history = append(sm.history, rec)
	sm.notify(rec)
	return sm
}

// TaskID returns the id of the task the machine belongs to.
func (sm *StateMachine) TaskID() string { return sm.taskID }

// State returns the current state.
func (sm *StateMachine) State() a2a.TaskState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// CanTransitionTo reports whether target is reachable from the current state.
func (sm *StateMachine) CanTransitionTo(target a2a.TaskState) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return allowed(sm.state, target)
}

// AllowedTransitions returns the states reachable from the current state.
func (sm *StateMachine) AllowedTransitions() []a2a.TaskState {
	return ValidTransitions(sm.State())
}

// TransitionTo moves the machine to target. It fails with
// errors.CodeInvalidTransition and leaves the state unchanged when target is
// not allowed from the current state.
func (sm *StateMachine) TransitionTo(target a2a.TaskState, reason string) (Record, error) {
	sm.mu.Lock()
	if !allowed(sm.state, target) {
		from := sm.state
		sm.mu.Unlock()
		return Record{}, errors.NewInvalidTransition(string(from), string(target)).
			WithContext("task_id", sm.taskID)
	}
	rec := sm.apply(target, reason, false)
	sm.mu.Unlock()

	sm.log.Debug("task.state.transition",
		slog.String("task_id", sm.taskID),
		slog.String("from", string(rec.From)),
		slog.String("to", string(rec.To)),
		slog.String("reason", reason),
	)
	sm.notify(rec)
	return rec, nil
}

// ForceTransition moves the machine to target without validation. It is the
// error recovery escape hatch: the record is flagged as forced and the
// change is logged at WARN.
func (sm *StateMachine) ForceTransition(target a2a.TaskState, reason string) Record {
	sm.mu.Lock()
	rec := sm.apply(target, ForcedPrefix+" "+reason, true)
	sm.mu.Unlock()

	sm.log.Warn("task.state.forced",
		slog.String("task_id", sm.taskID),
		slog.String("from", string(rec.From)),
		slog.String("to", string(rec.To)),
		slog.String("reason", reason),
	)
	sm.notify(rec)
	return rec
}

// History returns a copy of the transition records.
func (sm *StateMachine) History() []Record {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]Record(nil), sm.history...)
}

// LastTransition returns the most recent record.
func (sm *StateMachine) LastTransition() Record {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.history[len(sm.history)-1]
}

func (sm *StateMachine) IsTerminal() bool { return IsTerminalState(sm.State()) }

// IsActive reports SUBMITTED or WORKING.
func (sm *StateMachine) IsActive() bool {
	s := sm.State()
	return s == a2a.TaskStateSubmitted || s == a2a.TaskStateWorking
}

// IsWaiting reports INPUT_REQUIRED or AUTH_REQUIRED.
func (sm *StateMachine) IsWaiting() bool {
	s := sm.State()
	return s == a2a.TaskStateInputRequired || s == a2a.TaskStateAuthRequired
}

func (sm *StateMachine) RequiresInput() bool { return sm.State() == a2a.TaskStateInputRequired }

func (sm *StateMachine) RequiresAuth() bool { return sm.State() == a2a.TaskStateAuthRequired }

func (sm *StateMachine) IsSuccessful() bool { return sm.State() == a2a.TaskStateCompleted }

// IsFailed reports FAILED or REJECTED.
func (sm *StateMachine) IsFailed() bool {
	s := sm.State()
	return s == a2a.TaskStateFailed || s == a2a.TaskStateRejected
}

// apply must be called with sm.mu held.
func (sm *StateMachine) apply(target a2a.TaskState, reason string, forced bool) Record {
	rec := Record{
		From:      sm.state,
		To:        target,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Forced:    forced,
	}
	sm.state = target
	sm.history = append(sm.history, rec)
	return rec
}

func (sm *StateMachine) notify(rec Record) {
	if sm.observer != nil {
		sm.observer(sm.taskID, rec)
	}
}

func allowed(from, to a2a.TaskState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
