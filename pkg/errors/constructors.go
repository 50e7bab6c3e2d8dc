// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import "fmt"

// NewTaskNotFound creates a TASK_NOT_FOUND error.
func NewTaskNotFound(taskID string) *AgoraError {
	return New(CodeTaskNotFound, fmt.Sprintf("task not found: %s", taskID), nil).
		WithContext("task_id", taskID).
		WithRecoverable(false)
}

// NewInvalidTransition creates an INVALID_STATE_TRANSITION error.
func NewInvalidTransition(from, to string) *AgoraError {
	return New(CodeInvalidTransition, fmt.Sprintf("invalid state transition: %s -> %s", from, to), nil).
		WithContext("from_state", from).
		WithContext("to_state", to).
		WithRecoverable(false)
}

// NewNotCancelable creates a TASK_NOT_CANCELABLE error.
func NewNotCancelable(taskID, state string, cause error) *AgoraError {
	return New(CodeNotCancelable, fmt.Sprintf("task %s cannot be canceled in state %s", taskID, state), cause).
		WithContext("task_id", taskID).
		WithContext("state", state).
		WithRecoverable(false)
}

// NewProviderError creates a PROVIDER_ERROR namespaced by provider name.
func NewProviderError(provider, msg string, cause error) *AgoraError {
	return New(CodeProvider, fmt.Sprintf("%s: %s", provider, msg), cause).
		WithContext("provider", provider).
		WithRecoverable(true)
}

// NewProviderInitError creates a PROVIDER_INIT error.
func NewProviderInitError(provider, msg string, cause error) *AgoraError {
	return New(CodeProviderInit, fmt.Sprintf("%s: %s", provider, msg), cause).
		WithContext("provider", provider).
		WithRecoverable(true)
}

// NewDuplicateAgent creates a DUPLICATE_AGENT error.
func NewDuplicateAgent(name string) *AgoraError {
	return New(CodeDuplicateAgent, fmt.Sprintf("agent already registered: %s", name), nil).
		WithContext("agent", name)
}

// NewAgentNotFound creates an AGENT_NOT_FOUND error.
func NewAgentNotFound(name string) *AgoraError {
	return New(CodeAgentNotFound, fmt.Sprintf("agent not found: %s", name), nil).
		WithContext("agent", name)
}
