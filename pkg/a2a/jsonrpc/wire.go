package jsonrpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/task"
)

// Method names served by Server.
const (
	MethodSend          = "message/send"
	MethodStream        = "message/stream"
	MethodGetTask       = "tasks/get"
	MethodCancelTask    = "tasks/cancel"
	MethodPushConfigSet = "tasks/pushNotificationConfig/set"
	MethodPushConfigGet = "tasks/pushNotificationConfig/get"
)

// SSE event types.
const (
	EventStatus   = "task.status"
	EventArtifact = "task.artifact"
	EventError    = "error"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC error object. It implements error so clients can
// return it as is.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// SendConfiguration tunes message/send and message/stream.
type SendConfiguration struct {
	HistoryLength *int  `json:"historyLength,omitempty"`
	Blocking      *bool `json:"blocking,omitempty"`
}

// SendParams are the params of message/send and message/stream.
type SendParams struct {
	Message       *a2a.Message       `json:"message"`
	ContextID     string             `json:"contextId,omitempty"`
	Configuration *SendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
}

// TaskQueryParams are the params of tasks/get and tasks/cancel. Both taskId
// and id are accepted.
type TaskQueryParams struct {
	TaskID        string `json:"taskId"`
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

// ResolvedTaskID returns TaskID, or ID when TaskID is empty.
func (p TaskQueryParams) ResolvedTaskID() string {
	if p.TaskID != "" {
		return p.TaskID
	}
	return p.ID
}

// Status is the wire form of a task status.
type Status struct {
	State     a2a.TaskState `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
	Message   *a2a.Message  `json:"message,omitempty"`
}

// Task is the result of message/send, tasks/get and tasks/cancel.
type Task struct {
	TaskID    string          `json:"taskId"`
	ContextID string          `json:"contextId"`
	Status    Status          `json:"status"`
	History   []*a2a.Message  `json:"history"`
	Artifacts []*a2a.Artifact `json:"artifacts"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Kind      string          `json:"kind"`
}

// StatusUpdate is the result carried by a task.status SSE event.
type StatusUpdate struct {
	TaskID    string `json:"taskId"`
	ContextID string `json:"contextId"`
	Status    Status `json:"status"`
	Final     bool   `json:"final"`
	Kind      string `json:"kind"`
}

// ArtifactUpdate is the result carried by a task.artifact SSE event.
type ArtifactUpdate struct {
	TaskID    string        `json:"taskId"`
	ContextID string        `json:"contextId"`
	Artifact  *a2a.Artifact `json:"artifact"`
	Kind      string        `json:"kind"`
}

// PushConfigResult answers the push notification config methods.
type PushConfigResult struct {
	Supported bool `json:"supported"`
}

func toWireStatus(st a2a.TaskStatus) Status {
	return Status{State: st.State, Timestamp: st.Timestamp, Message: st.Message}
}

// serializeTask renders a task snapshot. A non-nil historyLength keeps only
// the most recent messages.
func serializeTask(t *a2a.Task, historyLength *int) Task {
	history := t.History
	if historyLength != nil && *historyLength >= 0 && len(history) > *historyLength {
		history = history[len(history)-*historyLength:]
	}
	if history == nil {
		history = []*a2a.Message{}
	}
	artifacts := t.Artifacts
	if artifacts == nil {
		artifacts = []*a2a.Artifact{}
	}
	kind := t.Kind
	if kind == "" {
		kind = "task"
	}
	return Task{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		Status:    toWireStatus(t.Status),
		History:   history,
		Artifacts: artifacts,
		Metadata:  t.Metadata,
		Kind:      kind,
	}
}

// serializeEvent maps a manager event onto its SSE type and result payload.
func serializeEvent(ev task.Event) (string, any, bool) {
	switch e := ev.(type) {
	case *task.StatusEvent:
		return EventStatus, StatusUpdate{
			TaskID:    e.TaskID,
			ContextID: e.ContextID,
			Status:    toWireStatus(e.Status),
			Final:     e.Final,
			Kind:      "status-update",
		}, e.Final
	case *task.ArtifactEvent:
		return EventArtifact, ArtifactUpdate{
			TaskID:    e.TaskID,
			ContextID: e.ContextID,
			Artifact:  e.Artifact,
			Kind:      "artifact-update",
		}, false
	}
	return "", nil, false
}
