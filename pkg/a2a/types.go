// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package a2a defines the A2A protocol data model shared by the task
// manager, the JSON-RPC binding and the agent card.
package a2a

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the A2A protocol version advertised by agora.
const ProtocolVersion = "0.3.0"

// TaskState enumerates the task lifecycle states using their wire values.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateAuthRequired  TaskState = "auth-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateRejected      TaskState = "rejected"
	TaskStateUnknown       TaskState = "unknown"
)

// AllTaskStates lists every state in declaration order.
var AllTaskStates = []TaskState{
	TaskStateSubmitted,
	TaskStateWorking,
	TaskStateInputRequired,
	TaskStateAuthRequired,
	TaskStateCompleted,
	TaskStateFailed,
	TaskStateCanceled,
	TaskStateRejected,
	TaskStateUnknown,
}

// Valid reports whether s is a known state.
func (s TaskState) Valid() bool {
	for _, st := range AllTaskStates {
		if st == s {
			return true
		}
	}
	return false
}

// Role identifies the sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is the unit of communication between clients and agents.
type Message struct {
	MessageID string         `json:"messageId"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind"`
}

// NewMessage builds a message with a fresh id.
func NewMessage(role Role, parts ...Part) *Message {
	return &Message{
		MessageID: uuid.NewString(),
		Role:      role,
		Parts:     parts,
		Kind:      "message",
	}
}

// TaskStatus captures the state of a task at a point in time.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatus returns a status stamped with the current UTC time.
func NewStatus(state TaskState, msg *Message) TaskStatus {
	return TaskStatus{State: state, Message: msg, Timestamp: time.Now().UTC()}
}

// Artifact is an output produced by a task.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Task is the fundamental unit of work.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []*Message     `json:"history"`
	Artifacts []*Artifact    `json:"artifacts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind"`
}

// Clone returns a deep copy of the task suitable for handing to callers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Status = cloneStatus(t.Status)
	out.History = make([]*Message, 0, len(t.History))
	for _, msg := range t.History {
		out.History = append(out.History, msg.Clone())
	}
	out.Artifacts = make([]*Artifact, 0, len(t.Artifacts))
	for _, art := range t.Artifacts {
		out.Artifacts = append(out.Artifacts, art.Clone())
	}
	out.Metadata = cloneMap(t.Metadata)
	return &out
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Parts = cloneParts(m.Parts)
	out.Metadata = cloneMap(m.Metadata)
	return &out
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	out.Parts = cloneParts(a.Parts)
	out.Metadata = cloneMap(a.Metadata)
	return &out
}

func cloneStatus(st TaskStatus) TaskStatus {
	st.Message = st.Message.Clone()
	return st
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = p.clone()
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AgentSkill describes a capability advertised by an agent.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// AgentCapabilities lists the optional protocol features an agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// AgentProvider identifies the organization operating the agent.
type AgentProvider struct {
	Organization string `json:"organization"`
	URL          string `json:"url"`
}

// AgentCard is the discovery document served at the well-known path.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	ProtocolVersion    string            `json:"protocolVersion"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	Skills             []AgentSkill      `json:"skills"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
	Provider           *AgentProvider    `json:"provider,omitempty"`
	DocumentationURL   string            `json:"documentationUrl,omitempty"`
}
