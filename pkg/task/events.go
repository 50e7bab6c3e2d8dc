package task

import "github.com/jllopis/agora/pkg/a2a"

// Event is emitted by Manager.Execute. It is either a *StatusEvent or an
// *ArtifactEvent.
type Event interface {
	EventTaskID() string
	isEvent()
}

// StatusEvent reports a state change. Final marks the last event of an
// execution.
type StatusEvent struct {
	TaskID    string
	ContextID string
	Status    a2a.TaskStatus
	Final     bool
}

// ArtifactEvent reports an artifact appended to the task.
type ArtifactEvent struct {
	TaskID    string
	ContextID string
	Artifact  *a2a.Artifact
}

func (e *StatusEvent) EventTaskID() string   { return e.TaskID }
func (e *ArtifactEvent) EventTaskID() string { return e.TaskID }

func (*StatusEvent) isEvent()   {}
func (*ArtifactEvent) isEvent() {}
