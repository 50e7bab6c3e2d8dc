// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the capability provider contract implemented by
// AI backends, plus a registry of provider factories.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/agora/pkg/a2a"
)

// ChunkType classifies a streamed chunk.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkError    ChunkType = "error"
	ChunkMetadata ChunkType = "metadata"
)

// Chunk is one element of a streamed execution. A stream ends with exactly
// one chunk where IsFinal is true.
type Chunk struct {
	Content  string
	IsFinal  bool
	Type     ChunkType
	Metadata map[string]any
}

// Result is the outcome of a non-streaming execution.
type Result struct {
	Success  bool
	Content  string
	Error    string
	Metadata map[string]any
}

// Skill describes a capability used for indexing and routing.
type Skill struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Tags        []string `yaml:"tags" json:"tags"`
	Examples    []string `yaml:"examples" json:"examples,omitempty"`
}

// AgentSkill converts the skill to its wire representation.
func (s Skill) AgentSkill() a2a.AgentSkill {
	return a2a.AgentSkill{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Tags:        append([]string{}, s.Tags...),
		Examples:    append([]string(nil), s.Examples...),
	}
}

// Provider is an AI backend able to execute prompts.
type Provider interface {
	// Name is the unique identifier used for registration and routing.
	Name() string
	DisplayName() string
	Description() string
	Skills() []Skill

	// Initialize verifies the backend is reachable. It is idempotent.
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, prompt string, history []*a2a.Message) (*Result, error)
	// ExecuteStream returns a finite channel closed after the final chunk.
	// Canceling ctx stops the producer.
	ExecuteStream(ctx context.Context, prompt string, history []*a2a.Message) (<-chan Chunk, error)
	// HealthCheck reports availability. It must not panic.
	HealthCheck(ctx context.Context) bool
	SupportsStreaming() bool
}

// Config carries the settings a factory needs to build a provider.
type Config struct {
	Name        string
	DisplayName string
	Description string
	Model       string
	BaseURL     string
	Command     string
	Args        []string
	URL         string
	Tool        string
	PromptArg   string
	Timeout     time.Duration
	MaxRetries  int
	Skills      []Skill
	Extra       map[string]any
}

// PromptFromMessage renders a message as a prompt string.
func PromptFromMessage(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, part := range msg.Parts {
		switch part.Kind {
		case a2a.PartKindText:
			parts = append(parts, part.Text)
		case a2a.PartKindData:
			raw, err := json.Marshal(part.Data)
			if err != nil {
				parts = append(parts, fmt.Sprintf("%v", part.Data))
				continue
			}
			parts = append(parts, string(raw))
		case a2a.PartKindFile:
			if part.File == nil {
				continue
			}
			if part.File.Name != "" {
				parts = append(parts, fmt.Sprintf("[File: %s]", part.File.Name))
			} else if part.File.URI != "" {
				parts = append(parts, fmt.Sprintf("[File: %s]", part.File.URI))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// BuildContextPrompt renders conversation history as "User:"/"Assistant:" lines.
func BuildContextPrompt(history []*a2a.Message) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		role := "Assistant"
		if msg.Role == a2a.RoleUser {
			role = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, PromptFromMessage(msg)))
	}
	return strings.Join(lines, "\n")
}

// StreamResult adapts a one-shot execution into a stream made of a single
// final chunk. Providers without native streaming use it. A panic in exec
// becomes an error chunk.
func StreamResult(ctx context.Context, exec func() (*Result, error)) <-chan Chunk {
	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		res, err := safeExec(exec)
		var chunk Chunk
		switch {
		case err != nil:
			chunk = Chunk{Content: err.Error(), IsFinal: true, Type: ChunkError}
		case res == nil:
			chunk = Chunk{Content: "provider returned no result", IsFinal: true, Type: ChunkError}
		case !res.Success:
			chunk = Chunk{Content: res.Error, IsFinal: true, Type: ChunkError, Metadata: res.Metadata}
		default:
			chunk = Chunk{Content: res.Content, IsFinal: true, Type: ChunkText, Metadata: res.Metadata}
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
		}
	}()
	return out
}

func safeExec(exec func() (*Result, error)) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return exec()
}
