package task

import (
	"context"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
)

// Selector picks the provider that executes a task. task is a snapshot and
// prompt is the text extracted from its latest user message.
type Selector interface {
	Select(ctx context.Context, task *a2a.Task, prompt string) (string, provider.Provider, error)
}

// StaticSelector always returns the same provider.
type StaticSelector struct {
	Provider provider.Provider
}

func (s StaticSelector) Select(ctx context.Context, task *a2a.Task, prompt string) (string, provider.Provider, error) {
	if s.Provider == nil {
		return "", nil, errors.New(errors.CodeNoAgentAvailable, "no provider configured", nil)
	}
	return s.Provider.Name(), s.Provider, nil
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, task *a2a.Task, prompt string) (string, provider.Provider, error)

func (f SelectorFunc) Select(ctx context.Context, task *a2a.Task, prompt string) (string, provider.Provider, error) {
	return f(ctx, task, prompt)
}
