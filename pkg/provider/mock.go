package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
)

// Mock is an in-memory provider for tests and demos. With no Chunks it
// streams Response as a single text chunk.
type Mock struct {
	ID       string
	Display  string
	Desc     string
	SkillSet []Skill

	Response string
	Chunks   []string
	// FailWith makes executions fail with a provider error carrying this message.
	FailWith string
	Err      error
	InitErr  error

	Unhealthy   bool
	NoStreaming bool
	// HealthFunc overrides Unhealthy when set.
	HealthFunc func(ctx context.Context) bool
	// ExecuteFunc overrides the canned response when set.
	ExecuteFunc func(ctx context.Context, prompt string, history []*a2a.Message) (*Result, error)

	mu          sync.Mutex
	calls       int
	initialized bool
	prompts     []string
}

// NewMock builds a mock with the given name, skills and canned response.
func NewMock(name, response string, skills ...Skill) *Mock {
	return &Mock{ID: name, Response: response, SkillSet: skills}
}

func (m *Mock) Name() string { return m.ID }

func (m *Mock) DisplayName() string {
	if m.Display != "" {
		return m.Display
	}
	return m.ID
}

func (m *Mock) Description() string {
	if m.Desc != "" {
		return m.Desc
	}
	return fmt.Sprintf("mock provider %s", m.ID)
}

func (m *Mock) Skills() []Skill {
	return append([]Skill(nil), m.SkillSet...)
}

func (m *Mock) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if m.InitErr != nil {
		return errors.NewProviderInitError(m.ID, "initialize failed", m.InitErr)
	}
	m.initialized = true
	return nil
}

// Initialized reports whether Initialize succeeded.
func (m *Mock) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *Mock) Execute(ctx context.Context, prompt string, history []*a2a.Message) (*Result, error) {
	m.record(prompt)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, prompt, history)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.FailWith != "" {
		return &Result{Success: false, Error: m.FailWith}, nil
	}
	content := m.Response
	if len(m.Chunks) > 0 {
		content = ""
		for _, c := range m.Chunks {
			content += c
		}
	}
	return &Result{Success: true, Content: content, Metadata: map[string]any{"provider": m.ID}}, nil
}

func (m *Mock) ExecuteStream(ctx context.Context, prompt string, history []*a2a.Message) (<-chan Chunk, error) {
	if m.ExecuteFunc != nil || m.NoStreaming {
		return StreamResult(ctx, func() (*Result, error) {
			return m.Execute(ctx, prompt, history)
		}), nil
	}
	m.record(prompt)
	if m.Err != nil {
		return nil, m.Err
	}
	chunks := m.Chunks
	if len(chunks) == 0 {
		chunks = []string{m.Response}
	}
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- Chunk{Content: c, Type: ChunkText}:
			case <-ctx.Done():
				return
			}
		}
		final := Chunk{IsFinal: true, Type: ChunkText}
		if m.FailWith != "" {
			final = Chunk{Content: m.FailWith, IsFinal: true, Type: ChunkError}
		}
		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (m *Mock) HealthCheck(ctx context.Context) bool {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return !m.Unhealthy
}

func (m *Mock) SupportsStreaming() bool { return !m.NoStreaming }

// Calls returns how many executions were requested.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts received so far.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *Mock) record(prompt string) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
}

// MockFactory builds mocks from registry configuration.
func MockFactory(cfg Config) (Provider, error) {
	response, _ := cfg.Extra["response"].(string)
	if response == "" {
		response = "ok"
	}
	return &Mock{
		ID:       cfg.Name,
		Display:  cfg.DisplayName,
		Desc:     cfg.Description,
		SkillSet: cfg.Skills,
		Response: response,
	}, nil
}
