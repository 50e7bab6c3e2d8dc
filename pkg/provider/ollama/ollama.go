// Package ollama implements a capability provider backed by an Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
	"github.com/jllopis/agora/pkg/resilience"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
	defaultTimeout = 120 * time.Second
)

// DefaultSkills are advertised when no skills are configured.
var DefaultSkills = []provider.Skill{
	{
		ID:          "general-chat",
		Name:        "General Chat",
		Description: "Open-ended conversation and question answering",
		Tags:        []string{"chat", "local"},
		Examples:    []string{"Explain how a mutex works"},
	},
	{
		ID:          "code-generation",
		Name:        "Code Generation",
		Description: "Generate and explain source code",
		Tags:        []string{"code", "local"},
	},
}

// Provider talks to the Ollama chat API.
type Provider struct {
	name        string
	displayName string
	description string
	model       string
	baseURL     string
	skills      []provider.Skill
	retry       resilience.RetryConfig
	client      *http.Client

	mu          sync.Mutex
	initialized bool
}

// New creates an Ollama provider from registry configuration.
func New(cfg provider.Config) (*Provider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	name := cfg.Name
	if name == "" {
		name = "ollama"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	skills := cfg.Skills
	if len(skills) == 0 {
		skills = DefaultSkills
	}
	retry := resilience.DefaultRetryConfig().WithMaxAttempts(1)
	if cfg.MaxRetries > 0 {
		retry = retry.WithMaxAttempts(cfg.MaxRetries)
	}
	return &Provider{
		name:        name,
		displayName: cfg.DisplayName,
		description: cfg.Description,
		model:       model,
		baseURL:     baseURL,
		skills:      skills,
		retry:       retry,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Factory adapts New to provider.Factory.
func Factory(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) DisplayName() string {
	if p.displayName != "" {
		return p.displayName
	}
	return fmt.Sprintf("Ollama (%s)", p.model)
}

func (p *Provider) Description() string {
	if p.description != "" {
		return p.description
	}
	return fmt.Sprintf("Local model %s served by Ollama", p.model)
}

func (p *Provider) Skills() []provider.Skill {
	return append([]provider.Skill(nil), p.skills...)
}

func (p *Provider) SupportsStreaming() bool { return true }

// Initialize checks that the server answers and the model is pulled.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	var models []string
	err := p.retry.Do(ctx, func() error {
		var err error
		models, err = p.listModels(ctx)
		return err
	})
	if err != nil {
		return errors.NewProviderInitError(p.name, "ollama server unreachable", err).
			WithContext("base_url", p.baseURL)
	}
	if !hasModel(models, p.model) {
		return errors.NewProviderInitError(p.name, fmt.Sprintf("model %s not available", p.model), nil).
			WithContext("models", models)
	}
	p.initialized = true
	return nil
}

// HealthCheck reports whether the tags endpoint answers.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	_, err := p.listModels(ctx)
	return err == nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	Error           string      `json:"error,omitempty"`
	TotalDuration   int64       `json:"total_duration"`
	EvalCount       int         `json:"eval_count"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// Execute sends a non-streaming chat request.
func (p *Provider) Execute(ctx context.Context, prompt string, history []*a2a.Message) (*provider.Result, error) {
	resp, err := p.post(ctx, p.chatRequest(prompt, history, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.NewProviderError(p.name, "decode response", err)
	}
	if out.Error != "" {
		return &provider.Result{Success: false, Error: out.Error}, nil
	}
	return &provider.Result{
		Success:  true,
		Content:  out.Message.Content,
		Metadata: usageMetadata(out),
	}, nil
}

// ExecuteStream consumes the NDJSON chat stream.
func (p *Provider) ExecuteStream(ctx context.Context, prompt string, history []*a2a.Message) (<-chan provider.Chunk, error) {
	resp, err := p.post(ctx, p.chatRequest(prompt, history, true))
	if err != nil {
		return nil, err
	}

	chunks := make(chan provider.Chunk, 16)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		send := func(c provider.Chunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var event chatResponse
				if jsonErr := json.Unmarshal(line, &event); jsonErr != nil {
					continue
				}
				if event.Error != "" {
					send(provider.Chunk{Content: event.Error, IsFinal: true, Type: provider.ChunkError})
					return
				}
				if event.Done {
					send(provider.Chunk{
						Content:  event.Message.Content,
						IsFinal:  true,
						Type:     provider.ChunkText,
						Metadata: usageMetadata(event),
					})
					return
				}
				if event.Message.Content != "" {
					if !send(provider.Chunk{Content: event.Message.Content, Type: provider.ChunkText}) {
						return
					}
				}
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				msg := "stream ended before completion"
				if err != io.EOF {
					msg = err.Error()
				}
				send(provider.Chunk{Content: msg, IsFinal: true, Type: provider.ChunkError})
				return
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) chatRequest(prompt string, history []*a2a.Message, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(history)+1)
	for _, msg := range history {
		role := "assistant"
		if msg.Role == a2a.RoleUser {
			role = "user"
		}
		messages = append(messages, chatMessage{Role: role, Content: provider.PromptFromMessage(msg)})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	return chatRequest{Model: p.model, Messages: messages, Stream: stream}
}

func (p *Provider) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewProviderError(p.name, "marshal request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewProviderError(p.name, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.CodeTimeout, fmt.Sprintf("%s: request timed out", p.name), err).
				WithContext("provider", p.name)
		}
		return nil, errors.NewProviderError(p.name, "api call failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.NewProviderError(p.name, fmt.Sprintf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil).
			WithContext("status", resp.StatusCode)
	}
	return resp, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *Provider) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags endpoint returned status %d", resp.StatusCode)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// hasModel matches "llama3.2" against "llama3.2:latest" style tags.
func hasModel(models []string, model string) bool {
	for _, m := range models {
		if m == model || strings.SplitN(m, ":", 2)[0] == model {
			return true
		}
	}
	return false
}

func usageMetadata(resp chatResponse) map[string]any {
	return map[string]any{
		"model":             resp.Model,
		"prompt_eval_count": resp.PromptEvalCount,
		"eval_count":        resp.EvalCount,
		"total_duration_ms": resp.TotalDuration / int64(time.Millisecond),
	}
}
