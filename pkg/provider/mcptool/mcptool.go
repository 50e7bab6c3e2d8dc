// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcptool implements a capability provider that executes prompts by
// calling a tool exposed by an MCP server.
package mcptool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
)

const (
	defaultPromptArg = "prompt"
	defaultTimeout   = 60 * time.Second
	clientName       = "agora"
	clientVersion    = "0.1.0"
)

// Connector opens and starts an MCP client.
type Connector func(ctx context.Context) (*client.Client, error)

// Provider forwards prompts to a single MCP tool.
type Provider struct {
	name      string
	display   string
	desc      string
	tool      string
	promptArg string
	timeout   time.Duration
	connect   Connector
	static    []provider.Skill

	mu        sync.RWMutex
	client    *client.Client
	toolSkill []provider.Skill
}

// New creates an MCP-backed provider. cfg.Command selects the stdio
// transport and cfg.URL the streamable HTTP transport.
func New(cfg provider.Config) (*Provider, error) {
	var connect Connector
	switch {
	case cfg.Command != "":
		command, args := cfg.Command, cfg.Args
		connect = func(ctx context.Context) (*client.Client, error) {
			c, err := client.NewStdioMCPClient(command, nil, args...)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	case cfg.URL != "":
		url := cfg.URL
		connect = func(ctx context.Context) (*client.Client, error) {
			c, err := client.NewStreamableHttpClient(url)
			if err != nil {
				return nil, err
			}
			if err := c.Start(ctx); err != nil {
				return nil, err
			}
			return c, nil
		}
	default:
		return nil, errors.New(errors.CodeInvalidInput, "mcp provider requires command or url", nil).
			WithContext("provider", cfg.Name)
	}
	return NewWithConnector(cfg, connect)
}

// NewWithConnector creates a provider using a custom connector.
func NewWithConnector(cfg provider.Config, connect Connector) (*Provider, error) {
	if cfg.Tool == "" {
		return nil, errors.New(errors.CodeInvalidInput, "mcp provider requires a tool name", nil).
			WithContext("provider", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = "mcp-" + cfg.Tool
	}
	promptArg := cfg.PromptArg
	if promptArg == "" {
		promptArg = defaultPromptArg
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{
		name:      name,
		display:   cfg.DisplayName,
		desc:      cfg.Description,
		tool:      cfg.Tool,
		promptArg: promptArg,
		timeout:   timeout,
		connect:   connect,
		static:    cfg.Skills,
	}, nil
}

// Factory adapts New to provider.Factory.
func Factory(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) DisplayName() string {
	if p.display != "" {
		return p.display
	}
	return fmt.Sprintf("MCP tool %s", p.tool)
}

func (p *Provider) Description() string {
	if p.desc != "" {
		return p.desc
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.toolSkill) > 0 && p.toolSkill[0].Description != "" {
		return p.toolSkill[0].Description
	}
	return fmt.Sprintf("Executes prompts through the MCP tool %q", p.tool)
}

// Skills returns configured skills, or the ones derived from the server's
// tool list once initialized.
func (p *Provider) Skills() []provider.Skill {
	if len(p.static) > 0 {
		return append([]provider.Skill(nil), p.static...)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]provider.Skill(nil), p.toolSkill...)
}

func (p *Provider) SupportsStreaming() bool { return false }

// Initialize connects, performs the MCP handshake and checks the tool exists.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	c, err := p.connect(ctx)
	if err != nil {
		return errors.NewProviderInitError(p.name, "connect mcp server", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return errors.NewProviderInitError(p.name, "mcp handshake failed", err)
	}
	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return errors.NewProviderInitError(p.name, "list mcp tools", err)
	}
	var found *mcp.Tool
	for i := range tools.Tools {
		if tools.Tools[i].Name == p.tool {
			found = &tools.Tools[i]
			break
		}
	}
	if found == nil {
		_ = c.Close()
		return errors.NewProviderInitError(p.name, fmt.Sprintf("tool %q not offered by server", p.tool), nil)
	}
	p.client = c
	p.toolSkill = []provider.Skill{{
		ID:          found.Name,
		Name:        found.Name,
		Description: found.Description,
		Tags:        []string{"mcp"},
	}}
	return nil
}

// Execute calls the tool with the prompt and the rendered conversation context.
func (p *Provider) Execute(ctx context.Context, prompt string, history []*a2a.Message) (*provider.Result, error) {
	c, err := p.connected(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = p.tool
	args := map[string]interface{}{p.promptArg: prompt}
	if ctxPrompt := provider.BuildContextPrompt(history); ctxPrompt != "" {
		args["context"] = ctxPrompt
	}
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.CodeTimeout, fmt.Sprintf("%s: tool call timed out", p.name), err).
				WithContext("provider", p.name)
		}
		return nil, errors.NewProviderError(p.name, "tool call failed", err)
	}
	text := extractText(res.Content)
	if res.IsError {
		return &provider.Result{Success: false, Error: text, Metadata: map[string]any{"tool": p.tool}}, nil
	}
	return &provider.Result{Success: true, Content: text, Metadata: map[string]any{"tool": p.tool}}, nil
}

// ExecuteStream wraps Execute; MCP tool calls are not incremental.
func (p *Provider) ExecuteStream(ctx context.Context, prompt string, history []*a2a.Message) (<-chan provider.Chunk, error) {
	if _, err := p.connected(ctx); err != nil {
		return nil, err
	}
	return provider.StreamResult(ctx, func() (*provider.Result, error) {
		return p.Execute(ctx, prompt, history)
	}), nil
}

// HealthCheck pings the server, connecting first when a previous
// Initialize failed.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	c, err := p.connected(ctx)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return c.Ping(ctx) == nil
}

// Close shuts down the MCP client.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// connected returns the live client, running Initialize when there is none.
func (p *Provider) connected(ctx context.Context) (*client.Client, error) {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, errors.NewProviderError(p.name, "mcp client closed", nil)
	}
	return p.client, nil
}

func extractText(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
