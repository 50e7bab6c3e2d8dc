package mcptool

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
)

func newInProcess(t *testing.T) Connector {
	t.Helper()
	return newSwitchable(t, nil)
}

// newSwitchable returns a connector that refuses to connect while up is
// false. A nil up means always reachable.
func newSwitchable(t *testing.T, up *atomic.Bool) Connector {
	t.Helper()
	srv := server.NewMCPServer("test-tools", "1.0.0")
	srv.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the prompt back"),
		mcp.WithString("prompt", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		prompt, _ := args["prompt"].(string)
		if prompt == "fail" {
			return mcp.NewToolResultError("refused"), nil
		}
		if history, ok := args["context"].(string); ok {
			return mcp.NewToolResultText(history + " | echo: " + prompt), nil
		}
		return mcp.NewToolResultText("echo: " + prompt), nil
	})
	return func(ctx context.Context) (*client.Client, error) {
		if up != nil && !up.Load() {
			return nil, stderrors.New("connection refused")
		}
		c, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func TestProviderExecute(t *testing.T) {
	p, err := NewWithConnector(provider.Config{Name: "tools", Tool: "echo"}, newInProcess(t))
	if err != nil {
		t.Fatalf("NewWithConnector: %v", err)
	}
	defer p.Close()

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	skills := p.Skills()
	if len(skills) != 1 || skills[0].ID != "echo" || skills[0].Tags[0] != "mcp" {
		t.Fatalf("unexpected derived skills %+v", skills)
	}
	if p.Description() != "Echo the prompt back" {
		t.Fatalf("unexpected description %q", p.Description())
	}

	res, err := p.Execute(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Content != "echo: hi" {
		t.Fatalf("unexpected result %+v", res)
	}

	history := []*a2a.Message{a2a.NewMessage(a2a.RoleUser, a2a.TextPart("before"))}
	res, err = p.Execute(context.Background(), "again", history)
	if err != nil {
		t.Fatalf("Execute with history: %v", err)
	}
	if res.Content != "User: before | echo: again" {
		t.Fatalf("unexpected result with history %q", res.Content)
	}

	res, err = p.Execute(context.Background(), "fail", nil)
	if err != nil {
		t.Fatalf("Execute fail: %v", err)
	}
	if res.Success || res.Error != "refused" {
		t.Fatalf("expected tool error result, got %+v", res)
	}

	if !p.HealthCheck(context.Background()) {
		t.Fatal("expected healthy provider")
	}
}

func TestProviderStreamSingleFinalChunk(t *testing.T) {
	p, _ := NewWithConnector(provider.Config{Tool: "echo"}, newInProcess(t))
	defer p.Close()
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	stream, err := p.ExecuteStream(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	var chunks []provider.Chunk
	for c := range stream {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 || !chunks[0].IsFinal || chunks[0].Content != "echo: x" {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
	if p.Name() != "mcp-echo" {
		t.Fatalf("unexpected default name %q", p.Name())
	}
}

func TestProviderUnknownTool(t *testing.T) {
	p, _ := NewWithConnector(provider.Config{Tool: "missing"}, newInProcess(t))
	err := p.Initialize(context.Background())
	if !errors.HasCode(err, errors.CodeProviderInit) {
		t.Fatalf("expected PROVIDER_INIT, got %v", err)
	}
	if p.HealthCheck(context.Background()) {
		t.Fatal("uninitialized provider must report unhealthy")
	}
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(provider.Config{Tool: "echo"}); err == nil {
		t.Fatal("expected error without command or url")
	}
	if _, err := NewWithConnector(provider.Config{}, nil); err == nil {
		t.Fatal("expected error without tool")
	}
}

func TestProviderConnectsOnDemand(t *testing.T) {
	var up atomic.Bool
	p, _ := NewWithConnector(provider.Config{Name: "late", Tool: "echo"}, newSwitchable(t, &up))
	defer p.Close()

	if err := p.Initialize(context.Background()); !errors.HasCode(err, errors.CodeProviderInit) {
		t.Fatalf("expected PROVIDER_INIT while server is down, got %v", err)
	}
	if p.HealthCheck(context.Background()) {
		t.Fatal("expected unhealthy while server is down")
	}
	if len(p.Skills()) != 0 {
		t.Fatalf("no skills expected before connecting, got %+v", p.Skills())
	}

	up.Store(true)
	if !p.HealthCheck(context.Background()) {
		t.Fatal("health check should connect once the server is up")
	}
	if skills := p.Skills(); len(skills) != 1 || skills[0].ID != "echo" {
		t.Fatalf("unexpected skills after connecting %+v", skills)
	}
	res, err := p.Execute(context.Background(), "hi", nil)
	if err != nil || res.Content != "echo: hi" {
		t.Fatalf("unexpected execute after recovery %+v %v", res, err)
	}
}

func TestProviderExecuteConnectsLazily(t *testing.T) {
	p, _ := NewWithConnector(provider.Config{Tool: "echo"}, newInProcess(t))
	defer p.Close()
	res, err := p.Execute(context.Background(), "first", nil)
	if err != nil {
		t.Fatalf("Execute without Initialize: %v", err)
	}
	if res.Content != "echo: first" {
		t.Fatalf("unexpected result %+v", res)
	}
}
