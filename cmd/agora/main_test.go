package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/agora/internal/app"
	"github.com/jllopis/agora/pkg/config"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/routing"
)

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantConfig []string
		wantRest   []string
		wantJSON   bool
		wantErr    bool
	}{
		{name: "empty", args: nil},
		{name: "command only", args: []string{"send", "x"}, wantRest: []string{"send", "x"}},
		{
			name:       "config flags",
			args:       []string{"-c", "a.yaml", "--profile=dev", "--set", "server.port=9", "serve"},
			wantConfig: []string{"-c", "a.yaml", "--profile=dev", "--set", "server.port=9"},
			wantRest:   []string{"serve"},
		},
		{name: "json", args: []string{"--json", "adapters"}, wantJSON: true, wantRest: []string{"adapters"}},
		{name: "separator", args: []string{"--", "--weird"}, wantRest: []string{"--weird"}},
		{name: "missing value", args: []string{"--set"}, wantErr: true},
		{name: "bad timeout", args: []string{"--timeout", "soon"}, wantErr: true},
		{name: "unknown flag", args: []string{"--verbose"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, rest, err := parseGlobalFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if strings.Join(flags.ConfigArgs, " ") != strings.Join(tt.wantConfig, " ") {
				t.Errorf("config args: got %v, want %v", flags.ConfigArgs, tt.wantConfig)
			}
			if strings.Join(rest, " ") != strings.Join(tt.wantRest, " ") {
				t.Errorf("rest: got %v, want %v", rest, tt.wantRest)
			}
			if flags.JSON != tt.wantJSON {
				t.Errorf("json: got %v", flags.JSON)
			}
		})
	}

	flags, _, err := parseGlobalFlags([]string{"--timeout=3s"})
	if err != nil || flags.Timeout != 3*time.Second {
		t.Fatalf("timeout: %v %v", flags.Timeout, err)
	}
	if configPath([]string{"--set", "a=b", "--config=x.yaml"}) != "x.yaml" {
		t.Fatalf("configPath did not find --config=")
	}
}

func TestParseSendArgs(t *testing.T) {
	opts, err := parseSendArgs([]string{"http://h/", "hello", "-s", "--skill", "code", "--skill=chat", "--task=t1", "--context", "c1"})
	if err != nil {
		t.Fatalf("parseSendArgs: %v", err)
	}
	if opts.URL != "http://h" || opts.Text != "hello" || !opts.Stream || opts.TaskID != "t1" || opts.ContextID != "c1" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if len(opts.Skills) != 2 {
		t.Fatalf("unexpected skills %v", opts.Skills)
	}
	params := opts.params()
	if params.Message.TaskID != "t1" || params.ContextID != "c1" {
		t.Fatalf("unexpected params %+v", params)
	}
	if skills, _ := params.Message.Metadata[routing.MetadataSkills].([]string); len(skills) != 2 || skills[1] != "chat" {
		t.Fatalf("skills not carried as metadata: %v", params.Message.Metadata)
	}

	for _, args := range [][]string{{"only-url"}, {"u", "m", "--task"}, {"u", "m", "--nope"}} {
		if _, err := parseSendArgs(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	skills := filepath.Join(dir, "skills.yaml")
	if err := os.WriteFile(skills, []byte("skills:\n  - id: chat\n    name: Chat\n    tags: [general]\n"), 0o644); err != nil {
		t.Fatalf("write skills: %v", err)
	}
	cfg := &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Name: "agora-cli-test", Version: "0.0.1"},
		Log:     config.LogConfig{Level: "error"},
		Task:    config.TaskConfig{Timeout: 5 * time.Second},
		Routing: config.RoutingConfig{Strategy: "first_available", HealthyOnly: true},
		Agents: []config.AgentConfig{
			{Name: "echo", Type: "mock", SkillsFile: skills, Extra: map[string]any{"response": "hi from echo"}},
		},
	}
	a, err := app.New(context.Background(), cfg, app.WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Close(context.Background())
	})
	return srv
}

func TestRunSend(t *testing.T) {
	srv := newServer(t)
	flags := globalFlags{Timeout: 5 * time.Second}

	tests := []struct {
		name string
		args []string
	}{
		{name: "blocking", args: []string{srv.URL, "hello"}},
		{name: "streaming", args: []string{srv.URL, "hello", "--stream"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runSend(context.Background(), flags, tt.args, &out); err != nil {
				t.Fatalf("runSend: %v", err)
			}
			if !strings.Contains(out.String(), "hi from echo") || !strings.Contains(out.String(), "completed]") {
				t.Fatalf("unexpected output %q", out.String())
			}
		})
	}

	for _, args := range [][]string{
		{srv.URL, "hello", "--task", "missing"},
		{srv.URL, "hello", "--task", "missing", "--stream"},
	} {
		err := runSend(context.Background(), flags, args, io.Discard)
		var ce *CLIError
		if !asCLIError(err, &ce) || ce.Context["rpc_code"] != errors.RPCTaskNotFound {
			t.Fatalf("%v: expected remote task-not-found error, got %v", args, err)
		}
	}

	var out bytes.Buffer
	if err := runSend(context.Background(), globalFlags{Timeout: 5 * time.Second, JSON: true}, []string{srv.URL, "hello"}, &out); err != nil {
		t.Fatalf("runSend json: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil || res["kind"] != "task" {
		t.Fatalf("unexpected json %q (%v)", out.String(), err)
	}
}

func asCLIError(err error, target **CLIError) bool {
	ce, ok := err.(*CLIError)
	if ok {
		*target = ce
	}
	return ok
}

func TestRunSendConnectionError(t *testing.T) {
	err := runSend(context.Background(), globalFlags{Timeout: time.Second}, []string{"http://127.0.0.1:1", "x"}, io.Discard)
	var ce *CLIError
	if !asCLIError(err, &ce) || ce.Hint == "" {
		t.Fatalf("expected connection error with hint, got %v", err)
	}
}

func TestRunDiscover(t *testing.T) {
	srv := newServer(t)

	var out bytes.Buffer
	if err := runDiscover(context.Background(), globalFlags{Timeout: 5 * time.Second}, []string{srv.URL}, &out); err != nil {
		t.Fatalf("runDiscover: %v", err)
	}
	for _, want := range []string{"agora-cli-test", "Skills (1):", "chat", "general"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in %q", want, out.String())
		}
	}

	out.Reset()
	if err := runDiscover(context.Background(), globalFlags{Timeout: 5 * time.Second, JSON: true}, []string{srv.URL}, &out); err != nil {
		t.Fatalf("runDiscover json: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil || doc["name"] != "agora-cli-test" {
		t.Fatalf("unexpected json %q (%v)", out.String(), err)
	}
}

func TestRunAdapters(t *testing.T) {
	var out bytes.Buffer
	if err := runAdapters(globalFlags{}, nil, &out); err != nil {
		t.Fatalf("runAdapters: %v", err)
	}
	for _, want := range []string{"mock", "ollama", "local", "mcp", "mcptool"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in %q", want, out.String())
		}
	}
	if err := runAdapters(globalFlags{}, []string{"extra"}, &out); err == nil {
		t.Fatalf("expected error for extra args")
	}
}

func TestCLIErrorPrint(t *testing.T) {
	ce := NewConfigError(io.ErrUnexpectedEOF, "agora.yaml")

	var text bytes.Buffer
	ce.PrintError(&text, false)
	if !strings.Contains(text.String(), "INVALID_INPUT") || !strings.Contains(text.String(), "agora.yaml") {
		t.Fatalf("unexpected text %q", text.String())
	}

	var js bytes.Buffer
	ce.PrintError(&js, true)
	var payload map[string]map[string]string
	if err := json.Unmarshal(js.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["error"]["code"] != "INVALID_INPUT" || payload["error"]["hint"] == "" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
