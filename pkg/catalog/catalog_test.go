package catalog

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
)

func skill(id string, tags ...string) provider.Skill {
	return provider.Skill{ID: id, Name: id, Tags: tags}
}

func names(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newPopulated(t *testing.T) *Catalog {
	t.Helper()
	c := New()
	ctx := context.Background()
	for _, p := range []*provider.Mock{
		provider.NewMock("claude", "ok", skill("code", "dev", "review"), skill("chat", "general")),
		provider.NewMock("gemini", "ok", skill("chat", "general"), skill("search", "web")),
		provider.NewMock("ollama", "ok", skill("code", "dev", "local")),
	} {
		if _, err := c.Register(ctx, "", p, RegisterOptions{Initialize: true}); err != nil {
			t.Fatalf("Register %s: %v", p.Name(), err)
		}
	}
	return c
}

func TestRegister(t *testing.T) {
	c := New()
	mock := provider.NewMock("claude", "ok", skill("code", "dev"))
	entry, err := c.Register(context.Background(), "claude", mock, RegisterOptions{Initialize: true, Weight: 3})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !entry.Healthy || entry.Weight != 3 || !entry.HasSkill("code") || !entry.HasTag("dev") {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !mock.Initialized() {
		t.Fatal("provider should be initialized")
	}
	if _, err := c.Register(context.Background(), "claude", mock, RegisterOptions{}); !errors.HasCode(err, errors.CodeDuplicateAgent) {
		t.Fatalf("expected DUPLICATE_AGENT, got %v", err)
	}
	if _, err := c.Register(context.Background(), "x", nil, RegisterOptions{}); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for nil provider, got %v", err)
	}
	if c.Len() != 1 || !c.Contains("claude") {
		t.Fatalf("unexpected catalog size %d", c.Len())
	}
}

func TestRegisterInitFailureIsUnhealthy(t *testing.T) {
	c := New()
	mock := &provider.Mock{ID: "down", InitErr: stderrors.New("connection refused")}
	entry, err := c.Register(context.Background(), "", mock, RegisterOptions{Initialize: true})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if entry.Healthy || entry.Weight != 1 {
		t.Fatalf("expected unhealthy entry with default weight, got %+v", entry)
	}
	if len(c.HealthyAgents()) != 0 || len(c.List(false)) != 1 {
		t.Fatal("unhealthy agent must be listed but not healthy")
	}
}

func TestRecoveredAgentIsReindexed(t *testing.T) {
	c := New()
	up := false
	mock := &provider.Mock{
		ID:         "late",
		InitErr:    stderrors.New("connection refused"),
		HealthFunc: func(context.Context) bool { return up },
	}
	if _, err := c.Register(context.Background(), "", mock, RegisterOptions{Initialize: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := c.FindBySkill("echo"); len(got) != 0 {
		t.Fatalf("no skill expected before connecting, got %v", names(got))
	}

	up = true
	mock.SkillSet = []provider.Skill{skill("echo", "mcp")}
	if ok, err := c.HealthCheck(context.Background(), "late"); err != nil || !ok {
		t.Fatalf("expected recovery, got %v %v", ok, err)
	}
	if got := names(c.FindBySkill("echo")); !equal(got, []string{"late"}) {
		t.Fatalf("skill index not refreshed, got %v", got)
	}
	if got := names(c.FindByTag("mcp")); !equal(got, []string{"late"}) {
		t.Fatalf("tag index not refreshed, got %v", got)
	}
	if e, _ := c.Get("late"); !e.Healthy || !e.HasSkill("echo") {
		t.Fatalf("unexpected entry %+v", e)
	}

	up = false
	c.HealthCheck(context.Background(), "late")
	if got := c.FindBySkill("echo"); len(got) != 1 {
		t.Fatalf("an unhealthy check must keep the indices, got %v", names(got))
	}
}

func TestFindLookups(t *testing.T) {
	c := newPopulated(t)

	tests := []struct {
		name string
		got  []*Entry
		want []string
	}{
		{"skill code", c.FindBySkill("code"), []string{"claude", "ollama"}},
		{"skill chat", c.FindBySkill("chat"), []string{"claude", "gemini"}},
		{"skill missing", c.FindBySkill("nope"), []string{}},
		{"tag general", c.FindByTag("general"), []string{"claude", "gemini"}},
		{"tags any", c.FindByTags([]string{"web", "local"}, false), []string{"gemini", "ollama"}},
		{"tags all", c.FindByTags([]string{"dev", "review"}, true), []string{"claude"}},
		{"tags all none", c.FindByTags([]string{"web", "local"}, true), []string{}},
		{"tags empty", c.FindByTags(nil, true), []string{"claude", "gemini", "ollama"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := names(tt.got); !equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	if got := c.AllSkills(); !equal(got, []string{"chat", "code", "search"}) {
		t.Fatalf("unexpected skills %v", got)
	}
	if got := c.AllTags(); !equal(got, []string{"dev", "general", "local", "review", "web"}) {
		t.Fatalf("unexpected tags %v", got)
	}
}

func TestUnregisterScrubsIndices(t *testing.T) {
	c := newPopulated(t)
	if !c.Unregister("claude") {
		t.Fatal("Unregister returned false")
	}
	if c.Unregister("claude") {
		t.Fatal("second Unregister should return false")
	}
	for _, id := range []string{"code", "chat"} {
		for _, e := range c.FindBySkill(id) {
			if e.Name == "claude" {
				t.Fatalf("claude still indexed under skill %s", id)
			}
		}
	}
	for _, tag := range []string{"dev", "review", "general"} {
		for _, e := range c.FindByTag(tag) {
			if e.Name == "claude" {
				t.Fatalf("claude still indexed under tag %s", tag)
			}
		}
	}
	if got := c.AllTags(); !equal(got, []string{"dev", "general", "local", "web"}) {
		t.Fatalf("orphan tag left in index: %v", got)
	}
	if got := names(c.List(false)); !equal(got, []string{"gemini", "ollama"}) {
		t.Fatalf("registration order broken: %v", got)
	}
}

func TestEntriesAreSnapshots(t *testing.T) {
	c := newPopulated(t)
	e, _ := c.Get("claude")
	e.Healthy = false
	e.Skills[0] = "mutated"
	again, _ := c.Get("claude")
	if !again.Healthy || again.Skills[0] != "code" {
		t.Fatal("Get must return a copy")
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected missing agent")
	}
}

func TestHealthCheckAll(t *testing.T) {
	c := New(WithCheckTimeout(50 * time.Millisecond))
	ctx := context.Background()
	c.Register(ctx, "", provider.NewMock("ok", "x"), RegisterOptions{})
	c.Register(ctx, "", &provider.Mock{ID: "down", Unhealthy: true}, RegisterOptions{})
	c.Register(ctx, "", &provider.Mock{ID: "panics", HealthFunc: func(context.Context) bool { panic("boom") }}, RegisterOptions{})
	c.Register(ctx, "", &provider.Mock{ID: "hangs", HealthFunc: func(ctx context.Context) bool {
		<-ctx.Done()
		time.Sleep(100 * time.Millisecond)
		return true
	}}, RegisterOptions{})

	results := c.HealthCheckAll(ctx)
	want := map[string]bool{"ok": true, "down": false, "panics": false, "hangs": false}
	if len(results) != len(want) {
		t.Fatalf("unexpected results %v", results)
	}
	for name, healthy := range want {
		if results[name] != healthy {
			t.Errorf("%s: got %v, want %v", name, results[name], healthy)
		}
	}
	if got := names(c.HealthyAgents()); !equal(got, []string{"ok"}) {
		t.Fatalf("unexpected healthy agents %v", got)
	}
	if e, _ := c.Get("down"); e.LastCheck.IsZero() {
		t.Fatal("last check not recorded")
	}
}

func TestHealthCheckSingle(t *testing.T) {
	c := New()
	healthy := true
	mock := &provider.Mock{ID: "flappy", HealthFunc: func(context.Context) bool { return healthy }}
	c.Register(context.Background(), "", mock, RegisterOptions{})

	healthy = false
	ok, err := c.HealthCheck(context.Background(), "flappy")
	if err != nil || ok {
		t.Fatalf("expected unhealthy, got %v %v", ok, err)
	}
	if e, _ := c.Get("flappy"); e.Healthy {
		t.Fatal("health not recorded")
	}
	if _, err := c.HealthCheck(context.Background(), "missing"); !errors.HasCode(err, errors.CodeAgentNotFound) {
		t.Fatalf("expected AGENT_NOT_FOUND, got %v", err)
	}
}

func TestObserveAndGRPCReporter(t *testing.T) {
	srv := health.NewServer()
	reporter := NewGRPCHealthReporter(srv)
	c := New()
	var mu sync.Mutex
	var events []string
	c.Observe(reporter.Observe)
	c.Observe(func(name string, healthy bool) {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			events = append(events, name+":up")
		} else {
			events = append(events, name+":down")
		}
	})

	status := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.Status
	}

	if got := status(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("empty catalog should not serve, got %v", got)
	}
	mock := provider.NewMock("claude", "ok")
	c.Register(context.Background(), "", mock, RegisterOptions{})
	if got := status(ServicePrefix + "claude"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
	if got := status(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall should serve, got %v", got)
	}

	mock.Unhealthy = true
	c.HealthCheckAll(context.Background())
	if got := status(ServicePrefix + "claude"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after a failed check, got %v", got)
	}
	c.Unregister("claude")

	mu.Lock()
	defer mu.Unlock()
	if !equal(events, []string{"claude:up", "claude:down", "claude:down"}) {
		t.Fatalf("unexpected observer events %v", events)
	}
}

func TestSetWeight(t *testing.T) {
	c := newPopulated(t)
	if err := c.SetWeight("gemini", 5); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	if e, _ := c.Get("gemini"); e.Weight != 5 {
		t.Fatalf("weight not stored")
	}
	if err := c.SetWeight("gemini", 0); err != nil {
		t.Fatal(err)
	}
	if e, _ := c.Get("gemini"); e.Weight != 1 {
		t.Fatalf("weight should clamp to 1, got %d", e.Weight)
	}
	if err := c.SetWeight("nope", 2); !errors.HasCode(err, errors.CodeAgentNotFound) {
		t.Fatalf("expected AGENT_NOT_FOUND, got %v", err)
	}
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		name := string(rune('a' + i))
		go func() {
			defer wg.Done()
			c.Register(context.Background(), name, provider.NewMock(name, "ok", skill("s", "t")), RegisterOptions{})
			c.Unregister(name)
		}()
		go func() {
			defer wg.Done()
			for _, e := range c.FindBySkill("s") {
				if e.Provider == nil {
					t.Errorf("index references a missing entry")
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() != 0 || len(c.AllSkills()) != 0 {
		t.Fatalf("catalog should be empty, len=%d skills=%v", c.Len(), c.AllSkills())
	}
}
