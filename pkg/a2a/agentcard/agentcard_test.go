package agentcard

import (
	"context"
	"testing"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/catalog"
	"github.com/jllopis/agora/pkg/provider"
)

func testConfig() Config {
	return Config{
		Name:            "agora",
		Description:     "orchestrator",
		URL:             "http://localhost:8000/a2a",
		Version:         "0.1.0",
		Organization:    "Agora",
		OrganizationURL: "https://example.com",
	}
}

func TestBuild(t *testing.T) {
	card := Build(testConfig(), []a2a.AgentSkill{
		{ID: "chat", Name: "Chat"},
		{ID: "code", Name: "Code", Tags: []string{"dev"}},
		{ID: "chat", Name: "Chat again"},
		{Name: "no id"},
	})

	if card.ProtocolVersion != a2a.ProtocolVersion {
		t.Fatalf("expected protocol %s, got %s", a2a.ProtocolVersion, card.ProtocolVersion)
	}
	if !card.Capabilities.Streaming || card.Capabilities.PushNotifications || !card.Capabilities.StateTransitionHistory {
		t.Fatalf("unexpected capabilities %+v", card.Capabilities)
	}
	if len(card.Skills) != 2 || card.Skills[0].Name != "Chat" || card.Skills[1].ID != "code" {
		t.Fatalf("unexpected skills %+v", card.Skills)
	}
	if card.Skills[0].Tags == nil {
		t.Fatalf("tags must serialize as an empty list")
	}
	if len(card.DefaultInputModes) != 1 || card.DefaultInputModes[0] != "text/plain" {
		t.Fatalf("unexpected input modes %v", card.DefaultInputModes)
	}
	if card.Provider == nil || card.Provider.Organization != "Agora" {
		t.Fatalf("unexpected provider %+v", card.Provider)
	}

	bare := Build(Config{Name: "x"}, nil)
	if bare.Provider != nil {
		t.Fatalf("provider should be omitted without an organization")
	}
	if bare.Skills == nil {
		t.Fatalf("skills must serialize as an empty list")
	}
}

func TestFromCatalog(t *testing.T) {
	c := catalog.New()
	ctx := context.Background()
	chat := provider.Skill{ID: "chat", Name: "Chat", Tags: []string{"general"}}
	code := provider.Skill{ID: "code", Name: "Code", Tags: []string{"dev"}}
	search := provider.Skill{ID: "search", Name: "Search"}

	for _, p := range []*provider.Mock{
		provider.NewMock("claude", "", code, chat),
		provider.NewMock("gemini", "", chat, search),
		{ID: "down", Unhealthy: true, SkillSet: []provider.Skill{{ID: "offline", Name: "Offline"}}},
	} {
		if _, err := c.Register(ctx, p.Name(), p, catalog.RegisterOptions{}); err != nil {
			t.Fatalf("register %s: %v", p.Name(), err)
		}
	}

	card := FromCatalog(testConfig(), c)
	var ids []string
	for _, s := range card.Skills {
		ids = append(ids, s.ID)
	}
	want := []string{"code", "chat", "search", "offline"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Build(testConfig(), nil)
	tests := []struct {
		name    string
		mutate  func(*a2a.AgentCard)
		wantErr bool
	}{
		{name: "valid", mutate: func(*a2a.AgentCard) {}},
		{name: "no name", mutate: func(c *a2a.AgentCard) { c.Name = "" }, wantErr: true},
		{name: "no url", mutate: func(c *a2a.AgentCard) { c.URL = "" }, wantErr: true},
		{name: "other version", mutate: func(c *a2a.AgentCard) { c.ProtocolVersion = "9.9" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := *valid
			tt.mutate(&card)
			if err := Validate(&card); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if Validate(nil) == nil {
		t.Fatalf("nil card must be invalid")
	}
}
