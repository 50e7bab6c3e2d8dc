// Package agentcard builds and serves the A2A discovery document.
package agentcard

import (
	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/catalog"
)

// DefaultModes is used for both input and output modes.
var DefaultModes = []string{"text/plain"}

// Config describes AgentCard fields that can be derived from runtime settings.
type Config struct {
	Name             string
	Description      string
	URL              string
	Version          string
	DocumentationURL string
	Organization     string
	OrganizationURL  string
}

// Build assembles an AgentCard from the provided config and skills. Skills
// are deduplicated by id, keeping the first occurrence.
func Build(cfg Config, skills []a2a.AgentSkill) *a2a.AgentCard {
	card := &a2a.AgentCard{
		Name:            cfg.Name,
		Description:     cfg.Description,
		URL:             cfg.URL,
		Version:         cfg.Version,
		ProtocolVersion: a2a.ProtocolVersion,
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: true,
		},
		Skills:             uniqueSkills(skills),
		DefaultInputModes:  append([]string(nil), DefaultModes...),
		DefaultOutputModes: append([]string(nil), DefaultModes...),
		DocumentationURL:   cfg.DocumentationURL,
	}
	if cfg.Organization != "" || cfg.OrganizationURL != "" {
		card.Provider = &a2a.AgentProvider{Organization: cfg.Organization, URL: cfg.OrganizationURL}
	}
	return card
}

// FromCatalog builds the card advertising the skills of every registered
// agent, healthy or not, in registration order.
func FromCatalog(cfg Config, c *catalog.Catalog) *a2a.AgentCard {
	var skills []a2a.AgentSkill
	for _, e := range c.List(false) {
		if e.Provider == nil {
			continue
		}
		for _, s := range e.Provider.Skills() {
			skills = append(skills, s.AgentSkill())
		}
	}
	return Build(cfg, skills)
}

func uniqueSkills(skills []a2a.AgentSkill) []a2a.AgentSkill {
	out := make([]a2a.AgentSkill, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		if s.ID == "" {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		if s.Tags == nil {
			s.Tags = []string{}
		}
		out = append(out, s)
	}
	return out
}
