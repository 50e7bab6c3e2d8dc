package provider

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type skillsFile struct {
	Skills []Skill `yaml:"skills"`
}

// LoadSkills reads a YAML skills document:
//
//	skills:
//	  - id: code-generation
//	    name: Code Generation
//	    tags: [code, python]
func LoadSkills(path string) ([]Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSkills(data)
}

// ParseSkills decodes and validates a YAML skills document.
func ParseSkills(data []byte) ([]Skill, error) {
	var doc skillsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse skills: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Skills))
	out := make([]Skill, 0, len(doc.Skills))
	for i, skill := range doc.Skills {
		skill.ID = strings.TrimSpace(skill.ID)
		if skill.ID == "" {
			return nil, fmt.Errorf("skill %d: id is required", i)
		}
		if _, dup := seen[skill.ID]; dup {
			return nil, fmt.Errorf("skill %q: duplicate id", skill.ID)
		}
		seen[skill.ID] = struct{}{}
		if skill.Name == "" {
			skill.Name = skill.ID
		}
		out = append(out, skill)
	}
	return out, nil
}
