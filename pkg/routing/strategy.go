// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package routing picks an agent from the catalog for each request using a
// pluggable selection strategy.
package routing

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jllopis/agora/pkg/catalog"
)

// Kind names a selection strategy.
type Kind string

const (
	RoundRobin     Kind = "round_robin"
	FirstAvailable Kind = "first_available"
	SkillMatch     Kind = "skill_match"
	Weighted       Kind = "weighted"
	Random         Kind = "random"
)

// Kinds lists every supported strategy.
var Kinds = []Kind{RoundRobin, FirstAvailable, SkillMatch, Weighted, Random}

// ParseStrategy resolves a configured strategy name. Dashes are accepted in
// place of underscores.
func ParseStrategy(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown routing strategy %q", s)
}

// RouteContext carries the routing hints of a request.
type RouteContext struct {
	Skills []string
	Tags   []string
	// Strategy overrides the router's active strategy when set.
	Strategy Kind
}

// Strategy selects one entry from candidates. It returns nil only when
// candidates is empty. Implementations must be safe for concurrent use.
type Strategy interface {
	Select(candidates []*catalog.Entry, rc RouteContext) *catalog.Entry
}

// NewStrategy builds a fresh strategy instance.
func NewStrategy(kind Kind) (Strategy, error) {
	switch kind {
	case RoundRobin:
		return &roundRobin{}, nil
	case FirstAvailable:
		return firstAvailable{}, nil
	case SkillMatch:
		return skillMatch{}, nil
	case Weighted:
		return &weighted{calls: make(map[string]int)}, nil
	case Random:
		return &random{rnd: rand.New(rand.NewSource(rand.Int63()))}, nil
	}
	return nil, fmt.Errorf("unknown routing strategy %q", kind)
}

type roundRobin struct {
	next atomic.Uint64
}

func (s *roundRobin) Select(candidates []*catalog.Entry, _ RouteContext) *catalog.Entry {
	if len(candidates) == 0 {
		return nil
	}
	n := s.next.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

type firstAvailable struct{}

func (firstAvailable) Select(candidates []*catalog.Entry, _ RouteContext) *catalog.Entry {
	if len(candidates) == 0 {
		return nil
	}
	for _, c := range candidates {
		if c.Healthy {
			return c
		}
	}
	return candidates[0]
}

// Score weights used by skillMatch.
const (
	skillScore = 10
	tagScore   = 1
)

type skillMatch struct{}

func (skillMatch) Select(candidates []*catalog.Entry, rc RouteContext) *catalog.Entry {
	if len(candidates) == 0 {
		return nil
	}
	best, bestScore := candidates[0], 0
	for _, c := range candidates {
		score := 0
		for _, id := range rc.Skills {
			if c.HasSkill(id) {
				score += skillScore
			}
		}
		for _, tag := range rc.Tags {
			if c.HasTag(tag) {
				score += tagScore
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

type weighted struct {
	mu    sync.Mutex
	calls map[string]int
}

func (s *weighted) Select(candidates []*catalog.Entry, _ RouteContext) *catalog.Entry {
	if len(candidates) == 0 {
		return nil
	}
	pool := healthyOrAll(candidates)

	s.mu.Lock()
	defer s.mu.Unlock()
	var best *catalog.Entry
	bestRatio := math.Inf(1)
	for _, c := range pool {
		weight := c.Weight
		if weight < 1 {
			weight = 1
		}
		ratio := float64(s.calls[c.Name]) / float64(weight)
		if ratio < bestRatio {
			best, bestRatio = c, ratio
		}
	}
	s.calls[best.Name]++
	return best
}

type random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *random) Select(candidates []*catalog.Entry, _ RouteContext) *catalog.Entry {
	if len(candidates) == 0 {
		return nil
	}
	pool := healthyOrAll(candidates)
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool[s.rnd.Intn(len(pool))]
}

func healthyOrAll(candidates []*catalog.Entry) []*catalog.Entry {
	healthy := make([]*catalog.Entry, 0, len(candidates))
	for _, c := range candidates {
		if c.Healthy {
			healthy = append(healthy, c)
		}
	}
	if len(healthy) == 0 {
		return candidates
	}
	return healthy
}
