// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog keeps the registry of agents (capability providers) with
// skill and tag indices and their last known health.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
	"github.com/jllopis/agora/pkg/telemetry"
)

// DefaultCheckTimeout bounds a single health check.
const DefaultCheckTimeout = 10 * time.Second

// Entry is a snapshot of a registered agent. Catalog methods return copies,
// so an Entry never changes after it is handed out.
type Entry struct {
	Name         string
	Provider     provider.Provider
	Healthy      bool
	LastCheck    time.Time
	RegisteredAt time.Time
	Weight       int
	Skills       []string
	Tags         []string
}

// HasSkill reports whether the entry advertises the skill id.
func (e *Entry) HasSkill(id string) bool { return contains(e.Skills, id) }

// HasTag reports whether any of the entry's skills carries tag.
func (e *Entry) HasTag(tag string) bool { return contains(e.Tags, tag) }

func (e *Entry) clone() *Entry {
	out := *e
	out.Skills = append([]string(nil), e.Skills...)
	out.Tags = append([]string(nil), e.Tags...)
	return &out
}

// RegisterOptions tunes Register.
type RegisterOptions struct {
	// Initialize calls Provider.Initialize before indexing. The entry is
	// healthy only when initialization succeeds.
	Initialize bool
	// Weight is the routing weight; values below 1 become 1.
	Weight int
}

// HealthObserver is notified whenever an agent's health is set, including
// on registration. Unregistration reports healthy=false.
type HealthObserver func(name string, healthy bool)

// Option configures a Catalog.
type Option func(*Catalog)

// WithCheckTimeout bounds each health check.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Catalog) { c.checkTimeout = d }
}

// WithMetrics records health check results.
func WithMetrics(m *telemetry.TaskMetrics) Option {
	return func(c *Catalog) { c.metrics = m }
}

// Catalog is safe for concurrent use. Register and Unregister take the write
// lock; lookups take the read lock.
type Catalog struct {
	checkTimeout time.Duration
	metrics      *telemetry.TaskMetrics
	log          *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time

	mu        sync.RWMutex
	entries   map[string]*Entry
	order     []string
	skills    map[string]map[string]struct{}
	tags      map[string]map[string]struct{}
	observers []HealthObserver
}

// New creates an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		checkTimeout: DefaultCheckTimeout,
		log:          slog.Default(),
		tracer:       otel.Tracer("agora/catalog"),
		now:          func() time.Time { return time.Now().UTC() },
		entries:      make(map[string]*Entry),
		skills:       make(map[string]map[string]struct{}),
		tags:         make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe adds a health observer.
func (c *Catalog) Observe(fn HealthObserver) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Register adds an agent under name, or under p.Name() when name is empty.
// It fails with errors.CodeDuplicateAgent when the name is taken. An
// initialization failure does not fail registration: the entry is stored as
// unhealthy so a later health check can bring it back.
func (c *Catalog) Register(ctx context.Context, name string, p provider.Provider, opts RegisterOptions) (*Entry, error) {
	if p == nil {
		return nil, errors.New(errors.CodeInvalidInput, "provider is required", nil)
	}
	if name == "" {
		name = p.Name()
	}
	if c.Contains(name) {
		return nil, errors.NewDuplicateAgent(name)
	}

	healthy := true
	if opts.Initialize {
		if err := p.Initialize(ctx); err != nil {
			healthy = false
			c.log.WarnContext(ctx, "catalog.register.init_failed",
				slog.String("agent", name),
				telemetry.ErrorAttr(err),
			)
		}
	}
	weight := opts.Weight
	if weight < 1 {
		weight = 1
	}

	now := c.now()
	entry := &Entry{
		Name:         name,
		Provider:     p,
		Healthy:      healthy,
		LastCheck:    now,
		RegisteredAt: now,
		Weight:       weight,
	}
	entry.Skills, entry.Tags = skillIndex(p)

	c.mu.Lock()
	if _, exists := c.entries[name]; exists {
		c.mu.Unlock()
		return nil, errors.NewDuplicateAgent(name)
	}
	c.entries[name] = entry
	c.order = append(c.order, name)
	for _, id := range entry.Skills {
		addIndex(c.skills, id, name)
	}
	for _, tag := range entry.Tags {
		addIndex(c.tags, tag, name)
	}
	observers := append([]HealthObserver(nil), c.observers...)
	snapshot := entry.clone()
	c.mu.Unlock()

	c.log.InfoContext(ctx, "catalog.register",
		slog.String("agent", name),
		slog.Bool("healthy", healthy),
		slog.Int("skills", len(entry.Skills)),
		slog.Int("weight", weight),
	)
	for _, fn := range observers {
		fn(name, healthy)
	}
	return snapshot, nil
}

// Unregister removes the agent and scrubs it from every index. It returns
// false when the name is not registered.
func (c *Catalog) Unregister(name string) bool {
	c.mu.Lock()
	entry, ok := c.entries[name]
	if !ok {
		c.mu.Unlock()
		return false
	}
	for _, id := range entry.Skills {
		removeIndex(c.skills, id, name)
	}
	for _, tag := range entry.Tags {
		removeIndex(c.tags, tag, name)
	}
	delete(c.entries, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	observers := append([]HealthObserver(nil), c.observers...)
	c.mu.Unlock()

	c.log.Info("catalog.unregister", slog.String("agent", name))
	for _, fn := range observers {
		fn(name, false)
	}
	return true
}

// Get returns the entry registered under name.
func (c *Catalog) Get(name string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

// Contains reports whether name is registered.
func (c *Catalog) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// Len returns the number of registered agents.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// List returns entries in registration order.
func (c *Catalog) List(healthyOnly bool) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collect(func(e *Entry) bool { return !healthyOnly || e.Healthy })
}

// HealthyAgents returns the healthy entries in registration order.
func (c *Catalog) HealthyAgents() []*Entry {
	return c.List(true)
}

// FindBySkill returns the agents advertising skill id.
func (c *Catalog) FindBySkill(id string) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.skills[id]
	return c.collect(func(e *Entry) bool { _, ok := members[e.Name]; return ok })
}

// FindByTag returns the agents with at least one skill tagged tag.
func (c *Catalog) FindByTag(tag string) []*Entry {
	return c.FindByTags([]string{tag}, false)
}

// FindByTags returns the agents matching any of tags, or all of them when
// matchAll is set. No tags matches every agent.
func (c *Catalog) FindByTags(tags []string, matchAll bool) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(tags) == 0 {
		return c.collect(func(*Entry) bool { return true })
	}
	return c.collect(func(e *Entry) bool {
		for _, tag := range tags {
			_, ok := c.tags[tag][e.Name]
			if matchAll && !ok {
				return false
			}
			if !matchAll && ok {
				return true
			}
		}
		return matchAll
	})
}

// AllSkills returns the indexed skill ids, sorted.
func (c *Catalog) AllSkills() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.skills)
}

// AllTags returns the indexed tags, sorted.
func (c *Catalog) AllTags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.tags)
}

// collect must be called with c.mu held.
func (c *Catalog) collect(keep func(*Entry) bool) []*Entry {
	out := make([]*Entry, 0, len(c.order))
	for _, name := range c.order {
		if entry := c.entries[name]; keep(entry) {
			out = append(out, entry.clone())
		}
	}
	return out
}

// skillIndex returns the distinct skill ids and tags advertised by p.
func skillIndex(p provider.Provider) (skills, tags []string) {
	for _, skill := range p.Skills() {
		if skill.ID != "" && !contains(skills, skill.ID) {
			skills = append(skills, skill.ID)
		}
		for _, tag := range skill.Tags {
			if tag != "" && !contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}
	return skills, tags
}

// reindex replaces the indexed skills and tags of entry. It must be called
// with c.mu held for writing.
func (c *Catalog) reindex(entry *Entry, skills, tags []string) {
	if equalStrings(entry.Skills, skills) && equalStrings(entry.Tags, tags) {
		return
	}
	for _, id := range entry.Skills {
		removeIndex(c.skills, id, entry.Name)
	}
	for _, tag := range entry.Tags {
		removeIndex(c.tags, tag, entry.Name)
	}
	entry.Skills, entry.Tags = skills, tags
	for _, id := range skills {
		addIndex(c.skills, id, entry.Name)
	}
	for _, tag := range tags {
		addIndex(c.tags, tag, entry.Name)
	}
}

func equalStrings(a, b []string) bool {
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

func addIndex(index map[string]map[string]struct{}, key, name string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[name] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, key, name string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, name)
	if len(set) == 0 {
		delete(index, key)
	}
}

func sortedKeys(index map[string]map[string]struct{}) []string {
	out := make([]string, 0, len(index))
	for k := range index {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
