// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/catalog"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/provider"
	"github.com/jllopis/agora/pkg/telemetry"
)

// Metadata keys read from the latest user message by Router.Select.
const (
	MetadataSkills = "skills"
	MetadataTags   = "tags"
)

// Option configures a Router.
type Option func(*Router)

// WithHealthyOnly controls whether Route considers unhealthy agents.
func WithHealthyOnly(healthyOnly bool) Option {
	return func(r *Router) { r.healthyOnly = healthyOnly }
}

// WithMetrics counts routing decisions.
func WithMetrics(m *telemetry.TaskMetrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLogger overrides slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// Router selects agents from a catalog. Strategy instances are created on
// first use and cached per kind, so their counters survive SetStrategy.
type Router struct {
	catalog     *catalog.Catalog
	healthyOnly bool
	metrics     *telemetry.TaskMetrics
	log         *slog.Logger
	tracer      trace.Tracer

	mu         sync.Mutex
	active     Kind
	strategies map[Kind]Strategy
}

// NewRouter builds a router using kind as the active strategy.
func NewRouter(c *catalog.Catalog, kind Kind, opts ...Option) (*Router, error) {
	if _, err := NewStrategy(kind); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, err.Error(), nil)
	}
	r := &Router{
		catalog:     c,
		healthyOnly: true,
		log:         slog.Default(),
		tracer:      otel.Tracer("agora/routing"),
		active:      kind,
		strategies:  make(map[Kind]Strategy),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Strategy returns the active strategy kind.
func (r *Router) Strategy() Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetStrategy switches the active strategy.
func (r *Router) SetStrategy(kind Kind) error {
	if _, err := NewStrategy(kind); err != nil {
		return errors.New(errors.CodeInvalidInput, err.Error(), nil)
	}
	r.mu.Lock()
	r.active = kind
	r.mu.Unlock()
	return nil
}

// SetWeight updates the weight used by the weighted strategy.
func (r *Router) SetWeight(name string, weight int) error {
	return r.catalog.SetWeight(name, weight)
}

// Route lists the catalog, keeps the agents matching any requested skill or
// tag (all agents when none match), and delegates to the strategy.
func (r *Router) Route(ctx context.Context, rc RouteContext) (*catalog.Entry, error) {
	candidates := r.catalog.List(r.healthyOnly)
	if len(rc.Skills) > 0 || len(rc.Tags) > 0 {
		if filtered := prefilter(candidates, rc); len(filtered) > 0 {
			candidates = filtered
		}
	}
	return r.pick(ctx, candidates, rc)
}

// RouteBySkill routes among the agents advertising skill, preferring
// healthy ones.
func (r *Router) RouteBySkill(ctx context.Context, skill string) (*catalog.Entry, error) {
	candidates := healthyOrAll(r.catalog.FindBySkill(skill))
	return r.pick(ctx, candidates, RouteContext{Skills: []string{skill}})
}

// RouteByTags routes among the agents matching tags, preferring healthy
// ones.
func (r *Router) RouteByTags(ctx context.Context, tags []string, matchAll bool) (*catalog.Entry, error) {
	candidates := healthyOrAll(r.catalog.FindByTags(tags, matchAll))
	return r.pick(ctx, candidates, RouteContext{Tags: tags})
}

// Select implements task.Selector. Routing hints are read from the
// "skills" and "tags" metadata of the latest user message, falling back to
// the task metadata.
func (r *Router) Select(ctx context.Context, t *a2a.Task, prompt string) (string, provider.Provider, error) {
	rc := hintsFromTask(t)
	entry, err := r.Route(ctx, rc)
	if err != nil {
		return "", nil, err
	}
	return entry.Name, entry.Provider, nil
}

func (r *Router) pick(ctx context.Context, candidates []*catalog.Entry, rc RouteContext) (*catalog.Entry, error) {
	kind := rc.Strategy
	if kind == "" {
		kind = r.Strategy()
	}
	_, span := r.tracer.Start(ctx, "routing.select",
		trace.WithAttributes(telemetry.RoutingAttributes(string(kind), rc.Skills, rc.Tags, len(candidates))...),
	)
	defer span.End()

	strategy, err := r.strategy(kind)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	entry := strategy.Select(candidates, rc)
	if entry == nil {
		err := errors.New(errors.CodeNoAgentAvailable, "no agent available", nil).
			WithContext("strategy", string(kind))
		if len(rc.Skills) > 0 {
			err = err.WithContext("skills", strings.Join(rc.Skills, ","))
		}
		if len(rc.Tags) > 0 {
			err = err.WithContext("tags", strings.Join(rc.Tags, ","))
		}
		span.RecordError(err)
		r.metrics.RecordError(ctx, err, "routing")
		r.log.WarnContext(ctx, "routing.select.none",
			slog.String("strategy", string(kind)),
			slog.Int("candidates", len(candidates)),
		)
		return nil, err
	}

	r.metrics.RecordSelection(ctx, string(kind), entry.Name)
	r.log.DebugContext(ctx, "routing.select",
		slog.String("strategy", string(kind)),
		slog.String("agent", entry.Name),
		slog.Int("candidates", len(candidates)),
	)
	return entry, nil
}

func (r *Router) strategy(kind Kind) (Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.strategies[kind]; ok {
		return s, nil
	}
	s, err := NewStrategy(kind)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, err.Error(), nil)
	}
	r.strategies[kind] = s
	return s, nil
}

func prefilter(candidates []*catalog.Entry, rc RouteContext) []*catalog.Entry {
	out := make([]*catalog.Entry, 0, len(candidates))
	for _, c := range candidates {
		if matchesAny(c, rc) {
			out = append(out, c)
		}
	}
	return out
}

func matchesAny(c *catalog.Entry, rc RouteContext) bool {
	for _, id := range rc.Skills {
		if c.HasSkill(id) {
			return true
		}
	}
	for _, tag := range rc.Tags {
		if c.HasTag(tag) {
			return true
		}
	}
	return false
}

func hintsFromTask(t *a2a.Task) RouteContext {
	if t == nil {
		return RouteContext{}
	}
	var meta map[string]any
	for i := len(t.History) - 1; i >= 0; i-- {
		if msg := t.History[i]; msg != nil && msg.Role == a2a.RoleUser {
			meta = msg.Metadata
			break
		}
	}
	rc := RouteContext{
		Skills: stringList(meta[MetadataSkills]),
		Tags:   stringList(meta[MetadataTags]),
	}
	if len(rc.Skills) == 0 && len(rc.Tags) == 0 {
		rc.Skills = stringList(t.Metadata[MetadataSkills])
		rc.Tags = stringList(t.Metadata[MetadataTags])
	}
	return rc
}

// stringList accepts a string (comma separated), []string or []any.
func stringList(v any) []string {
	var raw []string
	switch val := v.(type) {
	case string:
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
