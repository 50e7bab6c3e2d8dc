package catalog

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/resilience"
	"github.com/jllopis/agora/pkg/telemetry"
)

// HealthCheck checks one agent and records the result.
func (c *Catalog) HealthCheck(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return false, errors.NewAgentNotFound(name)
	}
	healthy := c.check(ctx, name, entry)
	c.record(ctx, name, healthy)
	return healthy, nil
}

// HealthCheckAll checks every agent concurrently. A check that fails, times
// out or panics counts as unhealthy; no error is returned.
func (c *Catalog) HealthCheckAll(ctx context.Context) map[string]bool {
	ctx, span := c.tracer.Start(ctx, "catalog.health_check_all")
	defer span.End()

	c.mu.RLock()
	targets := make(map[string]*Entry, len(c.entries))
	for name, entry := range c.entries {
		targets[name] = entry
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]bool, len(targets))
	)
	for name, entry := range targets {
		wg.Add(1)
		go func(name string, entry *Entry) {
			defer wg.Done()
			healthy := c.check(ctx, name, entry)
			mu.Lock()
			results[name] = healthy
			mu.Unlock()
		}(name, entry)
	}
	wg.Wait()

	healthyCount := 0
	for name, healthy := range results {
		c.record(ctx, name, healthy)
		if healthy {
			healthyCount++
		}
	}
	span.SetAttributes(
		attribute.Int("agents", len(results)),
		attribute.Int("healthy", healthyCount),
	)
	c.log.DebugContext(ctx, "catalog.health_check_all",
		slog.Int("agents", len(results)),
		slog.Int("healthy", healthyCount),
	)
	return results
}

// SetWeight changes the routing weight of an agent. Values below 1 become 1.
func (c *Catalog) SetWeight(name string, weight int) error {
	if weight < 1 {
		weight = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[name]
	if !ok {
		return errors.NewAgentNotFound(name)
	}
	entry.Weight = weight
	return nil
}

func (c *Catalog) check(ctx context.Context, name string, entry *Entry) bool {
	ctx, span := c.tracer.Start(ctx, "catalog.health_check",
		trace.WithAttributes(attribute.String(telemetry.AttrAgentName, name)),
	)
	defer span.End()

	err := resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: c.checkTimeout}, func(ctx context.Context) error {
		if !entry.Provider.HealthCheck(ctx) {
			return errors.NewProviderError(name, "health check failed", nil)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		c.log.WarnContext(ctx, "catalog.health_check.failed",
			slog.String("agent", name),
			telemetry.ErrorAttr(err),
		)
		return false
	}
	return true
}

// record stores a check result for an agent that is still registered and
// notifies observers. A healthy result refreshes the skill and tag indices,
// since providers may only learn their skills once connected.
func (c *Catalog) record(ctx context.Context, name string, healthy bool) {
	var skills, tags []string
	if healthy {
		c.mu.RLock()
		entry, ok := c.entries[name]
		c.mu.RUnlock()
		if ok {
			skills, tags = skillIndex(entry.Provider)
		}
	}

	c.mu.Lock()
	entry, ok := c.entries[name]
	if ok {
		if healthy && !entry.Healthy {
			c.log.InfoContext(ctx, "catalog.agent.recovered",
				slog.String("agent", name),
				slog.Int("skills", len(skills)),
			)
		}
		entry.Healthy = healthy
		entry.LastCheck = c.now()
		if healthy {
			c.reindex(entry, skills, tags)
		}
	}
	observers := append([]HealthObserver(nil), c.observers...)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.metrics.RecordHealth(ctx, name, healthy)
	for _, fn := range observers {
		fn(name, healthy)
	}
}
