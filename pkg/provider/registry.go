// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jllopis/agora/pkg/errors"
)

// Factory builds a provider from its configuration.
type Factory func(cfg Config) (Provider, error)

// Registry maps provider type names to factories. Build one at process
// start and pass it to the components that create providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	name = normalize(name)
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "provider type name is required", nil)
	}
	if factory == nil {
		return errors.New(errors.CodeInvalidInput, "provider factory is nil", nil).
			WithContext("provider", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("provider type already registered: %s", name), nil).
			WithContext("provider", name)
	}
	r.factories[name] = factory
	return nil
}

// Alias makes alias resolve to an already registered type.
func (r *Registry) Alias(alias, target string) error {
	alias, target = normalize(alias), normalize(target)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[target]; !ok {
		return errors.New(errors.CodeProviderNotFound, fmt.Sprintf("unknown provider type: %s", target), nil).
			WithContext("provider", target)
	}
	r.aliases[alias] = target
	return nil
}

// Resolve returns the canonical type name for name or alias.
func (r *Registry) Resolve(name string) (string, bool) {
	name = normalize(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	_, ok := r.factories[name]
	return name, ok
}

// Has reports whether name or alias is known.
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Create builds a provider of the given type.
func (r *Registry) Create(name string, cfg Config) (Provider, error) {
	canonical, ok := r.Resolve(name)
	if !ok {
		return nil, errors.New(errors.CodeProviderNotFound, fmt.Sprintf("unknown provider type: %s", name), nil).
			WithContext("provider", name).
			WithContext("available", r.Names())
	}
	r.mu.RLock()
	factory := r.factories[canonical]
	r.mu.RUnlock()
	return factory(cfg)
}

// Aliases returns the sorted aliases of the canonical type name.
func (r *Registry) Aliases(name string) []string {
	name = normalize(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for alias, target := range r.aliases {
		if target == name {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Names returns registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
