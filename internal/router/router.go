package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/provider"
)

// ErrUnknownProvider reports a routing table entry naming an unregistered adapter.
var ErrUnknownProvider = errors.New("routing references unknown provider")

// Rule sends model ids starting with Prefix to Provider.
type Rule struct {
	Prefix   string
	Provider string
}

// Router dispatches model ids to provider adapters. It is immutable after
// New and safe for concurrent use.
type Router struct {
	registry   *provider.Registry
	rules      []Rule
	fallback   provider.Provider
	namespaced provider.Provider
	separator  string
}

// New constructs a router backed by the provided registry. Every provider
// the routing table names must be registered, so Resolve never fails later.
func New(registry *provider.Registry, routing config.RoutingConfig) (*Router, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	if routing.Separator == "" {
		return nil, errors.New("namespace separator must not be empty")
	}

	lookup := func(field, id string) (provider.Provider, error) {
		p, err := registry.Lookup(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q", ErrUnknownProvider, field, id)
		}
		return p, nil
	}

	fallback, err := lookup("default", routing.Default)
	if err != nil {
		return nil, err
	}
	namespaced, err := lookup("namespaced", routing.Namespaced)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(routing.Rules))
	for i, rule := range routing.Rules {
		if rule.Prefix == "" {
			return nil, fmt.Errorf("rule %d: prefix must not be empty", i)
		}
		if _, err := lookup(fmt.Sprintf("rule %d", i), rule.Provider); err != nil {
			return nil, err
		}
		rules = append(rules, Rule{Prefix: rule.Prefix, Provider: rule.Provider})
	}

	return &Router{
		registry:   registry,
		rules:      rules,
		fallback:   fallback,
		namespaced: namespaced,
		separator:  routing.Separator,
	}, nil
}

// Resolve picks the adapter for model: namespaced ids go to the aggregator,
// then the first matching prefix rule wins, then the default.
func (r *Router) Resolve(model string) provider.Provider {
	if strings.Contains(model, r.separator) {
		return r.namespaced
	}
	for _, rule := range r.rules {
		if strings.HasPrefix(model, rule.Prefix) {
			// Presence is checked in New.
			p, _ := r.registry.Lookup(rule.Provider)
			return p
		}
	}
	return r.fallback
}

// ResolveID returns the id of the adapter Resolve would pick.
func (r *Router) ResolveID(model string) string {
	return r.Resolve(model).ID()
}

// Registry exposes the underlying adapters.
func (r *Router) Registry() *provider.Registry {
	return r.registry
}

// Catalog is one adapter's model list, in registration order.
type Catalog struct {
	ProviderID string
	Models     []models.ModelInfo
}

// ListAllCatalogs queries every adapter concurrently. A failing adapter
// contributes an empty list for itself only.
func (r *Router) ListAllCatalogs(ctx context.Context) []Catalog {
	providers := r.registry.Providers()
	out := make([]Catalog, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := p.ListModels(ctx)
			if err != nil {
				slog.Warn("list models failed", "provider", p.ID(), "err", err)
				list = nil
			}
			if list == nil {
				list = []models.ModelInfo{}
			}
			out[i] = Catalog{ProviderID: p.ID(), Models: list}
		}()
	}
	wg.Wait()

	return out
}
