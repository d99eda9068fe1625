package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"polychat/internal/models"
)

// ErrUnknownProvider indicates the requested provider id is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrDuplicateProvider indicates an attempt to register the same id twice.
var ErrDuplicateProvider = errors.New("provider already registered")

// Provider is one upstream vendor adapter.
//
// Stream never fails: every failure mode is rendered as a content event
// followed by a done event. Each call opens a fresh upstream connection and
// the returned sequence can be ranged over once.
type Provider interface {
	ID() string
	ListModels(ctx context.Context) ([]models.ModelInfo, error)
	Stream(ctx context.Context, req models.ChatRequest) iter.Seq[models.Event]
}

// Registry is the immutable set of adapters, kept in registration order.
type Registry struct {
	order []Provider
	byID  map[string]Provider
}

// NewRegistry builds a registry from the given providers. The result is
// read-only and safe for concurrent use.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		order: make([]Provider, 0, len(providers)),
		byID:  make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("provider must not be nil")
		}
		id := strings.TrimSpace(p.ID())
		if id == "" {
			return nil, errors.New("provider id must not be empty")
		}
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
		}
		r.byID[id] = p
		r.order = append(r.order, p)
	}
	return r, nil
}

// Lookup returns the provider registered under id.
func (r *Registry) Lookup(id string) (Provider, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// Providers returns every provider in registration order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.order))
	copy(out, r.order)
	return out
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, p.ID())
	}
	return out
}
