// Copyright 2025 James Ross
package adapter

import (
	"sync"

	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/ledger"
	"go.uber.org/zap"
)

// Dependencies are the injected collaborators every adapter factory
// receives. Factories never construct their own HTTP client or ledger —
// both are process-wide singletons owned by cmd/ingest.
type Dependencies struct {
	HTTP   *httpclient.Client
	Ledger *ledger.Ledger
	Log    *zap.Logger
}

// Factory builds a concrete AdapterRuntime from injected dependencies.
// Concrete source packages register a Factory under their source name.
type Factory func(deps Dependencies) (AdapterRuntime, error)

// Registry is the process-wide, read-only-after-startup mapping from
// source name to adapter factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, overwriting any prior registration
// for the same name — used by cmd/ingest at startup, before any lookups.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns every registered source name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// Build looks up name and invokes its factory with deps. Returns
// UnknownAdapter if no factory was registered under that name.
func (r *Registry) Build(name string, deps Dependencies) (AdapterRuntime, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownAdapter{Name: name}
	}
	if deps.HTTP == nil {
		return nil, &MissingDependency{Source: name, Field: "HTTP"}
	}
	if deps.Ledger == nil {
		return nil, &MissingDependency{Source: name, Field: "Ledger"}
	}
	if deps.Log == nil {
		return nil, &MissingDependency{Source: name, Field: "Log"}
	}
	return f(deps)
}
