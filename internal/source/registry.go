package source

import (
	"fmt"

	"github.com/omnisource/ingest/pkg/config"
	pkgerrors "github.com/omnisource/ingest/pkg/errors"
	"github.com/omnisource/ingest/pkg/resilience"
)

// Entry couples one adapter with its configuration and the circuit breaker
// guarding it. One Entry exists per distinct source identity for the life of
// the process.
type Entry struct {
	Adapter Adapter
	Config  config.SourceConfig
	Breaker *resilience.CircuitBreaker
}

// Registry holds the enabled adapters in their configured order. That order
// is the adapter invocation order and defines merge tie-breaking, so it must
// be deterministic across requests.
type Registry struct {
	entries []*Entry
	byName  map[string]*Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Entry)}
}

// Register appends an entry. Duplicate names are rejected.
func (r *Registry) Register(e *Entry) error {
	name := e.Adapter.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.entries = append(r.entries, e)
	r.byName[name] = e
	return nil
}

// All returns every registered entry in invocation order.
func (r *Registry) All() []*Entry {
	return r.entries
}

// Get returns the entry for a source name, or nil.
func (r *Registry) Get(name string) *Entry {
	return r.byName[name]
}

// Resolve returns the entries matching the requested source names, preserving
// invocation order. An empty request selects every registered source. Names
// that match nothing are skipped; if the selection ends up empty,
// ErrNoAvailableSources is returned.
func (r *Registry) Resolve(names []string) ([]*Entry, error) {
	if len(names) == 0 {
		if len(r.entries) == 0 {
			return nil, pkgerrors.ErrNoAvailableSources
		}
		return r.entries, nil
	}
	requested := make(map[string]struct{}, len(names))
	for _, n := range names {
		requested[n] = struct{}{}
	}
	selected := make([]*Entry, 0, len(names))
	for _, e := range r.entries {
		if _, ok := requested[e.Adapter.Name()]; ok {
			selected = append(selected, e)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: none of %v is registered", pkgerrors.ErrNoAvailableSources, names)
	}
	return selected, nil
}
