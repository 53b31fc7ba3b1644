package provider

import (
	"sync"

	"aina-assist/internal/catalog"
)

// Factory builds an adapter for a descriptor.
type Factory func(d catalog.Descriptor) (Adapter, error)

type entry struct {
	once    sync.Once
	adapter Adapter
	err     error
}

// Registry is the process-wide client cache: one adapter per provider id and
// endpoint, constructed lazily exactly once per key. Reads after the first
// construction take only the map lock briefly; construction itself is
// serialized per key, so two concurrent first uses never build twice.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
	}
}

// Get returns the adapter for a descriptor, constructing it on first use.
func (r *Registry) Get(d catalog.Descriptor) (Adapter, error) {
	key := d.ID + "|" + d.Endpoint

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.adapter, e.err = r.factory(d)
	})
	return e.adapter, e.err
}

// Len reports how many clients have been constructed or requested.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
