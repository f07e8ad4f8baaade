package sensor

import (
	"slices"
	"sync"
)

// Registry holds the sensors known to a process. It is built at startup,
// from code or from configuration, and handed to the driver.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates def and adds it. Names must be unique.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return newDefinitionError("", "", "definition is nil", nil)
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return newDefinitionError(def.Name, "name", "a sensor with this name is already registered", nil)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister is Register for static setups; it panics on error.
func (r *Registry) MustRegister(defs ...*Definition) *Registry {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns every definition ordered by name.
func (r *Registry) All() []*Definition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		if def, ok := r.defs[name]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
