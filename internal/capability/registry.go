package capability

import (
	"fmt"
	"sort"
	"sync"
)

// UnknownCapabilityError reports a resolve for a name nobody registered.
type UnknownCapabilityError struct {
	Name string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability: %s", e.Name)
}

// Descriptor is the catalog entry for a registered capability.
type Descriptor struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Factory constructs a capability instance. Factories run lazily on first
// resolve, so expensive setup is deferred until a flow actually needs the
// capability.
type Factory func() (Capability, error)

type entry struct {
	descriptor Descriptor
	factory    Factory

	mu       sync.Mutex
	instance Capability
}

// Registry maps capability names to lazily constructed instances. The first
// successful resolve per name is memoized; a factory error is returned to
// the caller and not cached, so the next resolve retries the load. Entries
// lock independently, so a slow or failing load never blocks other names.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a capability under desc.Name. Registering the same name
// again replaces the previous entry.
func (r *Registry) Register(desc Descriptor, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[desc.Name] = &entry{descriptor: desc, factory: factory}
}

// Resolve returns the instance for name, constructing it on first use.
func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.RLock()
	ent, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownCapabilityError{Name: name}
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.instance != nil {
		return ent.instance, nil
	}

	instance, err := ent.factory()
	if err != nil {
		return nil, fmt.Errorf("loading capability %s: %w", name, err)
	}

	ent.instance = instance
	return instance, nil
}

// Describe returns the descriptor registered under name.
func (r *Registry) Describe(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, ok := r.entries[name]
	if !ok {
		return Descriptor{}, &UnknownCapabilityError{Name: name}
	}
	return ent.descriptor, nil
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns all catalog entries, sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.entries))
	for _, ent := range r.entries {
		descriptors = append(descriptors, ent.descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}
