package sandbox

import (
	"fmt"
	"sort"
	"sync"
)

// Info pairs a sandbox mode name with its capabilities.
type Info struct {
	Mode         string       `json:"mode"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered sandbox factories keyed by mode name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty sandbox registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory to the registry under the given mode name.
func (r *Registry) Register(mode string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[mode] = f
}

// Resolve returns the factory for the given mode, or an error naming the
// registered modes when it is unknown.
func (r *Registry) Resolve(mode string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[mode]
	if !ok {
		modes := make([]string, 0, len(r.factories))
		for m := range r.factories {
			modes = append(modes, m)
		}
		sort.Strings(modes)
		return nil, fmt.Errorf("sandbox mode %q is not registered (have %v)", mode, modes)
	}
	return f, nil
}

// List returns information about all registered factories, sorted by mode
// for a stable response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.factories))
	for mode, f := range r.factories {
		infos = append(infos, Info{
			Mode:         mode,
			Capabilities: f.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Mode < infos[j].Mode
	})
	return infos
}
