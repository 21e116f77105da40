// Package registry holds the process-wide table of transcription backends.
// Backends register a factory from their package init, so importing a
// backend package is all it takes to make it available.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/itttm127/speech-to-text/internal/speech/engine"
)

// Factory builds a transcription engine from backend config values.
type Factory func(config map[string]string) (engine.Transcriber, error)

// Registry maps backend names to engine factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// Engines is the process-wide backend registry.
var Engines = &Registry{factories: make(map[string]Factory)}

// Register adds a named factory, replacing any previous entry for the name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds an engine using the named factory.
func (r *Registry) Create(name string, config map[string]string) (engine.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return factory(config)
}

// Has reports whether a backend with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered backend names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
