package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/nodeflow/internal/unit"
)

// ErrUnknownType is returned when no factory is registered for a node type.
var ErrUnknownType = errors.New("unknown node type")

// Module is the interface that all node modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the node factories of a single application instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]unit.Factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]unit.Factory)}
}

// RegisterNode registers the factory for a node type. Registering a name
// twice is a programming error.
func (r *Registry) RegisterNode(name string, f unit.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("node type '%s' already registered", name))
	}
	slog.Debug("Registering node type.", "name", name)
	r.factories[name] = f
}

// Create returns a fresh model of the given type.
func (r *Registry) Create(name string) (unit.Model, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return f(), nil
}

// Names returns the registered node types, sorted.
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

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
