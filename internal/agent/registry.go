package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds statically registered agents. Thread-safe; registration
// happens at wiring time, lookups at request time.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. Duplicate names are an error.
func (r *Registry) Register(a Agent) error {
	if a.Name() == "" {
		return fmt.Errorf("agent has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, a.Name())
	}
	r.agents[a.Name()] = a
	return nil
}

// MustRegister registers and panics on error. For wiring-time registration
// of the builtin set.
func (r *Registry) MustRegister(a Agent) {
	if err := r.Register(a); err != nil {
		panic(fmt.Sprintf("register agent %s: %v", a.Name(), err))
	}
}

// Get returns an agent by name, or nil.
func (r *Registry) Get(name string) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
