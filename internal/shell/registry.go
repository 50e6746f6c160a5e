package shell

import (
	"fmt"
	"sync"
)

// Registry collects matchers supplied at startup (built-ins first, then
// plugins) and preserves their registration order.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	matchers map[string]Matcher
}

// NewRegistry returns a registry pre-populated with DefaultMatchers.
func NewRegistry() *Registry {
	r := &Registry{matchers: map[string]Matcher{}}
	for _, m := range DefaultMatchers() {
		r.MustRegister(m)
	}
	return r
}

// Register appends a matcher. Returns an error if the name already exists.
func (r *Registry) Register(m Matcher) error {
	if m == nil {
		return fmt.Errorf("shell: matcher is required")
	}
	name := m.Name()
	if name == "" {
		return fmt.Errorf("shell: matcher name is required")
	}
	if len(m.Extensions()) == 0 {
		return fmt.Errorf("shell: matcher %s declares no extensions", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.matchers[name]; exists {
		return fmt.Errorf("shell: matcher %s already registered", name)
	}
	r.matchers[name] = m
	r.order = append(r.order, name)
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(m Matcher) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Matchers returns the registered matchers in registration order.
func (r *Registry) Matchers() []Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Matcher, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.matchers[name])
	}
	return out
}

// Names returns matcher names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Resolver builds an immutable Resolver from the current registrations.
func (r *Registry) Resolver() *Resolver {
	return NewResolver(r.Matchers()...)
}
