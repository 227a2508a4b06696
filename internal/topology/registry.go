package topology

import (
	"cmp"
	"slices"
	"sync"
)

// Registry is a set of known scopes and their local interfaces.
//
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[Scope]Interface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		interfaces: map[Scope]Interface{},
	}
}

// Add registers the interface, replacing any previous interface with the
// same scope.
func (m *Registry) Add(iface Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.interfaces[iface.Scope] = iface
}

// Remove unregisters the scope, returning the interface that was bound to it.
func (m *Registry) Remove(scope Scope) (Interface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	iface, ok := m.interfaces[scope]
	delete(m.interfaces, scope)
	return iface, ok
}

// Interface returns the interface bound to the scope.
func (m *Registry) Interface(scope Scope) (Interface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	iface, ok := m.interfaces[scope]
	return iface, ok
}

// Scopes returns all registered scopes ordered by interface index and VLAN.
func (m *Registry) Scopes() []Scope {
	m.mu.RLock()
	scopes := make([]Scope, 0, len(m.interfaces))
	for scope := range m.interfaces {
		scopes = append(scopes, scope)
	}
	m.mu.RUnlock()

	slices.SortFunc(scopes, func(a, b Scope) int {
		return cmp.Or(cmp.Compare(a.Interface, b.Interface), cmp.Compare(a.VLAN, b.VLAN))
	})
	return scopes
}

// ByIndex returns the scopes bound to the given interface index.
func (m *Registry) ByIndex(index int) []Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scopes := []Scope{}
	for scope := range m.interfaces {
		if scope.Interface == index {
			scopes = append(scopes, scope)
		}
	}

	return scopes
}
