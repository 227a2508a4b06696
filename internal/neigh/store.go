package neigh

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/yanet-platform/neighd/internal/topology"
)

// Store maps keys to neighbour entries, at most one entry per key.
//
// It is not safe for concurrent use and is owned by a single Machine.
type Store struct {
	scopes  map[topology.Scope]map[netip.Addr]*Entry
	size    int
	byState map[State]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		scopes:  map[topology.Scope]map[netip.Addr]*Entry{},
		byState: map[State]int{},
	}
}

// Get returns the entry for the key.
func (m *Store) Get(key Key) (*Entry, bool) {
	entry, ok := m.scopes[key.Scope][key.Addr]
	return entry, ok
}

// Insert adds a new entry, failing if one already exists for its key.
func (m *Store) Insert(entry *Entry) error {
	entries, ok := m.scopes[entry.Key.Scope]
	if !ok {
		entries = map[netip.Addr]*Entry{}
		m.scopes[entry.Key.Scope] = entries
	}
	if _, ok := entries[entry.Key.Addr]; ok {
		return fmt.Errorf("entry for %s already exists", entry.Key)
	}

	entries[entry.Key.Addr] = entry
	m.size++
	m.byState[entry.State]++
	return nil
}

// Delete removes the entry for the key and returns it.
func (m *Store) Delete(key Key) (*Entry, bool) {
	entries, ok := m.scopes[key.Scope]
	if !ok {
		return nil, false
	}
	entry, ok := entries[key.Addr]
	if !ok {
		return nil, false
	}

	delete(entries, key.Addr)
	if len(entries) == 0 {
		delete(m.scopes, key.Scope)
	}
	m.size--
	m.byState[entry.State]--
	return entry, true
}

// SetState changes the state of a stored entry, keeping counters in sync.
func (m *Store) SetState(entry *Entry, state State) {
	m.byState[entry.State]--
	entry.State = state
	m.byState[state]++
}

// Scope returns entries of a single scope ordered by address.
func (m *Store) Scope(scope topology.Scope) []*Entry {
	entries := make([]*Entry, 0, len(m.scopes[scope]))
	for _, entry := range m.scopes[scope] {
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b *Entry) int {
		return a.Key.Addr.Compare(b.Key.Addr)
	})
	return entries
}

// Scopes returns all scopes that have at least one entry.
func (m *Store) Scopes() []topology.Scope {
	scopes := make([]topology.Scope, 0, len(m.scopes))
	for scope := range m.scopes {
		scopes = append(scopes, scope)
	}

	return scopes
}

// Len returns the number of entries.
func (m *Store) Len() int {
	return m.size
}

// Count returns the number of entries in the given state.
func (m *Store) Count(state State) int {
	return m.byState[state]
}
