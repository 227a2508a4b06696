package swstate

import (
	"fmt"
	"iter"
	"maps"
	"net/netip"

	"github.com/yanet-platform/neighd/internal/topology"
)

// NeighborKey identifies a neighbor within the switch state.
type NeighborKey struct {
	Scope topology.Scope
	Addr  netip.Addr
}

func (m NeighborKey) String() string {
	return fmt.Sprintf("%s@%s", m.Addr, m.Scope)
}

// NeighborEntry is a point-in-time fact about a neighbor.
type NeighborEntry struct {
	Addr netip.Addr
	// LinkAddr and Port are meaningful only when Valid is set.
	LinkAddr topology.MAC
	Port     topology.Port
	// Valid is unset while the neighbor is still being resolved, in which
	// case traffic towards it must be punted to the CPU.
	Valid bool
}

// State is an immutable version of the switch state.
type State struct {
	version   uint64
	parent    uint64
	neighbors map[NeighborKey]NeighborEntry
}

func newEmptyState() *State {
	return &State{
		neighbors: map[NeighborKey]NeighborEntry{},
	}
}

// Version returns the version of this state.
func (m *State) Version() uint64 {
	return m.version
}

// Neighbor returns the neighbor entry for the specified key.
func (m *State) Neighbor(key NeighborKey) (NeighborEntry, bool) {
	entry, ok := m.neighbors[key]
	return entry, ok
}

// Neighbors returns neighbor entries as an iterator along with their count.
func (m *State) Neighbors() (iter.Seq2[NeighborKey, NeighborEntry], int) {
	return maps.All(m.neighbors), len(m.neighbors)
}

// Derive starts building the next version from this one.
func (m *State) Derive() *Builder {
	return &Builder{base: m}
}

// Builder collects modifications of a State.
//
// The underlying table is copied on the first write, so deriving without
// modifying anything is free.
type Builder struct {
	base      *State
	neighbors map[NeighborKey]NeighborEntry
}

func (m *Builder) mutable() map[NeighborKey]NeighborEntry {
	if m.neighbors == nil {
		m.neighbors = maps.Clone(m.base.neighbors)
	}

	return m.neighbors
}

// SetNeighbor inserts or replaces a neighbor entry.
//
// Link address and port of an invalid entry are cleared so that they never
// appear without each other.
func (m *Builder) SetNeighbor(key NeighborKey, entry NeighborEntry) {
	if !entry.Valid {
		entry.LinkAddr = topology.MAC{}
		entry.Port = 0
	}
	entry.Addr = key.Addr

	m.mutable()[key] = entry
}

// DeleteNeighbor removes a neighbor entry, reporting whether it existed.
func (m *Builder) DeleteNeighbor(key NeighborKey) bool {
	if _, ok := m.base.neighbors[key]; !ok && m.neighbors == nil {
		return false
	}

	neighbors := m.mutable()
	_, ok := neighbors[key]
	delete(neighbors, key)
	return ok
}

// Build returns the next version.
func (m *Builder) Build() *State {
	neighbors := m.neighbors
	if neighbors == nil {
		neighbors = m.base.neighbors
	}

	return &State{
		version:   m.base.version + 1,
		parent:    m.base.version,
		neighbors: neighbors,
	}
}
