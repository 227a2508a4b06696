package neigh

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yanet-platform/neighd/internal/swstate"
	"github.com/yanet-platform/neighd/internal/topology"
)

// Key identifies a neighbour entry.
type Key struct {
	Scope topology.Scope
	Addr  netip.Addr
}

func (m Key) String() string {
	return fmt.Sprintf("%s@%s", m.Addr, m.Scope)
}

func (m Key) stateKey() swstate.NeighborKey {
	return swstate.NeighborKey{Scope: m.Scope, Addr: m.Addr}
}

// Target is where traffic for a resolved neighbour is sent.
//
// Link address and port always travel together.
type Target struct {
	LinkAddr topology.MAC
	Port     topology.Port
}

func (m Target) String() string {
	return fmt.Sprintf("%s port %d", m.LinkAddr, m.Port)
}

// Entry is a neighbour entry together with its lifecycle metadata.
//
// Entries are owned by the Store and mutated only by the Machine.
type Entry struct {
	Key Key
	// Target is nil while the entry is PENDING.
	Target *Target
	State  State
	// Retries is the number of probes sent after the first one in the
	// current probing sequence.
	Retries     int
	CreatedAt   time.Time
	ConfirmedAt time.Time
	// NextActionAt is when the armed timer fires.
	NextActionAt time.Time
	// Generation identifies the armed timer, it never repeats within the
	// owning Machine.
	Generation uint64

	backoff backoff.BackOff
}

// Info is a diagnostic copy of an entry.
type Info struct {
	Key          Key
	State        State
	Target       *Target
	Retries      int
	Age          time.Duration
	NextActionAt time.Time
}

func (m *Entry) info(now time.Time) Info {
	since := m.CreatedAt
	if !m.ConfirmedAt.IsZero() {
		since = m.ConfirmedAt
	}

	info := Info{
		Key:          m.Key,
		State:        m.State,
		Retries:      m.Retries,
		Age:          now.Sub(since),
		NextActionAt: m.NextActionAt,
	}
	if m.Target != nil {
		target := *m.Target
		info.Target = &target
	}

	return info
}

// Update is a change of a single neighbour to be published into the switch
// state.
type Update struct {
	Key Key
	// Entry is the published value, ignored when Removed is set.
	Entry   swstate.NeighborEntry
	Removed bool
}

func (m *Entry) snapshot() Update {
	entry := swstate.NeighborEntry{Addr: m.Key.Addr}
	if m.Target != nil {
		entry.LinkAddr = m.Target.LinkAddr
		entry.Port = m.Target.Port
		entry.Valid = true
	}

	return Update{Key: m.Key, Entry: entry}
}
