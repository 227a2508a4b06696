package neigh

// State is the resolution state of a neighbour entry.
type State uint8

const (
	// StateUnresolved means there is no entry for the key.
	StateUnresolved State = iota
	// StatePending means a discovery probe is in flight.
	StatePending
	// StateReachable means the entry was confirmed recently.
	StateReachable
	// StateStale means the entry is usable but must be revalidated.
	StateStale
	// StateProbeRevalidate means a unicast probe towards the known link
	// address is in flight.
	StateProbeRevalidate
	// StateExpired is terminal, the entry has been removed.
	StateExpired
)

// String returns string representation of this state.
func (m State) String() string {
	switch m {
	case StateUnresolved:
		return "UNRESOLVED"
	case StatePending:
		return "PENDING"
	case StateReachable:
		return "REACHABLE"
	case StateStale:
		return "STALE"
	case StateProbeRevalidate:
		return "PROBE_REVALIDATE"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Resolved reports whether entries in this state carry a link address.
func (m State) Resolved() bool {
	switch m {
	case StateReachable, StateStale, StateProbeRevalidate:
		return true
	default:
		return false
	}
}

var allStates = []State{
	StatePending,
	StateReachable,
	StateStale,
	StateProbeRevalidate,
}
