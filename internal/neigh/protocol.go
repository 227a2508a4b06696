package neigh

import (
	"github.com/yanet-platform/neighd/internal/topology"
)

// Family is an address family served by a protocol.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (m Family) String() string {
	switch m {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of inbound packet classification.
type Verdict uint8

const (
	// VerdictNotMine means the packet is irrelevant for resolution.
	VerdictNotMine Verdict = iota
	// VerdictConfirming means the packet maps Key to Target.
	VerdictConfirming
	// VerdictRequestForLocal means someone is resolving one of the local
	// addresses and Reply must be sent back.
	VerdictRequestForLocal
	// VerdictMalformed means the packet could not be decoded or violates
	// the protocol.
	VerdictMalformed
)

func (m Verdict) String() string {
	switch m {
	case VerdictNotMine:
		return "not_mine"
	case VerdictConfirming:
		return "confirming"
	case VerdictRequestForLocal:
		return "request_for_local"
	case VerdictMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Classification describes an inbound packet in protocol-neutral terms.
type Classification struct {
	Verdict Verdict
	// Key is the neighbour the packet speaks about, or the requester for
	// VerdictRequestForLocal.
	Key Key
	// Target is the link address the sender claims and the ingress port.
	Target Target
	// Unsolicited is set for announcements that cannot be an answer to a
	// local probe.
	Unsolicited bool
	// Override is set when the sender asks to override cached entries.
	Override bool
	// SourceMismatch is set when the claimed link address differs from
	// the frame's source address.
	SourceMismatch bool
	// Conflict is set when the sender claims one of the local addresses.
	Conflict bool
	// Reply is the frame answering a VerdictRequestForLocal request.
	Reply []byte
	// Reason explains VerdictMalformed and VerdictNotMine.
	Reason string
}

// Protocol is the capability set a resolution protocol provides to the
// Machine.
type Protocol interface {
	// Family returns the address family this protocol resolves.
	Family() Family
	// BuildProbe builds a probe for key. A nil target requests discovery
	// via broadcast or multicast, otherwise a unicast probe towards the
	// target is built.
	BuildProbe(key Key, target *Target) ([]byte, error)
	// Classify decodes an inbound frame received on the given scope and
	// port.
	Classify(scope topology.Scope, port topology.Port, frame []byte) Classification
	// AuthoritativeForUnsolicited reports whether an unsolicited
	// announcement may create or update an entry.
	AuthoritativeForUnsolicited(c Classification) bool
}

// Transport transmits frames.
type Transport interface {
	// Transmit sends the frame within the scope. A topology.PortAny port
	// lets the transport flood the frame to all member ports.
	Transmit(scope topology.Scope, port topology.Port, frame []byte) error
}

// Topology provides the local interfaces of scopes.
type Topology interface {
	Interface(scope topology.Scope) (topology.Interface, bool)
}
