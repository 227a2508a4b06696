package topology

import (
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/yanet-platform/neighd/common/go/xnetip"
)

// Scope is the VLAN and interface context within which a neighbour address
// is resolved.
type Scope struct {
	// VLAN is the 802.1Q VLAN identifier, zero for untagged interfaces.
	VLAN uint16
	// Interface is the interface index.
	Interface int
}

func (m Scope) String() string {
	return fmt.Sprintf("vlan%d/if%d", m.VLAN, m.Interface)
}

// Port identifies a switch port a neighbour was learned on.
type Port uint32

// MAC is an EUI-48 hardware address.
//
// Unlike net.HardwareAddr it is comparable and can be used as a map key.
type MAC [6]byte

// BroadcastMAC is the Ethernet broadcast address.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// MACFromSlice converts the given slice into MAC, reporting whether the
// slice is exactly 6 bytes long.
func MACFromSlice(b []byte) (MAC, bool) {
	if len(b) != 6 {
		return MAC{}, false
	}

	return MAC(b), true
}

// ParseMAC parses an EUI-48 address in any format accepted by net.ParseMAC.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}

	mac, ok := MACFromSlice(hw)
	if !ok {
		return MAC{}, fmt.Errorf("unsupported MAC address %q: must be EUI-48", s)
	}

	return mac, nil
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether this is the all-zeros address.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsMulticast reports whether the group bit is set, which includes the
// broadcast address.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// HardwareAddr returns a copy of this address as net.HardwareAddr.
func (m MAC) HardwareAddr() net.HardwareAddr {
	return slices.Clone(m[:])
}

// Interface describes a local L3 interface bound to a scope.
//
// Values returned from the Registry must be treated as immutable.
type Interface struct {
	Scope Scope
	// Name is the operating system name of the interface.
	Name string
	// MAC is the interface's own hardware address.
	MAC MAC
	// Prefixes are the interface addresses with their on-link masks.
	Prefixes []netip.Prefix
	// Ports are the member ports of the scope, see LinkPort. Empty means
	// any port.
	Ports []Port
	// Tagged is set when frames on this interface carry an 802.1Q tag.
	Tagged bool
}

// HasAddr reports whether the given address is one of the interface's own
// addresses.
func (m *Interface) HasAddr(addr netip.Addr) bool {
	for _, prefix := range m.Prefixes {
		if prefix.Addr() == addr {
			return true
		}
	}

	return false
}

// OnLink reports whether the given address belongs to one of the
// interface's subnets.
func (m *Interface) OnLink(addr netip.Addr) bool {
	if addr.Is6() && addr.IsLinkLocalUnicast() {
		return true
	}

	for _, prefix := range m.Prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}

// IsSubnetBroadcast reports whether the address is the directed broadcast
// address of one of the interface's IPv4 subnets.
//
// Point-to-point /31 and host /32 subnets have no broadcast address.
func (m *Interface) IsSubnetBroadcast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}

	for _, prefix := range m.Prefixes {
		if prefix.Addr().Is4() && prefix.Bits() < 31 && xnetip.LastAddr(prefix) == addr {
			return true
		}
	}

	return false
}

// HasPort reports whether the port is a member of the interface's scope.
func (m *Interface) HasPort(port Port) bool {
	if len(m.Ports) == 0 {
		return true
	}

	return slices.Contains(m.Ports, port)
}

// SourceFor selects a local address to originate packets destined to dst.
//
// An address from a subnet containing dst wins, then an IPv6 link-local
// address, then any address of the same family.
func (m *Interface) SourceFor(dst netip.Addr) (netip.Addr, bool) {
	var linkLocal, fallback netip.Addr

	for _, prefix := range m.Prefixes {
		addr := prefix.Addr()
		if addr.Is4() != dst.Is4() {
			continue
		}
		if prefix.Contains(dst) {
			return addr, true
		}
		if addr.IsLinkLocalUnicast() && !linkLocal.IsValid() {
			linkLocal = addr
		}
		if !fallback.IsValid() {
			fallback = addr
		}
	}

	if linkLocal.IsValid() {
		return linkLocal, true
	}

	return fallback, fallback.IsValid()
}

// LinkPort returns the port of frames received on the link with the given
// interface index. Transports label inbound frames with it and scopes list
// their member links with it.
func LinkPort(index int) Port {
	return Port(index)
}

// PortAny is passed to transports to flood a frame within a scope.
const PortAny Port = 0
