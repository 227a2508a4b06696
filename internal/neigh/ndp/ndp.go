// Package ndp implements neighbour resolution for IPv6 via Neighbor
// Discovery (RFC 4861).
package ndp

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/neighd/common/go/xpacket"
	"github.com/yanet-platform/neighd/internal/neigh"
	"github.com/yanet-platform/neighd/internal/topology"
)

const (
	hopLimit = 255

	flagRouter    = 0x80
	flagSolicited = 0x40
	flagOverride  = 0x20
)

var (
	allNodes    = netip.MustParseAddr("ff02::1")
	allNodesMAC = topology.MAC{0x33, 0x33, 0x00, 0x00, 0x00, 0x01}
)

var _ neigh.Protocol = (*Protocol)(nil)

// Protocol is the NDP adapter of the neighbour state machine.
type Protocol struct {
	topology neigh.Topology
}

// New creates an NDP adapter using the given topology for local addresses.
func New(topology neigh.Topology) *Protocol {
	return &Protocol{
		topology: topology,
	}
}

func (m *Protocol) Family() neigh.Family {
	return neigh.FamilyIPv6
}

// SolicitedNodeAddr returns the solicited-node multicast address of addr.
func SolicitedNodeAddr(addr netip.Addr) netip.Addr {
	a := addr.As16()
	return netip.AddrFrom16([16]byte{
		0xff, 0x02, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0x01, 0xff, a[13], a[14], a[15],
	})
}

// MulticastMAC returns the Ethernet address an IPv6 multicast group maps
// to.
func MulticastMAC(group netip.Addr) topology.MAC {
	a := group.As16()
	return topology.MAC{0x33, 0x33, a[12], a[13], a[14], a[15]}
}

// BuildProbe builds a neighbor solicitation. Discovery probes are sent to
// the solicited-node multicast group of the target, revalidation probes are
// unicast to the known link address.
func (m *Protocol) BuildProbe(key neigh.Key, target *neigh.Target) ([]byte, error) {
	iface, ok := m.topology.Interface(key.Scope)
	if !ok {
		return nil, fmt.Errorf("%w: %s", neigh.ErrUnknownScope, key.Scope)
	}

	src, ok := iface.SourceFor(key.Addr)
	if !ok {
		return nil, fmt.Errorf("no IPv6 address on %s", key.Scope)
	}

	dstAddr := SolicitedNodeAddr(key.Addr)
	dstMAC := MulticastMAC(dstAddr)
	if target != nil {
		dstAddr = key.Addr
		dstMAC = target.LinkAddr
	}

	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: key.Addr.AsSlice(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: iface.MAC.HardwareAddr()},
		},
	}

	return m.build(&iface, iface.Tagged, src, dstAddr, dstMAC, layers.ICMPv6TypeNeighborSolicitation, ns)
}

// Classify decodes a neighbor solicitation or advertisement.
func (m *Protocol) Classify(scope topology.Scope, port topology.Port, frame []byte) neigh.Classification {
	pkt := xpacket.ParseEtherPacket(frame)
	l2, ok := xpacket.LinkLayer(pkt)
	if !ok {
		return malformed("not an Ethernet frame")
	}
	if l2.Type != layers.EthernetTypeIPv6 {
		return notMine("not IPv6")
	}

	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok {
		return malformed("failed to decode IPv6")
	}
	if ip6.NextHeader != layers.IPProtocolICMPv6 {
		return notMine("not ICMPv6")
	}

	icmp, ok := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	if !ok {
		return malformed("failed to decode ICMPv6")
	}

	switch icmp.TypeCode.Type() {
	case layers.ICMPv6TypeNeighborSolicitation, layers.ICMPv6TypeNeighborAdvertisement:
	default:
		return notMine("not neighbor discovery")
	}

	// RFC 4861 7.1: packets that could have been forwarded are invalid.
	if ip6.HopLimit != hopLimit || icmp.TypeCode.Code() != 0 {
		return malformed("invalid hop limit or code")
	}
	if !validChecksum(ip6, icmp) {
		return malformed("bad ICMPv6 checksum")
	}

	iface, ok := m.topology.Interface(scope)
	if !ok {
		return notMine("unknown scope")
	}
	if l2.Tagged && l2.VLAN != scope.VLAN {
		return notMine("foreign VLAN")
	}

	frameSrc, _ := topology.MACFromSlice(l2.Ethernet.SrcMAC)
	if frameSrc == iface.MAC {
		return notMine("own frame")
	}

	src, _ := netip.AddrFromSlice(ip6.SrcIP)
	dst, _ := netip.AddrFromSlice(ip6.DstIP)

	if ns, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation); ok {
		return m.classifySolicitation(&iface, l2, port, frameSrc, src, dst, ns)
	}
	if na, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement); ok {
		return m.classifyAdvertisement(&iface, port, frameSrc, dst, na)
	}

	return malformed("failed to decode neighbor discovery message")
}

func (m *Protocol) classifySolicitation(
	iface *topology.Interface,
	l2 xpacket.L2,
	port topology.Port,
	frameSrc topology.MAC,
	src netip.Addr,
	dst netip.Addr,
	ns *layers.ICMPv6NeighborSolicitation,
) neigh.Classification {
	target, ok := netip.AddrFromSlice(ns.TargetAddress)
	if !ok || target.IsMulticast() {
		return malformed("invalid target address")
	}
	if !iface.HasAddr(target) {
		return notMine("solicitation for another host")
	}

	sllao, hasSLLAO := linkAddrOption(ns.Options, layers.ICMPv6OptSourceAddress)

	// Duplicate address detection of one of the local addresses.
	if src.IsUnspecified() {
		if hasSLLAO {
			return malformed("source link-layer option in DAD")
		}

		reply, err := m.buildAdvertisement(iface, l2.Tagged, target, allNodes, allNodesMAC, flagOverride)
		if err != nil {
			return malformed(err.Error())
		}

		return neigh.Classification{
			Verdict: neigh.VerdictRequestForLocal,
			Key:     neigh.Key{Scope: iface.Scope, Addr: src},
			Target:  neigh.Target{LinkAddr: frameSrc, Port: port},
			Reply:   reply,
		}
	}

	if iface.HasAddr(src) {
		return neigh.Classification{
			Verdict:  neigh.VerdictNotMine,
			Key:      neigh.Key{Scope: iface.Scope, Addr: src},
			Target:   neigh.Target{LinkAddr: frameSrc, Port: port},
			Conflict: true,
			Reason:   "sender claims a local address",
		}
	}

	requester := frameSrc
	if hasSLLAO {
		requester = sllao
	} else if dst.IsMulticast() {
		return malformed("multicast solicitation without source link-layer option")
	}

	reply, err := m.buildAdvertisement(iface, l2.Tagged, target, src, requester, flagSolicited|flagOverride)
	if err != nil {
		return malformed(err.Error())
	}

	return neigh.Classification{
		Verdict:        neigh.VerdictRequestForLocal,
		Key:            neigh.Key{Scope: iface.Scope, Addr: src},
		Target:         neigh.Target{LinkAddr: requester, Port: port},
		SourceMismatch: requester != frameSrc,
		Reply:          reply,
	}
}

func (m *Protocol) classifyAdvertisement(
	iface *topology.Interface,
	port topology.Port,
	frameSrc topology.MAC,
	dst netip.Addr,
	na *layers.ICMPv6NeighborAdvertisement,
) neigh.Classification {
	target, ok := netip.AddrFromSlice(na.TargetAddress)
	if !ok || target.IsMulticast() {
		return malformed("invalid target address")
	}

	solicited := na.Flags&flagSolicited != 0
	if solicited && dst.IsMulticast() {
		return malformed("solicited advertisement to a multicast group")
	}

	linkAddr := frameSrc
	tllao, hasTLLAO := linkAddrOption(na.Options, layers.ICMPv6OptTargetAddress)
	if hasTLLAO {
		linkAddr = tllao
	}

	c := neigh.Classification{
		Key:            neigh.Key{Scope: iface.Scope, Addr: target},
		Target:         neigh.Target{LinkAddr: linkAddr, Port: port},
		Unsolicited:    !solicited,
		Override:       na.Flags&flagOverride != 0,
		SourceMismatch: linkAddr != frameSrc,
	}

	if iface.HasAddr(target) {
		c.Verdict = neigh.VerdictNotMine
		c.Conflict = true
		c.Reason = "advertisement for a local address"
		return c
	}
	if linkAddr.IsZero() || linkAddr.IsMulticast() {
		return malformed("invalid target link-layer address")
	}
	if solicited && !iface.HasAddr(dst) {
		return notMine("advertisement for another host")
	}
	if !iface.OnLink(target) {
		return notMine("target is not on-link")
	}

	c.Verdict = neigh.VerdictConfirming
	return c
}

// AuthoritativeForUnsolicited accepts unsolicited advertisements only with
// the override flag, from an on-link target on a member port, and only
// when the target link-layer option matches the Ethernet source.
func (m *Protocol) AuthoritativeForUnsolicited(c neigh.Classification) bool {
	iface, ok := m.topology.Interface(c.Key.Scope)
	if !ok {
		return false
	}

	return c.Override &&
		!c.SourceMismatch &&
		!c.Target.LinkAddr.IsMulticast() &&
		iface.HasPort(c.Target.Port) &&
		iface.OnLink(c.Key.Addr) &&
		!iface.HasAddr(c.Key.Addr)
}

func (m *Protocol) buildAdvertisement(
	iface *topology.Interface,
	tagged bool,
	target netip.Addr,
	dstAddr netip.Addr,
	dstMAC topology.MAC,
	flags uint8,
) ([]byte, error) {
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         flags,
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptTargetAddress, Data: iface.MAC.HardwareAddr()},
		},
	}

	return m.build(iface, tagged, target, dstAddr, dstMAC, layers.ICMPv6TypeNeighborAdvertisement, na)
}

func (m *Protocol) build(
	iface *topology.Interface,
	tagged bool,
	src netip.Addr,
	dst netip.Addr,
	dstMAC topology.MAC,
	typ uint8,
	body gopacket.SerializableLayer,
) ([]byte, error) {
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   hopLimit,
		SrcIP:      src.AsSlice(),
		DstIP:      dst.AsSlice(),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(typ, 0),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}

	lyrs := xpacket.EthernetLayers(iface.MAC.HardwareAddr(), dstMAC.HardwareAddr(), iface.Scope.VLAN, tagged, layers.EthernetTypeIPv6)
	return xpacket.Serialize(append(lyrs, ip6, icmp, body)...)
}

func linkAddrOption(options layers.ICMPv6Options, typ layers.ICMPv6Opt) (topology.MAC, bool) {
	for _, opt := range options {
		if opt.Type != typ {
			continue
		}

		return topology.MACFromSlice(opt.Data)
	}

	return topology.MAC{}, false
}

func malformed(reason string) neigh.Classification {
	return neigh.Classification{Verdict: neigh.VerdictMalformed, Reason: reason}
}

func notMine(reason string) neigh.Classification {
	return neigh.Classification{Verdict: neigh.VerdictNotMine, Reason: reason}
}

func validChecksum(ip6 *layers.IPv6, icmp *layers.ICMPv6) bool {
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return false
	}

	err, result := icmp.VerifyChecksum()
	return err == nil && result.Valid
}
