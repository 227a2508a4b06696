// Package arp implements neighbour resolution for IPv4 over Ethernet.
package arp

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/neighd/common/go/xpacket"
	"github.com/yanet-platform/neighd/internal/neigh"
	"github.com/yanet-platform/neighd/internal/topology"
)

var _ neigh.Protocol = (*Protocol)(nil)

// Protocol is the ARP adapter of the neighbour state machine.
type Protocol struct {
	topology neigh.Topology
}

// New creates an ARP adapter using the given topology for local addresses.
func New(topology neigh.Topology) *Protocol {
	return &Protocol{
		topology: topology,
	}
}

func (m *Protocol) Family() neigh.Family {
	return neigh.FamilyIPv4
}

// BuildProbe builds a broadcast ARP request, or a unicast one addressed to
// the target's link address when target is set.
func (m *Protocol) BuildProbe(key neigh.Key, target *neigh.Target) ([]byte, error) {
	iface, ok := m.topology.Interface(key.Scope)
	if !ok {
		return nil, fmt.Errorf("%w: %s", neigh.ErrUnknownScope, key.Scope)
	}

	src, ok := iface.SourceFor(key.Addr)
	if !ok {
		return nil, fmt.Errorf("no IPv4 address on %s", key.Scope)
	}

	dst := topology.BroadcastMAC
	if target != nil {
		dst = target.LinkAddr
	}

	request := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   iface.MAC.HardwareAddr(),
		SourceProtAddress: src.AsSlice(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    key.Addr.AsSlice(),
	}

	lyrs := xpacket.EthernetLayers(iface.MAC.HardwareAddr(), dst.HardwareAddr(), iface.Scope.VLAN, iface.Tagged, layers.EthernetTypeARP)
	return xpacket.Serialize(append(lyrs, request)...)
}

// Classify decodes an ARP frame.
//
// Gratuitous requests and replies are unsolicited announcements, replies
// addressed to a local address confirm outstanding probes and requests for
// a local address are answered.
func (m *Protocol) Classify(scope topology.Scope, port topology.Port, frame []byte) neigh.Classification {
	pkt := xpacket.ParseEtherPacket(frame)
	l2, ok := xpacket.LinkLayer(pkt)
	if !ok {
		return malformed("not an Ethernet frame")
	}
	if l2.Type != layers.EthernetTypeARP {
		return notMine("not ARP")
	}

	packet, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	if !ok {
		return malformed("failed to decode ARP")
	}
	if packet.AddrType != layers.LinkTypeEthernet ||
		packet.Protocol != layers.EthernetTypeIPv4 ||
		packet.HwAddressSize != 6 ||
		packet.ProtAddressSize != 4 {
		return malformed("unsupported ARP address types")
	}

	iface, ok := m.topology.Interface(scope)
	if !ok {
		return notMine("unknown scope")
	}
	if l2.Tagged && l2.VLAN != scope.VLAN {
		return notMine("foreign VLAN")
	}

	sha, _ := topology.MACFromSlice(packet.SourceHwAddress)
	tha, _ := topology.MACFromSlice(packet.DstHwAddress)
	spa := netip.AddrFrom4([4]byte(packet.SourceProtAddress))
	tpa := netip.AddrFrom4([4]byte(packet.DstProtAddress))

	if sha.IsZero() || sha.IsMulticast() {
		return malformed("invalid sender hardware address")
	}
	if sha == iface.MAC {
		return notMine("own frame")
	}

	frameSrc, _ := topology.MACFromSlice(l2.Ethernet.SrcMAC)
	c := neigh.Classification{
		Key:            neigh.Key{Scope: scope, Addr: spa},
		Target:         neigh.Target{LinkAddr: sha, Port: port},
		SourceMismatch: frameSrc != sha,
	}

	if iface.IsSubnetBroadcast(spa) {
		return malformed("sender claims the subnet broadcast address")
	}
	if iface.HasAddr(spa) {
		c.Verdict = neigh.VerdictNotMine
		c.Conflict = true
		c.Reason = "sender claims a local address"
		return c
	}

	switch packet.Operation {
	case layers.ARPRequest:
		if iface.HasAddr(tpa) {
			reply, err := m.buildReply(&iface, l2, sha, spa, tpa)
			if err != nil {
				return malformed(err.Error())
			}

			c.Verdict = neigh.VerdictRequestForLocal
			c.Reply = reply
			return c
		}
		if spa.IsUnspecified() || spa != tpa {
			return notMine("request for another host")
		}
	case layers.ARPReply:
		if spa != tpa && (!iface.HasAddr(tpa) || tha != iface.MAC) {
			return notMine("reply for another host")
		}
	default:
		return malformed(fmt.Sprintf("unsupported operation %d", packet.Operation))
	}

	if !iface.OnLink(spa) {
		return notMine("sender is not on-link")
	}

	c.Verdict = neigh.VerdictConfirming
	c.Unsolicited = spa == tpa
	c.Override = c.Unsolicited
	return c
}

// AuthoritativeForUnsolicited accepts gratuitous announcements only from an
// on-link sender on a member port whose Ethernet source matches the claimed
// hardware address.
func (m *Protocol) AuthoritativeForUnsolicited(c neigh.Classification) bool {
	iface, ok := m.topology.Interface(c.Key.Scope)
	if !ok {
		return false
	}

	return !c.SourceMismatch &&
		!c.Target.LinkAddr.IsMulticast() &&
		iface.HasPort(c.Target.Port) &&
		iface.OnLink(c.Key.Addr) &&
		!iface.HasAddr(c.Key.Addr)
}

func (m *Protocol) buildReply(
	iface *topology.Interface,
	l2 xpacket.L2,
	requester topology.MAC,
	requesterAddr netip.Addr,
	local netip.Addr,
) ([]byte, error) {
	reply := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   iface.MAC.HardwareAddr(),
		SourceProtAddress: local.AsSlice(),
		DstHwAddress:      requester.HardwareAddr(),
		DstProtAddress:    requesterAddr.AsSlice(),
	}

	lyrs := xpacket.EthernetLayers(iface.MAC.HardwareAddr(), requester.HardwareAddr(), iface.Scope.VLAN, l2.Tagged, layers.EthernetTypeARP)
	return xpacket.Serialize(append(lyrs, reply)...)
}

func malformed(reason string) neigh.Classification {
	return neigh.Classification{Verdict: neigh.VerdictMalformed, Reason: reason}
}

func notMine(reason string) neigh.Classification {
	return neigh.Classification{Verdict: neigh.VerdictNotMine, Reason: reason}
}
