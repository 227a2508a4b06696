package ndp

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/neighd/common/go/xpacket"
	"github.com/yanet-platform/neighd/internal/neigh"
	"github.com/yanet-platform/neighd/internal/topology"
)

var (
	scope    = topology.Scope{VLAN: 100, Interface: 1}
	localMAC = topology.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	peerMAC  = topology.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	proxyMAC = topology.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x99}

	localAddr     = netip.MustParseAddr("2001:db8::1")
	linkLocalAddr = netip.MustParseAddr("fe80::1")
	peerAddr      = netip.MustParseAddr("2001:db8::5")

	classificationOpts = cmp.Options{
		cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
		cmpopts.IgnoreFields(neigh.Classification{}, "Reply", "Reason"),
	}
)

func newTestRegistry() *topology.Registry {
	registry := topology.NewRegistry()
	registry.Add(topology.Interface{
		Scope: scope,
		Name:  "eth0.100",
		MAC:   localMAC,
		Prefixes: []netip.Prefix{
			netip.MustParsePrefix("2001:db8::1/64"),
			netip.MustParsePrefix("fe80::1/64"),
		},
		Ports:  []topology.Port{1, 2},
		Tagged: true,
	})

	return registry
}

func newTestProtocol() *Protocol {
	return New(newTestRegistry())
}

type ndPacket struct {
	EthSrc   topology.MAC
	EthDst   topology.MAC
	Src      netip.Addr
	Dst      netip.Addr
	HopLimit uint8
	Type     uint8
	Body     gopacket.SerializableLayer
}

func (m ndPacket) build(t *testing.T) []byte {
	t.Helper()

	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   m.HopLimit,
		SrcIP:      m.Src.AsSlice(),
		DstIP:      m.Dst.AsSlice(),
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(m.Type, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))

	lyrs := xpacket.EthernetLayers(m.EthSrc.HardwareAddr(), m.EthDst.HardwareAddr(), 100, true, layers.EthernetTypeIPv6)
	frame, err := xpacket.Serialize(append(lyrs, ip6, icmp, m.Body)...)
	require.NoError(t, err)
	return frame
}

func solicitation(target netip.Addr, sllao *topology.MAC) *layers.ICMPv6NeighborSolicitation {
	ns := &layers.ICMPv6NeighborSolicitation{TargetAddress: target.AsSlice()}
	if sllao != nil {
		ns.Options = layers.ICMPv6Options{{Type: layers.ICMPv6OptSourceAddress, Data: sllao.HardwareAddr()}}
	}
	return ns
}

func advertisement(target netip.Addr, flags uint8, tllao *topology.MAC) *layers.ICMPv6NeighborAdvertisement {
	na := &layers.ICMPv6NeighborAdvertisement{Flags: flags, TargetAddress: target.AsSlice()}
	if tllao != nil {
		na.Options = layers.ICMPv6Options{{Type: layers.ICMPv6OptTargetAddress, Data: tllao.HardwareAddr()}}
	}
	return na
}

type decoded struct {
	l2   xpacket.L2
	ip6  *layers.IPv6
	icmp *layers.ICMPv6
	pkt  gopacket.Packet
}

func decode(t *testing.T, frame []byte) decoded {
	t.Helper()

	pkt := xpacket.ParseEtherPacket(frame)
	require.Nil(t, pkt.ErrorLayer())

	l2, ok := xpacket.LinkLayer(pkt)
	require.True(t, ok)
	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.True(t, ok)
	icmp, ok := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	require.True(t, ok)

	return decoded{l2: l2, ip6: ip6, icmp: icmp, pkt: pkt}
}

func TestSolicitedNodeAddr(t *testing.T) {
	addr := SolicitedNodeAddr(netip.MustParseAddr("2001:db8::abcd:1234:5678"))
	require.Equal(t, netip.MustParseAddr("ff02::1:ff34:5678"), addr)
	require.Equal(t, topology.MAC{0x33, 0x33, 0xff, 0x34, 0x56, 0x78}, MulticastMAC(addr))
}

func TestBuildProbe(t *testing.T) {
	p := newTestProtocol()
	key := neigh.Key{Scope: scope, Addr: peerAddr}

	t.Run("discovery", func(t *testing.T) {
		frame, err := p.BuildProbe(key, nil)
		require.NoError(t, err)

		d := decode(t, frame)
		require.Equal(t, uint16(100), d.l2.VLAN)
		require.Equal(t, topology.MAC{0x33, 0x33, 0xff, 0x00, 0x00, 0x05}.HardwareAddr(), d.l2.Ethernet.DstMAC)
		require.Equal(t, uint8(255), d.ip6.HopLimit)
		require.Equal(t, localAddr.AsSlice(), []byte(d.ip6.SrcIP.To16()))
		require.Equal(t, netip.MustParseAddr("ff02::1:ff00:5").AsSlice(), []byte(d.ip6.DstIP.To16()))
		require.Equal(t, uint8(layers.ICMPv6TypeNeighborSolicitation), d.icmp.TypeCode.Type())

		ns, ok := d.pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation)
		require.True(t, ok)
		require.Equal(t, peerAddr.AsSlice(), []byte(ns.TargetAddress.To16()))
		sllao, ok := linkAddrOption(ns.Options, layers.ICMPv6OptSourceAddress)
		require.True(t, ok)
		require.Equal(t, localMAC, sllao)
	})

	t.Run("revalidation", func(t *testing.T) {
		frame, err := p.BuildProbe(key, &neigh.Target{LinkAddr: peerMAC, Port: 2})
		require.NoError(t, err)

		d := decode(t, frame)
		require.Equal(t, peerMAC.HardwareAddr(), d.l2.Ethernet.DstMAC)
		require.Equal(t, peerAddr.AsSlice(), []byte(d.ip6.DstIP.To16()))
	})

	t.Run("link-local", func(t *testing.T) {
		frame, err := p.BuildProbe(neigh.Key{Scope: scope, Addr: netip.MustParseAddr("fe80::5")}, nil)
		require.NoError(t, err)

		d := decode(t, frame)
		require.Equal(t, linkLocalAddr.AsSlice(), []byte(d.ip6.SrcIP.To16()))
	})

	t.Run("produces classifiable frames", func(t *testing.T) {
		frame, err := p.BuildProbe(key, nil)
		require.NoError(t, err)

		// Our own probe looped back is ignored.
		require.Equal(t, neigh.VerdictNotMine, p.Classify(scope, 1, frame).Verdict)
	})
}

func TestClassify(t *testing.T) {
	p := newTestProtocol()
	key := neigh.Key{Scope: scope, Addr: peerAddr}
	target := neigh.Target{LinkAddr: peerMAC, Port: 2}
	allNodes := netip.MustParseAddr("ff02::1")

	cases := []struct {
		name     string
		packet   ndPacket
		expected neigh.Classification
	}{
		{
			name: "solicited advertisement",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: localMAC, Src: peerAddr, Dst: localAddr, HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(peerAddr, flagSolicited|flagOverride, &peerMAC),
			},
			expected: neigh.Classification{
				Verdict:  neigh.VerdictConfirming,
				Key:      key,
				Target:   target,
				Override: true,
			},
		},
		{
			name: "advertisement without target option",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: localMAC, Src: peerAddr, Dst: localAddr, HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(peerAddr, flagSolicited, nil),
			},
			expected: neigh.Classification{Verdict: neigh.VerdictConfirming, Key: key, Target: target},
		},
		{
			name: "unsolicited advertisement",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: allNodesMAC, Src: peerAddr, Dst: allNodes, HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(peerAddr, flagOverride, &peerMAC),
			},
			expected: neigh.Classification{
				Verdict:     neigh.VerdictConfirming,
				Key:         key,
				Target:      target,
				Unsolicited: true,
				Override:    true,
			},
		},
		{
			name: "advertisement from proxy",
			packet: ndPacket{
				EthSrc: proxyMAC, EthDst: allNodesMAC, Src: peerAddr, Dst: allNodes, HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(peerAddr, flagRouter, &peerMAC),
			},
			expected: neigh.Classification{
				Verdict:        neigh.VerdictConfirming,
				Key:            key,
				Target:         target,
				Unsolicited:    true,
				SourceMismatch: true,
			},
		},
		{
			name: "forwarded advertisement",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: localMAC, Src: peerAddr, Dst: localAddr, HopLimit: 64,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(peerAddr, flagSolicited, &peerMAC),
			},
			expected: neigh.Classification{Verdict: neigh.VerdictMalformed},
		},
		{
			name: "solicited advertisement to multicast",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: allNodesMAC, Src: peerAddr, Dst: allNodes, HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(peerAddr, flagSolicited, &peerMAC),
			},
			expected: neigh.Classification{Verdict: neigh.VerdictMalformed},
		},
		{
			name: "advertisement for local address",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: allNodesMAC, Src: localAddr, Dst: allNodes, HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(localAddr, flagOverride, &peerMAC),
			},
			expected: neigh.Classification{
				Verdict:     neigh.VerdictNotMine,
				Key:         neigh.Key{Scope: scope, Addr: localAddr},
				Target:      target,
				Unsolicited: true,
				Override:    true,
				Conflict:    true,
			},
		},
		{
			name: "off-link target",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: allNodesMAC, Src: peerAddr, Dst: allNodes, HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborAdvertisement,
				Body: advertisement(netip.MustParseAddr("2001:db8:1::5"), flagOverride, &peerMAC),
			},
			expected: neigh.Classification{Verdict: neigh.VerdictNotMine},
		},
		{
			name: "solicitation for local address",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: MulticastMAC(SolicitedNodeAddr(localAddr)), Src: peerAddr, Dst: SolicitedNodeAddr(localAddr), HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborSolicitation,
				Body: solicitation(localAddr, &peerMAC),
			},
			expected: neigh.Classification{Verdict: neigh.VerdictRequestForLocal, Key: key, Target: target},
		},
		{
			name: "multicast solicitation without source option",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: MulticastMAC(SolicitedNodeAddr(localAddr)), Src: peerAddr, Dst: SolicitedNodeAddr(localAddr), HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborSolicitation,
				Body: solicitation(localAddr, nil),
			},
			expected: neigh.Classification{Verdict: neigh.VerdictMalformed},
		},
		{
			name: "duplicate address detection",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: MulticastMAC(SolicitedNodeAddr(localAddr)), Src: netip.IPv6Unspecified(), Dst: SolicitedNodeAddr(localAddr), HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborSolicitation,
				Body: solicitation(localAddr, nil),
			},
			expected: neigh.Classification{
				Verdict: neigh.VerdictRequestForLocal,
				Key:     neigh.Key{Scope: scope, Addr: netip.IPv6Unspecified()},
				Target:  target,
			},
		},
		{
			name: "solicitation for another host",
			packet: ndPacket{
				EthSrc: peerMAC, EthDst: MulticastMAC(SolicitedNodeAddr(peerAddr)), Src: netip.MustParseAddr("2001:db8::6"), Dst: SolicitedNodeAddr(peerAddr), HopLimit: 255,
				Type: layers.ICMPv6TypeNeighborSolicitation,
				Body: solicitation(peerAddr, &proxyMAC),
			},
			expected: neigh.Classification{Verdict: neigh.VerdictNotMine},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := p.Classify(scope, 2, c.packet.build(t))
			if diff := cmp.Diff(c.expected, got, classificationOpts); diff != "" {
				t.Fatalf("unexpected classification (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyRejectsBadChecksum(t *testing.T) {
	p := newTestProtocol()
	packet := ndPacket{
		EthSrc: peerMAC, EthDst: localMAC, Src: peerAddr, Dst: localAddr, HopLimit: 255,
		Type: layers.ICMPv6TypeNeighborAdvertisement,
		Body: advertisement(peerAddr, flagSolicited|flagOverride, &peerMAC),
	}

	frame := packet.build(t)
	require.Equal(t, neigh.VerdictConfirming, p.Classify(scope, 2, frame).Verdict)

	// Ethernet, 802.1Q and IPv6 headers precede the ICMPv6 checksum.
	const checksumOffset = 14 + 4 + 40 + 2
	frame[checksumOffset] ^= 0xff
	require.Equal(t, neigh.VerdictMalformed, p.Classify(scope, 2, frame).Verdict)

	frame = packet.build(t)
	// Rewriting the target link address without fixing the checksum.
	frame[len(frame)-1] ^= 0x01
	require.Equal(t, neigh.VerdictMalformed, p.Classify(scope, 2, frame).Verdict)
}

func TestClassifyAnswersSolicitation(t *testing.T) {
	p := newTestProtocol()

	t.Run("solicitation", func(t *testing.T) {
		request := ndPacket{
			EthSrc: peerMAC, EthDst: MulticastMAC(SolicitedNodeAddr(localAddr)), Src: peerAddr, Dst: SolicitedNodeAddr(localAddr), HopLimit: 255,
			Type: layers.ICMPv6TypeNeighborSolicitation,
			Body: solicitation(localAddr, &peerMAC),
		}
		c := p.Classify(scope, 1, request.build(t))
		require.Equal(t, neigh.VerdictRequestForLocal, c.Verdict)

		d := decode(t, c.Reply)
		require.Equal(t, peerMAC.HardwareAddr(), d.l2.Ethernet.DstMAC)
		require.Equal(t, localAddr.AsSlice(), []byte(d.ip6.SrcIP.To16()))
		require.Equal(t, peerAddr.AsSlice(), []byte(d.ip6.DstIP.To16()))
		require.Equal(t, uint8(255), d.ip6.HopLimit)

		na, ok := d.pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
		require.True(t, ok)
		require.Equal(t, uint8(flagSolicited|flagOverride), na.Flags)
		require.Equal(t, localAddr.AsSlice(), []byte(na.TargetAddress.To16()))
		tllao, ok := linkAddrOption(na.Options, layers.ICMPv6OptTargetAddress)
		require.True(t, ok)
		require.Equal(t, localMAC, tllao)
	})

	t.Run("duplicate address detection", func(t *testing.T) {
		request := ndPacket{
			EthSrc: peerMAC, EthDst: MulticastMAC(SolicitedNodeAddr(localAddr)), Src: netip.IPv6Unspecified(), Dst: SolicitedNodeAddr(localAddr), HopLimit: 255,
			Type: layers.ICMPv6TypeNeighborSolicitation,
			Body: solicitation(localAddr, nil),
		}
		c := p.Classify(scope, 1, request.build(t))
		require.Equal(t, neigh.VerdictRequestForLocal, c.Verdict)

		d := decode(t, c.Reply)
		require.Equal(t, allNodesMAC.HardwareAddr(), d.l2.Ethernet.DstMAC)
		require.Equal(t, allNodes.AsSlice(), []byte(d.ip6.DstIP.To16()))

		na, ok := d.pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
		require.True(t, ok)
		require.Equal(t, uint8(flagOverride), na.Flags)
	})
}

func TestAuthoritativeForUnsolicited(t *testing.T) {
	p := newTestProtocol()
	key := neigh.Key{Scope: scope, Addr: peerAddr}
	target := neigh.Target{LinkAddr: peerMAC, Port: 1}

	require.True(t, p.AuthoritativeForUnsolicited(neigh.Classification{Key: key, Target: target, Override: true}))
	require.False(t, p.AuthoritativeForUnsolicited(neigh.Classification{Key: key, Target: target}))
	require.False(t, p.AuthoritativeForUnsolicited(neigh.Classification{Key: key, Target: target, Override: true, SourceMismatch: true}))
	require.False(t, p.AuthoritativeForUnsolicited(neigh.Classification{
		Key:      key,
		Target:   neigh.Target{LinkAddr: peerMAC, Port: 9},
		Override: true,
	}))
}
