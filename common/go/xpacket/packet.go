package xpacket

import (
	"fmt"
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var serializeOptions = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Serialize encodes layers into a frame.
func Serialize(lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOptions, lyrs...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}

	return buf.Bytes(), nil
}

// EthernetLayers returns the L2 header layers of a frame carrying ethType,
// with an 802.1Q header inserted when tagged is set.
func EthernetLayers(
	src net.HardwareAddr,
	dst net.HardwareAddr,
	vlan uint16,
	tagged bool,
	ethType layers.EthernetType,
) []gopacket.SerializableLayer {
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: ethType,
	}
	if !tagged {
		return []gopacket.SerializableLayer{eth}
	}

	eth.EthernetType = layers.EthernetTypeDot1Q
	return []gopacket.SerializableLayer{
		eth,
		&layers.Dot1Q{
			VLANIdentifier: vlan,
			Type:           ethType,
		},
	}
}

// ParseEtherPacket decodes an Ethernet frame.
func ParseEtherPacket(data []byte) gopacket.Packet {
	// Pad the packet with zero bytes to align its size at 60 bytes
	// https://github.com/google/gopacket/issues/361
	if len(data) < 60 {
		var zeros [60]byte
		padded := make([]byte, 0, 60)
		padded = append(padded, data...)
		data = append(padded, zeros[:60-len(data)]...)
	}

	return gopacket.NewPacket(
		data,
		layers.LayerTypeEthernet,
		gopacket.Default,
	)
}

// L2 describes the link layer of a decoded frame.
type L2 struct {
	Ethernet *layers.Ethernet
	// VLAN is the 802.1Q VLAN identifier, valid if Tagged is set.
	VLAN   uint16
	Tagged bool
	// Type is the EtherType of the payload after any 802.1Q header.
	Type layers.EthernetType
}

// LinkLayer extracts the L2 description of a decoded frame.
func LinkLayer(pkt gopacket.Packet) (L2, bool) {
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return L2{}, false
	}

	l2 := L2{
		Ethernet: eth,
		Type:     eth.EthernetType,
	}
	if dot1q, ok := pkt.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
		l2.VLAN = dot1q.VLANIdentifier
		l2.Tagged = true
		l2.Type = dot1q.Type
	}

	return l2, true
}

// LayersToPacket serializes and decodes layers back, failing the test on
// any error.
func LayersToPacket(t *testing.T, lyrs ...gopacket.SerializableLayer) gopacket.Packet {
	data, err := Serialize(lyrs...)
	require.NoError(t, err)

	pkt := ParseEtherPacket(data)
	require.Empty(t, pkt.ErrorLayer(), "%#+v", lyrs)
	return pkt
}
