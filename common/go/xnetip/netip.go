package xnetip

import (
	"net/netip"
)

// LastAddr returns the last address of the prefix, which is the directed
// broadcast address for IPv4 subnets.
func LastAddr(prefix netip.Prefix) netip.Addr {
	addr := prefix.Addr()
	bits := prefix.Bits()
	if bits < 0 {
		return netip.Addr{}
	}

	if addr.Is4() {
		b := addr.As4()
		fillHostBits(b[:], bits)
		return netip.AddrFrom4(b)
	}

	b := addr.As16()
	fillHostBits(b[:], bits)
	return netip.AddrFrom16(b)
}

// fillHostBits sets all bits after the first bits ones.
func fillHostBits(b []byte, bits int) {
	for idx := range b {
		switch {
		case bits >= 8:
			bits -= 8
		case bits > 0:
			b[idx] |= 0xff >> bits
			bits = 0
		default:
			b[idx] = 0xff
		}
	}
}
