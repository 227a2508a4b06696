//go:build linux

package afpacket

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval bounds how long a blocked receive ignores cancellation.
const pollInterval = 200 * time.Millisecond

var (
	errClosed  = errors.New("socket is closed")
	errNoFrame = errors.New("no frame received")
)

type socket struct {
	fd     int
	index  int
	closed atomic.Bool
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

func openSocket(index int, rxBufferSize int) (*socket, error) {
	protocol := htons(unix.ETH_P_ALL)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(protocol))
	if err != nil {
		return nil, fmt.Errorf("failed to create AF_PACKET socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: protocol, Ifindex: index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind AF_PACKET socket to interface %d: %w", index, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rxBufferSize); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive buffer size: %w", err)
	}

	timeout := unix.NsecToTimeval(pollInterval.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	return &socket{fd: fd, index: index}, nil
}

func (m *socket) send(frame []byte) error {
	if m.closed.Load() {
		return errClosed
	}
	if len(frame) < 14 {
		return fmt.Errorf("frame is too short: %d bytes", len(frame))
	}

	addr := &unix.SockaddrLinklayer{
		Ifindex: m.index,
		Halen:   6,
	}
	copy(addr.Addr[:], frame[:6])

	if err := unix.Sendto(m.fd, frame, 0, addr); err != nil {
		return fmt.Errorf("failed to send frame to interface %d: %w", m.index, err)
	}

	return nil
}

// recv receives a single inbound frame, returning its size and ingress
// interface. Frames sent by the host itself are skipped.
func (m *socket) recv(buf []byte) (int, int, error) {
	if m.closed.Load() {
		return 0, 0, errClosed
	}

	n, from, err := unix.Recvfrom(m.fd, buf, 0)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, 0, errNoFrame
	case errors.Is(err, unix.EBADF) && m.closed.Load():
		return 0, 0, errClosed
	case err != nil:
		return 0, 0, err
	}

	ll, ok := from.(*unix.SockaddrLinklayer)
	if !ok || ll.Pkttype == unix.PACKET_OUTGOING {
		return 0, 0, errNoFrame
	}

	return n, ll.Ifindex, nil
}

func (m *socket) close() error {
	if m.closed.Swap(true) {
		return nil
	}

	return unix.Close(m.fd)
}
