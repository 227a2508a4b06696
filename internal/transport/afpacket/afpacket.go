//go:build linux

// Package afpacket transmits and receives neighbour resolution frames via
// Linux AF_PACKET raw sockets, one socket per registered interface.
package afpacket

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/neighd/internal/topology"
)

// maxFrameSize fits a jumbo frame with an 802.1Q header.
const maxFrameSize = 9216 + 18

// Handler receives inbound frames.
type Handler interface {
	HandlePacket(ctx context.Context, scope topology.Scope, port topology.Port, frame []byte) error
}

// Scopes provides the scopes sockets are opened for.
type Scopes interface {
	Scopes() []topology.Scope
	ByIndex(index int) []topology.Scope
}

// Option is a function that configures the transport.
type Option func(*options)

type options struct {
	Log *zap.SugaredLogger
}

// WithLog configures the transport with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// Transport is the AF_PACKET frame transport.
type Transport struct {
	cfg     *Config
	scopes  Scopes
	mu      sync.Mutex
	sockets map[int]*socket
	log     *zap.SugaredLogger
}

// New creates a new transport.
func New(cfg *Config, scopes Scopes, optionFns ...Option) *Transport {
	opts := &options{
		Log: zap.NewNop().Sugar(),
	}
	for _, o := range optionFns {
		o(opts)
	}

	return &Transport{
		cfg:     cfg,
		scopes:  scopes,
		sockets: map[int]*socket{},
		log:     opts.Log,
	}
}

// Transmit sends the frame out of the scope's interface.
//
// Inbound frames are reported with the interface index as their port, so
// the frame always leaves via the scope's interface whatever the port is.
func (m *Transport) Transmit(scope topology.Scope, port topology.Port, frame []byte) error {
	sock, err := m.socket(scope.Interface)
	if err != nil {
		return err
	}

	return sock.send(frame)
}

// Run receives frames for all registered scopes and passes them to the
// handler until the specified context is canceled.
func (m *Transport) Run(ctx context.Context, handler Handler) error {
	m.log.Debugf("starting AF_PACKET transport")
	defer m.log.Debugf("stopped AF_PACKET transport")

	wg, ctx := errgroup.WithContext(ctx)
	receiving := map[int]struct{}{}
	finished := make(chan int)

	ticker := time.NewTicker(m.cfg.SyncPeriod)
	defer ticker.Stop()

	for {
		for _, index := range m.sync() {
			if _, ok := receiving[index]; ok {
				continue
			}

			sock, err := m.socket(index)
			if err != nil {
				m.log.Warnw("failed to open socket", zap.Int("index", index), zap.Error(err))
				continue
			}
			receiving[index] = struct{}{}

			wg.Go(func() error {
				m.receive(ctx, sock, handler)
				select {
				case finished <- index:
				case <-ctx.Done():
				}
				return nil
			})
		}

		select {
		case <-ctx.Done():
			m.closeAll()
			wg.Wait()
			return ctx.Err()
		case index := <-finished:
			delete(receiving, index)
		case <-ticker.C:
		}
	}
}

// sync closes sockets of interfaces that have no scopes anymore and returns
// the indices of interfaces that have.
func (m *Transport) sync() []int {
	active := map[int]struct{}{}
	indices := []int{}
	for _, scope := range m.scopes.Scopes() {
		if _, ok := active[scope.Interface]; ok {
			continue
		}
		active[scope.Interface] = struct{}{}
		indices = append(indices, scope.Interface)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for index, sock := range m.sockets {
		if _, ok := active[index]; ok {
			continue
		}

		m.log.Infow("closing socket of removed interface", zap.Int("index", index))
		if err := sock.close(); err != nil {
			m.log.Warnw("failed to close socket", zap.Int("index", index), zap.Error(err))
		}
		delete(m.sockets, index)
	}

	return indices
}

func (m *Transport) socket(index int) (*socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sock, ok := m.sockets[index]; ok {
		return sock, nil
	}

	sock, err := openSocket(index, int(m.cfg.RxBufferSize.Bytes()))
	if err != nil {
		return nil, err
	}
	m.sockets[index] = sock

	m.log.Infow("opened socket", zap.Int("index", index))
	return sock, nil
}

func (m *Transport) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for index, sock := range m.sockets {
		if err := sock.close(); err != nil {
			m.log.Warnw("failed to close socket", zap.Int("index", index), zap.Error(err))
		}
		delete(m.sockets, index)
	}
}

// receive runs until the socket is closed or fails.
func (m *Transport) receive(ctx context.Context, sock *socket, handler Handler) {
	buf := make([]byte, maxFrameSize)

	for {
		n, ifindex, err := sock.recv(buf)
		switch {
		case ctx.Err() != nil, errors.Is(err, errClosed):
			return
		case errors.Is(err, errNoFrame):
			continue
		case err != nil:
			m.log.Warnw("failed to receive frame, reopening socket", zap.Int("index", sock.index), zap.Error(err))
			m.drop(sock)
			return
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		if !m.deliver(ctx, ifindex, frame, handler) {
			return
		}
	}
}

// deliver hands the frame received on the link to every scope of that link.
//
// It reports false once ctx is done.
func (m *Transport) deliver(ctx context.Context, ifindex int, frame []byte, handler Handler) bool {
	port := topology.LinkPort(ifindex)

	for _, scope := range m.scopes.ByIndex(ifindex) {
		if err := handler.HandlePacket(ctx, scope, port, frame); err != nil {
			if ctx.Err() != nil {
				return false
			}
			m.log.Warnw("failed to handle frame", zap.Stringer("scope", scope), zap.Error(err))
		}
	}

	return true
}

// drop closes the socket and forgets it so that the next use reopens it.
func (m *Transport) drop(sock *socket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sockets[sock.index] == sock {
		delete(m.sockets, sock.index)
	}
	if err := sock.close(); err != nil {
		m.log.Warnw("failed to close socket", zap.Int("index", sock.index), zap.Error(err))
	}
}
