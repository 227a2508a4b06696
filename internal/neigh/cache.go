package neigh

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/internal/topology"
)

type request func(now time.Time)

// Cache is the neighbour resolution cache.
//
// All state is owned by a single event loop started with Run. Public methods
// are safe for concurrent use, they hand the work over to the loop and wait
// for it to complete.
type Cache struct {
	machines []*Machine
	requests chan request
	stopped  chan struct{}
	metrics  *Metrics
	now      func() time.Time
	log      *zap.SugaredLogger
}

// NewCache creates a cache with one state machine per protocol.
func NewCache(
	cfg *Config,
	protocols []Protocol,
	topology Topology,
	transport Transport,
	sink Sink,
	options ...Option,
) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid neighbour configuration: %w", err)
	}

	opts := newOptions(options...)

	seen := map[Family]struct{}{}
	machines := make([]*Machine, 0, len(protocols))
	for _, protocol := range protocols {
		family := protocol.Family()
		if _, ok := seen[family]; ok {
			return nil, fmt.Errorf("duplicate protocol for %s", family)
		}
		seen[family] = struct{}{}

		machines = append(machines, NewMachine(cfg, protocol, topology, transport, sink, options...))
	}

	return &Cache{
		machines: machines,
		requests: make(chan request),
		stopped:  make(chan struct{}),
		metrics:  opts.Metrics,
		now:      opts.Now,
		log:      opts.Log,
	}, nil
}

// Run runs the event loop until the specified context is canceled.
func (m *Cache) Run(ctx context.Context) error {
	m.log.Debugf("starting neighbour cache")
	defer m.log.Debugf("stopped neighbour cache")
	defer close(m.stopped)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var wakeup <-chan time.Time
		if next, ok := m.next(); ok {
			timer.Reset(max(next.Sub(m.now()), 0))
			wakeup = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.requests:
			req(m.now())
		case <-wakeup:
			m.advance(m.now())
		}

		for _, machine := range m.machines {
			m.metrics.observeEntries(machine.family, machine.store)
		}
	}
}

func (m *Cache) next() (time.Time, bool) {
	var earliest time.Time
	found := false

	for _, machine := range m.machines {
		next, ok := machine.Next()
		if !ok {
			continue
		}
		if !found || next.Before(earliest) {
			earliest = next
			found = true
		}
	}

	return earliest, found
}

func (m *Cache) advance(now time.Time) {
	for _, machine := range m.machines {
		machine.Advance(now)
	}
}

// do runs fn on the event loop and waits for it to complete.
func (m *Cache) do(ctx context.Context, fn request) error {
	done := make(chan struct{})
	req := func(now time.Time) {
		defer close(done)
		fn(now)
	}

	select {
	case m.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrClosed
	}

	// The loop never blocks while running a request.
	<-done
	return nil
}

func (m *Cache) machine(addr netip.Addr) (*Machine, error) {
	family := FamilyIPv6
	if addr.Is4() {
		family = FamilyIPv4
	}

	for _, machine := range m.machines {
		if machine.family == family {
			return machine, nil
		}
	}

	return nil, fmt.Errorf("%w: no protocol for %s", ErrInvalidAddress, addr)
}

// Resolve returns the known target of a neighbour.
//
// When the neighbour is not resolved yet, resolution is started and false
// is returned.
func (m *Cache) Resolve(ctx context.Context, scope topology.Scope, addr netip.Addr) (Target, bool, error) {
	machine, err := m.machine(addr)
	if err != nil {
		return Target{}, false, err
	}

	var target Target
	var resolved bool
	var resolveErr error
	err = m.do(ctx, func(now time.Time) {
		target, resolved, resolveErr = machine.Resolve(Key{Scope: scope, Addr: addr}, now)
	})
	if err != nil {
		return Target{}, false, err
	}

	return target, resolved, resolveErr
}

type waitResult struct {
	target Target
	err    error
}

// ResolveWait resolves a neighbour and blocks until the resolution
// completes.
//
// It returns ErrUnreachable when retries are exhausted and ErrFlushed when
// the entry is invalidated in the meantime.
func (m *Cache) ResolveWait(ctx context.Context, scope topology.Scope, addr netip.Addr) (Target, error) {
	machine, err := m.machine(addr)
	if err != nil {
		return Target{}, err
	}

	key := Key{Scope: scope, Addr: addr}
	result := make(chan waitResult, 1)
	err = m.do(ctx, func(now time.Time) {
		target, ok, err := machine.Resolve(key, now)
		if err != nil || ok {
			result <- waitResult{target: target, err: err}
			return
		}

		machine.Wait(key, func(target Target, err error) {
			result <- waitResult{target: target, err: err}
		})
	})
	if err != nil {
		return Target{}, err
	}

	select {
	case r := <-result:
		return r.target, r.err
	case <-ctx.Done():
		return Target{}, ctx.Err()
	}
}

// Flush invalidates the neighbour addr within the scope, or all neighbours
// of the scope if addr is the zero value.
//
// It returns the number of removed entries. Flushing an absent entry is not
// an error.
func (m *Cache) Flush(ctx context.Context, scope topology.Scope, addr netip.Addr) (int, error) {
	count := 0
	err := m.do(ctx, func(time.Time) {
		if !addr.IsValid() {
			for _, machine := range m.machines {
				count += machine.InvalidateScope(scope)
			}
			return
		}

		machine, err := m.machine(addr)
		if err != nil {
			return
		}
		if machine.Invalidate(Key{Scope: scope, Addr: addr}) {
			count++
		}
	})

	return count, err
}

// OnLinkDown invalidates all neighbours of the scope.
func (m *Cache) OnLinkDown(scope topology.Scope) {
	count, err := m.Flush(context.Background(), scope, netip.Addr{})
	if err != nil {
		m.log.Warnw("failed to invalidate scope", zap.Stringer("scope", scope), zap.Error(err))
		return
	}

	m.log.Infow("link is down", zap.Stringer("scope", scope), zap.Int("invalidated", count))
}

// OnAddressAssigned invalidates a neighbour whose address became local.
func (m *Cache) OnAddressAssigned(scope topology.Scope, addr netip.Addr) {
	if _, err := m.Flush(context.Background(), scope, addr); err != nil {
		m.log.Warnw("failed to invalidate reassigned address",
			zap.Stringer("scope", scope),
			zap.Stringer("addr", addr),
			zap.Error(err),
		)
	}
}

// HandlePacket delivers an inbound frame received on the given scope and
// port. The frame must not be modified after the call.
func (m *Cache) HandlePacket(ctx context.Context, scope topology.Scope, port topology.Port, frame []byte) error {
	return m.do(ctx, func(now time.Time) {
		for _, machine := range m.machines {
			if machine.HandlePacket(scope, port, frame, now) {
				return
			}
		}
	})
}

// Entries returns diagnostic copies of entries of the given scopes, or of
// all scopes when none are given.
func (m *Cache) Entries(ctx context.Context, scopes ...topology.Scope) ([]Info, error) {
	var infos []Info
	err := m.do(ctx, func(now time.Time) {
		for _, machine := range m.machines {
			infos = append(infos, machine.Entries(now, scopes...)...)
		}
	})

	return infos, err
}
