package neigh

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/internal/topology"
)

// Sink receives entry changes to be published into the switch state.
type Sink interface {
	Enqueue(update Update)
}

// Waiter is called once when a resolution completes, either with the
// target or with ErrUnreachable or ErrFlushed.
type Waiter func(target Target, err error)

var ipv4Broadcast = netip.AddrFrom4([4]byte{0xff, 0xff, 0xff, 0xff})

// Machine is the resolution state machine of a single address family.
//
// It is not safe for concurrent use: all methods must be called from the
// goroutine that owns it. Time is passed explicitly.
type Machine struct {
	cfg       *Config
	protocol  Protocol
	family    Family
	topology  Topology
	transport Transport
	sink      Sink
	store     *Store
	scheduler *Scheduler
	waiters   map[Key][]Waiter
	// generation is shared by all entries so that timers of a removed
	// entry never match a later entry for the same key.
	generation uint64
	metrics    *Metrics
	log        *zap.SugaredLogger
}

// NewMachine creates a state machine driven by the given protocol.
func NewMachine(
	cfg *Config,
	protocol Protocol,
	topology Topology,
	transport Transport,
	sink Sink,
	options ...Option,
) *Machine {
	opts := newOptions(options...)
	family := protocol.Family()

	return &Machine{
		cfg:       cfg,
		protocol:  protocol,
		family:    family,
		topology:  topology,
		transport: transport,
		sink:      sink,
		store:     NewStore(),
		scheduler: NewScheduler(),
		waiters:   map[Key][]Waiter{},
		metrics:   opts.Metrics,
		log:       opts.Log.With(zap.Stringer("family", family)),
	}
}

// Family returns the address family this machine resolves.
func (m *Machine) Family() Family {
	return m.family
}

// Next returns the deadline of the earliest armed timer.
func (m *Machine) Next() (time.Time, bool) {
	return m.scheduler.Next()
}

// Resolve returns the target for the key if it is known.
//
// Otherwise a PENDING entry is created and the first probe is sent. STALE
// entries are returned as is while a unicast revalidation starts.
func (m *Machine) Resolve(key Key, now time.Time) (Target, bool, error) {
	if err := m.validate(key); err != nil {
		return Target{}, false, err
	}

	entry, ok := m.store.Get(key)
	if !ok {
		if m.store.Len() >= m.cfg.MaxEntries {
			return Target{}, false, ErrEntryLimit
		}
		if m.store.Count(StatePending) >= m.cfg.MaxPending {
			return Target{}, false, ErrPendingLimit
		}

		m.discover(key, now)
		return Target{}, false, nil
	}

	switch entry.State {
	case StatePending:
		return Target{}, false, nil
	case StateStale:
		m.revalidate(entry, now)
	}

	return *entry.Target, true, nil
}

// Wait registers a waiter for a key being resolved.
//
// The waiter is called immediately if the entry is already resolved or
// does not exist.
func (m *Machine) Wait(key Key, w Waiter) {
	entry, ok := m.store.Get(key)
	switch {
	case !ok:
		w(Target{}, ErrUnreachable)
	case entry.Target != nil:
		w(*entry.Target, nil)
	default:
		m.waiters[key] = append(m.waiters[key], w)
	}
}

// Advance fires all timers that are due at now.
func (m *Machine) Advance(now time.Time) {
	for {
		t, ok := m.scheduler.popDue(now)
		if !ok {
			return
		}

		m.fire(t)
	}
}

// HandlePacket classifies an inbound frame and applies it.
//
// It reports whether the frame belonged to this machine's protocol.
func (m *Machine) HandlePacket(scope topology.Scope, port topology.Port, frame []byte, now time.Time) bool {
	c := m.protocol.Classify(scope, port, frame)

	if c.Conflict {
		m.metrics.anomaly(m.family, "address_conflict")
		m.log.Warnw("neighbour claims a local address",
			zap.Stringer("key", c.Key),
			zap.Stringer("target", c.Target),
		)
	}

	switch c.Verdict {
	case VerdictMalformed:
		m.metrics.anomaly(m.family, "malformed")
		m.log.Debugw("dropped malformed packet",
			zap.Stringer("scope", scope),
			zap.Uint32("port", uint32(port)),
			zap.String("reason", c.Reason),
		)
		return true
	case VerdictRequestForLocal:
		if err := m.transport.Transmit(scope, c.Target.Port, c.Reply); err != nil {
			m.metrics.transmitFailed(m.family)
			m.log.Warnw("failed to answer request for a local address",
				zap.Stringer("requester", c.Key),
				zap.Error(err),
			)
		}
		return true
	case VerdictConfirming:
		m.handleConfirming(c, now)
		return true
	default:
		return c.Conflict
	}
}

// Invalidate removes the entry for the key, if any.
func (m *Machine) Invalidate(key Key) bool {
	entry, ok := m.store.Get(key)
	if !ok {
		return false
	}

	m.log.Debugw("invalidating entry", zap.Stringer("key", key), zap.Stringer("state", entry.State))
	m.remove(entry, ErrFlushed)
	return true
}

// InvalidateScope removes all entries of the scope.
func (m *Machine) InvalidateScope(scope topology.Scope) int {
	entries := m.store.Scope(scope)
	for _, entry := range entries {
		m.remove(entry, ErrFlushed)
	}

	if len(entries) > 0 {
		m.log.Infow("invalidated scope", zap.Stringer("scope", scope), zap.Int("entries", len(entries)))
	}
	return len(entries)
}

// Entries returns diagnostic copies of the entries of the given scopes,
// or of all scopes when none are given.
func (m *Machine) Entries(now time.Time, scopes ...topology.Scope) []Info {
	if len(scopes) == 0 {
		scopes = m.store.Scopes()
	}

	infos := []Info{}
	for _, scope := range scopes {
		for _, entry := range m.store.Scope(scope) {
			infos = append(infos, entry.info(now))
		}
	}

	return infos
}

func (m *Machine) validate(key Key) error {
	iface, ok := m.topology.Interface(key.Scope)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScope, key.Scope)
	}

	addr := key.Addr
	switch {
	case !addr.IsValid():
		return fmt.Errorf("%w: no address", ErrInvalidAddress)
	case m.family == FamilyIPv4 && !addr.Is4():
		return fmt.Errorf("%w: %s is not IPv4", ErrInvalidAddress, addr)
	case m.family == FamilyIPv6 && (!addr.Is6() || addr.Is4In6()):
		return fmt.Errorf("%w: %s is not IPv6", ErrInvalidAddress, addr)
	case addr.IsUnspecified(), addr.IsMulticast(), addr.IsLoopback(), addr == ipv4Broadcast:
		return fmt.Errorf("%w: %s is not a unicast address", ErrInvalidAddress, addr)
	case iface.HasAddr(addr):
		return fmt.Errorf("%w: %s is a local address", ErrInvalidAddress, addr)
	case iface.IsSubnetBroadcast(addr):
		return fmt.Errorf("%w: %s is a subnet broadcast address", ErrInvalidAddress, addr)
	}

	return nil
}

func (m *Machine) discover(key Key, now time.Time) {
	entry := &Entry{
		Key:       key,
		State:     StatePending,
		CreatedAt: now,
		backoff:   m.cfg.newBackOff(),
	}
	if err := m.store.Insert(entry); err != nil {
		m.log.Errorw("failed to create entry", zap.Error(err))
		return
	}

	m.log.Debugw("starting resolution", zap.Stringer("key", key))
	m.sink.Enqueue(entry.snapshot())
	m.probe(entry, now)
}

func (m *Machine) learn(key Key, target Target, now time.Time) {
	entry := &Entry{
		Key:         key,
		Target:      &target,
		State:       StateReachable,
		CreatedAt:   now,
		ConfirmedAt: now,
		backoff:     m.cfg.newBackOff(),
	}
	if err := m.store.Insert(entry); err != nil {
		m.log.Errorw("failed to create entry", zap.Error(err))
		return
	}

	m.log.Infow("learned neighbour from announcement",
		zap.Stringer("key", key),
		zap.Stringer("target", target),
	)
	m.arm(entry, timerAge, now.Add(m.cfg.ReachableTime))
	m.sink.Enqueue(entry.snapshot())
}

func (m *Machine) confirm(entry *Entry, target Target, now time.Time) {
	changed := entry.Target == nil || *entry.Target != target
	previous := entry.State

	entry.Target = &target
	entry.Retries = 0
	entry.ConfirmedAt = now
	m.store.SetState(entry, StateReachable)
	m.arm(entry, timerAge, now.Add(m.cfg.ReachableTime))

	m.log.Debugw("confirmed neighbour",
		zap.Stringer("key", entry.Key),
		zap.Stringer("target", target),
		zap.Stringer("previous_state", previous),
	)
	if changed {
		m.sink.Enqueue(entry.snapshot())
	}
	m.notify(entry.Key, target, nil)
}

func (m *Machine) revalidate(entry *Entry, now time.Time) {
	m.store.SetState(entry, StateProbeRevalidate)
	entry.Retries = 0
	entry.backoff.Reset()

	m.log.Debugw("revalidating neighbour", zap.Stringer("key", entry.Key), zap.Stringer("target", entry.Target))
	m.probe(entry, now)
}

// probe sends a probe suitable for the entry's state and arms its timeout.
func (m *Machine) probe(entry *Entry, now time.Time) {
	var target *Target
	if entry.State == StateProbeRevalidate {
		target = entry.Target
	}
	m.send(entry.Key, target)

	delay := entry.backoff.NextBackOff()
	if delay < 0 {
		delay = m.cfg.ProbeInterval
	}
	m.arm(entry, timerProbe, now.Add(delay))
}

func (m *Machine) send(key Key, target *Target) {
	frame, err := m.protocol.BuildProbe(key, target)
	if err != nil {
		m.metrics.transmitFailed(m.family)
		m.log.Warnw("failed to build probe", zap.Stringer("key", key), zap.Error(err))
		return
	}

	port := topology.PortAny
	if target != nil {
		port = target.Port
	}

	if err := m.transport.Transmit(key.Scope, port, frame); err != nil {
		m.metrics.transmitFailed(m.family)
		m.log.Warnw("failed to transmit probe", zap.Stringer("key", key), zap.Error(err))
		return
	}

	m.metrics.probeSent(m.family, target != nil)
}

func (m *Machine) arm(entry *Entry, kind timerKind, at time.Time) {
	m.generation++
	entry.Generation = m.generation
	entry.NextActionAt = at
	m.scheduler.schedule(pendingTimer{
		At:         at,
		Key:        entry.Key,
		Generation: entry.Generation,
		Kind:       kind,
	})
}

func (m *Machine) fire(t pendingTimer) {
	entry, ok := m.store.Get(t.Key)
	if !ok || entry.Generation != t.Generation {
		return
	}

	now := t.At
	switch {
	case t.Kind == timerProbe && entry.State == StatePending:
		if entry.Retries >= m.cfg.MaxRetries {
			m.expire(entry)
			return
		}
		entry.Retries++
		m.probe(entry, now)
	case t.Kind == timerProbe && entry.State == StateProbeRevalidate:
		if entry.Retries >= m.cfg.RevalidateRetries {
			m.expire(entry)
			return
		}
		entry.Retries++
		m.probe(entry, now)
	case t.Kind == timerAge && entry.State == StateReachable:
		m.store.SetState(entry, StateStale)
		m.arm(entry, timerSweep, now.Add(m.cfg.StaleProbeDelay))
		m.log.Debugw("neighbour became stale", zap.Stringer("key", entry.Key))
	case t.Kind == timerSweep && entry.State == StateStale:
		m.revalidate(entry, now)
	default:
		m.log.Warnw("timer does not match entry state",
			zap.Stringer("key", entry.Key),
			zap.Stringer("timer", t.Kind),
			zap.Stringer("state", entry.State),
		)
	}
}

func (m *Machine) handleConfirming(c Classification, now time.Time) {
	if _, ok := m.topology.Interface(c.Key.Scope); !ok {
		return
	}

	entry, ok := m.store.Get(c.Key)
	if !ok {
		if !c.Unsolicited {
			m.log.Debugw("ignoring reply without outstanding probe", zap.Stringer("key", c.Key))
			return
		}
		if !m.authoritative(c) {
			return
		}
		if m.store.Len() >= m.cfg.MaxEntries {
			m.metrics.anomaly(m.family, "entry_limit")
			m.log.Debugw("dropping announcement, too many entries", zap.Stringer("key", c.Key))
			return
		}

		m.learn(c.Key, c.Target, now)
		return
	}

	switch entry.State {
	case StatePending:
		if c.Unsolicited && !m.authoritative(c) {
			return
		}
		m.confirm(entry, c.Target, now)
	case StateProbeRevalidate:
		if entry.Target.LinkAddr != c.Target.LinkAddr {
			m.conflict(entry, c)
			return
		}
		if c.Unsolicited && !m.authoritative(c) {
			return
		}
		m.confirm(entry, c.Target, now)
	case StateReachable, StateStale:
		if *entry.Target != c.Target {
			m.conflict(entry, c)
			return
		}
		m.log.Debugw("ignoring duplicate confirmation", zap.Stringer("key", c.Key))
	}
}

func (m *Machine) authoritative(c Classification) bool {
	if m.protocol.AuthoritativeForUnsolicited(c) {
		return true
	}

	m.metrics.anomaly(m.family, "spoof_suspected")
	m.log.Warnw("ignoring non-authoritative announcement",
		zap.Stringer("key", c.Key),
		zap.Stringer("target", c.Target),
	)
	return false
}

// conflict keeps the existing mapping, a conflicting claim never overrides
// a confirmed entry before it is revalidated.
func (m *Machine) conflict(entry *Entry, c Classification) {
	m.metrics.anomaly(m.family, "conflict")
	m.log.Warnw("conflicting neighbour reply",
		zap.Stringer("key", entry.Key),
		zap.Stringer("state", entry.State),
		zap.Stringer("existing", entry.Target),
		zap.Stringer("claimed", c.Target),
	)
}

func (m *Machine) expire(entry *Entry) {
	m.metrics.entryExpired(m.family)
	m.log.Infow("neighbour resolution failed",
		zap.Stringer("key", entry.Key),
		zap.Stringer("state", entry.State),
		zap.Int("retries", entry.Retries),
	)
	m.remove(entry, ErrUnreachable)
}

func (m *Machine) remove(entry *Entry, err error) {
	m.store.Delete(entry.Key)
	entry.State = StateExpired
	m.sink.Enqueue(Update{Key: entry.Key, Removed: true})
	m.notify(entry.Key, Target{}, err)
}

func (m *Machine) notify(key Key, target Target, err error) {
	waiters := m.waiters[key]
	delete(m.waiters, key)

	for _, w := range waiters {
		w(target, err)
	}
}
