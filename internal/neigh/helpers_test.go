package neigh

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/internal/topology"
)

var (
	testScope  = topology.Scope{VLAN: 100, Interface: 1}
	otherScope = topology.Scope{VLAN: 200, Interface: 1}

	localMAC = topology.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	peerMAC  = topology.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	rogueMAC = topology.MAC{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x66}

	peerAddr  = netip.MustParseAddr("10.0.0.5")
	otherAddr = netip.MustParseAddr("10.1.0.5")

	testStart = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
)

type sentProbe struct {
	Key    Key
	Target *Target
}

// testProtocol classifies frames previously registered with frame().
type testProtocol struct {
	mu      sync.Mutex
	family  Family
	frames  map[string]Classification
	probes  []sentProbe
	trusted bool
}

func newTestProtocol() *testProtocol {
	return &testProtocol{
		family:  FamilyIPv4,
		frames:  map[string]Classification{},
		trusted: true,
	}
}

func (m *testProtocol) frame(c Classification) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := string(rune('a' + len(m.frames)))
	m.frames[id] = c
	return []byte(id)
}

func (m *testProtocol) sent() []sentProbe {
	m.mu.Lock()
	defer m.mu.Unlock()

	probes := make([]sentProbe, len(m.probes))
	copy(probes, m.probes)
	return probes
}

func (m *testProtocol) Family() Family {
	return m.family
}

func (m *testProtocol) BuildProbe(key Key, target *Target) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	probe := sentProbe{Key: key}
	if target != nil {
		t := *target
		probe.Target = &t
	}
	m.probes = append(m.probes, probe)
	return []byte("probe"), nil
}

func (m *testProtocol) Classify(scope topology.Scope, port topology.Port, frame []byte) Classification {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.frames[string(frame)]
	if !ok {
		return Classification{Verdict: VerdictMalformed, Reason: "unknown frame"}
	}
	return c
}

func (m *testProtocol) AuthoritativeForUnsolicited(c Classification) bool {
	return m.trusted
}

type transmission struct {
	Scope topology.Scope
	Port  topology.Port
	Frame string
}

type testTransport struct {
	mu   sync.Mutex
	sent []transmission
	err  error
}

func (m *testTransport) Transmit(scope topology.Scope, port topology.Port, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, transmission{Scope: scope, Port: port, Frame: string(frame)})
	return nil
}

func (m *testTransport) transmissions() []transmission {
	m.mu.Lock()
	defer m.mu.Unlock()

	sent := make([]transmission, len(m.sent))
	copy(sent, m.sent)
	return sent
}

type testSink struct {
	mu      sync.Mutex
	updates []Update
}

func (m *testSink) Enqueue(update Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates = append(m.updates, update)
}

func (m *testSink) published() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	updates := make([]Update, len(m.updates))
	copy(updates, m.updates)
	return updates
}

func (m *testSink) last() Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.updates[len(m.updates)-1]
}

func newTestRegistry() *topology.Registry {
	registry := topology.NewRegistry()
	registry.Add(topology.Interface{
		Scope:    testScope,
		Name:     "eth0.100",
		MAC:      localMAC,
		Prefixes: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")},
		Ports:    []topology.Port{1, 2},
		Tagged:   true,
	})
	registry.Add(topology.Interface{
		Scope:    otherScope,
		Name:     "eth0.200",
		MAC:      localMAC,
		Prefixes: []netip.Prefix{netip.MustParsePrefix("10.1.0.1/24")},
		Tagged:   true,
	})

	return registry
}

type testMachine struct {
	*Machine
	protocol  *testProtocol
	transport *testTransport
	sink      *testSink
}

func newTestMachine(t *testing.T, cfg *Config) *testMachine {
	t.Helper()
	require.NoError(t, cfg.Validate())

	log, _ := zap.NewDevelopment()
	protocol := newTestProtocol()
	transport := &testTransport{}
	sink := &testSink{}

	return &testMachine{
		Machine:   NewMachine(cfg, protocol, newTestRegistry(), transport, sink, WithLog(log.Sugar())),
		protocol:  protocol,
		transport: transport,
		sink:      sink,
	}
}

func (m *testMachine) entry(t *testing.T, key Key) *Entry {
	t.Helper()

	entry, ok := m.store.Get(key)
	require.True(t, ok, "no entry for %s", key)
	return entry
}

func (m *testMachine) reply(key Key, target Target, now time.Time) {
	frame := m.protocol.frame(Classification{
		Verdict: VerdictConfirming,
		Key:     key,
		Target:  target,
	})
	m.HandlePacket(key.Scope, target.Port, frame, now)
}

func (m *testMachine) announce(key Key, target Target, now time.Time) {
	frame := m.protocol.frame(Classification{
		Verdict:     VerdictConfirming,
		Key:         key,
		Target:      target,
		Unsolicited: true,
		Override:    true,
	})
	m.HandlePacket(key.Scope, target.Port, frame, now)
}

// requireConsistent checks that a link address is present exactly when the
// entry is resolved.
func (m *testMachine) requireConsistent(t *testing.T) {
	t.Helper()

	for _, info := range m.Entries(testStart) {
		if info.State.Resolved() {
			require.NotNil(t, info.Target, "%s in %s without target", info.Key, info.State)
		} else {
			require.Nil(t, info.Target, "%s in %s with target", info.Key, info.State)
		}
	}
}
