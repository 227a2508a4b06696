package topology

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/gobwas/glob"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Option is a function that configures the link monitor.
type Option func(*options)

// WithLog configures the link monitor with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithLinkDownHandler configures the function called for every scope whose
// link went down or was removed.
func WithLinkDownHandler(fn func(Scope)) Option {
	return func(o *options) {
		o.OnLinkDown = fn
	}
}

// WithAddressAssignedHandler configures the function called for every
// address that appears on an already registered scope.
func WithAddressAssignedHandler(fn func(Scope, netip.Addr)) Option {
	return func(o *options) {
		o.OnAddressAssigned = fn
	}
}

type options struct {
	Log               *zap.SugaredLogger
	OnLinkDown        func(Scope)
	OnAddressAssigned func(Scope, netip.Addr)
}

func newOptions() *options {
	return &options{
		Log:               zap.NewNop().Sugar(),
		OnLinkDown:        func(Scope) {},
		OnAddressAssigned: func(Scope, netip.Addr) {},
	}
}

type rule struct {
	InterfaceConfig
	glob glob.Glob
}

// LinkMonitor keeps the registry in sync with netlink links.
//
// Links whose names match a configured rule become scopes while they are
// operationally up.
type LinkMonitor struct {
	mu                sync.Mutex
	rules             []rule
	registry          *Registry
	onLinkDown        func(Scope)
	onAddressAssigned func(Scope, netip.Addr)
	log               *zap.SugaredLogger
}

// NewLinkMonitor creates a new link monitor.
func NewLinkMonitor(cfg *Config, registry *Registry, options ...Option) (*LinkMonitor, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	rules := make([]rule, 0, len(cfg.Interfaces))
	for _, c := range cfg.Interfaces {
		g, err := c.compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule{InterfaceConfig: c, glob: g})
	}

	return &LinkMonitor{
		rules:             rules,
		registry:          registry,
		onLinkDown:        opts.OnLinkDown,
		onAddressAssigned: opts.OnAddressAssigned,
		log:               opts.Log,
	}, nil
}

// Sync reads all links and updates the registry.
func (m *LinkMonitor) Sync() error {
	links, err := netlink.LinkList()
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	seen := map[int]struct{}{}
	for _, link := range links {
		attrs := link.Attrs()
		seen[attrs.Index] = struct{}{}

		prefixes, err := linkPrefixes(link)
		if err != nil {
			m.log.Warnw("failed to list link addresses", zap.String("link", attrs.Name), zap.Error(err))
		}
		m.apply(*attrs, prefixes)
	}

	for _, scope := range m.registry.Scopes() {
		if _, ok := seen[scope.Interface]; !ok {
			m.down(scope.Interface)
		}
	}

	m.log.Infow("synchronized links", zap.Int("scopes", len(m.registry.Scopes())))
	return nil
}

// Run runs the link monitor until the specified context is canceled.
func (m *LinkMonitor) Run(ctx context.Context) error {
	m.log.Debugf("starting links monitor")
	defer m.log.Debugf("stopped links monitor")

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.runSubscription(ctx)
	})

	return wg.Wait()
}

func (m *LinkMonitor) runSubscription(ctx context.Context) error {
	txRx := make(chan netlink.LinkUpdate, 16)
	opts := netlink.LinkSubscribeOptions{}
	if err := netlink.LinkSubscribeWithOptions(txRx, ctx.Done(), opts); err != nil {
		return fmt.Errorf("failed to subscribe to links updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-txRx:
			if !ok {
				return fmt.Errorf("links subscription closed")
			}
			m.processUpdate(update)
		}
	}
}

func (m *LinkMonitor) processUpdate(update netlink.LinkUpdate) {
	attrs := update.Link.Attrs()

	m.log.Debugw("processing link update",
		zap.String("link", attrs.Name),
		zap.Int("index", attrs.Index),
		zap.Stringer("oper_state", attrs.OperState),
	)

	if update.Header.Type == unix.RTM_DELLINK {
		m.down(attrs.Index)
		return
	}

	prefixes, err := linkPrefixes(update.Link)
	if err != nil {
		m.log.Warnw("failed to list link addresses", zap.String("link", attrs.Name), zap.Error(err))
	}
	m.apply(*attrs, prefixes)
}

// apply registers or unregisters scopes of a single link.
func (m *LinkMonitor) apply(attrs netlink.LinkAttrs, prefixes []netip.Prefix) {
	r, ok := m.match(attrs.Name)
	if !ok {
		return
	}

	if !linkUp(attrs) {
		m.down(attrs.Index)
		return
	}

	mac, ok := MACFromSlice(attrs.HardwareAddr)
	if !ok {
		m.log.Warnf("skipping link %q with unsupported MAC address %q: must be EUI-48", attrs.Name, attrs.HardwareAddr)
		return
	}

	iface := Interface{
		Scope:    Scope{VLAN: r.VLAN, Interface: attrs.Index},
		Name:     attrs.Name,
		MAC:      mac,
		Prefixes: append(prefixes, r.Prefixes...),
		Ports:    []Port{LinkPort(attrs.Index)},
		Tagged:   r.Tagged,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, known := m.registry.Interface(iface.Scope)
	m.registry.Add(iface)
	if !known {
		m.log.Infow("registered scope",
			zap.Stringer("scope", iface.Scope),
			zap.String("link", iface.Name),
			zap.Stringer("mac", iface.MAC),
		)
		return
	}

	// Neighbours holding a newly assigned address must be forgotten.
	for _, prefix := range iface.Prefixes {
		if addr := prefix.Addr(); !prev.HasAddr(addr) {
			m.log.Infow("address assigned", zap.Stringer("scope", iface.Scope), zap.Stringer("addr", addr))
			m.onAddressAssigned(iface.Scope, addr)
		}
	}
}

func (m *LinkMonitor) down(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, scope := range m.registry.ByIndex(index) {
		if _, ok := m.registry.Remove(scope); !ok {
			continue
		}

		m.log.Infow("scope is down", zap.Stringer("scope", scope))
		m.onLinkDown(scope)
	}
}

func (m *LinkMonitor) match(name string) (rule, bool) {
	for _, r := range m.rules {
		if r.glob.Match(name) {
			return r, true
		}
	}

	return rule{}, false
}

func linkUp(attrs netlink.LinkAttrs) bool {
	switch attrs.OperState {
	case netlink.OperUp:
		return true
	case netlink.OperUnknown:
		return attrs.Flags&net.FlagUp != 0
	default:
		return false
	}
}

func linkPrefixes(link netlink.Link) ([]netip.Prefix, error) {
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, err
	}

	prefixes := make([]netip.Prefix, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}

		ip, ok := netip.AddrFromSlice(addr.IP)
		if !ok {
			continue
		}
		ones, _ := addr.Mask.Size()
		prefixes = append(prefixes, netip.PrefixFrom(ip.Unmap(), ones))
	}

	return prefixes, nil
}
