package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yanet-platform/neighd/internal/api"
	"github.com/yanet-platform/neighd/internal/topology"
)

// clientFlags are the flags shared by commands talking to a running daemon.
type clientFlags struct {
	Endpoint  string
	Timeout   time.Duration
	VLAN      uint16
	Interface string
}

func (m *clientFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&m.Endpoint, "endpoint", api.DefaultConfig().Endpoint, "Daemon gRPC API endpoint")
	c.Flags().DurationVar(&m.Timeout, "timeout", 5*time.Second, "Request timeout")
	c.Flags().Uint16Var(&m.VLAN, "vlan", 0, "Scope VLAN")
	c.Flags().StringVarP(&m.Interface, "interface", "i", "", "Scope interface name or index")
}

// scope returns the scope selected by flags, or nil if no interface is
// specified.
func (m *clientFlags) scope() (*topology.Scope, error) {
	if m.Interface == "" {
		return nil, nil
	}

	index, err := strconv.Atoi(m.Interface)
	if err != nil {
		iface, err := net.InterfaceByName(m.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %q: %w", m.Interface, err)
		}
		index = iface.Index
	}

	return &topology.Scope{VLAN: m.VLAN, Interface: index}, nil
}

func (m *clientFlags) requireScope() (topology.Scope, error) {
	scope, err := m.scope()
	if err != nil {
		return topology.Scope{}, err
	}
	if scope == nil {
		return topology.Scope{}, fmt.Errorf("--interface is required")
	}

	return *scope, nil
}

func (m *clientFlags) connect(ctx context.Context) (*api.Client, context.Context, context.CancelFunc, error) {
	client, err := api.NewClient(m.Endpoint)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	return client, ctx, cancel, nil
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q: %w", s, err)
	}

	return addr, nil
}
