package topology

import (
	"fmt"
	"net/netip"

	"github.com/gobwas/glob"
)

// Config describes which links become neighbour resolution scopes.
type Config struct {
	// Interfaces is the list of interface rules, first match wins.
	Interfaces []InterfaceConfig `yaml:"interfaces"`
}

// InterfaceConfig binds links matched by name to a scope.
type InterfaceConfig struct {
	// Match is a glob pattern matched against link names, for example "swp*".
	Match string `yaml:"match"`
	// VLAN is the VLAN of the resulting scope.
	VLAN uint16 `yaml:"vlan"`
	// Tagged makes probes carry an 802.1Q header with VLAN.
	Tagged bool `yaml:"tagged"`
	// Prefixes are added to the addresses discovered on the link.
	Prefixes []netip.Prefix `yaml:"prefixes"`
}

func DefaultConfig() *Config {
	return &Config{}
}

// Validate checks that every interface rule is usable.
func (m *Config) Validate() error {
	for idx, rule := range m.Interfaces {
		if _, err := rule.compile(); err != nil {
			return fmt.Errorf("interface rule #%d: %w", idx, err)
		}
		if rule.VLAN > 4094 {
			return fmt.Errorf("interface rule #%d: VLAN %d is out of range", idx, rule.VLAN)
		}
	}

	return nil
}

func (m *InterfaceConfig) compile() (glob.Glob, error) {
	if m.Match == "" {
		return nil, fmt.Errorf("empty match pattern")
	}

	g, err := glob.Compile(m.Match)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", m.Match, err)
	}

	return g, nil
}
