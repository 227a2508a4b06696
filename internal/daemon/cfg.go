package daemon

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/neighd/common/go/logging"
	"github.com/yanet-platform/neighd/internal/api"
	"github.com/yanet-platform/neighd/internal/neigh"
	"github.com/yanet-platform/neighd/internal/topology"
	"github.com/yanet-platform/neighd/internal/transport/afpacket"
)

type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Neighbour is the resolution state machine configuration.
	Neighbour *neigh.Config `yaml:"neighbour"`
	// Publisher is the switch state publisher configuration.
	Publisher *neigh.PublisherConfig `yaml:"publisher"`
	// Topology describes which links are served.
	Topology *topology.Config `yaml:"topology"`
	// Transport is the raw packet transport configuration.
	Transport *afpacket.Config `yaml:"transport"`
	// API is the diagnostic gRPC API configuration.
	API *api.Config `yaml:"api"`
	// Metrics is the Prometheus endpoint configuration.
	Metrics *MetricsConfig `yaml:"metrics"`
}

// MetricsConfig is the configuration for the metrics HTTP server.
type MetricsConfig struct {
	// Endpoint is the endpoint for the metrics server to be exposed on.
	//
	// An empty endpoint disables the server.
	Endpoint string `yaml:"endpoint"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging:   logging.DefaultConfig(),
		Neighbour: neigh.DefaultConfig(),
		Publisher: neigh.DefaultPublisherConfig(),
		Topology:  topology.DefaultConfig(),
		Transport: afpacket.DefaultConfig(),
		API:       api.DefaultConfig(),
		Metrics: &MetricsConfig{
			Endpoint: "[::1]:9101",
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(buf)
}

// ParseConfig parses the YAML configuration over the defaults.
func ParseConfig(buf []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
//
// To avoid infinite recursion, the validating wrapper casts itself to the
// private config struct. This allows the decoder to operate on it using the
// default behavior for handling Go structs without an unmarshal method.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	err := value.Decode((*config)(m))
	if err != nil {
		return err
	}
	return m.Validate()
}

// Validate validates the daemon configuration.
func (m *Config) Validate() error {
	if err := m.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if m.Neighbour == nil {
		return fmt.Errorf("neighbour is not configured")
	}
	if err := m.Neighbour.Validate(); err != nil {
		return fmt.Errorf("neighbour: %w", err)
	}
	if m.Publisher == nil {
		return fmt.Errorf("publisher is not configured")
	}
	if err := m.Publisher.Validate(); err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	if m.Topology == nil {
		return fmt.Errorf("topology is not configured")
	}
	if err := m.Topology.Validate(); err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	if m.Transport == nil {
		return fmt.Errorf("transport is not configured")
	}
	if err := m.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if m.API == nil || m.API.Endpoint == "" {
		return fmt.Errorf("api endpoint is not configured")
	}
	if m.Metrics == nil {
		m.Metrics = &MetricsConfig{}
	}

	return nil
}
