package api

// Config is the configuration for the diagnostic API server.
type Config struct {
	// Endpoint is the endpoint for the gRPC server to be exposed on.
	Endpoint string `yaml:"endpoint"`
}

func DefaultConfig() *Config {
	return &Config{
		Endpoint: "[::1]:9100",
	}
}
