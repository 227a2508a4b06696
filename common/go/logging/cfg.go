package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Encoding is either "console" or "json".
	Encoding string `yaml:"encoding"`
}

func DefaultConfig() Config {
	return Config{
		Level:    zapcore.InfoLevel,
		Encoding: "console",
	}
}

// Validate checks the logging configuration.
func (m *Config) Validate() error {
	switch m.Encoding {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("unsupported log encoding %q", m.Encoding)
	}
}
