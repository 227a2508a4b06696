package afpacket

import (
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
)

// Config is the raw socket transport configuration.
type Config struct {
	// RxBufferSize is the receive buffer size of each socket.
	RxBufferSize datasize.ByteSize `yaml:"rx_buffer_size"`
	// SyncPeriod is how often sockets are reconciled with the registered
	// scopes.
	SyncPeriod time.Duration `yaml:"sync_period"`
}

func DefaultConfig() *Config {
	return &Config{
		RxBufferSize: 256 * datasize.KB,
		SyncPeriod:   time.Second,
	}
}

// Validate checks the transport configuration.
func (m *Config) Validate() error {
	if m.RxBufferSize < 4*datasize.KB {
		return fmt.Errorf("rx_buffer_size must be at least 4KB, got %s", m.RxBufferSize.HR())
	}
	if m.RxBufferSize > datasize.GB {
		return fmt.Errorf("rx_buffer_size is too large: %s", m.RxBufferSize.HR())
	}
	if m.SyncPeriod <= 0 {
		return fmt.Errorf("sync_period must be positive")
	}

	return nil
}
