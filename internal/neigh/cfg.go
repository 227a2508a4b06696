package neigh

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffKind selects how probe retry intervals grow.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// Config is the resolution policy.
type Config struct {
	// ReachableTime is how long a confirmed entry stays REACHABLE.
	ReachableTime time.Duration `yaml:"reachable_time"`
	// StaleProbeDelay is how long an unused STALE entry waits before it is
	// revalidated by the sweep.
	StaleProbeDelay time.Duration `yaml:"stale_probe_delay"`
	// ProbeInterval is the timeout of the first probe.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	// MaxProbeInterval caps exponential backoff.
	MaxProbeInterval time.Duration `yaml:"max_probe_interval"`
	// Backoff is either "exponential" or "fixed".
	Backoff BackoffKind `yaml:"backoff"`
	// BackoffMultiplier is the growth factor of exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// Jitter randomizes probe intervals by the given factor in [0, 1).
	Jitter float64 `yaml:"jitter"`
	// MaxRetries is the number of discovery probes sent after the first
	// one before the entry expires.
	MaxRetries int `yaml:"max_retries"`
	// RevalidateRetries is the same as MaxRetries for revalidation.
	RevalidateRetries int `yaml:"revalidate_retries"`
	// MaxPending limits the number of PENDING entries.
	MaxPending int `yaml:"max_pending"`
	// MaxEntries limits the number of entries of any state.
	MaxEntries int `yaml:"max_entries"`
}

func DefaultConfig() *Config {
	return &Config{
		ReachableTime:     30 * time.Second,
		StaleProbeDelay:   5 * time.Second,
		ProbeInterval:     time.Second,
		MaxProbeInterval:  8 * time.Second,
		Backoff:           BackoffExponential,
		BackoffMultiplier: 2,
		MaxRetries:        3,
		RevalidateRetries: 3,
		MaxPending:        1024,
		MaxEntries:        65536,
	}
}

// Validate checks the policy for consistency.
func (m *Config) Validate() error {
	if m.ReachableTime <= 0 {
		return fmt.Errorf("reachable_time must be positive")
	}
	if m.StaleProbeDelay <= 0 {
		return fmt.Errorf("stale_probe_delay must be positive")
	}
	if m.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive")
	}
	if m.MaxRetries < 0 || m.RevalidateRetries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if m.MaxPending <= 0 {
		return fmt.Errorf("max_pending must be positive")
	}
	if m.MaxEntries < m.MaxPending {
		return fmt.Errorf("max_entries must not be less than max_pending")
	}
	if m.Jitter < 0 || m.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1)")
	}

	switch m.Backoff {
	case BackoffFixed:
	case BackoffExponential:
		if m.BackoffMultiplier < 1 {
			return fmt.Errorf("backoff_multiplier must be at least 1")
		}
		if m.MaxProbeInterval < m.ProbeInterval {
			return fmt.Errorf("max_probe_interval must not be less than probe_interval")
		}
	default:
		return fmt.Errorf("unknown backoff %q", m.Backoff)
	}

	return nil
}

func (m *Config) newBackOff() backoff.BackOff {
	if m.Backoff == BackoffFixed {
		return backoff.NewConstantBackOff(m.ProbeInterval)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     m.ProbeInterval,
		RandomizationFactor: m.Jitter,
		Multiplier:          m.BackoffMultiplier,
		MaxInterval:         m.MaxProbeInterval,
	}
	b.Reset()
	return b
}
