package neigh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/internal/swstate"
)

// StateTree is the versioned switch state neighbours are published into.
type StateTree interface {
	Read() *swstate.State
	Commit(next *swstate.State) error
}

// PublisherConfig configures the state publisher.
type PublisherConfig struct {
	// FlushPeriod is the interval between periodic publish cycles.
	FlushPeriod time.Duration `yaml:"flush_period"`
	// MaxCommitAttempts bounds optimistic commit retries within a cycle.
	MaxCommitAttempts uint `yaml:"max_commit_attempts"`
	// CommitBackoff is the initial delay between commit attempts.
	CommitBackoff time.Duration `yaml:"commit_backoff"`
}

func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		FlushPeriod:       time.Second,
		MaxCommitAttempts: 5,
		CommitBackoff:     10 * time.Millisecond,
	}
}

// Validate checks the publisher configuration.
func (m *PublisherConfig) Validate() error {
	if m.FlushPeriod <= 0 {
		return fmt.Errorf("flush_period must be positive")
	}
	if m.MaxCommitAttempts == 0 {
		return fmt.Errorf("max_commit_attempts must be positive")
	}
	if m.CommitBackoff < 0 {
		return fmt.Errorf("commit_backoff must not be negative")
	}

	return nil
}

// Publisher applies entry changes to the switch state.
//
// Changes are coalesced per key, the latest one wins. Each cycle commits
// all collected changes as a single new version, retrying on conflicts with
// a freshly read version.
type Publisher struct {
	cfg     *PublisherConfig
	tree    StateTree
	mu      sync.Mutex
	pending map[Key]Update
	kick    chan struct{}
	metrics *Metrics
	log     *zap.SugaredLogger
}

// NewPublisher creates a new publisher.
func NewPublisher(cfg *PublisherConfig, tree StateTree, options ...Option) *Publisher {
	opts := newOptions(options...)

	return &Publisher{
		cfg:     cfg,
		tree:    tree,
		pending: map[Key]Update{},
		kick:    make(chan struct{}, 1),
		metrics: opts.Metrics,
		log:     opts.Log,
	}
}

// Enqueue schedules an update for the next publish cycle.
func (m *Publisher) Enqueue(update Update) {
	m.mu.Lock()
	m.pending[update.Key] = update
	m.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Pending returns the number of updates waiting to be published.
func (m *Publisher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

// Run publishes updates until the specified context is canceled.
func (m *Publisher) Run(ctx context.Context) error {
	m.log.Debugf("starting state publisher")
	defer m.log.Debugf("stopped state publisher")

	ticker := time.NewTicker(m.cfg.FlushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.kick:
		case <-ticker.C:
		}

		if err := m.Flush(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warnw("skipped publish cycle", zap.Error(err))
		}
	}
}

// Flush commits all pending updates.
//
// If the commit attempts are exhausted, the updates are kept for the next
// cycle unless newer ones for the same keys have arrived.
func (m *Publisher) Flush(ctx context.Context) error {
	batch := m.take()
	if len(batch) == 0 {
		return nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     m.cfg.CommitBackoff,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         m.cfg.FlushPeriod,
	}

	version, err := backoff.Retry(ctx, func() (uint64, error) {
		return m.commit(batch)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(m.cfg.MaxCommitAttempts))
	if err != nil {
		m.metrics.commitFailed()
		m.restore(batch)
		return fmt.Errorf("failed to publish %d neighbour updates: %w", len(batch), err)
	}

	m.log.Debugw("published neighbour updates", zap.Int("size", len(batch)), zap.Uint64("version", version))
	return nil
}

func (m *Publisher) commit(batch map[Key]Update) (uint64, error) {
	builder := m.tree.Read().Derive()
	for key, update := range batch {
		if update.Removed {
			builder.DeleteNeighbor(key.stateKey())
			continue
		}
		builder.SetNeighbor(key.stateKey(), update.Entry)
	}

	next := builder.Build()
	if err := m.tree.Commit(next); err != nil {
		var conflict *swstate.ConflictError
		if errors.As(err, &conflict) {
			m.metrics.commitConflict()
			m.log.Debugw("state commit conflict", zap.Uint64("current", conflict.Current.Version()))
			return 0, err
		}

		return 0, backoff.Permanent(err)
	}

	return next.Version(), nil
}

func (m *Publisher) take() map[Key]Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.pending
	m.pending = map[Key]Update{}
	return batch
}

func (m *Publisher) restore(batch map[Key]Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, update := range batch {
		if _, ok := m.pending[key]; !ok {
			m.pending[key] = update
		}
	}
}
