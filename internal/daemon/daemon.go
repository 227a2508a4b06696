//go:build linux

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/neighd/internal/api"
	"github.com/yanet-platform/neighd/internal/neigh"
	"github.com/yanet-platform/neighd/internal/neigh/arp"
	"github.com/yanet-platform/neighd/internal/neigh/ndp"
	"github.com/yanet-platform/neighd/internal/swstate"
	"github.com/yanet-platform/neighd/internal/topology"
	"github.com/yanet-platform/neighd/internal/transport/afpacket"
)

type options struct {
	Log      *zap.SugaredLogger
	LogLevel *zap.AtomicLevel
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// DaemonOption is a function that configures the daemon.
type DaemonOption func(*options)

// WithLog sets the logger for the daemon.
func WithLog(log *zap.SugaredLogger) DaemonOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithAtomicLogLevel sets the atomic logger level for the daemon.
//
// This level can be changed at runtime.
func WithAtomicLogLevel(level *zap.AtomicLevel) DaemonOption {
	return func(o *options) {
		o.LogLevel = level
	}
}

// Daemon is the neighbour resolution daemon.
//
// It discovers scopes from the kernel links, receives and transmits ARP and
// NDP frames on them and publishes resolved neighbours into the switch
// state.
type Daemon struct {
	cfg       *Config
	registry  *topology.Registry
	tree      *swstate.Tree
	metrics   *prometheus.Registry
	monitor   *topology.LinkMonitor
	transport *afpacket.Transport
	cache     *neigh.Cache
	publisher *neigh.Publisher
	api       *api.Server
	log       *zap.SugaredLogger
}

// NewDaemon creates a new daemon using specified config.
func NewDaemon(cfg *Config, options ...DaemonOption) (*Daemon, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	log := opts.Log
	log.Infof("initializing neighd ...")
	log.Debugw("parsed config", zap.Any("config", cfg))

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := neigh.NewMetrics(metricsRegistry)

	registry := topology.NewRegistry()
	tree := swstate.NewTree()

	publisher := neigh.NewPublisher(
		cfg.Publisher,
		tree,
		neigh.WithLog(log.Named("publisher")),
		neigh.WithMetrics(metrics),
	)

	transport := afpacket.New(
		cfg.Transport,
		registry,
		afpacket.WithLog(log.Named("transport")),
	)

	cache, err := neigh.NewCache(
		cfg.Neighbour,
		[]neigh.Protocol{
			arp.New(registry),
			ndp.New(registry),
		},
		registry,
		transport,
		publisher,
		neigh.WithLog(log.Named("neighbour")),
		neigh.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize neighbour cache: %w", err)
	}

	monitor, err := topology.NewLinkMonitor(
		cfg.Topology,
		registry,
		topology.WithLog(log.Named("topology")),
		topology.WithLinkDownHandler(cache.OnLinkDown),
		topology.WithAddressAssignedHandler(cache.OnAddressAssigned),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize link monitor: %w", err)
	}

	return &Daemon{
		cfg:       cfg,
		registry:  registry,
		tree:      tree,
		metrics:   metricsRegistry,
		monitor:   monitor,
		transport: transport,
		cache:     cache,
		publisher: publisher,
		api:       api.NewServer(cfg.API, cache, log.Named("api")),
		log:       log,
	}, nil
}

// Run runs the daemon until the specified context is canceled.
func (m *Daemon) Run(ctx context.Context) error {
	if err := m.monitor.Sync(); err != nil {
		return fmt.Errorf("failed to synchronize links: %w", err)
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.cache.Run(ctx)
	})
	wg.Go(func() error {
		return m.publisher.Run(ctx)
	})
	wg.Go(func() error {
		return m.monitor.Run(ctx)
	})
	wg.Go(func() error {
		return m.transport.Run(ctx, m.cache)
	})
	wg.Go(func() error {
		return m.api.Run(ctx)
	})
	wg.Go(func() error {
		return m.watchState(ctx)
	})
	if m.cfg.Metrics.Endpoint != "" {
		wg.Go(func() error {
			return m.runMetricsServer(ctx)
		})
	}

	m.log.Infow("started neighd", zap.Int("scopes", len(m.registry.Scopes())))

	return wg.Wait()
}

// watchState logs every new version of the switch state.
func (m *Daemon) watchState(ctx context.Context) error {
	for {
		changed := m.tree.Changed()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}

		state := m.tree.Read()
		_, count := state.Neighbors()
		m.log.Debugw("switch state changed",
			zap.Uint64("version", state.Version()),
			zap.Int("neighbours", count),
		)
	}
}

// runMetricsServer exposes Prometheus metrics over HTTP.
func (m *Daemon) runMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.metrics, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    m.cfg.Metrics.Endpoint,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		m.log.Infow("shutting down metrics server", zap.String("addr", m.cfg.Metrics.Endpoint))
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.log.Warnw("failed to shut down metrics server", zap.Error(err))
		}
	}()

	m.log.Infow("exposing metrics", zap.String("addr", m.cfg.Metrics.Endpoint))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}

	return nil
}
