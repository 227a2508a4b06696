package neigh

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "neighd"

// Metrics are the neighbour cache counters.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	probes           *prometheus.CounterVec
	transmitFailures *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	expired          *prometheus.CounterVec
	commitConflicts  prometheus.Counter
	commitFailures   prometheus.Counter
	entries          *prometheus.GaugeVec
}

// NewMetrics creates the cache metrics and registers them in the registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: newCounterVec(registry, "cache", "probes_total",
			"Probes transmitted.", "family", "kind"),
		transmitFailures: newCounterVec(registry, "cache", "transmit_failures_total",
			"Frames that failed to be transmitted.", "family"),
		anomalies: newCounterVec(registry, "cache", "anomalies_total",
			"Inbound protocol anomalies.", "family", "reason"),
		expired: newCounterVec(registry, "cache", "expired_total",
			"Entries removed after retries were exhausted.", "family"),
		commitConflicts: newCounter(registry, "publisher", "commit_conflicts_total",
			"Switch state commits rejected due to a concurrent modification."),
		commitFailures: newCounter(registry, "publisher", "commit_failures_total",
			"Publish cycles skipped after exhausting commit attempts."),
		entries: newGaugeVec(registry, "cache", "entries",
			"Neighbour entries by state.", "family", "state"),
	}

	return m
}

func newCounterVec(registry prometheus.Registerer, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	metric := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(metric)
	return metric
}

func newCounter(registry prometheus.Registerer, subsystem, name, help string) prometheus.Counter {
	metric := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(metric)
	return metric
}

func newGaugeVec(registry prometheus.Registerer, subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	metric := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(metric)
	return metric
}

func (m *Metrics) probeSent(family Family, revalidate bool) {
	if m == nil {
		return
	}

	kind := "discover"
	if revalidate {
		kind = "revalidate"
	}
	m.probes.WithLabelValues(family.String(), kind).Inc()
}

func (m *Metrics) transmitFailed(family Family) {
	if m == nil {
		return
	}
	m.transmitFailures.WithLabelValues(family.String()).Inc()
}

func (m *Metrics) anomaly(family Family, reason string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(family.String(), reason).Inc()
}

func (m *Metrics) entryExpired(family Family) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(family.String()).Inc()
}

func (m *Metrics) commitConflict() {
	if m == nil {
		return
	}
	m.commitConflicts.Inc()
}

func (m *Metrics) commitFailed() {
	if m == nil {
		return
	}
	m.commitFailures.Inc()
}

func (m *Metrics) observeEntries(family Family, store *Store) {
	if m == nil {
		return
	}

	for _, state := range allStates {
		m.entries.WithLabelValues(family.String(), state.String()).Set(float64(store.Count(state)))
	}
}
