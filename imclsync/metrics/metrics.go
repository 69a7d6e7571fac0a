package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "imclsync"

// Metrics collects reconciliation counters for one run of the tool. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	reconciliations      *prometheus.CounterVec
	reconcileDuration    *prometheus.HistogramVec
	inventoryUnavailable *prometheus.CounterVec
	lastRun              prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Total number of package reconciliations",
			},
			[]string{"host", "state", "action", "changed", "failed"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of package reconciliations in seconds",
				// installs run from seconds to hours
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"host", "state", "action"},
		),
		inventoryUnavailable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inventory_unavailable_total",
				Help:      "Total number of failed installed-package queries",
			},
			[]string{"host"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}

	registry.MustRegister(m.reconciliations, m.reconcileDuration, m.inventoryUnavailable, m.lastRun)
	return m
}

// Registry exposes the underlying registry, e.g. for tests or an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ForHost returns a recorder that labels every observation with host.
func (m *Metrics) ForHost(host string) *HostMetrics {
	return &HostMetrics{metrics: m, host: host}
}

// MarkRun sets the last-run timestamp.
func (m *Metrics) MarkRun(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes every metric in the text exposition format, for the
// node_exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(filename, m.registry)
}

// HostMetrics records reconciliations for a single host.
type HostMetrics struct {
	metrics *Metrics
	host    string
}

func (h *HostMetrics) ObserveReconcile(state, action string, changed, failed bool, elapsed time.Duration) {
	if h == nil || h.metrics == nil {
		return
	}
	m := h.metrics
	m.reconciliations.WithLabelValues(h.host, state, action, strconv.FormatBool(changed), strconv.FormatBool(failed)).Inc()
	m.reconcileDuration.WithLabelValues(h.host, state, action).Observe(elapsed.Seconds())
}

func (h *HostMetrics) InventoryUnavailable() {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.inventoryUnavailable.WithLabelValues(h.host).Inc()
}
