// Package metrics exposes prometheus collectors for checks and updates.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hold"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	checks          *prometheus.CounterVec
	updates         *prometheus.CounterVec
	bytesDownloaded prometheus.Counter
	inFlight        prometheus.Gauge
	registry        *prometheus.Registry
}

// New creates the collectors on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Update checks by outcome.",
		}, []string{"outcome"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Finished update attempts by result.",
		}, []string{"result"}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes fetched from manifest origins.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "updates_in_flight",
			Help:      "Updates currently running.",
		}),
		registry: prometheus.NewRegistry(),
	}

	for _, c := range []prometheus.Collector{m.checks, m.updates, m.bytesDownloaded, m.inFlight} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// Gatherer returns the registry for exposition.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// CheckCompleted counts one check with its outcome.
func (m *Metrics) CheckCompleted(outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
}

// UpdateStarted marks an attempt as running.
func (m *Metrics) UpdateStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// UpdateFinished records the result of an attempt: finished, failed or aborted.
func (m *Metrics) UpdateFinished(result string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.updates.WithLabelValues(result).Inc()
}

// Downloaded adds fetched bytes.
func (m *Metrics) Downloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesDownloaded.Add(float64(n))
}

// WriteTextfile writes the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
