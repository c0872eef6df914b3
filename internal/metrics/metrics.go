// Package metrics exposes engine activity to Prometheus. It implements the
// engine's Observer so pools report worker failures and live throughput
// without knowing about the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
)

// Metrics bundles the collectors for one application instance.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	phaseMbps      *prometheus.GaugeVec
	phaseBytes     *prometheus.GaugeVec
	liveMbps       *prometheus.GaugeVec
	workerFailures *prometheus.CounterVec
	lastPingMs     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advspeedtest",
			Name:      "runs_total",
			Help:      "Completed test runs by outcome.",
		}, []string{"outcome"}),
		phaseMbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "advspeedtest",
			Name:      "phase_mbps",
			Help:      "Reported throughput of the last finished phase.",
		}, []string{"phase"}),
		phaseBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "advspeedtest",
			Name:      "phase_window_bytes",
			Help:      "Counted window bytes of the last finished phase.",
		}, []string{"phase"}),
		liveMbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "advspeedtest",
			Name:      "live_mbps",
			Help:      "Instantaneous throughput of the running phase.",
		}, []string{"phase"}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advspeedtest",
			Name:      "worker_failures_total",
			Help:      "Workers that exhausted their retries.",
		}, []string{"phase"}),
		lastPingMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "advspeedtest",
			Name:      "last_ping_ms",
			Help:      "Average RTT of the last latency test in milliseconds.",
		}),
	}
	m.registry.MustRegister(
		m.runsTotal, m.phaseMbps, m.phaseBytes,
		m.liveMbps, m.workerFailures, m.lastPingMs,
	)
	return m
}

// Registry returns the registry served by the control endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WorkerFailed implements engine.Observer.
func (m *Metrics) WorkerFailed(role engine.Role) {
	m.workerFailures.WithLabelValues(role.String()).Inc()
}

// SampleTaken implements engine.Observer.
func (m *Metrics) SampleTaken(role engine.Role, sample engine.ThroughputSample) {
	m.liveMbps.WithLabelValues(role.String()).Set(sample.InstantMbps())
}

// RecordRun captures the final figures of a full run.
func (m *Metrics) RecordRun(success bool, pingMs float64, download, upload *engine.Result) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	if pingMs > 0 {
		m.lastPingMs.Set(pingMs)
	}
	if download != nil {
		m.phaseMbps.WithLabelValues(engine.RoleDownload.String()).Set(download.Mbps)
		m.phaseBytes.WithLabelValues(engine.RoleDownload.String()).Set(float64(download.Bytes))
	}
	if upload != nil {
		m.phaseMbps.WithLabelValues(engine.RoleUpload.String()).Set(upload.Mbps)
		m.phaseBytes.WithLabelValues(engine.RoleUpload.String()).Set(float64(upload.Bytes))
	}
}
