// Package metrics holds the router's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airouter"

// Metrics groups every collector the router exports. All methods are safe
// to call on a nil *Metrics so components can run without metrics wired.
type Metrics struct {
	Requests         *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	TelemetryEvents  *prometheus.CounterVec
	SessionCache     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Router requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream provider calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		TelemetryEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Telemetry events by result (recorded, failed, dropped, skipped)",
		}, []string{"result"}),
		SessionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cache_total",
			Help:      "Work-session cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Requests, m.UpstreamDuration, m.TelemetryEvents, m.SessionCache)
	return m
}

// ObserveRequest counts one router request. provider is "" for requests
// rejected before dispatch.
func (m *Metrics) ObserveRequest(provider, outcome string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.Requests.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveUpstream(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) TelemetryResult(result string) {
	if m == nil {
		return
	}
	m.TelemetryEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionCacheResult(result string) {
	if m == nil {
		return
	}
	m.SessionCache.WithLabelValues(result).Inc()
}
