package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("google", "ok")
	m.ObserveRequest("google", "ok")
	m.ObserveRequest("", "unknown_model")
	m.TelemetryResult("dropped")
	m.SessionCacheResult("hit")
	m.ObserveUpstream("openrouter", 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("google", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("none", "unknown_model")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryEvents.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionCache.WithLabelValues("hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.UpstreamDuration))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("google", "ok")
		m.ObserveUpstream("google", time.Second)
		m.TelemetryResult("recorded")
		m.SessionCacheResult("miss")
	})
}
