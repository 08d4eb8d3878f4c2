package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAttempt("query", "ok", 20*time.Millisecond)
	m.ConnectionOpened()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["appsync_client_http_attempts_total"])
	assert.True(t, names["appsync_client_http_attempt_duration_seconds"])
	assert.True(t, names["appsync_client_realtime_connections_total"])
}

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.ObserveAttempt("query", "rate_limited", time.Millisecond)
	m.ObserveAttempt("query", "rate_limited", time.Millisecond)
	m.ObserveOperation("query", "error")
	m.ConnectionFailed()
	m.KeepAliveLapsed()
	m.FrameReceived("ka")
	m.FrameReceived("ka")
	m.FrameReceived("data")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("query", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("query", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keepAliveLapses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("ka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("data")))
}

func TestMetrics_SubscriptionGauge(t *testing.T) {
	m := New(nil)

	m.SubscriptionAdded()
	m.SubscriptionAdded()
	m.SubscriptionRemoved("complete")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionEnds.WithLabelValues("complete")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveAttempt("query", "ok", time.Second)
		m.ObserveOperation("query", "ok")
		m.ConnectionOpened()
		m.ConnectionFailed()
		m.KeepAliveLapsed()
		m.SubscriptionAdded()
		m.SubscriptionRemoved("closed")
		m.FrameReceived("data")
	})
}
