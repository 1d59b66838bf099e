package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

func TestNewRegistryHasCoreMetrics(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Core)
	require.NotNil(t, r.PrometheusRegistry())

	// Core metrics are usable immediately
	r.Core.ConnectionsActive.Set(3)
	r.Core.MessagesSent.Inc()
	r.Core.DisconnectsTotal.WithLabelValues("error").Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["rpx_fanout_connections_active"])
	assert.True(t, names["rpx_fanout_messages_sent_total"])
	assert.True(t, names["rpx_spectrum_frames_broadcast_total"])
}

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})
	require.NoError(t, r.RegisterCounter("worker", "cycles", counter))

	// Same key is rejected
	err := r.RegisterCounter("worker", "cycles", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("worker", "cycles"))
	assert.False(t, r.Unregister("worker", "cycles"))

	// Re-registration works after unregister
	require.NoError(t, r.RegisterCounter("worker", "cycles", counter))
}

func TestRegisterGaugeConflict(t *testing.T) {
	r := NewRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})

	require.NoError(t, r.RegisterGauge("a", "one", g1))

	// Different registry key, same prometheus name
	err := r.RegisterGauge("b", "two", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
