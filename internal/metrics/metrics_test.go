package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordBuffer(true)
	m.RecordBuffer(true)
	m.RecordBuffer(false)
	m.RecordPeerLost("relay")
	m.RecordKeepAlive()
	m.SetRegistrySize(3)
	m.SetWindows(2)
	m.RecordAppEvent("open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BuffersTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuffersTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PeerLostTotal.WithLabelValues("relay")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeepAlive))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegistrySize))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Windows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppEvents.WithLabelValues("open")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBuffer(true)
		m.RecordPeerLost("app")
		m.RecordKeepAlive()
		m.SetRegistrySize(1)
		m.SetWindows(1)
		m.RecordAppEvent("close")
		m.RecordSensorSample()
	})
	assert.Nil(t, m.Registry())
}

func TestPrivateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.RecordKeepAlive()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.KeepAlive))
}
