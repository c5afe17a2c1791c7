// Package metrics holds the relay's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	BuffersTotal  *prometheus.CounterVec
	PeerLostTotal *prometheus.CounterVec
	KeepAlive     prometheus.Counter
	RegistrySize  prometheus.Gauge
	Windows       prometheus.Gauge
	AppEvents     *prometheus.CounterVec
	SensorSamples prometheus.Counter
}

// New creates collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BuffersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidrelay_buffers_total",
				Help: "Buffers handed to the render loop, by result",
			},
			[]string{"result"},
		),
		PeerLostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidrelay_peer_lost_total",
				Help: "Peer connections torn down, by channel",
			},
			[]string{"channel"},
		),
		KeepAlive: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "droidrelay_keepalive_total",
				Help: "Keep-alive repaints requested during idle periods",
			},
		),
		RegistrySize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "droidrelay_registry_size",
				Help: "Buffers registered by the current relay peer",
			},
		),
		Windows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "droidrelay_windows",
				Help: "Live guest windows",
			},
		),
		AppEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidrelay_app_events_total",
				Help: "App lifecycle commands received, by kind",
			},
			[]string{"kind"},
		),
		SensorSamples: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "droidrelay_sensor_samples_total",
				Help: "Accelerometer samples sent to the guest",
			},
		),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordBuffer counts one completed buffer hand-off.
func (m *Metrics) RecordBuffer(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.BuffersTotal.WithLabelValues(result).Inc()
}

// RecordPeerLost counts one torn-down connection on channel.
func (m *Metrics) RecordPeerLost(channel string) {
	if m == nil {
		return
	}
	m.PeerLostTotal.WithLabelValues(channel).Inc()
}

// RecordKeepAlive counts one keep-alive repaint.
func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlive.Inc()
}

// SetRegistrySize records the relay peer's registry length.
func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistrySize.Set(float64(n))
}

// SetWindows records the number of live windows.
func (m *Metrics) SetWindows(n int) {
	if m == nil {
		return
	}
	m.Windows.Set(float64(n))
}

// RecordAppEvent counts one app lifecycle command.
func (m *Metrics) RecordAppEvent(kind string) {
	if m == nil {
		return
	}
	m.AppEvents.WithLabelValues(kind).Inc()
}

// RecordSensorSample counts one sample reply.
func (m *Metrics) RecordSensorSample() {
	if m == nil {
		return
	}
	m.SensorSamples.Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
