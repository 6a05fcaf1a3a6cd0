package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed(reason string)
	RoomsActive(n int)
	MessageHandled(action string, duration time.Duration)
	MessageRejected(code string)
	BroadcastDelivered(delivered, dropped int)
	CountdownsActive(n int)
	SweepCompleted(kind string, removed int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) ConnectionOpened()                                    {}
func (n *NoOpMetricsCollector) ConnectionClosed(reason string)                       {}
func (n *NoOpMetricsCollector) RoomsActive(count int)                                {}
func (n *NoOpMetricsCollector) MessageHandled(action string, duration time.Duration) {}
func (n *NoOpMetricsCollector) MessageRejected(code string)                          {}
func (n *NoOpMetricsCollector) BroadcastDelivered(delivered, dropped int)            {}
func (n *NoOpMetricsCollector) CountdownsActive(count int)                           {}
func (n *NoOpMetricsCollector) SweepCompleted(kind string, removed int)              {}

// PrometheusMetrics implements MetricsCollector on a dedicated registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
	disconnects      *prometheus.CounterVec
	rooms            prometheus.Gauge
	messages         *prometheus.CounterVec
	messageDuration  *prometheus.HistogramVec
	rejections       *prometheus.CounterVec
	framesDelivered  prometheus.Counter
	framesDropped    prometheus.Counter
	countdowns       prometheus.Gauge
	sweepRemovals    *prometheus.CounterVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsync_ws_connections",
			Help: "Current number of open websocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorsync_ws_connections_total",
			Help: "Total websocket connections accepted",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorsync_ws_disconnects_total",
			Help: "Connections torn down, by reason",
		}, []string{"reason"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsync_rooms_active",
			Help: "Company rooms with at least one member",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorsync_messages_total",
			Help: "Inbound frames handled, by action",
		}, []string{"action"}),
		messageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "floorsync_message_duration_seconds",
			Help:    "Time spent handling an inbound frame",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"action"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorsync_messages_rejected_total",
			Help: "Inbound frames rejected, by error code",
		}, []string{"code"}),
		framesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorsync_broadcast_frames_delivered_total",
			Help: "Frames queued to room members",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorsync_broadcast_frames_dropped_total",
			Help: "Frames skipped because the member was not writable",
		}),
		countdowns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsync_countdowns_stored",
			Help: "Countdown records held in memory",
		}),
		sweepRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorsync_sweep_removed_total",
			Help: "Entries removed by periodic sweeps, by sweep",
		}, []string{"sweep"}),
	}

	m.registry.MustRegister(
		m.connections, m.connectionsTotal, m.disconnects, m.rooms,
		m.messages, m.messageDuration, m.rejections,
		m.framesDelivered, m.framesDropped, m.countdowns, m.sweepRemovals,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) ConnectionOpened() {
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *PrometheusMetrics) ConnectionClosed(reason string) {
	m.connections.Dec()
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RoomsActive(n int) {
	m.rooms.Set(float64(n))
}

func (m *PrometheusMetrics) MessageHandled(action string, duration time.Duration) {
	m.messages.WithLabelValues(action).Inc()
	m.messageDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) MessageRejected(code string) {
	m.rejections.WithLabelValues(code).Inc()
}

func (m *PrometheusMetrics) BroadcastDelivered(delivered, dropped int) {
	m.framesDelivered.Add(float64(delivered))
	m.framesDropped.Add(float64(dropped))
}

func (m *PrometheusMetrics) CountdownsActive(n int) {
	m.countdowns.Set(float64(n))
}

func (m *PrometheusMetrics) SweepCompleted(kind string, removed int) {
	m.sweepRemovals.WithLabelValues(kind).Add(float64(removed))
}
