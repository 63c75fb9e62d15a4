package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	RoomOpened()
	RoomClosed()
	ConnectionOpened()
	ConnectionClosed()
	StateBroadcast(phase Phase, recipients int)
	DeliveryFailed()
	SchedulerFault()
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RoomOpened()                                {}
func (n *NoOpMetricsCollector) RoomClosed()                                {}
func (n *NoOpMetricsCollector) ConnectionOpened()                          {}
func (n *NoOpMetricsCollector) ConnectionClosed()                          {}
func (n *NoOpMetricsCollector) StateBroadcast(phase Phase, recipients int) {}
func (n *NoOpMetricsCollector) DeliveryFailed()                            {}
func (n *NoOpMetricsCollector) SchedulerFault()                            {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	activeRooms       prometheus.Gauge
	activeConnections prometheus.Gauge
	statesBroadcast   *prometheus.CounterVec
	messagesDelivered prometheus.Counter
	deliveryFailures  prometheus.Counter
	schedulerFaults   prometheus.Counter
}

// NewPrometheusMetrics registers the relay collectors with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "racelight",
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "racelight",
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections.",
		}),
		statesBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racelight",
			Name:      "states_broadcast_total",
			Help:      "Light states broadcast, by phase.",
		}, []string{"phase"}),
		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "racelight",
			Name:      "messages_delivered_total",
			Help:      "State messages enqueued to room members.",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "racelight",
			Name:      "delivery_failures_total",
			Help:      "Members removed after a failed delivery.",
		}),
		schedulerFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "racelight",
			Name:      "scheduler_faults_total",
			Help:      "Light cycles that stopped on an unexpected error.",
		}),
	}
}

func (m *PrometheusMetrics) RoomOpened()       { m.activeRooms.Inc() }
func (m *PrometheusMetrics) RoomClosed()       { m.activeRooms.Dec() }
func (m *PrometheusMetrics) ConnectionOpened() { m.activeConnections.Inc() }
func (m *PrometheusMetrics) ConnectionClosed() { m.activeConnections.Dec() }
func (m *PrometheusMetrics) DeliveryFailed()   { m.deliveryFailures.Inc() }
func (m *PrometheusMetrics) SchedulerFault()   { m.schedulerFaults.Inc() }

func (m *PrometheusMetrics) StateBroadcast(phase Phase, recipients int) {
	m.statesBroadcast.WithLabelValues(string(phase)).Inc()
	m.messagesDelivered.Add(float64(recipients))
}
