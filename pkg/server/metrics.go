package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsClosed  *prometheus.CounterVec // by reason

	// Directory metrics
	directoryEntries prometheus.Gauge
	directorySwept   prometheus.Counter

	// Connection metrics
	activeConnections prometheus.Gauge
	connectionsOpened prometheus.Counter
	slowConsumerDrops prometheus.Counter

	// Event metrics
	messagesReceived *prometheus.CounterVec // by event
	messagesSent     *prometheus.CounterVec // by event
	broadcastFanout  *prometheus.HistogramVec
	eventDuration    *prometheus.HistogramVec
}

// NewMetrics registers the server metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "squadrelay_active_sessions",
			Help: "Current number of game sessions",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "squadrelay_sessions_created_total",
			Help: "Total number of game sessions created",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "squadrelay_sessions_closed_total",
			Help: "Total number of game sessions closed by reason",
		}, []string{"reason"}),
		directoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "squadrelay_directory_entries",
			Help: "Current number of announced sessions",
		}),
		directorySwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "squadrelay_directory_swept_total",
			Help: "Total number of announcements removed by expiry",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "squadrelay_active_connections",
			Help: "Current number of WebSocket connections",
		}),
		connectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "squadrelay_connections_opened_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		slowConsumerDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "squadrelay_slow_consumer_drops_total",
			Help: "Connections closed because their send queue was full",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "squadrelay_messages_received_total",
			Help: "Total number of events received from clients by name",
		}, []string{"event"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "squadrelay_messages_sent_total",
			Help: "Total number of events sent to clients by name",
		}, []string{"event"}),
		broadcastFanout: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "squadrelay_broadcast_fanout",
			Help:    "Number of connections that received each session broadcast",
			Buckets: []float64{0, 1, 2, 3, 4},
		}, []string{"event"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "squadrelay_event_duration_seconds",
			Help:    "Time taken to handle an inbound event",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"event"}),
	}
}

func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

func (m *Metrics) RecordSessionClosed(reason string) {
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *Metrics) RecordDirectoryEntries(count int) {
	m.directoryEntries.Set(float64(count))
}

func (m *Metrics) RecordDirectorySwept(count int) {
	m.directorySwept.Add(float64(count))
}

// RecordBroadcastFanout records how many members received a broadcast
func (m *Metrics) RecordBroadcastFanout(event string, recipients int) {
	m.broadcastFanout.WithLabelValues(eventLabel(event)).Observe(float64(recipients))
}

// RecordConnectionOpened tracks a newly accepted connection
func (m *Metrics) RecordConnectionOpened(active int) {
	m.connectionsOpened.Inc()
	m.activeConnections.Set(float64(active))
}

// RecordConnectionClosed updates the live connection gauge
func (m *Metrics) RecordConnectionClosed(active int) {
	m.activeConnections.Set(float64(active))
}

func (m *Metrics) RecordSlowConsumerDrop() {
	m.slowConsumerDrops.Inc()
}

// RecordMessageReceived increments the received counter for an event
func (m *Metrics) RecordMessageReceived(event string) {
	m.messagesReceived.WithLabelValues(eventLabel(event)).Inc()
}

// RecordMessageSent increments the sent counter for an event
func (m *Metrics) RecordMessageSent(event string) {
	m.messagesSent.WithLabelValues(eventLabel(event)).Inc()
}

func (m *Metrics) RecordEventDuration(event string, d time.Duration) {
	m.eventDuration.WithLabelValues(eventLabel(event)).Observe(d.Seconds())
}

// eventLabel keeps label cardinality bounded; clients can send any event name
func eventLabel(event string) string {
	if protocol.IsKnownEvent(event) {
		return event
	}
	return "unknown"
}
