package server

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

func TestMetricsRecordLobbyEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSessionCreated()
	m.RecordSessionCreated()
	m.RecordSessionClosed("host_left")
	m.RecordActiveSessions(1)
	m.RecordDirectoryEntries(3)
	m.RecordDirectorySwept(2)
	m.RecordBroadcastFanout(protocol.EventGameStart, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed.WithLabelValues("host_left")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.directoryEntries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.directorySwept))
	assert.Equal(t, 1, testutil.CollectAndCount(m.broadcastFanout))
}

func TestMetricsConnections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordConnectionOpened(1)
	m.RecordConnectionOpened(2)
	m.RecordConnectionClosed(1)
	m.RecordSlowConsumerDrop()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slowConsumerDrops))
}

func TestMetricsUnknownEventsShareLabel(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordMessageReceived("hack1")
	m.RecordMessageReceived("hack2")
	m.RecordMessageReceived(protocol.EventPing)
	m.RecordEventDuration("hack3", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues(protocol.EventPing)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.messagesReceived))
}

func TestMetricsRegisterOnOwnRegistry(t *testing.T) {
	// Two servers in one process must not collide
	require.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
