package server

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/lobby"
	"github.com/aeolun/squadrelay/pkg/protocol"
)

// ConnectionManager tracks live clients and delivers frames to them. It is
// the transport the lobby sends through.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[lobby.ConnID]*Client
	closed  bool
	metrics *Metrics
	logger  *zap.Logger
}

// NewConnectionManager creates an empty connection manager
func NewConnectionManager(logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[lobby.ConnID]*Client),
		logger:  logger.Named("connections"),
	}
}

// SetMetrics attaches metrics to the connection manager
func (cm *ConnectionManager) SetMetrics(metrics *Metrics) {
	cm.metrics = metrics
}

// Add registers a client. It fails once the manager has been closed.
func (cm *ConnectionManager) Add(c *Client) bool {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return false
	}
	cm.clients[c.ID] = c
	count := len(cm.clients)
	cm.mu.Unlock()

	if cm.metrics != nil {
		cm.metrics.RecordConnectionOpened(count)
	}
	return true
}

// Remove unregisters a client
func (cm *ConnectionManager) Remove(id lobby.ConnID) {
	cm.mu.Lock()
	if _, ok := cm.clients[id]; !ok {
		cm.mu.Unlock()
		return
	}
	delete(cm.clients, id)
	count := len(cm.clients)
	cm.mu.Unlock()

	if cm.metrics != nil {
		cm.metrics.RecordConnectionClosed(count)
	}
}

// Get returns a client by id
func (cm *ConnectionManager) Get(id lobby.ConnID) (*Client, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.clients[id]
	return c, ok
}

// Count returns the number of live clients
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// Send queues a frame for one connection. A client whose queue is full is
// closed rather than allowed to stall the sender.
func (cm *ConnectionManager) Send(id lobby.ConnID, frame *protocol.Frame) {
	c, ok := cm.Get(id)
	if !ok {
		return
	}

	data, err := encodeFrame(frame)
	if err != nil {
		cm.logger.Error("failed to encode frame", zap.String("event", frame.Event), zap.Error(err))
		return
	}

	cm.deliver(c, frame.Event, data)
}

// Broadcast queues a frame for every live connection
func (cm *ConnectionManager) Broadcast(frame *protocol.Frame) int {
	data, err := encodeFrame(frame)
	if err != nil {
		cm.logger.Error("failed to encode frame", zap.String("event", frame.Event), zap.Error(err))
		return 0
	}

	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if cm.deliver(c, frame.Event, data) {
			sent++
		}
	}
	return sent
}

func (cm *ConnectionManager) deliver(c *Client, event string, data []byte) bool {
	if c.enqueue(data) {
		if cm.metrics != nil {
			cm.metrics.RecordMessageSent(event)
		}
		return true
	}

	select {
	case <-c.Done():
		// Already closing
	default:
		cm.logger.Warn("send queue full, dropping slow client",
			zap.String("conn", string(c.ID)),
			zap.String("remote", c.RemoteAddr))
		if cm.metrics != nil {
			cm.metrics.RecordSlowConsumerDrop()
		}
		c.Close()
	}
	return false
}

// CloseAll stops accepting clients and closes every live one
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	cm.closed = true
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// WaitEmpty blocks until every client has been removed or ctx is done
func (cm *ConnectionManager) WaitEmpty(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for cm.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func encodeFrame(frame *protocol.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.EncodeFrame(&buf, frame); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
