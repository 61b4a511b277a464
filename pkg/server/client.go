package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeolun/squadrelay/pkg/lobby"
)

// Client is one live WebSocket connection. The write pump is the only
// goroutine that writes data frames to ws.
type Client struct {
	ID          lobby.ConnID
	RemoteAddr  string
	ConnectedAt time.Time

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id lobby.ConnID, ws *websocket.Conn, queueSize int) *Client {
	return &Client{
		ID:          id,
		RemoteAddr:  ws.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		ws:          ws,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

// enqueue queues an encoded frame without blocking. It reports false when the
// client is closed or its queue is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close asks the write pump to flush what is queued and close the socket
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client has been closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings
func (c *Client) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data, writeTimeout); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, writeTimeout); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.drain(writeTimeout)
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), writeTimeout)
			return
		}
	}
}

// drain flushes frames that were queued before Close
func (c *Client) drain(writeTimeout time.Duration) {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data, writeTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte, timeout time.Duration) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}
