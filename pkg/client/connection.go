package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

var ErrClosed = errors.New("connection closed")

const writeTimeout = 10 * time.Second

// Connection represents a client connection to a relay server
type Connection struct {
	addr   string
	ws     *websocket.Conn
	logger *zap.Logger

	// Channels for communication
	incoming chan *protocol.Frame
	outgoing chan []byte

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Dial connects to a relay server. addr may be a ws:// or wss:// URL or a
// bare host:port, which is treated as ws://host:port/ws.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Connection, error) {
	u, err := parseServerURL(addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	ws.SetReadLimit(protocol.MaxFrameSize)

	c := &Connection{
		addr:     u,
		ws:       ws,
		logger:   logger.With(zap.String("server", u)),
		incoming: make(chan *protocol.Frame, 100),
		outgoing: make(chan []byte, 100),
		shutdown: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

func parseServerURL(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("empty server address")
	}

	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		// Bare host:port
		return "ws://" + addr + "/ws", nil
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Addr returns the URL the connection was dialed with
func (c *Connection) Addr() string {
	return c.addr
}

// Incoming returns frames received from the server. It is closed when the
// connection ends.
func (c *Connection) Incoming() <-chan *protocol.Frame {
	return c.incoming
}

// Err returns the error that ended the connection, if any
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send queues an event for the server
func (c *Connection) Send(event string, payload interface{}) error {
	data, err := protocol.EncodeMessage(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.shutdown:
		return ErrClosed
	default:
	}

	select {
	case <-c.shutdown:
		return ErrClosed
	case c.outgoing <- data:
		return nil
	}
}

// Expect waits for the next frame with the given event, discarding others
func (c *Connection) Expect(ctx context.Context, event string) (*protocol.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", event, ctx.Err())
		case frame, ok := <-c.incoming:
			if !ok {
				if err := c.Err(); err != nil {
					return nil, fmt.Errorf("waiting for %s: %w", event, err)
				}
				return nil, fmt.Errorf("waiting for %s: %w", event, ErrClosed)
			}
			if frame.Event == event {
				return frame, nil
			}
		}
	}
}

// Close shuts down the connection
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.shutdown)
	})
	c.wg.Wait()
}

func (c *Connection) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer close(c.incoming)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.shutdown:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(err)
					c.logger.Debug("read failed", zap.Error(err))
				}
				c.closeOnce.Do(func() { close(c.shutdown) })
			}
			return
		}

		frame, err := protocol.DecodeFrame(bytes.NewReader(data))
		if err != nil {
			c.logger.Warn("dropping invalid frame", zap.Error(err))
			continue
		}

		select {
		case c.incoming <- frame:
		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	defer c.ws.Close()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.setErr(err)
				c.closeOnce.Do(func() { close(c.shutdown) })
				return
			}
		case <-c.shutdown:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
