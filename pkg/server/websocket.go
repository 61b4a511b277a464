package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/lobby"
	"github.com/aeolun/squadrelay/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The game client may be served from any origin
		return true
	},
}

// HandleWebSocket upgrades the request and runs the connection until it closes
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(lobby.ConnID(uuid.NewString()), ws, s.config.SendQueueSize)
	if !s.connections.Add(client) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, protocol.ReasonServerShutdown),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}

	s.connectionsSinceReport.Add(1)
	s.logger.Debug("websocket connection",
		zap.String("conn", string(client.ID)),
		zap.String("remote", client.RemoteAddr))

	go client.writePump(s.config.WriteTimeout, pingInterval(s.config.PongTimeout))

	if err := s.lobby.HandleConnect(client.ID, s.info); err != nil {
		s.logger.Error("failed to send server info", zap.Error(err))
	}

	s.readLoop(r.Context(), client)

	s.lobby.HandleDisconnect(client.ID)
	s.connections.Remove(client.ID)
	client.Close()
	s.disconnectionsSinceReport.Add(1)
}

// readLoop handles inbound frames in arrival order until the socket fails
func (s *Server) readLoop(ctx context.Context, c *Client) {
	// The request context is cancelled once the handler returns, not on hijack
	ctx = context.WithoutCancel(ctx)

	c.ws.SetReadLimit(protocol.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	for {
		_, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection read error", zap.String("conn", string(c.ID)), zap.Error(err))
			}
			return
		}
		// Any inbound frame counts as liveness
		_ = c.ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

		frame, err := protocol.DecodeFrame(r)
		if err != nil {
			s.logger.Debug("invalid frame", zap.String("conn", string(c.ID)), zap.Error(err))
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				return
			}
			s.sendError(c, protocol.ReasonInvalidFormat)
			continue
		}

		s.handleMessage(ctx, c, frame)
	}
}

func pingInterval(pongTimeout time.Duration) time.Duration {
	return pongTimeout * 9 / 10
}
