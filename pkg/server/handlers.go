package server

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/lobby"
	"github.com/aeolun/squadrelay/pkg/protocol"
	"github.com/aeolun/squadrelay/pkg/trace"
)

var tracer = trace.Tracer("github.com/aeolun/squadrelay/pkg/server")

// handleMessage dispatches one inbound frame
func (s *Server) handleMessage(ctx context.Context, c *Client, frame *protocol.Frame) {
	scope := tracer.Start(ctx, "event "+eventLabel(frame.Event)).WithAttrs(
		attribute.String("event", frame.Event),
		attribute.String("conn", string(c.ID)),
	)
	defer scope.End()

	start := time.Now()
	s.metrics.RecordMessageReceived(frame.Event)

	var err error
	switch frame.Event {
	case protocol.EventCreateRoom:
		err = s.handleCreateRoom(c, frame)
	case protocol.EventJoinRoom:
		err = s.handleJoinRoom(c, frame)
	case protocol.EventRequestStart:
		err = s.handleRequestStart(c, frame)
	case protocol.EventGameAction:
		err = s.handlePeerRelay(c, frame, protocol.EventRemoteAction)
	case protocol.EventGameStateUpdate:
		err = s.handlePeerRelay(c, frame, protocol.EventForceGameState)
	case protocol.EventRequestWave:
		err = s.handleSessionControl(c, frame, protocol.EventForceStartWave)
	case protocol.EventRequestRestart:
		err = s.handleSessionControl(c, frame, protocol.EventForceRestart)
	case protocol.EventRequestPause:
		err = s.handleRequestPause(c, frame)
	case protocol.EventAnnounceRoom:
		err = s.handleAnnounceRoom(c, frame)
	case protocol.EventGetRooms:
		err = s.lobby.SendRooms(c.ID)
	case protocol.EventPing:
		err = s.lobby.Reply(c.ID, protocol.EventPong, nil)
	default:
		s.logger.Debug("unsupported event", zap.String("conn", string(c.ID)), zap.String("event", frame.Event))
		s.sendError(c, protocol.ReasonUnsupported)
	}

	s.metrics.RecordEventDuration(frame.Event, time.Since(start))

	if err != nil {
		scope.RecordError(err)
		s.reportError(c, frame.Event, err)
	}
}

// reportError decides what, if anything, the client learns about a failure
func (s *Server) reportError(c *Client, event string, err error) {
	switch {
	case errors.Is(err, protocol.ErrEmptyPayload),
		errors.Is(err, protocol.ErrInvalidPayload),
		errors.Is(err, protocol.ErrMissingSessionID):
		s.logger.Debug("invalid payload",
			zap.String("conn", string(c.ID)),
			zap.String("event", event),
			zap.Error(err))
		s.sendError(c, protocol.ReasonInvalidFormat)

	case errors.Is(err, lobby.ErrNotFound),
		errors.Is(err, lobby.ErrUnjoinable),
		errors.Is(err, lobby.ErrUnauthorized):
		// Join failures were already reported; control and relay failures are silent
		s.logger.Debug("event rejected",
			zap.String("conn", string(c.ID)),
			zap.String("event", event),
			zap.Error(err))

	default:
		s.logger.Error("event failed",
			zap.String("conn", string(c.ID)),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (s *Server) sendError(c *Client, reason string) {
	if err := s.lobby.Reply(c.ID, protocol.EventErrorMsg, &protocol.ErrorMessage{Reason: reason}); err != nil {
		s.logger.Error("failed to send errorMsg", zap.Error(err))
	}
}

func (s *Server) handleCreateRoom(c *Client, frame *protocol.Frame) error {
	var msg protocol.CreateRoomMessage
	if err := msg.Decode(frame.Data); err != nil {
		return err
	}
	_, err := s.lobby.CreateSession(c.ID, msg.DisplayName)
	return err
}

func (s *Server) handleJoinRoom(c *Client, frame *protocol.Frame) error {
	var msg protocol.JoinRoomMessage
	if err := msg.Decode(frame.Data); err != nil {
		return err
	}
	return s.lobby.JoinSession(c.ID, msg.SessionID, msg.DisplayName)
}

func (s *Server) handleRequestStart(c *Client, frame *protocol.Frame) error {
	var msg protocol.RequestStartMessage
	if err := msg.Decode(frame.Data); err != nil {
		return err
	}
	return s.lobby.RequestStart(c.ID, &msg)
}

func (s *Server) handleSessionControl(c *Client, frame *protocol.Frame, outbound string) error {
	var msg protocol.SessionRefMessage
	if err := msg.Decode(frame.Data); err != nil {
		return err
	}
	return s.lobby.RelayHostAction(c.ID, msg.SessionID, outbound, nil)
}

func (s *Server) handleRequestPause(c *Client, frame *protocol.Frame) error {
	var msg protocol.PauseMessage
	if err := msg.Decode(frame.Data); err != nil {
		return err
	}
	return s.lobby.RelayHostAction(c.ID, msg.SessionID, protocol.EventForcePause,
		&protocol.PauseStateMessage{IsPaused: msg.IsPaused})
}

func (s *Server) handlePeerRelay(c *Client, frame *protocol.Frame, outbound string) error {
	var msg protocol.RelayMessage
	if err := msg.Decode(frame.Data); err != nil {
		return err
	}
	return s.lobby.RelayPeerAction(c.ID, msg.SessionID, outbound, msg.Raw)
}

func (s *Server) handleAnnounceRoom(c *Client, frame *protocol.Frame) error {
	var msg protocol.AnnounceRoomMessage
	if err := msg.Decode(frame.Data); err != nil {
		return err
	}
	s.lobby.Announce(lobby.Announcement{
		SessionID:   msg.SessionID,
		Owner:       c.ID,
		HostName:    msg.HostName,
		IsPrivate:   msg.IsPrivate,
		PlayerCount: msg.PlayerCount,
		Status:      lobby.ParseStatus(msg.Status),
	})
	return nil
}
