package lobby

import "github.com/aeolun/squadrelay/pkg/protocol"

// Transport delivers frames to connections. Send must not block; delivery is
// fire-and-forget.
type Transport interface {
	Send(conn ConnID, frame *protocol.Frame)
}

// Relay routes frames to one connection or to the members of a session.
// Recipients are taken only from the session's member list.
type Relay struct {
	transport Transport
}

// NewRelay creates a relay over the given transport
func NewRelay(t Transport) *Relay {
	return &Relay{transport: t}
}

// ToConn sends a frame to a single connection
func (r *Relay) ToConn(conn ConnID, frame *protocol.Frame) int {
	r.transport.Send(conn, frame)
	return 1
}

// ToSession sends a frame to every member of the session
func (r *Relay) ToSession(sess *Session, frame *protocol.Frame) int {
	for _, m := range sess.Members {
		r.transport.Send(m.ConnID, frame)
	}
	return len(sess.Members)
}

// ToSessionExcept sends a frame to every member of the session but one
func (r *Relay) ToSessionExcept(sess *Session, except ConnID, frame *protocol.Frame) int {
	sent := 0
	for _, m := range sess.Members {
		if m.ConnID == except {
			continue
		}
		r.transport.Send(m.ConnID, frame)
		sent++
	}
	return sent
}
