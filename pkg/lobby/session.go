package lobby

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

// MaxMembers is the session capacity, host included
const MaxMembers = 4

// ConnID identifies a live connection. It is assigned by the transport and
// never interpreted here.
type ConnID string

// Role of a member within a session
type Role string

const (
	RoleHost   Role = protocol.RoleHost
	RoleJoiner Role = protocol.RoleJoiner
)

// Member is one participant of a session
type Member struct {
	ConnID      ConnID
	DisplayName string
	Role        Role
}

// Session is one game lobby/match instance
type Session struct {
	ID         string
	HostConnID ConnID
	Members    []Member // join order, host first
	Started    bool
	CreatedAt  time.Time
}

// IsFull reports whether the session is at capacity
func (s *Session) IsFull() bool {
	return len(s.Members) >= MaxMembers
}

// HasMember reports whether conn is a member of the session
func (s *Session) HasMember(conn ConnID) bool {
	return s.memberIndex(conn) >= 0
}

func (s *Session) memberIndex(conn ConnID) int {
	for i, m := range s.Members {
		if m.ConnID == conn {
			return i
		}
	}
	return -1
}

// ConnIDs returns the connection ids of all members in join order
func (s *Session) ConnIDs() []ConnID {
	ids := make([]ConnID, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ConnID
	}
	return ids
}

// WireMembers converts the member list to its wire representation
func (s *Session) WireMembers() []protocol.Member {
	members := make([]protocol.Member, len(s.Members))
	for i, m := range s.Members {
		members[i] = protocol.Member{
			ConnectionID: string(m.ConnID),
			DisplayName:  m.DisplayName,
			Role:         string(m.Role),
		}
	}
	return members
}

// clone returns a copy that does not share the member slice
func (s *Session) clone() *Session {
	cp := *s
	cp.Members = append([]Member(nil), s.Members...)
	return &cp
}

// IDGenerator produces session ids
type IDGenerator func() string

const (
	sessionIDLength   = 4
	sessionIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// RandomSessionID returns a short upper-case base-36 code. Ids are not
// checked against active sessions; with 36^4 codes a collision is possible
// but unlikely at the expected number of concurrent sessions.
func RandomSessionID() string {
	var b strings.Builder
	b.Grow(sessionIDLength)
	for i := 0; i < sessionIDLength; i++ {
		b.WriteByte(sessionIDAlphabet[rand.IntN(len(sessionIDAlphabet))])
	}
	return b.String()
}
