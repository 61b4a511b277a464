package lobby

import (
	"fmt"
	"time"
)

// LeaveOutcome describes what happened to a session when a member left
type LeaveOutcome int

const (
	// NotMember means the connection was not in any session
	NotMember LeaveOutcome = iota
	// Emptied means the last member left and the session was deleted
	Emptied
	// HostLeft means the host left; the session still exists until the
	// caller has notified the remaining members and calls Delete
	HostLeft
	// PlayerLeft means a joiner left and the session lives on
	PlayerLeft
)

func (o LeaveOutcome) String() string {
	switch o {
	case Emptied:
		return "emptied"
	case HostLeft:
		return "host_left"
	case PlayerLeft:
		return "player_left"
	default:
		return "not_member"
	}
}

// LeaveResult is returned by Store.Leave
type LeaveResult struct {
	Session *Session // state after the member was removed
	Member  Member
	Outcome LeaveOutcome
}

// Store owns active sessions and the connection -> session index.
// It does no locking of its own; the Lobby serializes every call.
type Store struct {
	sessions map[string]*Session
	byConn   map[ConnID]string
	newID    IDGenerator
	now      func() time.Time
}

// NewStore creates an empty store
func NewStore(newID IDGenerator, now func() time.Time) *Store {
	if newID == nil {
		newID = RandomSessionID
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions: make(map[string]*Session),
		byConn:   make(map[ConnID]string),
		newID:    newID,
		now:      now,
	}
}

// Create inserts a session hosted by conn. The connection must not already
// be in a session. If the generated id collides with an active session, that
// session is replaced and returned as replaced.
func (st *Store) Create(hostConn ConnID, hostName string) (sess *Session, replaced *Session) {
	id := st.newID()

	if old, ok := st.sessions[id]; ok {
		for _, m := range old.Members {
			delete(st.byConn, m.ConnID)
		}
		replaced = old
	}

	sess = &Session{
		ID:         id,
		HostConnID: hostConn,
		Members:    []Member{{ConnID: hostConn, DisplayName: hostName, Role: RoleHost}},
		CreatedAt:  st.now(),
	}
	st.sessions[id] = sess
	st.byConn[hostConn] = id
	return sess, replaced
}

// Join appends conn as a joiner. The connection must not already be in a session.
func (st *Store) Join(sessionID string, conn ConnID, name string) (*Session, error) {
	sess, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Started {
		return nil, fmt.Errorf("%w: %w", ErrUnjoinable, ErrSessionStarted)
	}
	if sess.IsFull() {
		return nil, fmt.Errorf("%w: %w", ErrUnjoinable, ErrSessionFull)
	}

	sess.Members = append(sess.Members, Member{ConnID: conn, DisplayName: name, Role: RoleJoiner})
	st.byConn[conn] = sessionID
	return sess, nil
}

// AuthorizeHost returns the session if conn is its host
func (st *Store) AuthorizeHost(sessionID string, conn ConnID) (*Session, error) {
	sess, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.HostConnID != conn {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

// AuthorizeMember returns the session if conn is one of its members
func (st *Store) AuthorizeMember(sessionID string, conn ConnID) (*Session, error) {
	sess, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if st.byConn[conn] != sessionID {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

// Start marks the session as started. Only the host may start it.
func (st *Store) Start(sessionID string, conn ConnID) (*Session, error) {
	sess, err := st.AuthorizeHost(sessionID, conn)
	if err != nil {
		return nil, err
	}
	sess.Started = true
	return sess, nil
}

// Leave removes conn from its session, if any. Empty sessions are deleted
// immediately; a session whose host left is kept for the caller to notify
// the remaining members and must then be removed with Delete.
func (st *Store) Leave(conn ConnID) LeaveResult {
	id, ok := st.byConn[conn]
	if !ok {
		return LeaveResult{Outcome: NotMember}
	}
	delete(st.byConn, conn)

	sess, ok := st.sessions[id]
	if !ok {
		return LeaveResult{Outcome: NotMember}
	}

	idx := sess.memberIndex(conn)
	if idx < 0 {
		return LeaveResult{Outcome: NotMember}
	}
	member := sess.Members[idx]
	sess.Members = append(sess.Members[:idx], sess.Members[idx+1:]...)

	switch {
	case len(sess.Members) == 0:
		delete(st.sessions, id)
		return LeaveResult{Session: sess, Member: member, Outcome: Emptied}
	case member.ConnID == sess.HostConnID:
		return LeaveResult{Session: sess, Member: member, Outcome: HostLeft}
	default:
		return LeaveResult{Session: sess, Member: member, Outcome: PlayerLeft}
	}
}

// Delete removes a session and the index entries of its remaining members
func (st *Store) Delete(sessionID string) {
	sess, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	for _, m := range sess.Members {
		if st.byConn[m.ConnID] == sessionID {
			delete(st.byConn, m.ConnID)
		}
	}
	delete(st.sessions, sessionID)
}

// Get returns a session by id
func (st *Store) Get(sessionID string) (*Session, bool) {
	sess, ok := st.sessions[sessionID]
	return sess, ok
}

// SessionOf returns the id of the session conn belongs to
func (st *Store) SessionOf(conn ConnID) (string, bool) {
	id, ok := st.byConn[conn]
	return id, ok
}

// Count returns the number of active sessions
func (st *Store) Count() int {
	return len(st.sessions)
}

// Snapshot returns copies of all active sessions
func (st *Store) Snapshot() []*Session {
	out := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		out = append(out, sess.clone())
	}
	return out
}
