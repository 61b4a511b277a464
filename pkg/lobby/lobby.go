package lobby

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

// MetricsRecorder receives lobby counters. Implemented by the server metrics.
type MetricsRecorder interface {
	RecordSessionCreated()
	RecordSessionClosed(reason string)
	RecordActiveSessions(count int)
	RecordDirectoryEntries(count int)
	RecordDirectorySwept(count int)
	RecordBroadcastFanout(event string, recipients int)
}

// HistoryRecorder receives session lifecycle events for the match history
type HistoryRecorder interface {
	RecordSessionEvent(sessionID, kind string, players int, at time.Time)
}

// Session history kinds
const (
	HistoryCreated  = "created"
	HistoryStarted  = "started"
	HistoryEmptied  = "emptied"
	HistoryHostLeft = "host_left"
	HistoryReplaced = "replaced"
)

// DisconnectOutcome reports what a disconnect did to a session
type DisconnectOutcome struct {
	SessionID string
	Outcome   LeaveOutcome
}

// Stats is a point-in-time summary of lobby state
type Stats struct {
	Sessions         int
	Members          int
	DirectoryEntries int
}

// Lobby is the session lifecycle state machine. Every exported method holds
// the lobby mutex for the whole step, outbound sends included, so no two
// events interleave.
type Lobby struct {
	mu        sync.Mutex
	store     *Store
	directory *Directory
	relay     *Relay
	logger    *zap.Logger
	metrics   MetricsRecorder
	history   HistoryRecorder
	seed      func() int64
	now       func() time.Time
}

// Option configures a Lobby
type Option func(*options)

type options struct {
	newID IDGenerator
	now   func() time.Time
	seed  func() int64
	ttl   time.Duration
}

// WithIDGenerator overrides the session id generator
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) { o.newID = gen }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSeed overrides the generator for game seeds
func WithSeed(seed func() int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithDirectoryTTL sets how long announces stay listed
func WithDirectoryTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// RandomSeed returns a non-negative 31-bit game seed
func RandomSeed() int64 {
	return rand.Int64N(1 << 31)
}

// New creates a lobby that delivers frames through transport
func New(transport Transport, logger *zap.Logger, opts ...Option) *Lobby {
	o := options{
		newID: RandomSessionID,
		now:   time.Now,
		seed:  RandomSeed,
		ttl:   DefaultDirectoryTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Lobby{
		store:     NewStore(o.newID, o.now),
		directory: NewDirectory(o.ttl, o.now),
		relay:     NewRelay(transport),
		logger:    logger.Named("lobby"),
		seed:      o.seed,
		now:       o.now,
	}
}

// SetMetrics attaches metrics to the lobby
func (l *Lobby) SetMetrics(m MetricsRecorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// SetHistory attaches a match history recorder
func (l *Lobby) SetHistory(h HistoryRecorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = h
}

// HandleConnect greets a new connection with the server identity
func (l *Lobby) HandleConnect(conn ConnID, info protocol.ServerInfoMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Debug("connection opened", zap.String("conn", string(conn)))
	return l.sendLocked(conn, protocol.EventServerInfo, &info)
}

// CreateSession creates a session hosted by conn and replies roomCreated to
// conn only. A connection already in a session leaves it first.
func (l *Lobby) CreateSession(conn ConnID, displayName string) (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.switchAwayLocked(conn)

	sess, replaced := l.store.Create(conn, displayName)
	if replaced != nil {
		l.logger.Warn("session id collision, replacing active session",
			zap.String("session", replaced.ID),
			zap.Int("members", len(replaced.Members)))
		l.recordClosedLocked(replaced, HistoryReplaced)
	}

	l.logger.Info("session created",
		zap.String("session", sess.ID),
		zap.String("host", string(conn)))

	if l.metrics != nil {
		l.metrics.RecordSessionCreated()
		l.metrics.RecordActiveSessions(l.store.Count())
	}
	l.recordHistoryLocked(sess, HistoryCreated)

	msg := &protocol.RoomCreatedMessage{SessionID: sess.ID, Members: sess.WireMembers()}
	if err := l.sendLocked(conn, protocol.EventRoomCreated, msg); err != nil {
		return nil, err
	}
	return sess.clone(), nil
}

// JoinSession adds conn to a session and broadcasts the new member list to
// every member, the joiner included. When the session is unknown or cannot be
// joined, errorMsg is sent to conn and the error is returned.
func (l *Lobby) JoinSession(conn ConnID, sessionID, displayName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.store.SessionOf(conn); ok && current == sessionID {
		// Already a member: repeat the member list to the caller only
		sess, _ := l.store.Get(sessionID)
		msg := &protocol.PlayerJoinedMessage{SessionID: sess.ID, Members: sess.WireMembers()}
		return l.sendLocked(conn, protocol.EventPlayerJoined, msg)
	}

	if err := l.checkJoinableLocked(sessionID); err != nil {
		l.rejectJoinLocked(conn, sessionID, err)
		return err
	}

	l.switchAwayLocked(conn)

	sess, err := l.store.Join(sessionID, conn, displayName)
	if err != nil {
		l.rejectJoinLocked(conn, sessionID, err)
		return err
	}

	l.logger.Debug("player joined",
		zap.String("session", sessionID),
		zap.String("conn", string(conn)),
		zap.Int("members", len(sess.Members)))

	msg := &protocol.PlayerJoinedMessage{SessionID: sess.ID, Members: sess.WireMembers()}
	return l.broadcastLocked(sess, protocol.EventPlayerJoined, msg)
}

// RequestStart starts the session and broadcasts gameStart to every member,
// the host included. The game configuration is echoed back with a seed, the
// client's own if it sent one. Returns ErrUnauthorized for non-hosts, which
// callers discard.
func (l *Lobby) RequestStart(conn ConnID, req *protocol.RequestStartMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := l.store.Start(req.SessionID, conn)
	if err != nil {
		return err
	}

	payload := make(map[string]json.RawMessage, len(req.Config)+1)
	for k, v := range req.Config {
		payload[k] = v
	}
	if _, ok := req.Seed(); !ok {
		seed, err := json.Marshal(l.seed())
		if err != nil {
			return fmt.Errorf("failed to encode seed: %w", err)
		}
		payload["seed"] = seed
	}

	l.logger.Info("session started",
		zap.String("session", sess.ID),
		zap.Int("members", len(sess.Members)))
	l.recordHistoryLocked(sess, HistoryStarted)

	return l.broadcastLocked(sess, protocol.EventGameStart, payload)
}

// RelayHostAction broadcasts a host-only control event (forceStartWave,
// forcePause, forceRestart) to every member. Non-hosts get ErrUnauthorized
// and nothing is sent.
func (l *Lobby) RelayHostAction(conn ConnID, sessionID, event string, payload interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := l.store.AuthorizeHost(sessionID, conn)
	if err != nil {
		return err
	}
	return l.broadcastLocked(sess, event, payload)
}

// RelayPeerAction forwards an opaque gameplay payload to every member of the
// sender's session except the sender. Senders outside the session get
// ErrUnauthorized and nothing is sent.
func (l *Lobby) RelayPeerAction(conn ConnID, sessionID, event string, raw json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := l.store.AuthorizeMember(sessionID, conn)
	if err != nil {
		return err
	}

	frame, err := protocol.NewFrame(event, raw)
	if err != nil {
		return err
	}
	n := l.relay.ToSessionExcept(sess, conn, frame)
	if l.metrics != nil {
		l.metrics.RecordBroadcastFanout(event, n)
	}
	return nil
}

// HandleDisconnect removes conn from its session with the usual leave
// broadcasts and retracts any directory entries it announced
func (l *Lobby) HandleDisconnect(conn ConnID) []DisconnectOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	var outcomes []DisconnectOutcome
	if res := l.leaveLocked(conn); res.Outcome != NotMember {
		outcomes = append(outcomes, DisconnectOutcome{SessionID: res.Session.ID, Outcome: res.Outcome})
	}

	if removed := l.directory.RemoveByOwner(conn); removed > 0 {
		l.logger.Debug("retracted announcements",
			zap.String("conn", string(conn)),
			zap.Int("entries", removed))
		if l.metrics != nil {
			l.metrics.RecordDirectoryEntries(l.directory.Len())
		}
	}

	l.logger.Debug("connection closed", zap.String("conn", string(conn)))
	return outcomes
}

// Announce refreshes or removes the directory entry of a session
func (l *Lobby) Announce(a Announcement) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.directory.Announce(a)
	if l.metrics != nil {
		l.metrics.RecordDirectoryEntries(l.directory.Len())
	}
}

// SendRooms replies with the current directory listing
func (l *Lobby) SendRooms(conn ConnID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.directory.List()
	rooms := make([]protocol.RoomInfo, len(entries))
	for i, e := range entries {
		rooms[i] = e.RoomInfo()
	}
	return l.sendLocked(conn, protocol.EventRooms, &protocol.RoomsMessage{Rooms: rooms})
}

// Rooms returns the current directory listing
func (l *Lobby) Rooms() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.directory.List()
}

// Reply sends a single event to one connection
func (l *Lobby) Reply(conn ConnID, event string, payload interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendLocked(conn, event, payload)
}

// SweepExpired removes expired directory entries
func (l *Lobby) SweepExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := l.directory.SweepExpired()
	if l.metrics != nil {
		l.metrics.RecordDirectorySwept(removed)
		l.metrics.RecordDirectoryEntries(l.directory.Len())
	}
	return removed
}

// Session returns a copy of an active session
func (l *Lobby) Session(sessionID string) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, ok := l.store.Get(sessionID)
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Stats returns current counts
func (l *Lobby) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	members := 0
	for _, sess := range l.store.sessions {
		members += len(sess.Members)
	}
	return Stats{
		Sessions:         l.store.Count(),
		Members:          members,
		DirectoryEntries: l.directory.Len(),
	}
}

// switchAwayLocked makes conn leave its current session, if any, before it
// creates or joins another one
func (l *Lobby) switchAwayLocked(conn ConnID) {
	res := l.leaveLocked(conn)
	if res.Outcome == Emptied || res.Outcome == HostLeft {
		if e, ok := l.directory.Get(res.Session.ID); ok && e.Owner == conn {
			l.directory.Remove(res.Session.ID)
		}
	}
}

func (l *Lobby) leaveLocked(conn ConnID) LeaveResult {
	res := l.store.Leave(conn)

	switch res.Outcome {
	case NotMember:
		return res

	case Emptied:
		l.logger.Info("session closed", zap.String("session", res.Session.ID), zap.String("reason", HistoryEmptied))
		l.recordClosedLocked(res.Session, HistoryEmptied)

	case HostLeft:
		if err := l.broadcastLocked(res.Session, protocol.EventHostLeft, nil); err != nil {
			l.logger.Error("failed to broadcast hostLeft", zap.String("session", res.Session.ID), zap.Error(err))
		}
		l.store.Delete(res.Session.ID)
		l.logger.Info("session closed", zap.String("session", res.Session.ID), zap.String("reason", HistoryHostLeft))
		l.recordClosedLocked(res.Session, HistoryHostLeft)

	case PlayerLeft:
		left := &protocol.PlayerLeftMessage{ConnectionID: string(conn)}
		if err := l.broadcastLocked(res.Session, protocol.EventPlayerLeft, left); err != nil {
			l.logger.Error("failed to broadcast playerLeft", zap.String("session", res.Session.ID), zap.Error(err))
		}
		// A running game keeps its UI; only lobbies get the refreshed list
		if !res.Session.Started {
			msg := &protocol.PlayerJoinedMessage{SessionID: res.Session.ID, Members: res.Session.WireMembers()}
			if err := l.broadcastLocked(res.Session, protocol.EventPlayerJoined, msg); err != nil {
				l.logger.Error("failed to broadcast member list", zap.String("session", res.Session.ID), zap.Error(err))
			}
		}
	}

	return res
}

func (l *Lobby) checkJoinableLocked(sessionID string) error {
	sess, ok := l.store.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	if sess.Started {
		return fmt.Errorf("%w: %w", ErrUnjoinable, ErrSessionStarted)
	}
	if sess.IsFull() {
		return fmt.Errorf("%w: %w", ErrUnjoinable, ErrSessionFull)
	}
	return nil
}

func (l *Lobby) rejectJoinLocked(conn ConnID, sessionID string, err error) {
	l.logger.Debug("join rejected",
		zap.String("session", sessionID),
		zap.String("conn", string(conn)),
		zap.Error(err))

	msg := &protocol.ErrorMessage{Reason: JoinErrorReason(err)}
	if sendErr := l.sendLocked(conn, protocol.EventErrorMsg, msg); sendErr != nil {
		l.logger.Error("failed to send errorMsg", zap.Error(sendErr))
	}
}

// JoinErrorReason maps a join failure to the user-visible reason
func JoinErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrSessionStarted):
		return protocol.ReasonGameStarted
	case errors.Is(err, ErrSessionFull):
		return protocol.ReasonRoomFull
	default:
		return protocol.ReasonRoomNotFound
	}
}

func (l *Lobby) sendLocked(conn ConnID, event string, payload interface{}) error {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}
	l.relay.ToConn(conn, frame)
	return nil
}

func (l *Lobby) broadcastLocked(sess *Session, event string, payload interface{}) error {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}
	n := l.relay.ToSession(sess, frame)
	if l.metrics != nil {
		l.metrics.RecordBroadcastFanout(event, n)
	}
	return nil
}

func (l *Lobby) recordClosedLocked(sess *Session, reason string) {
	if l.metrics != nil {
		l.metrics.RecordSessionClosed(reason)
		l.metrics.RecordActiveSessions(l.store.Count())
	}
	l.recordHistoryLocked(sess, reason)
}

func (l *Lobby) recordHistoryLocked(sess *Session, kind string) {
	if l.history != nil {
		l.history.RecordSessionEvent(sess.ID, kind, len(sess.Members), l.now())
	}
}
