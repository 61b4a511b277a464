package lobby

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

// checkInvariants verifies membership invariants across every session
func checkInvariants(t *rapid.T, l *Lobby) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[ConnID]string)
	for id, sess := range l.store.sessions {
		if len(sess.Members) == 0 {
			t.Fatalf("session %s has no members", id)
		}
		if len(sess.Members) > MaxMembers {
			t.Fatalf("session %s has %d members", id, len(sess.Members))
		}

		hosts := 0
		for _, m := range sess.Members {
			if m.Role == RoleHost {
				hosts++
				if m.ConnID != sess.HostConnID {
					t.Fatalf("session %s host member %s does not match host %s", id, m.ConnID, sess.HostConnID)
				}
			}
			if other, dup := seen[m.ConnID]; dup {
				t.Fatalf("connection %s is in sessions %s and %s", m.ConnID, other, id)
			}
			seen[m.ConnID] = id

			if l.store.byConn[m.ConnID] != id {
				t.Fatalf("index for %s points at %q, want %s", m.ConnID, l.store.byConn[m.ConnID], id)
			}
		}
		if hosts != 1 {
			t.Fatalf("session %s has %d hosts", id, hosts)
		}
	}

	if len(seen) != len(l.store.byConn) {
		t.Fatalf("index has %d entries for %d members", len(l.store.byConn), len(seen))
	}
}

// TestLobbyInvariants drives random event sequences against the lobby
func TestLobbyInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := newRecordingTransport()
		l := New(tr, zap.NewNop())

		conns := make([]ConnID, 8)
		for i := range conns {
			conns[i] = ConnID(fmt.Sprintf("c%d", i))
		}
		pickConn := rapid.SampledFrom(conns)

		pickSession := func(t *rapid.T) string {
			l.mu.Lock()
			ids := make([]string, 0, len(l.store.sessions)+1)
			for id := range l.store.sessions {
				ids = append(ids, id)
			}
			l.mu.Unlock()
			ids = append(ids, "NONE")
			return rapid.SampledFrom(ids).Draw(t, "session")
		}

		t.Repeat(map[string]func(*rapid.T){
			"create": func(t *rapid.T) {
				_, _ = l.CreateSession(pickConn.Draw(t, "conn"), "name")
			},
			"join": func(t *rapid.T) {
				_ = l.JoinSession(pickConn.Draw(t, "conn"), pickSession(t), "name")
			},
			"start": func(t *rapid.T) {
				conn := pickConn.Draw(t, "conn")
				id := pickSession(t)
				before, existed := l.Session(id)

				gameStarts := tr.count(protocol.EventGameStart)
				err := l.RequestStart(conn, mustStartRapid(id))

				if existed && before.HostConnID != conn {
					if err == nil {
						t.Fatalf("non-host %s started %s", conn, id)
					}
					after, _ := l.Session(id)
					if after.Started != before.Started {
						t.Fatalf("non-host start flipped started")
					}
					if tr.count(protocol.EventGameStart) != gameStarts {
						t.Fatalf("non-host start emitted gameStart")
					}
				}
			},
			"disconnect": func(t *rapid.T) {
				conn := pickConn.Draw(t, "conn")
				l.mu.Lock()
				id, inSession := l.store.byConn[conn]
				wasHost := inSession && l.store.sessions[id].HostConnID == conn
				l.mu.Unlock()

				l.HandleDisconnect(conn)

				if wasHost {
					if _, ok := l.Session(id); ok {
						t.Fatalf("session %s survived its host leaving", id)
					}
				}
			},
			"": func(t *rapid.T) {
				checkInvariants(t, l)
			},
		})
	})
}

// TestJoinCapacity checks that a session never exceeds capacity and that the
// first join beyond it is rejected as unjoinable
func TestJoinCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(newRecordingTransport(), zap.NewNop(), WithIDGenerator(func() string { return "AB12" }))
		if _, err := l.CreateSession("host", "Host"); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		joins := rapid.IntRange(1, 10).Draw(t, "joins")
		for i := 0; i < joins; i++ {
			err := l.JoinSession(ConnID(fmt.Sprintf("j%d", i)), "AB12", "joiner")

			sess, _ := l.Session("AB12")
			if len(sess.Members) > MaxMembers {
				t.Fatalf("session grew to %d members", len(sess.Members))
			}

			if i < MaxMembers-1 {
				if err != nil {
					t.Fatalf("join %d failed: %v", i, err)
				}
			} else if !errors.Is(err, ErrUnjoinable) {
				t.Fatalf("join %d beyond capacity: got %v, want unjoinable", i, err)
			}
		}
	})
}

func mustStartRapid(sessionID string) *protocol.RequestStartMessage {
	return &protocol.RequestStartMessage{SessionID: sessionID}
}
