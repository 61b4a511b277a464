package lobby

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

// recordingTransport captures every frame sent per connection
type recordingTransport struct {
	mu     sync.Mutex
	frames map[ConnID][]*protocol.Frame
	order  []sent
}

type sent struct {
	conn  ConnID
	event string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{frames: make(map[ConnID][]*protocol.Frame)}
}

func (t *recordingTransport) Send(conn ConnID, frame *protocol.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames[conn] = append(t.frames[conn], frame)
	t.order = append(t.order, sent{conn: conn, event: frame.Event})
}

// events returns the event names delivered to conn, in order
func (t *recordingTransport) events(conn ConnID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var names []string
	for _, f := range t.frames[conn] {
		names = append(names, f.Event)
	}
	return names
}

// last returns the most recent frame with the given event delivered to conn
func (t *recordingTransport) last(conn ConnID, event string) *protocol.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := t.frames[conn]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i]
		}
	}
	return nil
}

func (t *recordingTransport) count(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.order {
		if s.event == event {
			n++
		}
	}
	return n
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = make(map[ConnID][]*protocol.Frame)
	t.order = nil
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialIDs returns ids from the list in order, then falls back to random
func sequentialIDs(ids ...string) IDGenerator {
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return RandomSessionID()
		}
		id := ids[0]
		ids = ids[1:]
		return id
	}
}

func decodeMembers(t *testing.T, f *protocol.Frame) []protocol.Member {
	t.Helper()
	require.NotNil(t, f)
	var msg protocol.PlayerJoinedMessage
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	return msg.Members
}

func decodeReason(t *testing.T, f *protocol.Frame) string {
	t.Helper()
	require.NotNil(t, f)
	var msg protocol.ErrorMessage
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	return msg.Reason
}

func mustStart(t *testing.T, sessionID string) *protocol.RequestStartMessage {
	t.Helper()
	var req protocol.RequestStartMessage
	require.NoError(t, req.Decode([]byte(`{"sessionId":"`+sessionID+`"}`)))
	return &req
}
