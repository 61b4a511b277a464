package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/lobby"
	"github.com/aeolun/squadrelay/pkg/protocol"
)

// wsPair returns the server side of a live WebSocket and the dialing side
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- ws
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case ws := <-serverSide:
		t.Cleanup(func() { ws.Close() })
		return ws, peer
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upgrade")
		return nil, nil
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) *protocol.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.DecodeMessage(data)
	require.NoError(t, err)
	return frame
}

func TestConnectionManagerSendDelivers(t *testing.T) {
	ws, peer := wsPair(t)
	cm := NewConnectionManager(zap.NewNop())

	c := newClient("c1", ws, 8)
	require.True(t, cm.Add(c))
	go c.writePump(time.Second, time.Minute)
	defer c.Close()

	frame, err := protocol.NewFrame(protocol.EventPong, nil)
	require.NoError(t, err)
	cm.Send("c1", frame)

	got := readFrame(t, peer)
	assert.Equal(t, protocol.EventPong, got.Event)
}

func TestConnectionManagerSendUnknownIsNoop(t *testing.T) {
	cm := NewConnectionManager(zap.NewNop())
	frame, err := protocol.NewFrame(protocol.EventPong, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() { cm.Send("nobody", frame) })
}

func TestConnectionManagerDropsSlowClient(t *testing.T) {
	ws, _ := wsPair(t)
	cm := NewConnectionManager(zap.NewNop())
	metrics := NewMetrics(prometheus.NewRegistry())
	cm.SetMetrics(metrics)

	// No write pump, so the queue never drains
	c := newClient("slow", ws, 2)
	require.True(t, cm.Add(c))

	frame, err := protocol.NewFrame(protocol.EventPong, nil)
	require.NoError(t, err)
	cm.Send("slow", frame)
	cm.Send("slow", frame)

	select {
	case <-c.Done():
		t.Fatal("client closed before its queue was full")
	default:
	}

	cm.Send("slow", frame)

	select {
	case <-c.Done():
	default:
		t.Fatal("expected slow client to be closed")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.slowConsumerDrops))

	// Further sends to a closing client are not counted again
	cm.Send("slow", frame)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.slowConsumerDrops))
}

func TestConnectionManagerBroadcastAndCloseAll(t *testing.T) {
	ws1, peer1 := wsPair(t)
	ws2, peer2 := wsPair(t)
	cm := NewConnectionManager(zap.NewNop())

	clients := []*Client{newClient("a", ws1, 4), newClient("b", ws2, 4)}
	for _, c := range clients {
		require.True(t, cm.Add(c))
		go c.writePump(time.Second, time.Minute)
	}
	assert.Equal(t, 2, cm.Count())

	frame, err := protocol.NewFrame(protocol.EventServerShutdown, &protocol.ShutdownMessage{Reason: protocol.ReasonServerShutdown})
	require.NoError(t, err)
	assert.Equal(t, 2, cm.Broadcast(frame))

	cm.CloseAll()
	assert.False(t, cm.Add(newClient("late", ws1, 1)), "closed manager must reject clients")

	// Queued frames are flushed before the close frame
	for _, peer := range []*websocket.Conn{peer1, peer2} {
		got := readFrame(t, peer)
		assert.Equal(t, protocol.EventServerShutdown, got.Event)

		_, _, err := peer.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	}

	for _, c := range clients {
		cm.Remove(c.ID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cm.WaitEmpty(ctx))
}

func TestConnectionManagerWaitEmptyTimesOut(t *testing.T) {
	ws, _ := wsPair(t)
	cm := NewConnectionManager(zap.NewNop())
	require.True(t, cm.Add(newClient(lobby.ConnID("stuck"), ws, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cm.WaitEmpty(ctx), context.DeadlineExceeded)
}
