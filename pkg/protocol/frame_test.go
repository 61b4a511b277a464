package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "no payload",
			frame: Frame{Event: EventPing},
		},
		{
			name:  "string payload",
			frame: Frame{Event: EventCreateRoom, Data: json.RawMessage(`"Alice"`)},
		},
		{
			name:  "object payload",
			frame: Frame{Event: EventJoinRoom, Data: json.RawMessage(`{"sessionId":"AB12","displayName":"Bob"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, EncodeFrame(buf, &tt.frame))

			decoded, err := DecodeFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.frame.Event, decoded.Event)
			if tt.frame.Data == nil {
				assert.Nil(t, decoded.Data)
			} else {
				assert.JSONEq(t, string(tt.frame.Data), string(decoded.Data))
			}
		})
	}
}

func TestEncodeFrameMissingEvent(t *testing.T) {
	err := EncodeFrame(new(bytes.Buffer), &Frame{})
	assert.ErrorIs(t, err, ErrMissingEvent)
}

func TestEncodeFrameTooLarge(t *testing.T) {
	big, err := json.Marshal(strings.Repeat("x", MaxFrameSize))
	require.NoError(t, err)

	err = EncodeFrame(new(bytes.Buffer), &Frame{Event: EventGameAction, Data: big})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"not json", "hello", ErrInvalidFrame},
		{"array", `[1,2,3]`, ErrInvalidFrame},
		{"missing event", `{"data":{}}`, ErrMissingEvent},
		{"empty event", `{"event":""}`, ErrMissingEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.input))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	data := `{"event":"gameAction","data":"` + strings.Repeat("x", MaxFrameSize) + `"}`
	_, err := DecodeMessage([]byte(data))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeFrameNullData(t *testing.T) {
	frame, err := DecodeMessage([]byte(`{"event":"getRooms","data":null}`))
	require.NoError(t, err)
	assert.Nil(t, frame.Data)
}

func TestNewFrame(t *testing.T) {
	t.Run("nil payload", func(t *testing.T) {
		frame, err := NewFrame(EventHostLeft, nil)
		require.NoError(t, err)
		assert.Equal(t, EventHostLeft, frame.Event)
		assert.Nil(t, frame.Data)
	})

	t.Run("struct payload", func(t *testing.T) {
		frame, err := NewFrame(EventErrorMsg, &ErrorMessage{Reason: ReasonRoomFull})
		require.NoError(t, err)
		assert.JSONEq(t, `{"reason":"Room is full!"}`, string(frame.Data))
	})

	t.Run("raw payload passes through", func(t *testing.T) {
		raw := json.RawMessage(`{"sessionId":"AB12","x":1}`)
		frame, err := NewFrame(EventRemoteAction, raw)
		require.NoError(t, err)
		assert.Equal(t, raw, frame.Data)
	})

	t.Run("missing event", func(t *testing.T) {
		_, err := NewFrame("", nil)
		assert.ErrorIs(t, err, ErrMissingEvent)
	})

	t.Run("unencodable payload", func(t *testing.T) {
		_, err := NewFrame(EventGameStart, map[string]interface{}{"bad": make(chan int)})
		assert.Error(t, err)
	})
}

func TestEncodeMessage(t *testing.T) {
	data, err := EncodeMessage(EventPong, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pong"}`, string(data))
}

func TestIsKnownEvent(t *testing.T) {
	assert.True(t, IsKnownEvent(EventCreateRoom))
	assert.True(t, IsKnownEvent(EventForceGameState))
	assert.False(t, IsKnownEvent("dropTables"))
	assert.False(t, IsKnownEvent(""))
}
