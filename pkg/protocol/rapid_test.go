package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"pgregory.net/rapid"
)

// TestFrameRoundTrip tests that any valid frame can be encoded and decoded
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		event := rapid.StringMatching(`[a-zA-Z]{1,24}`).Draw(t, "event")
		text := rapid.String().Draw(t, "text")
		number := rapid.Int().Draw(t, "number")

		payload := map[string]interface{}{"text": text, "number": number}
		original, err := NewFrame(event, payload)
		if err != nil {
			t.Fatalf("new frame failed: %v", err)
		}

		var buf bytes.Buffer
		if err := EncodeFrame(&buf, original); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeFrame(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Event != original.Event {
			t.Fatalf("event mismatch: got %q, want %q", decoded.Event, original.Event)
		}

		var got struct {
			Text   string `json:"text"`
			Number int    `json:"number"`
		}
		if err := json.Unmarshal(decoded.Data, &got); err != nil {
			t.Fatalf("payload unmarshal failed: %v", err)
		}
		if got.Text != text || got.Number != number {
			t.Fatalf("payload mismatch: got %+v", got)
		}
	})
}

// TestRelayPayloadPreserved tests that relay payloads keep every field the
// client sent, whatever the session id
func TestRelayPayloadPreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sessionID := rapid.StringMatching(`[0-9A-Z]{4}`).Draw(t, "sessionId")
		keys := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z]{1,8}`), func(s string) string { return s }).Draw(t, "keys")

		input := map[string]interface{}{"sessionId": sessionID}
		for i, k := range keys {
			if k == "sessionid" {
				continue
			}
			input[k] = i
		}
		data, err := json.Marshal(input)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var msg RelayMessage
		if err := msg.Decode(data); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if msg.SessionID != sessionID {
			t.Fatalf("session id mismatch: got %q, want %q", msg.SessionID, sessionID)
		}
		if !bytes.Equal(msg.Raw, data) {
			t.Fatalf("raw payload changed")
		}
	})
}

// TestDecodeNeverPanics feeds arbitrary bytes to every decoder
func TestDecodeNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")

		_, _ = DecodeMessage(data)
		_ = new(CreateRoomMessage).Decode(data)
		_ = new(JoinRoomMessage).Decode(data)
		_ = new(SessionRefMessage).Decode(data)
		_ = new(RequestStartMessage).Decode(data)
		_ = new(PauseMessage).Decode(data)
		_ = new(RelayMessage).Decode(data)
		_ = new(AnnounceRoomMessage).Decode(data)
	})
}
