package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize is the maximum allowed frame size (64 KB)
	MaxFrameSize = 64 * 1024
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size (64 KB)")
	ErrMissingEvent  = errors.New("frame has no event name")
	ErrInvalidFrame  = errors.New("invalid frame")
)

// Frame is a single named event on the wire.
// Format: {"event": "<name>", "data": <payload>}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame, marshalling payload into Data. A nil payload
// produces a frame without data.
func NewFrame(event string, payload interface{}) (*Frame, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}

	frame := &Frame{Event: event}
	if payload == nil {
		return frame, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		frame.Data = raw
		return frame, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	frame.Data = data
	return frame, nil
}

// EncodeFrame writes a frame to the writer
func EncodeFrame(w io.Writer, f *Frame) error {
	if f.Event == "" {
		return ErrMissingEvent
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	_, err = w.Write(data)
	return err
}

// DecodeFrame reads a single frame from the reader. The reader is expected to
// hold exactly one frame (one WebSocket message).
func DecodeFrame(r io.Reader) (*Frame, error) {
	// Read one byte past the limit so oversized frames are detected
	data, err := io.ReadAll(io.LimitReader(r, MaxFrameSize+1))
	if err != nil {
		return nil, err
	}

	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	if frame.Event == "" {
		return nil, ErrMissingEvent
	}

	// Treat an explicit null the same as an absent payload
	if bytes.Equal(bytes.TrimSpace(frame.Data), []byte("null")) {
		frame.Data = nil
	}

	return &frame, nil
}

// EncodeMessage is a helper that encodes an event and payload to a byte slice
func EncodeMessage(event string, payload interface{}) ([]byte, error) {
	frame, err := NewFrame(event, payload)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := EncodeFrame(buf, frame); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeMessage is a helper that decodes a frame from a byte slice
func DecodeMessage(data []byte) (*Frame, error) {
	return DecodeFrame(bytes.NewReader(data))
}
