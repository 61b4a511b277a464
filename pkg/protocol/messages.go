package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyPayload     = errors.New("payload is empty")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrMissingSessionID = errors.New("payload has no sessionId")
)

// Member roles as they appear on the wire
const (
	RoleHost   = "host"
	RoleJoiner = "joiner"
)

// Directory statuses as they appear on the wire
const (
	StatusWaiting = "waiting"
	StatusPlaying = "playing"
)

// Member is one entry of a session member list
type Member struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
}

// RoomInfo is one discoverable session in a rooms listing
type RoomInfo struct {
	SessionID   string `json:"sessionId"`
	HostName    string `json:"hostName"`
	IsPrivate   bool   `json:"isPrivate"`
	PlayerCount int    `json:"playerCount"`
	Status      string `json:"status"`
}

// ===== Client → Server =====

// CreateRoomMessage is the createRoom payload. The client may send the
// display name as a bare string or as {"displayName": "..."}.
type CreateRoomMessage struct {
	DisplayName string
}

func (m *CreateRoomMessage) Decode(data []byte) error {
	name, err := decodeStringOrField(data, "displayName")
	if err != nil {
		return err
	}
	m.DisplayName = name
	return nil
}

// JoinRoomMessage is the joinRoom payload
type JoinRoomMessage struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

func (m *JoinRoomMessage) Decode(data []byte) error {
	return decodeObject(data, m)
}

// SessionRefMessage carries only a session id (requestWave, requestRestart).
// Accepts a bare string or {"sessionId": "..."}.
type SessionRefMessage struct {
	SessionID string
}

func (m *SessionRefMessage) Decode(data []byte) error {
	id, err := decodeStringOrField(data, "sessionId")
	if err != nil {
		return err
	}
	m.SessionID = id
	return nil
}

// RequestStartMessage is the requestStart payload. Everything except the
// session id is game configuration and is echoed back in gameStart.
type RequestStartMessage struct {
	SessionID string
	Config    map[string]json.RawMessage
}

func (m *RequestStartMessage) Decode(data []byte) error {
	// A bare string is accepted as the session id with no configuration
	if id, ok := decodeBareString(data); ok {
		m.SessionID = id
		m.Config = make(map[string]json.RawMessage)
		return nil
	}

	fields, err := decodeFields(data)
	if err != nil {
		return err
	}

	id, err := takeSessionID(fields)
	if err != nil {
		return err
	}

	m.SessionID = id
	m.Config = fields
	return nil
}

// Seed returns the client-supplied seed, if any
func (m *RequestStartMessage) Seed() (json.RawMessage, bool) {
	raw, ok := m.Config["seed"]
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

// PauseMessage is the requestPause payload
type PauseMessage struct {
	SessionID string `json:"sessionId"`
	IsPaused  bool   `json:"isPaused"`
}

func (m *PauseMessage) Decode(data []byte) error {
	return decodeObject(data, m)
}

// RelayMessage is an opaque gameplay payload (gameAction, gameStateUpdate).
// Only the session id is read; Raw is forwarded untouched.
type RelayMessage struct {
	SessionID string
	Raw       json.RawMessage
}

func (m *RelayMessage) Decode(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}

	id, err := takeSessionID(fields)
	if err != nil {
		return err
	}

	m.SessionID = id
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// AnnounceRoomMessage is the announceRoom heartbeat payload
type AnnounceRoomMessage struct {
	SessionID   string `json:"sessionId"`
	HostName    string `json:"hostName"`
	IsPrivate   bool   `json:"isPrivate"`
	PlayerCount int    `json:"playerCount"`
	Status      string `json:"status"`
}

func (m *AnnounceRoomMessage) Decode(data []byte) error {
	if err := decodeObject(data, m); err != nil {
		return err
	}
	if m.SessionID == "" {
		return ErrMissingSessionID
	}
	return nil
}

// ===== Server → Client =====

// ServerInfoMessage identifies the server instance to a new connection
type ServerInfoMessage struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Region   string `json:"region"`
}

// RoomCreatedMessage is sent to the creator of a session
type RoomCreatedMessage struct {
	SessionID string   `json:"sessionId"`
	Members   []Member `json:"members"`
}

// PlayerJoinedMessage carries the refreshed member list of a session
type PlayerJoinedMessage struct {
	SessionID string   `json:"sessionId"`
	Members   []Member `json:"members"`
}

// PlayerLeftMessage names the connection that left a running session
type PlayerLeftMessage struct {
	ConnectionID string `json:"connectionId"`
}

// PauseStateMessage is the forcePause payload
type PauseStateMessage struct {
	IsPaused bool `json:"isPaused"`
}

// RoomsMessage is the reply to getRooms
type RoomsMessage struct {
	Rooms []RoomInfo `json:"rooms"`
}

// ErrorMessage is the errorMsg payload
type ErrorMessage struct {
	Reason string `json:"reason"`
}

// ShutdownMessage is sent to every connection before the server stops
type ShutdownMessage struct {
	Reason string `json:"reason"`
}

// ===== Helpers =====

func decodeObject(data []byte, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func decodeFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := decodeObject(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidPayload)
	}
	return fields, nil
}

// takeSessionID removes sessionId from fields and returns it. A missing id
// is returned as "" so that lookups fail the same way an unknown id does.
func takeSessionID(fields map[string]json.RawMessage) (string, error) {
	raw, ok := fields["sessionId"]
	if !ok {
		return "", nil
	}
	delete(fields, "sessionId")

	if isNull(raw) {
		return "", nil
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: sessionId must be a string", ErrInvalidPayload)
	}
	return id, nil
}

func decodeBareString(data []byte) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeStringOrField(data []byte, field string) (string, error) {
	if s, ok := decodeBareString(data); ok {
		return s, nil
	}

	fields, err := decodeFields(data)
	if err != nil {
		return "", err
	}

	raw, ok := fields[field]
	if !ok || isNull(raw) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidPayload, field)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
