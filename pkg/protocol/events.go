package protocol

// Event names (Client → Server)
const (
	EventCreateRoom      = "createRoom"
	EventJoinRoom        = "joinRoom"
	EventRequestStart    = "requestStart"
	EventGameAction      = "gameAction"
	EventRequestWave     = "requestWave"
	EventRequestPause    = "requestPause"
	EventRequestRestart  = "requestRestart"
	EventGameStateUpdate = "gameStateUpdate"
	EventAnnounceRoom    = "announceRoom"
	EventGetRooms        = "getRooms"
	EventPing            = "ping"
)

// Event names (Server → Client)
const (
	EventServerInfo     = "serverInfo"
	EventRoomCreated    = "roomCreated"
	EventPlayerJoined   = "playerJoined"
	EventPlayerLeft     = "playerLeft"
	EventHostLeft       = "hostLeft"
	EventGameStart      = "gameStart"
	EventRemoteAction   = "remoteAction"
	EventForceStartWave = "forceStartWave"
	EventForcePause     = "forcePause"
	EventForceRestart   = "forceRestart"
	EventForceGameState = "forceGameState"
	EventRooms          = "rooms"
	EventPong           = "pong"
	EventErrorMsg       = "errorMsg"
	EventServerShutdown = "serverShutdown"
)

// User-visible error reasons
const (
	ReasonRoomNotFound   = "Room not found!"
	ReasonRoomFull       = "Room is full!"
	ReasonGameStarted    = "Game already started!"
	ReasonInvalidFormat  = "Invalid message format"
	ReasonUnsupported    = "Unsupported event"
	ReasonServerShutdown = "Server shutting down"
)

var knownEvents = map[string]bool{
	EventCreateRoom:      true,
	EventJoinRoom:        true,
	EventRequestStart:    true,
	EventGameAction:      true,
	EventRequestWave:     true,
	EventRequestPause:    true,
	EventRequestRestart:  true,
	EventGameStateUpdate: true,
	EventAnnounceRoom:    true,
	EventGetRooms:        true,
	EventPing:            true,
	EventServerInfo:      true,
	EventRoomCreated:     true,
	EventPlayerJoined:    true,
	EventPlayerLeft:      true,
	EventHostLeft:        true,
	EventGameStart:       true,
	EventRemoteAction:    true,
	EventForceStartWave:  true,
	EventForcePause:      true,
	EventForceRestart:    true,
	EventForceGameState:  true,
	EventRooms:           true,
	EventPong:            true,
	EventErrorMsg:        true,
	EventServerShutdown:  true,
}

// IsKnownEvent reports whether name is part of the protocol in either direction
func IsKnownEvent(name string) bool {
	return knownEvents[name]
}
