package lobby

import "errors"

var (
	ErrNotFound     = errors.New("session not found")
	ErrUnjoinable   = errors.New("session cannot be joined")
	ErrUnauthorized = errors.New("not the session host")

	// Reasons wrapped by ErrUnjoinable
	ErrSessionFull    = errors.New("session is full")
	ErrSessionStarted = errors.New("session already started")
)
