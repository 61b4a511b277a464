package server

import "time"

// HistoryStore is the match history the server records into.
// *database.DB satisfies it; tests substitute a mock.
type HistoryStore interface {
	RecordSessionEvent(sessionID, kind string, players int, at time.Time)
	PruneSessionEvents(before time.Time) (int64, error)
	Close() error
}
